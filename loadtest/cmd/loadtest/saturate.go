package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cloaktalk/cloaktalk/loadtest/client"
	"github.com/cloaktalk/cloaktalk/loadtest/stats"
)

// runSaturate implements the connection saturation test. It opens a specified
// number of authenticated WebSocket connections to the gateway, ramping up
// over a configurable duration, then holds them open (heartbeating) for a
// hold period. This test finds the maximum connection capacity before the
// gateway starts rejecting or dropping connections.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "Gateway WebSocket URL")
	secret := fs.String("secret", "", "JWT secret shared with the gateway (required)")
	userPrefix := fs.String("user-prefix", "loadtest_user_", "Seeded user ID prefix")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "", "Gateway Prometheus endpoint (optional, e.g. http://localhost:9090/metrics)")
	fs.Parse(args)

	if *secret == "" {
		fmt.Println("saturate: -secret is required")
		return
	}

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *connections)

	// Connection drops observed during the hold phase.
	var dropped atomic.Int64

	interrupted := false

	// -----------------------------------------------------------------------
	// Ramp-up phase
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Ramp-up phase ---")

	interval := *rampUp / time.Duration(*connections)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	// Progress reporting every second during ramp-up.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentConns := collector.ConnectionCount()
				currentErrs := collector.ErrorCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(currentConns-lastCount) / dt
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					currentConns, *connections, currentErrs, rate)
				lastCount = currentConns
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampStart := time.Now()
	rampTicker := time.NewTicker(interval)

	launched := 0
	for launched < *connections {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			interrupted = true
			launched = *connections // Break the loop.
		case <-rampTicker.C:
			userID := fmt.Sprintf("%s%d", *userPrefix, launched)
			launched++
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				token, err := client.MintToken([]byte(*secret), userID, time.Hour)
				if err != nil {
					collector.AddError()
					return
				}

				c, err := client.New(connCtx, *url, userID, token)
				if err != nil {
					collector.AddError()
					return
				}

				if err := c.WaitForReady(connCtx); err != nil {
					collector.AddError()
					c.Close()
					return
				}

				m := c.GetMetrics()
				collector.AddConnect(m.ConnectLatency)

				mu.Lock()
				clients = append(clients, c)
				mu.Unlock()
			}()
		}
	}

	rampTicker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	rampElapsed := time.Since(rampStart)
	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		collector.ConnectionCount(), *connections,
		rampElapsed.Round(time.Millisecond), collector.ErrorCount())

	// -----------------------------------------------------------------------
	// Hold phase (skipped if ramp-up was interrupted)
	// -----------------------------------------------------------------------
	if !interrupted {
		fmt.Println("\n--- Hold phase ---")

		mu.Lock()
		initialAlive := len(clients)
		mu.Unlock()
		fmt.Printf("Holding %d connections for %s...\n", initialAlive, *hold)

		holdTimer := time.NewTimer(*hold)
		statusTicker := time.NewTicker(5 * time.Second)
		heartbeatTicker := time.NewTicker(20 * time.Second)

	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold phase.")
				break holdLoop
			case <-holdTimer.C:
				fmt.Println("\nHold period complete.")
				break holdLoop
			case <-heartbeatTicker.C:
				mu.Lock()
				for _, c := range clients {
					_ = c.Heartbeat()
				}
				mu.Unlock()
			case <-statusTicker.C:
				// A read error in the metrics means the connection died.
				mu.Lock()
				alive := 0
				for _, c := range clients {
					if c.GetMetrics().Errors == 0 {
						alive++
					}
				}
				mu.Unlock()
				droppedNow := int64(initialAlive - alive)
				dropped.Store(droppedNow)
				fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n",
					alive, initialAlive, droppedNow)
			}
		}

		holdTimer.Stop()
		statusTicker.Stop()
		heartbeatTicker.Stop()
	}

	// -----------------------------------------------------------------------
	// Cleanup and report
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()
	fmt.Println("All connections closed.")

	if d := dropped.Load(); d > 0 {
		fmt.Printf("\nConnections dropped during hold: %d\n", d)
	}
	collector.Report()
}
