package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cloaktalk/cloaktalk/loadtest/client"
	"github.com/cloaktalk/cloaktalk/loadtest/stats"
)

// runChat implements the full chat lifecycle load test. Every simulated user
// connects, joins the matchmaking queue, waits to be paired, exchanges a
// fixed number of messages with its partner, and ends the chat. Message
// latency is measured from send to the gateway's own-message echo, so it
// covers persistence plus the NATS round trip.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "Gateway WebSocket URL")
	secret := fs.String("secret", "", "JWT secret shared with the gateway (required)")
	userPrefix := fs.String("user-prefix", "loadtest_user_", "Seeded user ID prefix")
	users := fs.Int("users", 100, "Number of simulated users (rounded down to even)")
	messages := fs.Int("messages", 10, "Messages each user sends per chat")
	msgInterval := fs.Duration("msg-interval", 500*time.Millisecond, "Delay between messages")
	matchTimeout := fs.Duration("match-timeout", 30*time.Second, "How long each user waits for a match")
	metricsURL := fs.String("metrics-url", "", "Gateway Prometheus endpoint (optional)")
	fs.Parse(args)

	if *secret == "" {
		fmt.Println("chat: -secret is required")
		return
	}
	n := *users &^ 1 // matchmaking pairs users, so keep the count even
	if n == 0 {
		fmt.Println("chat: need at least 2 users")
		return
	}

	fmt.Printf("Chat test: %d users, %d messages each, interval %s\n", n, *messages, *msgInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		userID := fmt.Sprintf("%s%d", *userPrefix, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runChatUser(ctx, collector, *url, *secret, userID, *messages, *msgInterval, *matchTimeout); err != nil {
				collector.AddError()
			}
		}()
		// Stagger connections slightly so the gateway is not hit by a
		// thundering herd of simultaneous upgrades.
		time.Sleep(10 * time.Millisecond)
	}

	wg.Wait()
	collector.Report()
}

// runChatUser drives one simulated user through the whole lifecycle.
func runChatUser(ctx context.Context, collector *stats.Collector, url, secret, userID string, messages int, msgInterval, matchTimeout time.Duration) error {
	token, err := client.MintToken([]byte(secret), userID, time.Hour)
	if err != nil {
		return err
	}

	c, err := client.New(ctx, url, userID, token)
	if err != nil {
		return err
	}
	defer c.Close()

	matched := make(chan struct{}, 1)
	echoes := make(chan time.Time, messages)
	ended := make(chan struct{}, 1)

	c.On(client.EventChatMatched, func(json.RawMessage) {
		select {
		case matched <- struct{}{}:
		default:
		}
	})
	c.On(client.EventMessage, func(data json.RawMessage) {
		var ev struct {
			IsOwn bool `json:"is_own"`
		}
		if json.Unmarshal(data, &ev) == nil && ev.IsOwn {
			select {
			case echoes <- time.Now():
			default:
			}
		}
	})
	c.On(client.EventChatEnded, func(json.RawMessage) {
		select {
		case ended <- struct{}{}:
		default:
		}
	})

	readyCtx, readyCancel := context.WithTimeout(ctx, 10*time.Second)
	defer readyCancel()
	if err := c.WaitForReady(readyCtx); err != nil {
		return err
	}
	collector.AddConnect(c.GetMetrics().ConnectLatency)

	// Join the queue and wait to be paired.
	queuedAt := time.Now()
	if err := c.JoinQueue(); err != nil {
		return err
	}
	select {
	case <-matched:
		collector.AddMatchLatency(time.Since(queuedAt))
	case <-time.After(matchTimeout):
		return fmt.Errorf("user %s: no match within %s", userID, matchTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	// Exchange messages, measuring the own-echo round trip for each.
	for i := 0; i < messages; i++ {
		sentAt := time.Now()
		if err := c.SendMessage(fmt.Sprintf("message %d from %s", i, userID)); err != nil {
			return err
		}
		select {
		case echoedAt := <-echoes:
			collector.AddMsgLatency(echoedAt.Sub(sentAt))
		case <-time.After(5 * time.Second):
			return fmt.Errorf("user %s: message %d echo timed out", userID, i)
		case <-ctx.Done():
			return ctx.Err()
		}
		time.Sleep(msgInterval)
	}

	// Both partners call end_chat; the second call is a harmless no-op for
	// a user whose chat is already gone.
	_ = c.EndChat()
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}

	return nil
}
