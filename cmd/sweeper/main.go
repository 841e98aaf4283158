// Command sweeper is the end-of-window cleanup job. Run it when an access
// window closes (e.g. from cron): it deactivates every active chat, appends
// the closing system message to each, and empties the waiting list.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/cloaktalk/cloaktalk/internal/model"
	"github.com/cloaktalk/cloaktalk/internal/store"
)

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/cloaktalk?sslmode=disable"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := store.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	chats := store.NewChatStore(db)
	waiting := store.NewWaitingListStore(db)

	ended, err := chats.DeactivateAll(ctx, model.ChatEndedMessage)
	if err != nil {
		log.Fatalf("failed to deactivate chats: %v", err)
	}

	cleared, err := waiting.Clear(ctx)
	if err != nil {
		log.Fatalf("failed to clear waiting list: %v", err)
	}

	log.Printf("sweeper done: chats_ended=%d waiting_cleared=%d", ended, cleared)
}
