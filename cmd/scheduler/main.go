package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/learnsphere/payments-api/internal/jobs"
	"github.com/learnsphere/payments-api/internal/ledger"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		projectRoot := "../../.env"
		err = godotenv.Load(projectRoot)
		if err != nil {
			log.Println("Warning: .env file not found in current directory or project root")
		} else {
			log.Println("Loaded .env from project root")
		}
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database successfully")

	store := ledger.NewPostgresStore(pool)

	c := cron.New(cron.WithSeconds())

	// Stale pending sweep: checkout sessions expire after 30 minutes, so
	// anything still pending past the grace window will never complete via
	// webhook. Runs every 15 minutes.
	_, err = c.AddFunc("0 */15 * * * *", func() {
		log.Println("Starting stale pending transaction sweep...")

		if err := jobs.ExpireStalePendingTransactions(store); err != nil {
			log.Printf("ERROR: Failed to expire stale transactions: %v", err)
			return
		}

		log.Println("Stale pending transaction sweep completed")
	})
	if err != nil {
		log.Fatalf("Failed to schedule stale pending sweep: %v", err)
	}

	c.Start()
	log.Println("Cron scheduler started successfully")
	log.Println("Scheduled jobs:")
	log.Println("1. Stale pending sweep: every 15 minutes")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down cron scheduler...")

	ctx = c.Stop()
	<-ctx.Done()

	log.Println("Cron scheduler stopped successfully")
}
