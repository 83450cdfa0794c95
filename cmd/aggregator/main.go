package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpratama/fieldtrack-server/internal/database"
	"github.com/jpratama/fieldtrack-server/internal/rollup"
	"github.com/jpratama/fieldtrack-server/internal/schedule"
	"github.com/jpratama/fieldtrack-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting FieldTrack Aggregator...")

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	// Run migrations
	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	scheduler := schedule.NewScheduler()
	scheduler.Start()
	defer scheduler.Stop()

	daily := rollup.NewDailyWorker(cfg.Rollup, db, scheduler)
	if err := daily.Start(); err != nil {
		log.Fatalf("Failed to start daily rollup worker: %v", err)
	}

	retention := rollup.NewRetentionWorker(cfg.Retention, db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		retention.Run(ctx)
		close(done)
	}()

	fmt.Println("\n✓ FieldTrack Aggregator is running")
	fmt.Printf("✓ Daily rollups at %s local (offset %s), retention horizon %s\n",
		cfg.Rollup.DailyTime, cfg.Rollup.LocalOffset, cfg.Retention.Horizon)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	<-done
}
