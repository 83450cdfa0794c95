package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/jpratama/fieldtrack-server/internal/database"
	"github.com/jpratama/fieldtrack-server/internal/detector"
	"github.com/jpratama/fieldtrack-server/internal/queue"
	"github.com/jpratama/fieldtrack-server/internal/tracking"
	"github.com/jpratama/fieldtrack-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting FieldTrack Detector...")

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

	// Connect to Redis for tracking state
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	states := tracking.NewStateManager(redisClient)

	alerts := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alerts.Close()

	evaluator := detector.NewEvaluator(cfg.Detector, db, states, alerts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		evaluator.Run(ctx)
		close(done)
	}()

	fmt.Println("\n✓ FieldTrack Detector is running")
	fmt.Printf("✓ Sweeping every %s (stuck %.0fm/%s, no-signal %s)\n",
		cfg.Detector.SweepInterval, cfg.Detector.StuckRadiusM,
		cfg.Detector.StuckDuration, cfg.Detector.NoSignalThreshold)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	<-done
}
