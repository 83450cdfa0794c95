package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpratama/fieldtrack-server/internal/database"
	"github.com/jpratama/fieldtrack-server/internal/distance"
	"github.com/jpratama/fieldtrack-server/internal/pipeline"
	"github.com/jpratama/fieldtrack-server/internal/queue"
	"github.com/jpratama/fieldtrack-server/internal/timeline"
	"github.com/jpratama/fieldtrack-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting FieldTrack Pipeline...")

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

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPoints, "pipeline-group")
	defer consumer.Close()

	processor := pipeline.NewProcessor(
		distance.Config{
			AccuracyCeilingM: cfg.Distance.AccuracyCeilingM,
			JitterFloorM:     cfg.Distance.JitterFloorM,
			MaxSpeedKMH:      cfg.Distance.MaxSpeedKMH,
		},
		timeline.Config{
			StopRadiusM:     cfg.Timeline.StopRadiusM,
			MinStopDuration: cfg.Timeline.MinStopDuration,
		},
		db,
	)
	stream := pipeline.NewStreamConsumer(consumer, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- stream.Run(ctx)
	}()

	fmt.Println("\n✓ FieldTrack Pipeline is running")
	fmt.Printf("✓ Consuming %s as pipeline-group\n", cfg.Kafka.TopicPoints)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal or consumer failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down gracefully...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Stream consumer failed: %v", err)
		}
	}
}
