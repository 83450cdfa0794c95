package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	HTTP      HTTPConfig
	Ingest    IngestConfig
	Distance  DistanceConfig
	Timeline  TimelineConfig
	Detector  DetectorConfig
	Rollup    RollupConfig
	Retention RetentionConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicPoints   string
	TopicAlerts   string
	NumPartitions int
}

type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// IngestConfig holds the ingestion gate thresholds.
type IngestConfig struct {
	MaxBatchSize int
	// DriftFlag raises a clock_drift diagnostic; DriftExtreme additionally
	// switches engine ordering to server-received time for the point.
	DriftFlag    time.Duration
	DriftExtreme time.Duration
}

// DistanceConfig holds the distance engine filter thresholds.
type DistanceConfig struct {
	AccuracyCeilingM float64 // known accuracy above this discards the segment
	JitterFloorM     float64 // minimum delta, combined with 2x accuracy
	MaxSpeedKMH      float64 // implied speed above this is a teleport candidate
}

// TimelineConfig holds the stop/move segmentation thresholds.
type TimelineConfig struct {
	StopRadiusM     float64
	MinStopDuration time.Duration
}

// DetectorConfig holds the stuck/no-signal sweep thresholds.
type DetectorConfig struct {
	SweepInterval     time.Duration
	StuckRadiusM      float64
	StuckDuration     time.Duration
	NoSignalThreshold time.Duration
}

// RollupConfig controls daily rollup materialization. LocalOffset is the
// fixed offset of the deployment's working-day zone (local-day bucketing,
// not UTC midnight).
type RollupConfig struct {
	LocalOffset time.Duration
	DailyTime   string // HH:MM local, when the previous day is materialized
}

// RetentionConfig controls the purge horizon for points and timeline events.
// Rollups and alerts are retained indefinitely.
type RetentionConfig struct {
	Horizon       time.Duration
	PurgeInterval time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "fieldtrack_user"),
			Password: getEnv("DB_PASSWORD", "fieldtrack_pass"),
			DBName:   getEnv("DB_NAME", "fieldtrack_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicPoints:   getEnv("KAFKA_TOPIC_POINTS", "tracking.points.accepted"),
			TopicAlerts:   getEnv("KAFKA_TOPIC_ALERTS", "tracking.alerts"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("HTTP_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Ingest: IngestConfig{
			MaxBatchSize: getEnvAsInt("INGEST_MAX_BATCH_SIZE", 100),
			DriftFlag:    getEnvAsDuration("INGEST_DRIFT_FLAG", 10*time.Minute),
			DriftExtreme: getEnvAsDuration("INGEST_DRIFT_EXTREME", 60*time.Minute),
		},
		Distance: DistanceConfig{
			AccuracyCeilingM: getEnvAsFloat("DISTANCE_ACCURACY_CEILING_M", 50),
			JitterFloorM:     getEnvAsFloat("DISTANCE_JITTER_FLOOR_M", 10),
			MaxSpeedKMH:      getEnvAsFloat("DISTANCE_MAX_SPEED_KMH", 160),
		},
		Timeline: TimelineConfig{
			StopRadiusM:     getEnvAsFloat("TIMELINE_STOP_RADIUS_M", 120),
			MinStopDuration: getEnvAsDuration("TIMELINE_MIN_STOP_DURATION", 600*time.Second),
		},
		Detector: DetectorConfig{
			SweepInterval:     getEnvAsDuration("DETECTOR_SWEEP_INTERVAL", 5*time.Minute),
			StuckRadiusM:      getEnvAsFloat("DETECTOR_STUCK_RADIUS_M", 150),
			StuckDuration:     getEnvAsDuration("DETECTOR_STUCK_DURATION", 30*time.Minute),
			NoSignalThreshold: getEnvAsDuration("DETECTOR_NO_SIGNAL_THRESHOLD", 20*time.Minute),
		},
		Rollup: RollupConfig{
			LocalOffset: getEnvAsDuration("ROLLUP_LOCAL_OFFSET", 7*time.Hour),
			DailyTime:   getEnv("ROLLUP_DAILY_TIME", "00:10"),
		},
		Retention: RetentionConfig{
			Horizon:       getEnvAsDuration("RETENTION_HORIZON", 35*24*time.Hour),
			PurgeInterval: getEnvAsDuration("RETENTION_PURGE_INTERVAL", 24*time.Hour),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
