package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Queue    QueueConfig
	Precalc  PrecalcConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// RedisConfig holds cache/job-store configuration
type RedisConfig struct {
	URL         string
	DialTimeout time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// QueueConfig holds worker pool and retry configuration
type QueueConfig struct {
	Workers         int
	PollInterval    time.Duration
	JobTimeout      time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	Retention       time.Duration
	SweepInterval   time.Duration
	MonitorInterval time.Duration
	RecordTTL       time.Duration
}

// PrecalcConfig holds the per-category refresh schedule
type PrecalcConfig struct {
	ExamStatsInterval        time.Duration
	ExamStatsTTL             time.Duration
	StudentSummaryInterval   time.Duration
	StudentSummaryTTL        time.Duration
	ClassRankingsInterval    time.Duration
	ClassRankingsTTL         time.Duration
	SubjectAnalyticsInterval time.Duration
	SubjectAnalyticsTTL      time.Duration
	RankingsTTL              time.Duration
	Lookback                 time.Duration
	BatchSize                int
	CycleSlack               time.Duration
	SummaryWindow            int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
			DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			Workers:         getEnvAsInt("QUEUE_WORKERS", 4),
			PollInterval:    getEnvAsDuration("QUEUE_POLL_INTERVAL", 250*time.Millisecond),
			JobTimeout:      getEnvAsDuration("QUEUE_JOB_TIMEOUT", 3*time.Minute),
			MaxRetries:      getEnvAsInt("QUEUE_MAX_RETRIES", 3),
			BackoffBase:     getEnvAsDuration("QUEUE_BACKOFF_BASE", time.Minute),
			Retention:       getEnvAsDuration("QUEUE_RETENTION", 24*time.Hour),
			SweepInterval:   getEnvAsDuration("QUEUE_SWEEP_INTERVAL", 10*time.Minute),
			MonitorInterval: getEnvAsDuration("QUEUE_MONITOR_INTERVAL", 5*time.Second),
			RecordTTL:       getEnvAsDuration("QUEUE_RECORD_TTL", 48*time.Hour),
		},
		Precalc: PrecalcConfig{
			ExamStatsInterval:        getEnvAsDuration("PRECALC_EXAM_STATS_INTERVAL", 30*time.Minute),
			ExamStatsTTL:             getEnvAsDuration("PRECALC_EXAM_STATS_TTL", time.Hour),
			StudentSummaryInterval:   getEnvAsDuration("PRECALC_STUDENT_SUMMARY_INTERVAL", time.Hour),
			StudentSummaryTTL:        getEnvAsDuration("PRECALC_STUDENT_SUMMARY_TTL", 2*time.Hour),
			ClassRankingsInterval:    getEnvAsDuration("PRECALC_CLASS_RANKINGS_INTERVAL", 15*time.Minute),
			ClassRankingsTTL:         getEnvAsDuration("PRECALC_CLASS_RANKINGS_TTL", 30*time.Minute),
			SubjectAnalyticsInterval: getEnvAsDuration("PRECALC_SUBJECT_ANALYTICS_INTERVAL", 2*time.Hour),
			SubjectAnalyticsTTL:      getEnvAsDuration("PRECALC_SUBJECT_ANALYTICS_TTL", 4*time.Hour),
			RankingsTTL:              getEnvAsDuration("RANKINGS_TTL", time.Hour),
			Lookback:                 getEnvAsDuration("PRECALC_LOOKBACK", 24*time.Hour),
			BatchSize:                getEnvAsInt("PRECALC_BATCH_SIZE", 50),
			CycleSlack:               getEnvAsDuration("PRECALC_CYCLE_SLACK", 5*time.Minute),
			SummaryWindow:            getEnvAsInt("PRECALC_SUMMARY_WINDOW", 10),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Redis.URL == "" {
		return NewAppError("CONFIG_ERROR", "REDIS_URL is required", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Queue.Workers < 1 {
		return NewAppError("CONFIG_ERROR", "QUEUE_WORKERS must be at least 1", ErrInvalidInput)
	}
	if c.Queue.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_MAX_RETRIES must not be negative", ErrInvalidInput)
	}
	if c.Precalc.BatchSize < 1 {
		return NewAppError("CONFIG_ERROR", "PRECALC_BATCH_SIZE must be at least 1", ErrInvalidInput)
	}
	if c.Precalc.SummaryWindow < 2 {
		return NewAppError("CONFIG_ERROR", "PRECALC_SUMMARY_WINDOW must be at least 2", ErrInvalidInput)
	}
	return nil
}
