package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"boxoffice/internal/admission"
	"boxoffice/internal/database"
	"boxoffice/internal/external"
	"boxoffice/internal/jobs"
	"boxoffice/internal/messaging"
	"boxoffice/internal/service"
)

// Config holds the application configuration
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	// postgres or memory
	StoreDriver string
	// redis, memory or off
	AdmissionDriver string

	Database    database.Config
	Redis       admission.RedisConfig
	Admission   admission.Config
	Reservation service.Config
	Jobs        jobs.Config
	Messaging   messaging.Config
	Payment     external.PaymentConfig
	Catalog     external.CatalogConfig

	// Catalog lookups go to Elasticsearch when enabled, otherwise to the seat rows
	CatalogEnabled bool
	// Run the sweeper and admission advancer inside the API process
	RunJobs bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		StoreDriver:     getEnv("STORE_DRIVER", "postgres"),
		AdmissionDriver: getEnv("ADMISSION_DRIVER", "redis"),

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "boxoffice"),
			Password:           getEnv("DB_PASSWORD", "boxoffice"),
			DBName:             getEnv("DB_NAME", "boxoffice"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		Redis: admission.RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		Admission: admission.Config{
			Capacity:    getEnvInt("ADMISSION_CAPACITY", 100),
			GraceWindow: getEnvDuration("ADMISSION_GRACE_WINDOW", 5*time.Minute),
			TokenTTL:    getEnvDuration("ADMISSION_TOKEN_TTL", 24*time.Hour),
			KeyPrefix:   getEnv("ADMISSION_KEY_PREFIX", "boxoffice"),
		},

		Reservation: service.Config{
			Retry: service.RetryPolicy{
				MaxAttempts:     getEnvInt("RESERVE_MAX_ATTEMPTS", 5),
				InitialInterval: getEnvDuration("RESERVE_BACKOFF_INITIAL", 5*time.Millisecond),
				MaxInterval:     getEnvDuration("RESERVE_BACKOFF_MAX", 200*time.Millisecond),
				Jitter:          getEnvFloat("RESERVE_BACKOFF_JITTER", 0.5),
			},
			DefaultHoldTTL:      getEnvDuration("HOLD_TTL_DEFAULT", 10*time.Minute),
			MinHoldTTL:          getEnvDuration("HOLD_TTL_MIN", time.Second),
			MaxHoldTTL:          getEnvDuration("HOLD_TTL_MAX", 30*time.Minute),
			CompensationTimeout: getEnvDuration("COMPENSATION_TIMEOUT", 5*time.Second),
			Currency:            getEnv("PAYMENT_CURRENCY", "KZT"),
		},

		Jobs: jobs.Config{
			SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Second),
			SweepBatchSize: getEnvInt("SWEEP_BATCH_SIZE", 500),
			AdmitInterval:  getEnvDuration("ADMIT_INTERVAL", time.Second),
			AdmitBatchSize: getEnvInt("ADMIT_BATCH_SIZE", 50),
		},

		Messaging: messaging.Config{
			Driver:      getEnv("MESSAGING_DRIVER", "log"),
			URL:         getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID:   getEnv("NATS_CLUSTER_ID", "boxoffice"),
			ClientID:    getEnv("NATS_CLIENT_ID", "boxoffice-api"),
			Brokers:     getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "boxoffice."),
		},

		Payment: external.PaymentConfig{
			BaseURL:  getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8082"),
			TeamSlug: getEnv("PAYMENT_TEAM_SLUG", ""),
			Password: getEnv("PAYMENT_PASSWORD", ""),
			Currency: getEnv("PAYMENT_CURRENCY", "KZT"),
			Timeout:  getEnvDuration("PAYMENT_TIMEOUT", 30*time.Second),
		},

		RunJobs:        getEnvBool("RUN_JOBS", false),
		CatalogEnabled: getEnvBool("CATALOG_ENABLED", false),
		Catalog: external.CatalogConfig{
			URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Index:      getEnv("ELASTICSEARCH_INDEX", "seats"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			MaxRetries: getEnvInt("ELASTICSEARCH_MAX_RETRIES", 3),
			Timeout:    getEnvDuration("ELASTICSEARCH_TIMEOUT", 10*time.Second),
		},
	}
}

// JobsInProcess reports whether the sweeper and admission advancer must run inside the
// API. Memory-backed stores and queues are process-local, so no separate worker can see them.
func (c *Config) JobsInProcess() bool {
	return c.RunJobs || c.StoreDriver == "memory" || c.AdmissionDriver == "memory"
}

// getEnv returns the variable's value or the default when unset
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("500ms", "5m")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
