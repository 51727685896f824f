package server

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port     string
	GRPCPort string
	APIKey   string

	QueueBackend string // sqs | memory
	StateBackend string // dynamodb | mongo | redis
	QueueName    string
	Concurrency  int

	AWSRegion      string
	AWSEndpointURL string // For LocalStack
	DynamoDBTable  string
	SQSQueuePrefix string
	UseFIFO        bool

	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryFactor       float64

	DeadLetterRetention     time.Duration
	DeadLetterCleanSchedule string
	DeadLetterFlushInterval time.Duration
	DeadLetterWriteTries    int
	DeadLetterAlertRate     float64 // alerts per second, 0 = unlimited
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	def := core.DefaultRetryPolicy()
	return Config{
		Port:     getEnv("SCRAPE_PORT", "8080"),
		GRPCPort: getEnv("SCRAPE_GRPC_PORT", "9090"),
		APIKey:   getEnv("SCRAPE_API_KEY", ""),

		QueueBackend: getEnv("QUEUE_BACKEND", "sqs"),
		StateBackend: getEnv("STATE_BACKEND", "dynamodb"),
		QueueName:    getEnv("SCRAPE_QUEUE", "scrape"),
		Concurrency:  getEnvInt("WORKER_CONCURRENCY", 4),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""), // Empty = real AWS
		DynamoDBTable:  getEnv("DYNAMODB_TABLE", "scrape-jobs"),
		SQSQueuePrefix: getEnv("SQS_QUEUE_PREFIX", "scrape"),
		UseFIFO:        getEnvBool("SQS_USE_FIFO", false),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "scrapepanel"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", def.MaxAttempts),
		RetryInitialDelay: getEnvDuration("RETRY_INITIAL_DELAY", def.InitialDelay),
		RetryMaxDelay:     getEnvDuration("RETRY_MAX_DELAY", def.MaxDelay),
		RetryFactor:       getEnvFloat("RETRY_FACTOR", def.Factor),

		DeadLetterRetention:     getEnvDuration("DEAD_LETTER_RETENTION", 30*24*time.Hour),
		DeadLetterCleanSchedule: getEnv("DEAD_LETTER_CLEAN_SCHEDULE", "@hourly"),
		DeadLetterFlushInterval: getEnvDuration("DEAD_LETTER_FLUSH_INTERVAL", 5*time.Second),
		DeadLetterWriteTries:    getEnvInt("DEAD_LETTER_WRITE_TRIES", 3),
		DeadLetterAlertRate:     getEnvFloat("DEAD_LETTER_ALERT_RATE", 0),
	}
}

// Validate checks backend names and the retry policy.
func (c Config) Validate() error {
	switch c.QueueBackend {
	case "sqs", "memory":
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q (want sqs or memory)", c.QueueBackend)
	}
	if c.QueueBackend == "sqs" {
		switch c.StateBackend {
		case "dynamodb", "mongo", "redis":
		default:
			return fmt.Errorf("unknown STATE_BACKEND %q (want dynamodb, mongo or redis)", c.StateBackend)
		}
	}
	if c.QueueName == "" || c.QueueName == core.DeadLetterQueue {
		return fmt.Errorf("SCRAPE_QUEUE must be set and differ from %q", core.DeadLetterQueue)
	}
	if _, err := c.RetryPolicy(); err != nil {
		return err
	}
	return nil
}

// RetryPolicy returns the default retry policy built from the RETRY_* keys.
func (c Config) RetryPolicy() (core.RetryPolicy, error) {
	return core.NewRetryPolicy(c.RetryMaxAttempts, c.RetryInitialDelay, c.RetryMaxDelay, c.RetryFactor)
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s") and ISO 8601 ("PT90S").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if d, err := core.ParseISO8601Duration(val); err == nil {
		return d
	}
	return defaultVal
}
