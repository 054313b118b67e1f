package infrastructure

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is read once at startup from the environment, with .env as a
// fallback for local runs.
type Config struct {
	Port     string
	LogLevel string
	WorkerID int64

	DBHost string
	DBPort string
	DBUser string
	DBPass string
	DBName string

	RabbitMQHost  string
	RabbitMQPort  string
	RabbitMQUser  string
	RabbitMQPass  string
	RabbitMQQueue string

	RedisAddr string

	JWTSecret     string
	WebhookSecret string

	UploadURLBase   string
	UploadURLSecret string
	UploadURLTTL    time.Duration

	SSETimeout                time.Duration
	HeartbeatInterval         time.Duration
	NotificationRetryInterval time.Duration
	NotificationRetention     time.Duration
	JobRedispatchInterval     time.Duration
}

func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		Port:     getenv("PORT", "5001"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		WorkerID: getenvInt64("WORKER_ID", 1),

		DBHost: getenv("DB_HOST", "db"),
		DBPort: getenv("DB_PORT", "5432"),
		DBUser: getenv("DB_USER", "user"),
		DBPass: getenv("DB_PASS", "password"),
		DBName: getenv("DB_NAME", "fiap_x_db"),

		RabbitMQHost:  getenv("RABBITMQ_HOST", "rabbitmq"),
		RabbitMQPort:  getenv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:  getenv("RABBITMQ_USER", "guest"),
		RabbitMQPass:  getenv("RABBITMQ_PASS", "guest"),
		RabbitMQQueue: getenv("RABBITMQ_QUEUE", "video_processing_queue"),

		RedisAddr: strings.TrimSpace(getenv("REDIS_ADDR", "")),

		JWTSecret:     strings.TrimSpace(getenv("JWT_SECRET", "")),
		WebhookSecret: strings.TrimSpace(getenv("WEBHOOK_SECRET", "")),

		UploadURLBase:   getenv("UPLOAD_URL_BASE", "http://localhost:9000/uploads"),
		UploadURLSecret: getenv("UPLOAD_URL_SECRET", ""),
		UploadURLTTL:    getenvDuration("UPLOAD_URL_TTL", 15*time.Minute),

		SSETimeout:                getenvDuration("SSE_TIMEOUT", 30*time.Minute),
		HeartbeatInterval:         getenvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		NotificationRetryInterval: getenvDuration("NOTIFICATION_RETRY_INTERVAL", 5*time.Minute),
		NotificationRetention:     getenvDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
		JobRedispatchInterval:     getenvDuration("JOB_REDISPATCH_INTERVAL", time.Minute),
	}
}

func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.RabbitMQUser, c.RabbitMQPass, c.RabbitMQHost, c.RabbitMQPort)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
