package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/bypass"
)

// Feed drivers
const (
	FeedMQTT  = "mqtt"
	FeedAMQP  = "amqp"
	FeedKafka = "kafka"
)

// Mail drivers
const (
	MailEmailJS = "emailjs"
	MailQueue   = "queue"
	MailLog     = "log"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	MQTT        MQTTConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	InfluxDB    InfluxDBConfig
	HTTP        HTTPConfig
	Mail        MailConfig
	Alerting    AlertingConfig
	Feed        FeedConfig
	Validation  ValidationConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL            string
	EnsureSchema   bool
	PersistHistory bool
}

// RabbitMQConfig holds RabbitMQ connection, queue and exchange settings
type RabbitMQConfig struct {
	URL               string
	ReadingExchange   string
	ReadingQueue      string
	ReadingRoutingKey string
	DLQQueue          string
	PrefetchCount     int
	EventsExchange    string
	VerdictRoutingKey string
	MailRoutingKey    string
	PublishVerdicts   bool
}

// MQTTConfig holds the live feed broker settings
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       int
}

// KafkaConfig holds the live feed consumer group settings
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	RetryBackoff time.Duration
}

// RedisConfig holds the shared throttle and live cache settings
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LiveTTL  time.Duration
}

// InfluxDBConfig holds the time-series sink settings
type InfluxDBConfig struct {
	Enabled bool
	URL     string
	Org     string
	Token   string
	Bucket  string
}

// HTTPConfig holds dashboard API settings
type HTTPConfig struct {
	JWTSecret string
}

// MailConfig holds alert email settings
type MailConfig struct {
	Driver            string
	EmailJSEndpoint   string
	EmailJSServiceID  string
	EmailJSTemplateID string
	EmailJSPublicKey  string
	EmailJSPrivateKey string
	AdminEmail        string
	AdminName         string
	DashboardURL      string
	Timeout           time.Duration
}

// AlertingConfig holds throttle, liveness and display settings
type AlertingConfig struct {
	ThrottleWindow  time.Duration
	LivenessTimeout time.Duration
	LivenessTick    time.Duration
	DispatchTimeout time.Duration
	Timezone        string
	DashboardRate   float64
	AlertRate       float64
}

// FeedConfig selects the live reading source
type FeedConfig struct {
	Driver string
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int
}

// UsesAMQP reports whether any component needs the RabbitMQ connection
func (c *Config) UsesAMQP() bool {
	return c.Feed.Driver == FeedAMQP || c.Mail.Driver == MailQueue || c.RabbitMQ.PublishVerdicts
}

// Location resolves the configured timezone, falling back to local time
func (c *Config) Location() *time.Location {
	if c.Alerting.Timezone == "" || c.Alerting.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Alerting.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "bypass-monitor"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			EnsureSchema:   getEnvBool("DATABASE_ENSURE_SCHEMA", true),
			PersistHistory: getEnvBool("PERSIST_HISTORY", true),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			ReadingExchange:   getEnv("RABBITMQ_READING_EXCHANGE", "bypass-monitor.readings.exchange"),
			ReadingQueue:      getEnv("RABBITMQ_READING_QUEUE", "bypass-monitor.readings.queue"),
			ReadingRoutingKey: getEnv("RABBITMQ_READING_ROUTING_KEY", "meter.reading.live"),
			DLQQueue:          getEnv("RABBITMQ_DLQ_QUEUE", "bypass-monitor.readings.dlq"),
			PrefetchCount:     getEnvAsInt("RABBITMQ_PREFETCH", 10),
			EventsExchange:    getEnv("RABBITMQ_EVENTS_EXCHANGE", "bypass-monitor.events.exchange"),
			VerdictRoutingKey: getEnv("RABBITMQ_VERDICT_ROUTING_KEY", "bypass.verdict.evaluated"),
			MailRoutingKey:    getEnv("RABBITMQ_MAIL_ROUTING_KEY", "bypass.alert.mail"),
			PublishVerdicts:   getEnvBool("RABBITMQ_PUBLISH_VERDICTS", false),
		},
		MQTT: MQTTConfig{
			BrokerURL: getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID:  getEnv("MQTT_CLIENT_ID", "bypass-monitor"),
			Username:  getEnv("MQTT_USERNAME", ""),
			Password:  getEnv("MQTT_PASSWORD", ""),
			QoS:       getEnvAsInt("MQTT_QOS", 1),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:        getEnv("KAFKA_TOPIC", "meter-live-readings"),
			GroupID:      getEnv("KAFKA_GROUP_ID", "bypass-monitor"),
			RetryBackoff: getEnvDuration("KAFKA_RETRY_BACKOFF", time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LiveTTL:  getEnvDuration("REDIS_LIVE_TTL", 24*time.Hour),
		},
		InfluxDB: InfluxDBConfig{
			Enabled: getEnvBool("INFLUXDB_ENABLED", false),
			URL:     getEnv("INFLUXDB_URL", "http://localhost:8086"),
			Org:     getEnv("INFLUXDB_ORG", ""),
			Token:   getEnv("INFLUXDB_TOKEN", ""),
			Bucket:  getEnv("INFLUXDB_BUCKET", "bypass-monitor"),
		},
		HTTP: HTTPConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Mail: MailConfig{
			Driver:            getEnv("MAIL_DRIVER", MailLog),
			EmailJSEndpoint:   getEnv("EMAILJS_ENDPOINT", ""),
			EmailJSServiceID:  getEnv("EMAILJS_SERVICE_ID", ""),
			EmailJSTemplateID: getEnv("EMAILJS_TEMPLATE_ID", ""),
			EmailJSPublicKey:  getEnv("EMAILJS_PUBLIC_KEY", ""),
			EmailJSPrivateKey: getEnv("EMAILJS_PRIVATE_KEY", ""),
			AdminEmail:        getEnv("ALERT_ADMIN_EMAIL", ""),
			AdminName:         getEnv("ALERT_ADMIN_NAME", "Provider Admin"),
			DashboardURL:      getEnv("DASHBOARD_URL", ""),
			Timeout:           getEnvDuration("MAIL_TIMEOUT", 10*time.Second),
		},
		Alerting: AlertingConfig{
			ThrottleWindow:  getEnvDuration("ALERT_THROTTLE_WINDOW", 60*time.Minute),
			LivenessTimeout: getEnvDuration("LIVENESS_TIMEOUT", 30*time.Second),
			LivenessTick:    getEnvDuration("LIVENESS_TICK", 5*time.Second),
			DispatchTimeout: getEnvDuration("ALERT_DISPATCH_TIMEOUT", 30*time.Second),
			Timezone:        getEnv("DISPLAY_TIMEZONE", "Local"),
			DashboardRate:   getEnvAsFloat("TARIFF_DASHBOARD_RATE", bypass.RateDashboard),
			AlertRate:       getEnvAsFloat("TARIFF_ALERT_RATE", bypass.RateAlert),
		},
		Feed: FeedConfig{
			Driver: strings.ToLower(getEnv("FEED_DRIVER", FeedMQTT)),
		},
		Validation: ValidationConfig{
			TimestampToleranceMinutes: getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", 10080),
		},
	}
	cfg.Mail.Driver = strings.ToLower(cfg.Mail.Driver)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if c.HTTP.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required but not set in environment variables")
	}

	switch c.Feed.Driver {
	case FeedMQTT, FeedAMQP, FeedKafka:
	default:
		return fmt.Errorf("FEED_DRIVER must be one of mqtt, amqp, kafka, got %q", c.Feed.Driver)
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailEmailJS:
		if c.Mail.EmailJSServiceID == "" || c.Mail.EmailJSTemplateID == "" || c.Mail.EmailJSPublicKey == "" {
			return fmt.Errorf("EMAILJS_SERVICE_ID, EMAILJS_TEMPLATE_ID and EMAILJS_PUBLIC_KEY are required for MAIL_DRIVER=emailjs")
		}
	case MailQueue:
	default:
		return fmt.Errorf("MAIL_DRIVER must be one of emailjs, queue, log, got %q", c.Mail.Driver)
	}
	if c.Mail.Driver != MailLog && c.Mail.AdminEmail == "" {
		return fmt.Errorf("ALERT_ADMIN_EMAIL is required for MAIL_DRIVER=%s", c.Mail.Driver)
	}

	if c.UsesAMQP() && c.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if c.Feed.Driver == FeedKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required for FEED_DRIVER=kafka")
	}
	if c.Alerting.DashboardRate <= 0 || c.Alerting.AlertRate <= 0 {
		return fmt.Errorf("tariff rates must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
