package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	SinkBus      = "bus"
	SinkKafka    = "kafka"
	SinkRabbitMQ = "rabbitmq"

	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string

	StoreDriver string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NotifySink       string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	AMQPURL          string
	AMQPExchange     string
	FarmEmail        string

	StripeSecretKey     string
	StripeWebhookSecret string

	SyncSecret string
	AdminToken string

	BaseURL           string
	Currency          string
	OrderNumberPrefix string
	ReservationTTL    time.Duration
	SweepInterval     time.Duration
	SweepGrace        time.Duration

	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxMaxAttempts int

	PhotoDir     string
	PhotoBaseURL string

	SettingsCacheTTL time.Duration

	TraceExporter    string
	TraceSampleRatio float64
}

// Load reads the environment once. Parse failures and missing secrets are reported together.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	cfg := Config{
		ServiceName: e.str("SERVICE_NAME", "storefront"),
		Env:         e.str("ENV", "dev"),
		HTTPAddr:    e.str("HTTP_ADDR", ":8080"),

		StoreDriver: strings.ToLower(e.str("STORE_DRIVER", DriverMemory)),
		DatabaseURL: e.str("DATABASE_URL", ""),

		RedisAddr:     e.str("REDIS_ADDR", ""),
		RedisPassword: e.str("REDIS_PASSWORD", ""),
		RedisDB:       e.int("REDIS_DB", 0),

		NotifySink:       strings.ToLower(e.str("NOTIFY_SINK", SinkBus)),
		KafkaBrokers:     e.list("KAFKA_BROKERS"),
		KafkaTopicPrefix: e.str("KAFKA_TOPIC_PREFIX", "storefront."),
		AMQPURL:          e.str("AMQP_URL", ""),
		AMQPExchange:     e.str("AMQP_EXCHANGE", "storefront"),
		FarmEmail:        e.str("FARM_EMAIL", ""),

		StripeSecretKey:     e.str("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: e.str("STRIPE_WEBHOOK_SECRET", ""),

		SyncSecret: e.str("SYNC_SECRET", ""),
		AdminToken: e.str("ADMIN_TOKEN", ""),

		BaseURL:           e.str("BASE_URL", "http://localhost:3000"),
		Currency:          strings.ToLower(e.str("CURRENCY", "usd")),
		OrderNumberPrefix: e.str("ORDER_NUMBER_PREFIX", "BR"),
		ReservationTTL:    e.duration("RESERVATION_TTL", 45*time.Minute),
		SweepInterval:     e.duration("SWEEP_INTERVAL", time.Minute),
		SweepGrace:        e.duration("SWEEP_GRACE", 5*time.Minute),

		OutboxInterval:    e.duration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatchSize:   e.int("OUTBOX_BATCH_SIZE", 50),
		OutboxMaxAttempts: e.int("OUTBOX_MAX_ATTEMPTS", 8),

		PhotoDir:     e.str("PHOTO_DIR", "./data/photos"),
		PhotoBaseURL: e.str("PHOTO_BASE_URL", "/photos"),

		SettingsCacheTTL: e.duration("SETTINGS_CACHE_TTL", 30*time.Second),

		TraceExporter:    strings.ToLower(e.str("TRACE_EXPORTER", TraceExporterNone)),
		TraceSampleRatio: e.float("TRACE_SAMPLE_RATIO", 1),
	}
	if err := errors.Join(append(e.errs, cfg.validate())...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}
	switch c.NotifySink {
	case SinkBus:
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when NOTIFY_SINK=kafka"))
		}
	case SinkRabbitMQ:
		if c.AMQPURL == "" {
			errs = append(errs, errors.New("AMQP_URL is required when NOTIFY_SINK=rabbitmq"))
		}
	default:
		errs = append(errs, fmt.Errorf("NOTIFY_SINK: unknown sink %q", c.NotifySink))
	}
	switch c.TraceExporter {
	case TraceExporterNone, TraceExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("TRACE_EXPORTER: unknown exporter %q", c.TraceExporter))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("TRACE_SAMPLE_RATIO must be between 0 and 1"))
	}
	if c.SyncSecret == "" {
		errs = append(errs, errors.New("SYNC_SECRET is required"))
	}
	if c.AdminToken == "" {
		errs = append(errs, errors.New("ADMIN_TOKEN is required"))
	}
	if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required"))
	}
	if c.ReservationTTL <= 0 {
		errs = append(errs, errors.New("RESERVATION_TTL must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("OUTBOX_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.get(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
