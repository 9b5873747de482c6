package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderStripe      = "stripe"
	ProviderPagBank     = "pagbank"
	ProviderMercadoPago = "mercadopago"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Provider          ProviderConfig
	Payments          PaymentsConfig
	Jobs              JobsConfig
	Lock              LockConfig
	Kafka             KafkaConfig
	Tracing           TracingConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

// ProviderConfig selects the single gateway the service talks to. Only the
// credentials of the selected gateway need to be set.
type ProviderConfig struct {
	Name        string
	HTTPTimeout time.Duration

	Stripe      StripeConfig
	PagBank     PagBankConfig
	MercadoPago MercadoPagoConfig
}

type StripeConfig struct {
	SecretKey                 string
	WebhookSecret             string
	BaseURL                   string
	SignatureToleranceSeconds int64
	AuthorizationTTL          time.Duration
}

type PagBankConfig struct {
	Token            string
	WebhookToken     string
	BaseURL          string
	NotificationURL  string
	AuthorizationTTL time.Duration
}

type MercadoPagoConfig struct {
	AccessToken      string
	WebhookSecret    string
	BaseURL          string
	NotificationURL  string
	AuthorizationTTL time.Duration
}

type PaymentsConfig struct {
	CallbackMaxAttempts   int32
	CallbackRetryInterval time.Duration
	CallbackHTTPTimeout   time.Duration
	PendingTimeout        time.Duration
	ReconcileStaleAfter   time.Duration
	JobBatchSize          int32

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

type JobsConfig struct {
	ReconcileInterval        time.Duration
	CallbackDispatchInterval time.Duration
	ExpirePendingInterval    time.Duration
	EventsPublishInterval    time.Duration
}

type LockConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	WaitTimeout   time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type TracingConfig struct {
	JaegerEndpoint string
	SampleRatio    float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	providerName := strings.ToLower(getEnv("PAYMENTS_PROVIDER", ProviderStripe))
	switch providerName {
	case ProviderStripe, ProviderPagBank, ProviderMercadoPago:
	default:
		return nil, errors.New("PAYMENTS_PROVIDER must be stripe, pagbank or mercadopago")
	}

	lockBackend := strings.ToLower(getEnv("LOCK_BACKEND", LockBackendLocal))
	if lockBackend != LockBackendLocal && lockBackend != LockBackendRedis {
		return nil, errors.New("LOCK_BACKEND must be local or redis")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "payments-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Provider: ProviderConfig{
			Name:        providerName,
			HTTPTimeout: getSecondsEnv("PROVIDER_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			Stripe: StripeConfig{
				SecretKey:                 getEnv("STRIPE_SECRET_KEY", ""),
				WebhookSecret:             getEnv("STRIPE_WEBHOOK_SECRET", ""),
				BaseURL:                   getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
				SignatureToleranceSeconds: int64(getIntEnv("STRIPE_SIGNATURE_TOLERANCE_SECONDS", 300)),
				AuthorizationTTL:          getMinutesEnv("STRIPE_AUTHORIZATION_TTL_MINUTES", 7*24*time.Hour),
			},
			PagBank: PagBankConfig{
				Token:            getEnv("PAGBANK_TOKEN", ""),
				WebhookToken:     getEnv("PAGBANK_WEBHOOK_TOKEN", getEnv("PAGBANK_TOKEN", "")),
				BaseURL:          getEnv("PAGBANK_BASE_URL", "https://api.pagseguro.com"),
				NotificationURL:  getEnv("PAGBANK_NOTIFICATION_URL", ""),
				AuthorizationTTL: getMinutesEnv("PAGBANK_AUTHORIZATION_TTL_MINUTES", 5*24*time.Hour),
			},
			MercadoPago: MercadoPagoConfig{
				AccessToken:      getEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
				WebhookSecret:    getEnv("MERCADOPAGO_WEBHOOK_SECRET", ""),
				BaseURL:          getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
				NotificationURL:  getEnv("MERCADOPAGO_NOTIFICATION_URL", ""),
				AuthorizationTTL: getMinutesEnv("MERCADOPAGO_AUTHORIZATION_TTL_MINUTES", 5*24*time.Hour),
			},
		},
		Payments: PaymentsConfig{
			CallbackMaxAttempts:   int32(getIntEnv("PAYMENTS_CALLBACK_MAX_ATTEMPTS", 10)),
			CallbackRetryInterval: getMinutesEnv("PAYMENTS_CALLBACK_RETRY_INTERVAL_MINUTES", 5*time.Minute),
			CallbackHTTPTimeout:   getSecondsEnv("PAYMENTS_CALLBACK_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			PendingTimeout:        getMinutesEnv("PAYMENTS_PENDING_TIMEOUT_MINUTES", 60*time.Minute),
			ReconcileStaleAfter:   getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", 15*time.Minute),
			JobBatchSize:          int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
			BreakerMaxFailures:    getIntEnv("PROVIDER_BREAKER_MAX_FAILURES", 5),
			BreakerResetTimeout:   getSecondsEnv("PROVIDER_BREAKER_RESET_SECONDS", 30*time.Second),
		},
		Jobs: JobsConfig{
			ReconcileInterval:        getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
			CallbackDispatchInterval: getMinutesEnv("PAYMENTS_CALLBACK_DISPATCH_INTERVAL_MINUTES", time.Minute),
			ExpirePendingInterval:    getMinutesEnv("PAYMENTS_EXPIRE_PENDING_INTERVAL_MINUTES", 5*time.Minute),
			EventsPublishInterval:    getSecondsEnv("PAYMENTS_EVENTS_PUBLISH_INTERVAL_SECONDS", 10*time.Second),
		},
		Lock: LockConfig{
			Backend:       lockBackend,
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getIntEnv("REDIS_DB", 0),
			TTL:           getSecondsEnv("LOCK_TTL_SECONDS", 30*time.Second),
			WaitTimeout:   getSecondsEnv("LOCK_WAIT_SECONDS", 5*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getListEnv("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_PAYMENTS_TOPIC", "payments.events"),
		},
		Tracing: TracingConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
			SampleRatio:    getFloatEnv("TRACING_SAMPLE_RATIO", 1),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
