package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Problem describes one invalid or missing configuration field. Load never
// fails hard; callers decide whether problems are fatal.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	// Service catalogue + route table document.
	CatalogPath string

	// Bearer token verification.
	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	// Optional durable audit sink.
	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int
	AuditEnabled     bool

	// Optional event export.
	KafkaBrokers  []string
	KafkaClientID string
	KafkaRetryMax int
	KafkaWriteMS  int

	// Optional session revocation store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Alert notification worker.
	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int
	AsynqEnabled     bool
	AlertWebhookURL  string

	// Optional metric mirror.
	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	// Orchestration.
	HealthIntervalSec int
	ShutdownGraceSec  int

	// Base64-encoded 32-byte key for route-level response encryption.
	ResponseCryptKey string

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	cfg := Config{
		Env:               strings.TrimSpace(os.Getenv("ENV")),
		ServiceName:       serviceNameDefault,
		HTTPPort:          httpPortDefault,
		LogLevel:          "info",
		RequestTimeoutMS:  30000,
		CatalogPath:       strings.TrimSpace(os.Getenv("CATALOG_PATH")),
		OIDCIssuer:        strings.TrimSpace(os.Getenv("OIDC_ISSUER")),
		OIDCAudience:      strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")),
		OIDCJWKSURL:       strings.TrimSpace(os.Getenv("OIDC_JWKS_URL")),
		JWKSTTLSeconds:    300,
		JWTClockSkewSec:   60,
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:        10,
		DBMinConns:        1,
		DBConnMaxIdleSec:  300,
		DBConnMaxLifeSec:  1800,
		KafkaClientID:     serviceNameDefault,
		KafkaRetryMax:     5,
		KafkaWriteMS:      5000,
		RedisAddr:         strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		AsynqRedisAddr:    strings.TrimSpace(os.Getenv("ASYNQ_REDIS_ADDR")),
		AsynqRedisPass:    os.Getenv("ASYNQ_REDIS_PASSWORD"),
		AsynqQueue:        "alerts",
		AsynqConcurrency:  10,
		AlertWebhookURL:   strings.TrimSpace(os.Getenv("ALERT_WEBHOOK_URL")),
		InfluxURL:         strings.TrimSpace(os.Getenv("INFLUX_URL")),
		InfluxToken:       os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:         strings.TrimSpace(os.Getenv("INFLUX_ORG")),
		InfluxBucket:      strings.TrimSpace(os.Getenv("INFLUX_BUCKET")),
		InfluxTimeoutMS:   5000,
		HealthIntervalSec: 30,
		ShutdownGraceSec:  30,
		ResponseCryptKey:  strings.TrimSpace(os.Getenv("RESPONSE_CRYPT_KEY")),
		OtelEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OtelInsecure:      true,
		OtelSampleRatio:   1.0,
	}

	problems := make([]Problem, 0, 4)

	if v := strings.TrimSpace(os.Getenv("SERVICE_NAME")); v != "" {
		cfg.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = parseCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_CLIENT_ID")); v != "" {
		cfg.KafkaClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("ASYNQ_QUEUE")); v != "" {
		cfg.AsynqQueue = v
	}

	portRaw := strings.TrimSpace(os.Getenv("HTTP_PORT"))
	if portRaw == "" {
		portRaw = strings.TrimSpace(os.Getenv("PORT"))
	}
	if portRaw != "" {
		if p, err := strconv.Atoi(portRaw); err != nil || p <= 0 || p > 65535 {
			problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	}

	intEnv(&cfg.RequestTimeoutMS, "REQUEST_TIMEOUT_MS", &problems)
	intEnv(&cfg.JWKSTTLSeconds, "JWKS_CACHE_TTL_SECONDS", &problems)
	intEnv(&cfg.JWTClockSkewSec, "JWT_CLOCK_SKEW_SECONDS", &problems)
	intEnv(&cfg.DBMaxConns, "DB_MAX_CONNS", &problems)
	intEnv(&cfg.DBMinConns, "DB_MIN_CONNS", &problems)
	intEnv(&cfg.DBConnMaxIdleSec, "DB_CONN_MAX_IDLE_SECONDS", &problems)
	intEnv(&cfg.DBConnMaxLifeSec, "DB_CONN_MAX_LIFETIME_SECONDS", &problems)
	intEnv(&cfg.KafkaRetryMax, "KAFKA_RETRY_MAX", &problems)
	intEnv(&cfg.KafkaWriteMS, "KAFKA_WRITE_TIMEOUT_MS", &problems)
	intEnv(&cfg.RedisDB, "REDIS_DB", &problems)
	intEnv(&cfg.AsynqRedisDB, "ASYNQ_REDIS_DB", &problems)
	intEnv(&cfg.AsynqConcurrency, "ASYNQ_CONCURRENCY", &problems)
	intEnv(&cfg.InfluxTimeoutMS, "INFLUX_TIMEOUT_MS", &problems)
	intEnv(&cfg.HealthIntervalSec, "HEALTH_CHECK_INTERVAL_SECONDS", &problems)
	intEnv(&cfg.ShutdownGraceSec, "SHUTDOWN_GRACE_SECONDS", &problems)

	boolEnv(&cfg.AuditEnabled, "AUDIT_ENABLED", &problems)
	boolEnv(&cfg.AsynqEnabled, "ASYNQ_ENABLED", &problems)
	boolEnv(&cfg.OtelEnabled, "OTEL_ENABLED", &problems)
	boolEnv(&cfg.OtelInsecure, "OTEL_EXPORTER_OTLP_INSECURE", &problems)

	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLE_RATIO")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil {
			problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be a number"})
		} else {
			cfg.OtelSampleRatio = f
		}
	}

	if cfg.OIDCIssuer != "" && cfg.OIDCJWKSURL == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.JWKSTTLSeconds <= 0 {
		problems = append(problems, Problem{Field: "JWKS_CACHE_TTL_SECONDS", Message: "JWKS_CACHE_TTL_SECONDS must be > 0"})
		cfg.JWKSTTLSeconds = 300
	}
	if cfg.JWTClockSkewSec < 0 {
		problems = append(problems, Problem{Field: "JWT_CLOCK_SKEW_SECONDS", Message: "JWT_CLOCK_SKEW_SECONDS must be >= 0"})
		cfg.JWTClockSkewSec = 60
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.HealthIntervalSec <= 0 {
		problems = append(problems, Problem{Field: "HEALTH_CHECK_INTERVAL_SECONDS", Message: "HEALTH_CHECK_INTERVAL_SECONDS must be > 0"})
		cfg.HealthIntervalSec = 30
	}
	if cfg.ShutdownGraceSec <= 0 {
		problems = append(problems, Problem{Field: "SHUTDOWN_GRACE_SECONDS", Message: "SHUTDOWN_GRACE_SECONDS must be > 0"})
		cfg.ShutdownGraceSec = 30
	}
	if cfg.AsynqConcurrency <= 0 {
		problems = append(problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 10
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func intEnv(dst *int, key string, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*dst = n
}

func boolEnv(dst *bool, key string, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, ok := asBool(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
		return
	}
	*dst = b
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
