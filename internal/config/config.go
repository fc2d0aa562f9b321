package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	Env         string
	ServerPort  int
	LogLevel    string

	DatabaseURL string

	JWTAccessSecret  []byte
	JWTRefreshSecret []byte
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	SingleUseTTL     time.Duration

	KafkaBrokers []string
	MailTopic    string
	EventTopic   string

	ESURL      string
	ESUser     string
	ESPassword string
	ESIndex    string

	SweepInterval time.Duration
	RateLimitRPS  int
}

func Load() Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("notice: .env file not found: %v, using system environment", err)
	}

	return Config{
		ServiceName: EnvDefault("SERVICE_NAME", "webstore"),
		Env:         EnvDefault("APP_ENV", "development"),
		ServerPort:  EnvIntDefault("SERVER_PORT", 8080),
		LogLevel:    EnvDefault("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTAccessSecret:  []byte(os.Getenv("JWT_SECRET")),
		JWTRefreshSecret: []byte(os.Getenv("JWT_REFRESH_SECRET")),
		AccessTTL:        EnvDurationDefault("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:       EnvDurationDefault("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		SingleUseTTL:     EnvDurationDefault("SINGLE_USE_TOKEN_TTL", 30*time.Minute),

		KafkaBrokers: CSV(os.Getenv("KAFKA_BROKERS")),
		MailTopic:    EnvDefault("KAFKA_MAIL_TOPIC", "mailout"),
		EventTopic:   EnvDefault("KAFKA_EVENT_TOPIC", "shop-events"),

		ESURL:      os.Getenv("ES_URL"),
		ESUser:     os.Getenv("ES_USER"),
		ESPassword: os.Getenv("ES_PASSWORD"),
		ESIndex:    EnvDefault("ES_INDEX", "products"),

		SweepInterval: EnvDurationDefault("TOKEN_SWEEP_INTERVAL", 24*time.Hour),
		RateLimitRPS:  EnvIntDefault("RATE_LIMIT_RPS", 20),
	}
}

// MustValidate enforces the settings without which the service cannot issue
// tokens or reach its stores. Misconfiguration is fatal at startup, never a
// per-request condition.
func (c Config) MustValidate() {
	MustNonEmpty(c.DatabaseURL, "DATABASE_URL")
	MustNonEmptyBytes(c.JWTAccessSecret, "JWT_SECRET")
	MustNonEmptyBytes(c.JWTRefreshSecret, "JWT_REFRESH_SECRET")
}

func (c Config) IsProduction() bool { return c.Env == "production" }

func CSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func EnvDefault(key, def string) string {
	if os.Getenv(key) != "" {
		return os.Getenv(key)
	}
	return def
}

func EnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func MustNonEmpty(value, envName string) {
	if value == "" {
		log.Fatalf("missing required env %s", envName)
	}
}

func MustNonEmptyBytes(value []byte, envName string) {
	if len(value) == 0 {
		log.Fatalf("missing required env %s", envName)
	}
}
