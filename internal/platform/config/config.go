package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults applied when the environment does not override them.
const (
	DefaultTokenTTL   = 24 * time.Hour
	DefaultConsentTTL = 365 * 24 * time.Hour

	// Cold-chain acceptance band in degrees Celsius. Readings outside this
	// band on custody appends trigger a cold_chain_break alert record.
	DefaultColdChainMin = 2.0
	DefaultColdChainMax = 8.0
)

// Server captures process-level configuration so main stays lean.
type Server struct {
	Addr string

	// AllowSelfIssuance controls whether an issuer may issue a credential to
	// itself (provider self-attested licenses). Policy-gated rather than
	// hardcoded.
	AllowSelfIssuance bool

	TokenTTL   time.Duration
	ConsentTTL time.Duration

	ColdChainMin float64
	ColdChainMax float64

	// TokenSigningKey signs the compact transport encoding of sharing
	// tokens. When empty, a process-local random key is generated at boot.
	TokenSigningKey string

	// Optional collaborators; empty values disable the integration.
	DatabaseURL  string
	RedisAddr    string
	KafkaBrokers string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:              getEnv("CUSTODIA_ADDR", ":8080"),
		AllowSelfIssuance: os.Getenv("CUSTODIA_ALLOW_SELF_ISSUANCE") != "false",
		TokenTTL:          getDuration("CUSTODIA_TOKEN_TTL", DefaultTokenTTL),
		ConsentTTL:        getDuration("CUSTODIA_CONSENT_TTL", DefaultConsentTTL),
		ColdChainMin:      getFloat("CUSTODIA_COLD_CHAIN_MIN", DefaultColdChainMin),
		ColdChainMax:      getFloat("CUSTODIA_COLD_CHAIN_MAX", DefaultColdChainMax),
		TokenSigningKey:   os.Getenv("CUSTODIA_TOKEN_SIGNING_KEY"),
		DatabaseURL:       os.Getenv("CUSTODIA_DATABASE_URL"),
		RedisAddr:         os.Getenv("CUSTODIA_REDIS_ADDR"),
		KafkaBrokers:      os.Getenv("CUSTODIA_KAFKA_BROKERS"),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
