// Package config holds environment-driven configuration so main stays lean.
package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr string

	// PublicBaseURL prefixes verification links returned from issuance,
	// e.g. https://certs.example.com.
	PublicBaseURL string

	PostgresDSN string

	// OperatorToken guards the /internal divergence routes. Empty disables
	// them.
	OperatorToken string

	Redis RedisConfig

	Chain ChainConfig

	// KafkaBrokers enables the verification event publisher when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// ReconcileInterval drives the background ledger-vs-store scan.
	// Zero disables the worker.
	ReconcileInterval time.Duration
}

// RedisConfig configures the optional institution-details cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TTL          time.Duration
}

// ChainConfig configures the ledger backend. When RPCEndpoint is empty the
// server runs against the in-process state machine, which keeps local
// development free of external chain dependencies.
type ChainConfig struct {
	RPCEndpoint     string
	ContractAddress string
	SignerKeyHex    string
	CallTimeout     time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:              envOr("CERTIFYCHAIN_ADDR", ":8080"),
		PublicBaseURL:     envOr("PUBLIC_BASE_URL", "http://localhost:8080"),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		OperatorToken:     os.Getenv("OPERATOR_TOKEN"),
		KafkaTopic:        envOr("KAFKA_TOPIC", "certifychain.verifications"),
		ReconcileInterval: durationOr("RECONCILE_INTERVAL", 10*time.Minute),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			TTL:          durationOr("REDIS_CACHE_TTL", 5*time.Minute),
		},
		Chain: ChainConfig{
			RPCEndpoint:     os.Getenv("CHAIN_RPC_ENDPOINT"),
			ContractAddress: os.Getenv("CHAIN_CONTRACT_ADDRESS"),
			SignerKeyHex:    os.Getenv("CHAIN_SIGNER_KEY"),
			CallTimeout:     durationOr("CHAIN_CALL_TIMEOUT", 15*time.Second),
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
