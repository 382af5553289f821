// Package config loads node and notary settings from the environment.
// A .env file in the working directory, if present, is read first; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Notary backends.
const (
	BackendRemote   = "remote"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// Config holds every setting of a splitledger process.
type Config struct {
	NodeName    string
	NodeKeySeed string
	ListenAddr  string
	DBPath      string
	NetworkFile string
	LogLevel    string

	JWTSecret            string
	TokenTTL             time.Duration
	OperatorUser         string
	OperatorPasswordHash string
	// OperatorPassword is a plaintext alternative to OperatorPasswordHash,
	// hashed on startup. The hash wins when both are set.
	OperatorPassword string

	NotaryBackend  string
	NotaryKeySeed  string
	NotaryURL      string
	NotaryDBPath   string
	RedisAddr      string
	DynamoDBTable  string
	DynamoEndpoint string
	AWSRegion      string

	PageSize         int
	ConflictRetries  int
	MaxParallelSends int
}

// Load reads the configuration. Missing optional values take defaults;
// malformed numbers and durations are errors.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		NodeName:    getEnv("NODE_NAME", ""),
		NodeKeySeed: getEnv("NODE_KEY_SEED", ""),
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		DBPath:      getEnv("DB_PATH", "./data/ledger.db"),
		NetworkFile: getEnv("NETWORK_FILE", "./network.toml"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		JWTSecret:            getEnv("JWT_SECRET", ""),
		OperatorUser:         getEnv("OPERATOR_USER", "admin"),
		OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
		OperatorPassword:     getEnv("OPERATOR_PASSWORD", ""),

		NotaryBackend:  strings.ToLower(getEnv("NOTARY_BACKEND", BackendRemote)),
		NotaryKeySeed:  getEnv("NOTARY_KEY_SEED", ""),
		NotaryURL:      getEnv("NOTARY_URL", ""),
		NotaryDBPath:   getEnv("NOTARY_DB_PATH", "./data/notary.db"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		DynamoDBTable:  getEnv("DYNAMODB_TABLE", "splitledger-consumed"),
		DynamoEndpoint: getEnv("DYNAMODB_ENDPOINT", ""),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
	}

	var err error
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = getInt("PAGE_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.ConflictRetries, err = getInt("CONFLICT_RETRIES", 0); err != nil {
		return nil, err
	}
	if cfg.MaxParallelSends, err = getInt("MAX_PARALLEL_SENDS", 4); err != nil {
		return nil, err
	}

	switch cfg.NotaryBackend {
	case BackendRemote, BackendMemory, BackendSQLite, BackendRedis, BackendDynamoDB:
	default:
		return nil, fmt.Errorf("unknown NOTARY_BACKEND %q", cfg.NotaryBackend)
	}

	return cfg, nil
}

// ValidateNode checks the settings a party node cannot run without.
func (c *Config) ValidateNode() error {
	var missing []string
	if c.NodeName == "" {
		missing = append(missing, "NODE_NAME")
	}
	if c.NodeKeySeed == "" {
		missing = append(missing, "NODE_KEY_SEED")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.NotaryBackend == BackendRemote && c.NotaryURL == "" {
		missing = append(missing, "NOTARY_URL")
	}
	if c.NotaryBackend != BackendRemote && c.NotaryKeySeed == "" {
		missing = append(missing, "NOTARY_KEY_SEED")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateNotary checks the settings a standalone notary cannot run without.
func (c *Config) ValidateNotary() error {
	if c.NotaryBackend == BackendRemote {
		return errors.New("a standalone notary needs a local NOTARY_BACKEND")
	}
	if c.NotaryKeySeed == "" {
		return errors.New("missing required settings: NOTARY_KEY_SEED")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
