package notary

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mmynk/splitledger/internal/config"
)

// OpenBackend builds the local backend selected by cfg.NotaryBackend. The
// returned close function releases its connections.
func OpenBackend(ctx context.Context, cfg *config.Config) (Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.NotaryBackend {
	case config.BackendMemory:
		return NewMemoryBackend(), noop, nil

	case config.BackendSQLite:
		b, err := NewSQLiteBackend(cfg.NotaryDBPath)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisBackend(client, ""), client.Close, nil

	case config.BackendDynamoDB:
		client, err := NewDynamoClient(ctx, DynamoOptions{Region: cfg.AWSRegion, Endpoint: cfg.DynamoEndpoint})
		if err != nil {
			return nil, nil, err
		}
		return NewDynamoBackend(client, cfg.DynamoDBTable), noop, nil
	}

	return nil, nil, fmt.Errorf("backend %q is not a local notary backend", cfg.NotaryBackend)
}
