package notary

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mmynk/splitledger/internal/ledger"
)

const defaultRedisPrefix = "splitledger:consumed:"

// commitScript sets every key to ARGV[1] unless one of them is already owned
// by another transaction, in which case it returns the conflicting keys.
var commitScript = redis.NewScript(`
local conflicts = {}
for _, key in ipairs(KEYS) do
  local owner = redis.call('GET', key)
  if owner and owner ~= ARGV[1] then
    table.insert(conflicts, key)
  end
end
if #conflicts > 0 then
  return conflicts
end
for _, key in ipairs(KEYS) do
  redis.call('SET', key, ARGV[1])
end
return conflicts
`)

// RedisBackend keeps consumed refs in Redis. Atomicity comes from running the
// check-and-set as a single script.
type RedisBackend struct {
	client redis.Scripter
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend creates a backend on client. An empty prefix selects the
// default key prefix.
func NewRedisBackend(client redis.Scripter, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(r ledger.StateRef) string {
	return fmt.Sprintf("%s%s:%d", b.prefix, r.TxID, r.Index)
}

// Commit implements Backend.
func (b *RedisBackend) Commit(ctx context.Context, txID string, refs []ledger.StateRef) error {
	if len(refs) == 0 {
		return nil
	}

	keys := make([]string, len(refs))
	byKey := make(map[string]ledger.StateRef, len(refs))
	for i, r := range refs {
		keys[i] = b.key(r)
		byKey[keys[i]] = r
	}

	conflicting, err := commitScript.Run(ctx, b.client, keys, txID).StringSlice()
	if err != nil {
		return fmt.Errorf("failed to run commit script: %w", err)
	}
	if len(conflicting) == 0 {
		return nil
	}

	conflicts := make([]ledger.StateRef, 0, len(conflicting))
	for _, k := range conflicting {
		conflicts = append(conflicts, byKey[k])
	}
	return &ConflictError{TxID: txID, Refs: conflicts}
}
