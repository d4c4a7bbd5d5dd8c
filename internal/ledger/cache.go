package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// CachedClient decorates a Client with a short-TTL Redis cache for
// institution-details lookups, which the auth middleware hits on every
// privileged request. Only display data is cached: certificate verification
// and all writes pass straight through so the validity flag is never served
// from cache.
type CachedClient struct {
	Client
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedClient(inner Client, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedClient {
	return &CachedClient{Client: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func institutionKey(addr common.Address) string {
	return "ledger:institution:" + addr.Hex()
}

func (c *CachedClient) InstitutionDetails(ctx context.Context, addr common.Address) (*Institution, error) {
	key := institutionKey(addr)
	if payload, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var inst Institution
		if err := json.Unmarshal(payload, &inst); err == nil {
			return &inst, nil
		}
	}

	inst, err := c.Client.InstitutionDetails(ctx, addr)
	if err != nil {
		return nil, err
	}
	// Unregistered addresses are not cached: the next request after a
	// registration must see it.
	if inst.Registered {
		if payload, err := json.Marshal(inst); err == nil {
			if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil && c.logger != nil {
				c.logger.WarnContext(ctx, "failed to cache institution details", "address", addr.Hex(), "error", err)
			}
		}
	}
	return inst, nil
}

// RegisterInstitution invalidates the (negative-lookup-free) cache entry so a
// re-registration attempt observes fresh ledger state.
func (c *CachedClient) RegisterInstitution(ctx context.Context, caller common.Address, name, email string) (*TxReceipt, error) {
	receipt, err := c.Client.RegisterInstitution(ctx, caller, name, email)
	if err == nil {
		if delErr := c.rdb.Del(ctx, institutionKey(caller)).Err(); delErr != nil && c.logger != nil {
			c.logger.WarnContext(ctx, "failed to invalidate institution cache", "address", caller.Hex(), "error", delErr)
		}
	}
	return receipt, err
}

var _ Client = (*CachedClient)(nil)
