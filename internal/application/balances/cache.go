package balances

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds derived balances keyed by beneficiary id. It is an optimization only: every
// ledger or claim write invalidates the affected ids, and payouts never read from it.
//
// Invalidate bumps a per-beneficiary generation. Set stores a balance only while the
// generation read before computing it is still current, so a balance computed before a
// ledger write can never overwrite the cache after that write's invalidation.
type Cache interface {
	Get(ctx context.Context, beneficiaryID string) (*Balance, bool, error)
	Generation(ctx context.Context, beneficiaryID string) (int64, error)
	Set(ctx context.Context, b *Balance, generation int64) error
	Invalidate(ctx context.Context, beneficiaryIDs ...string) error
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*Balance, bool, error) { return nil, false, nil }
func (NopCache) Generation(context.Context, string) (int64, error)   { return 0, nil }
func (NopCache) Set(context.Context, *Balance, int64) error          { return nil }
func (NopCache) Invalidate(context.Context, ...string) error         { return nil }

const (
	balanceKeyPrefix    = "balance:"
	generationKeyPrefix = "balance:gen:"
)

// RedisCache stores balances as JSON under balance:<beneficiary_id> and the generation
// counter under balance:gen:<beneficiary_id>.
type RedisCache struct {
	Rdb *redis.Client
	TTL time.Duration
}

func (c *RedisCache) Get(ctx context.Context, beneficiaryID string) (*Balance, bool, error) {
	b, err := c.Rdb.Get(ctx, balanceKeyPrefix+beneficiaryID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out Balance
	if err := json.Unmarshal(b, &out); err != nil {
		// unreadable entry; treat as a miss so it gets recomputed
		return nil, false, nil
	}
	return &out, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, beneficiaryID string) (int64, error) {
	return readGeneration(ctx, c.Rdb, beneficiaryID)
}

type generationReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, r generationReader, beneficiaryID string) (int64, error) {
	gen, err := r.Get(ctx, generationKeyPrefix+beneficiaryID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Set writes b under WATCH of the generation key. A stale generation, or one bumped while
// the write is in progress, leaves the cache untouched.
func (c *RedisCache) Set(ctx context.Context, b *Balance, generation int64) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	genKey := generationKeyPrefix + b.BeneficiaryID
	err = c.Rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readGeneration(ctx, tx, b.BeneficiaryID)
		if err != nil {
			return err
		}
		if cur != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, balanceKeyPrefix+b.BeneficiaryID, data, c.TTL)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context, beneficiaryIDs ...string) error {
	if len(beneficiaryIDs) == 0 {
		return nil
	}
	_, err := c.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range beneficiaryIDs {
			pipe.Incr(ctx, generationKeyPrefix+id)
			pipe.Del(ctx, balanceKeyPrefix+id)
		}
		return nil
	})
	return err
}
