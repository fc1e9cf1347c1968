// Package sequence allocates the global, strictly increasing sequence numbers
// that order every schedule record across all chains. Numbers are never
// handed out twice, so a rolled-back allocation leaves a gap rather than
// being reused.
package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/throughput/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Allocator hands out sequence numbers.
type Allocator interface {
	Next(ctx context.Context) (int64, error)
	Current(ctx context.Context) (int64, error)
}

// DBAllocator keeps the counter in a row of the sequences table. The
// increment and read-back share one transaction, so the row lock serializes
// concurrent allocators.
type DBAllocator struct {
	db   *gorm.DB
	name string
}

// NewDB returns an allocator backed by the named sequences row.
func NewDB(db *gorm.DB, name string) (*DBAllocator, error) {
	if name == "" {
		return nil, fmt.Errorf("sequence: name is required")
	}
	return &DBAllocator{db: db, name: name}, nil
}

// Next increments the counter and returns the new value.
func (a *DBAllocator) Next(ctx context.Context) (int64, error) {
	var seq models.Sequence
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Sequence{Name: a.name}).Error; err != nil {
			return fmt.Errorf("ensure row: %w", err)
		}
		if err := tx.Model(&models.Sequence{}).Where("name = ?", a.name).
			Update("value", gorm.Expr("value + ?", 1)).Error; err != nil {
			return fmt.Errorf("increment: %w", err)
		}
		return tx.Where("name = ?", a.name).First(&seq).Error
	})
	if err != nil {
		return 0, fmt.Errorf("sequence: next %s: %w", a.name, err)
	}
	return seq.Value, nil
}

// Current returns the last allocated value, 0 if none.
func (a *DBAllocator) Current(ctx context.Context) (int64, error) {
	var seq models.Sequence
	result := a.db.WithContext(ctx).Where("name = ?", a.name).Limit(1).Find(&seq)
	if result.Error != nil {
		return 0, fmt.Errorf("sequence: current %s: %w", a.name, result.Error)
	}
	return seq.Value, nil
}

// RedisAllocator keeps the counter in a Redis key updated with INCR, for
// deployments where several schedulers share one sequence.
type RedisAllocator struct {
	rdb *redis.Client
	key string
}

// NewRedis creates a Redis-backed allocator using key.
func NewRedis(opts *redis.Options, key string) (*RedisAllocator, error) {
	if key == "" {
		return nil, fmt.Errorf("sequence: redis key is required")
	}
	return &RedisAllocator{rdb: redis.NewClient(opts), key: key}, nil
}

// Close closes the Redis connection.
func (a *RedisAllocator) Close() error {
	return a.rdb.Close()
}

// Next increments the counter and returns the new value.
func (a *RedisAllocator) Next(ctx context.Context) (int64, error) {
	v, err := a.rdb.Incr(ctx, a.key).Result()
	if err != nil {
		return 0, fmt.Errorf("sequence: incr %s: %w", a.key, err)
	}
	return v, nil
}

// Current returns the last allocated value, 0 if the key does not exist.
func (a *RedisAllocator) Current(ctx context.Context) (int64, error) {
	v, err := a.rdb.Get(ctx, a.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sequence: get %s: %w", a.key, err)
	}
	return v, nil
}

var raiseFloor = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if cur < floor then
  redis.call('SET', KEYS[1], floor)
  return floor
end
return cur
`)

// EnsureFloor raises the counter to at least floor. It is used when the
// counter moves to Redis from a store that already holds sequenced records.
func (a *RedisAllocator) EnsureFloor(ctx context.Context, floor int64) (int64, error) {
	v, err := raiseFloor.Run(ctx, a.rdb, []string{a.key}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("sequence: raise floor of %s to %d: %w", a.key, floor, err)
	}
	return v, nil
}
