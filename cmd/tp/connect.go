package main

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/throughput/internal/config"
	"github.com/zulandar/throughput/internal/db"
	"github.com/zulandar/throughput/internal/propagate"
	"github.com/zulandar/throughput/internal/query"
	"github.com/zulandar/throughput/internal/schedule"
	"github.com/zulandar/throughput/internal/sequence"
	"gorm.io/gorm"
)

const defaultConfigPath = "throughput.yaml"

// connectFromConfig loads the config file and opens its database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newAllocator returns the configured sequence allocator. A Redis counter is
// raised to at least the highest sequence already stored, so switching
// backends never hands out a number that is in use.
func newAllocator(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (sequence.Allocator, io.Closer, error) {
	switch cfg.Sequence.Backend {
	case "redis":
		alloc, err := sequence.NewRedis(&redis.Options{Addr: cfg.Sequence.RedisAddr}, cfg.Sequence.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		highest, err := query.MaxWhere[int64](gormDB, "schedule_records", "sequence")
		if err != nil {
			alloc.Close()
			return nil, nil, fmt.Errorf("highest sequence: %w", err)
		}
		if highest != nil {
			if _, err := alloc.EnsureFloor(ctx, *highest); err != nil {
				alloc.Close()
				return nil, nil, err
			}
		}
		return alloc, alloc, nil
	default:
		alloc, err := sequence.NewDB(gormDB, cfg.Sequence.Name)
		if err != nil {
			return nil, nil, err
		}
		return alloc, nopCloser{}, nil
	}
}

// newController builds a scheduling controller from config. Routes, when
// configured, drive downstream propagation.
func newController(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (*schedule.Controller, io.Closer, error) {
	seq, closer, err := newAllocator(ctx, cfg, gormDB)
	if err != nil {
		return nil, nil, err
	}
	opts := schedule.Options{
		MaxChainDepth:       cfg.Engine.MaxChainDepth,
		CommitRetries:       cfg.Engine.CommitRetries,
		MaxPropagationDepth: cfg.Engine.MaxPropagationDepth,
	}
	if len(cfg.Routes) > 0 {
		opts.Deriver = propagate.New(gormDB, cfg.Routes)
	}
	return schedule.New(gormDB, seq, opts), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
