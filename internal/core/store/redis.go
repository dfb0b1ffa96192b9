package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/threadgate/threadgate/internal/config"
)

const defaultRedisTimeout = 5 * time.Second

// OpenRedis connects to the Redis deployment described by cfg and pings it.
// A URL selects a single node; otherwise Addrs and MasterName select
// standalone, sentinel or cluster mode.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (goredis.UniversalClient, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}

	var client goredis.UniversalClient
	if url := strings.TrimSpace(cfg.URL); url != "" {
		opts, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if opts.DialTimeout == 0 {
			opts.DialTimeout = timeout
		}
		if opts.ReadTimeout == 0 {
			opts.ReadTimeout = timeout
		}
		if opts.WriteTimeout == 0 {
			opts.WriteTimeout = timeout
		}
		client = goredis.NewClient(opts)
	} else {
		if len(cfg.Addrs) == 0 {
			return nil, errors.New("redis url or addrs is required")
		}
		client = goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:        cfg.Addrs,
			MasterName:   cfg.MasterName,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
