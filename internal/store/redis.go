package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/logger"
	goredis "github.com/redis/go-redis/v9"

	"raffle/internal/apperr"
	"raffle/internal/models"
)

const scanBatchSize = 100

// RedisStore keeps profiles as JSON strings under a key prefix, without expiry.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
	addr   string
}

// NewRedisStore connects to redisURL and verifies the connection with PING.
func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apperr.NewStoreError("failed to connect to Redis", "ping", "", err)
	}

	logger.Infof("Redis connected: addr=%s db=%d prefix=%q", opts.Addr, opts.DB, prefix)

	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		addr:   opts.Addr,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*models.Profile, bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		logger.Errorf("Cache get failed: key=%s err=%v", key, err)
		return nil, false, apperr.NewStoreError("get failed", "get", key, err)
	}

	var profile models.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		logger.Errorf("Cache unmarshal failed: key=%s err=%v", key, err)
		return nil, false, apperr.NewStoreError("unmarshal failed", "get", key, err)
	}
	return &profile, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, profile *models.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return apperr.NewStoreError("marshal failed", "set", key, err)
	}

	if err := s.rdb.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		logger.Errorf("Cache set failed: key=%s err=%v", key, err)
		return apperr.NewStoreError("set failed", "set", key, err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	raw, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, s.prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	raw, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(raw), nil
}

// PurgeAll deletes only keys under the store prefix, leaving the rest of the
// database untouched.
func (s *RedisStore) PurgeAll(ctx context.Context) (int, error) {
	raw, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for start := 0; start < len(raw); start += scanBatchSize {
		end := min(start+scanBatchSize, len(raw))
		n, err := s.rdb.Del(ctx, raw[start:end]...).Result()
		if err != nil {
			logger.Errorf("Cache purge failed after %d deletions: %v", removed, err)
			return removed, apperr.NewStoreError("delete failed", "del", fmt.Sprintf("%d keys", end-start), err)
		}
		removed += int(n)
	}
	return removed, nil
}

func (s *RedisStore) Describe() string {
	return fmt.Sprintf("redis://%s (prefix %q)", s.addr, s.prefix)
}

func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		logger.Errorf("Failed to close Redis connection: %v", err)
		return err
	}
	logger.Info("Redis disconnected")
	return nil
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, s.prefix+"*", scanBatchSize).Result()
		if err != nil {
			logger.Errorf("Cache scan failed: prefix=%s err=%v", s.prefix, err)
			return nil, apperr.NewStoreError("scan failed", "scan", s.prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	// SCAN may return a key more than once.
	seen := make(map[string]struct{}, len(keys))
	unique := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}
	return unique, nil
}
