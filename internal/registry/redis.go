package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iago/storybook-back/internal/domain"
)

const maxWatchRetries = 64

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisRegistry stores each job as a JSON string with a TTL so several API
// processes can share status. Updates run under WATCH/MULTI.
type RedisRegistry struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

func NewRedisRegistry(ctx context.Context, cfg RedisConfig) (*RedisRegistry, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisRegistryWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

func NewRedisRegistryWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisRegistry {
	if keyPrefix == "" {
		keyPrefix = "storybook:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRegistry{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) Create(ctx context.Context, job domain.Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	created, err := r.client.SetNX(ctx, r.key(job.ID), encoded, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

func (r *RedisRegistry) Update(ctx context.Context, id string, update domain.JobUpdate) (domain.Job, error) {
	key := r.key(id)
	var merged domain.Job
	var applyErr error

	txn := func(tx *redis.Tx) error {
		job, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if applyErr = job.Apply(update, r.now()); applyErr != nil {
			merged = job
			return nil
		}
		encoded, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, redis.KeepTTL)
			return nil
		})
		if err == nil {
			merged = job
		}
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := r.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.Job{}, err
		}
		if applyErr != nil {
			return merged, applyErr
		}
		return merged, nil
	}
	return domain.Job{}, fmt.Errorf("update job %s: too much contention", id)
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (domain.Job, error) {
	return r.load(ctx, r.client, r.key(id))
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisRegistry) load(ctx context.Context, client stringGetter, key string) (domain.Job, error) {
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, ErrNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("load job: %w", err)
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (r *RedisRegistry) key(id string) string {
	return r.keyPrefix + "job:" + id
}

var _ Registry = (*RedisRegistry)(nil)
