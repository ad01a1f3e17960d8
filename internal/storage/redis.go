package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	groupsKey     = "prayerbot:groups"
	maxTxAttempts = 16
)

// RedisStorage keeps groups as JSON values in a single Redis hash keyed by
// group id.
type RedisStorage struct {
	rdb *redis.Client
	key string
	now func() time.Time
}

func NewRedis(rdb *redis.Client) *RedisStorage {
	return &RedisStorage{rdb: rdb, key: groupsKey, now: time.Now}
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, addr, username, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: ping redis: %v", ErrStoreUnavailable, err)
	}
	return rdb, nil
}

func (s *RedisStorage) ListGroups(ctx context.Context) ([]Group, error) {
	values, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list groups: %v", ErrStoreUnavailable, err)
	}
	groups := make([]Group, 0, len(values))
	for id, raw := range values {
		var g Group
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("%w: decode group %s: %v", ErrStoreUnavailable, id, err)
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (s *RedisStorage) GetGroup(ctx context.Context, id string) (*Group, error) {
	raw, err := s.rdb.HGet(ctx, s.key, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: group %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get group: %v", ErrStoreUnavailable, err)
	}
	var g Group
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("%w: decode group %s: %v", ErrStoreUnavailable, id, err)
	}
	return &g, nil
}

// UpsertGroup writes g, keeping the stored CreatedAt. The read and write run
// under WATCH so a concurrent upsert of the same hash retries instead of
// overwriting.
func (s *RedisStorage) UpsertGroup(ctx context.Context, g Group) (*Group, error) {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			now := s.now().UTC()
			g.CreatedAt = now
			raw, err := tx.HGet(ctx, s.key, g.ID).Result()
			switch {
			case err == nil:
				var existing Group
				if err := json.Unmarshal([]byte(raw), &existing); err != nil {
					return fmt.Errorf("%w: decode group %s: %v", ErrStoreUnavailable, g.ID, err)
				}
				g.CreatedAt = existing.CreatedAt
			case !errors.Is(err, redis.Nil):
				return fmt.Errorf("%w: get group: %v", ErrStoreUnavailable, err)
			}
			g.UpdatedAt = now

			encoded, err := json.Marshal(g)
			if err != nil {
				return fmt.Errorf("encode group %s: %w", g.ID, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, s.key, g.ID, encoded)
				return nil
			})
			return err
		}, s.key)

		switch {
		case err == nil:
			return &g, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrStoreUnavailable):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: upsert group: %v", ErrStoreUnavailable, err)
		}
	}
	return nil, fmt.Errorf("%w: upsert group %s: too much contention", ErrStoreUnavailable, g.ID)
}

func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}
