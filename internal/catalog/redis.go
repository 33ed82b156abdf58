package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis layout:
//
//	<prefix>asset:<id>        JSON encoded Asset
//	<prefix>folder:<folder>   sorted set of ids scored by creation time
//	<prefix>all               sorted set of every id
type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a redis-backed store.
func NewRedis(ctx context.Context, cfg RedisConfig) (Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "image-uploader:"
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (s *redisStore) assetKey(id string) string {
	return s.prefix + "asset:" + id
}

func (s *redisStore) folderKey(folder string) string {
	return s.prefix + "folder:" + folder
}

func (s *redisStore) allKey() string {
	return s.prefix + "all"
}

func (s *redisStore) Save(ctx context.Context, asset Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	score := float64(asset.CreatedAt.UnixNano())
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.assetKey(asset.ID), data, 0)
		p.ZAdd(ctx, s.folderKey(asset.Folder), redis.Z{Score: score, Member: asset.ID})
		p.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: asset.ID})
		return nil
	})
	return err
}

func (s *redisStore) Get(ctx context.Context, id string) (Asset, error) {
	raw, err := s.client.Get(ctx, s.assetKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Asset{}, err
	}
	var a Asset
	if err := json.Unmarshal(raw, &a); err != nil {
		return Asset{}, err
	}
	return a, nil
}

func (s *redisStore) List(ctx context.Context, folder string) ([]Asset, error) {
	index := s.allKey()
	if folder != "" {
		index = s.folderKey(folder)
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Asset{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.assetKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Asset, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var a Asset
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *redisStore) Remove(ctx context.Context, id string) error {
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.assetKey(id))
		p.ZRem(ctx, s.folderKey(a.Folder), id)
		p.ZRem(ctx, s.allKey(), id)
		return nil
	})
	return err
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
