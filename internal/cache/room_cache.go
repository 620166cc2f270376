package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"coderoom/internal/models"
)

// ErrCacheMiss 表示快取中沒有該房間的狀態，永遠不是致命錯誤
var ErrCacheMiss = errors.New("cache miss")

// RoomCache 定義房間狀態的快取層介面
// 快取僅是讀取加速，任何失敗都不得影響正確性
type RoomCache interface {
	Get(ctx context.Context, roomID uint) (*models.RoomState, error)
	Set(ctx context.Context, state *models.RoomState) error
	Delete(ctx context.Context, roomID uint) error
}

// RedisRoomCache 是 RoomCache 的 Redis 實作
type RedisRoomCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisRoomCache(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisRoomCache {
	if keyPrefix == "" {
		keyPrefix = "cr:" // 預設前綴 "cr:" (coderoom)
	}
	return &RedisRoomCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (c *RedisRoomCache) roomStateKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:state", c.keyPrefix, roomID)
}

// Get 讀取序列化的房間狀態；不存在時回傳 ErrCacheMiss
func (c *RedisRoomCache) Get(ctx context.Context, roomID uint) (*models.RoomState, error) {
	key := c.roomStateKey(roomID)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis: failed to get room state for room %d from %s: %w", roomID, key, err)
	}

	var state models.RoomState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal room state for room %d: %w", roomID, err)
	}
	return &state, nil
}

// Set 以設定的 TTL 寫入序列化的房間狀態
func (c *RedisRoomCache) Set(ctx context.Context, state *models.RoomState) error {
	key := c.roomStateKey(state.RoomID)
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal room state for room %d: %w", state.RoomID, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set room state for room %d on %s: %w", state.RoomID, key, err)
	}
	return nil
}

func (c *RedisRoomCache) Delete(ctx context.Context, roomID uint) error {
	key := c.roomStateKey(roomID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete room state for room %d on %s: %w", roomID, key, err)
	}
	return nil
}
