package preference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// KV は並び順設定を保存する永続キーバリューストア。
type KV interface {
	// Get はキーの値を返す。存在しない場合はokがfalse。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// RedisKV はデバイスごとの名前空間でRedisに保存するKV。
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV はdeviceIDの名前空間（todoman:pref:<device>:）を持つRedisKVを生成する。
func NewRedisKV(client *redis.Client, deviceID string) *RedisKV {
	return &RedisKV{
		client: client,
		prefix: fmt.Sprintf("todoman:pref:%s:", deviceID),
	}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return v, true, nil
}

// Set は有効期限なしで保存する。
func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

// MemoryKV はプロセス内のみで保持するKV。Redisを使わないテストや開発用。
type MemoryKV struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryKV は空のMemoryKVを生成する。
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
