package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 7 * 24 * time.Hour

// Cache stores provider embeddings so repeated text does not hit the provider.
type Cache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool)
	Set(ctx context.Context, model, text string, vec []float32)
}

// RedisCache keeps embeddings in Redis as packed little-endian float32s.
// Errors are swallowed; a cache miss only costs a provider call.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache returns nil when client is nil so callers can pass the result
// straight into NewGenerator.
func NewRedisCache(client *redis.Client) Cache {
	if client == nil {
		return nil
	}
	return &RedisCache{client: client, ttl: cacheTTL}
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedding:%s:%s", model, hex.EncodeToString(sum[:]))
}

func (c *RedisCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, cacheKey(model, text)).Bytes()
	if err != nil {
		return nil, false
	}
	vec, ok := decodeVector(raw)
	return vec, ok
}

func (c *RedisCache) Set(ctx context.Context, model, text string, vec []float32) {
	_ = c.client.Set(ctx, cacheKey(model, text), encodeVector(vec), c.ttl).Err()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, true
}
