package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared-cache backend for deployments where several engine
// processes should reuse each other's pure/read-only results. Values are
// stored as JSON; a zero ttl stores without expiration.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(addr string) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: addr}))
}

func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "toolplan:result:"}
}

func (r *Redis) redisKey(tool, key string) string {
	return r.prefix + tool + ":" + key
}

// Get treats any backend or decode error as a miss: the cache is an
// optimization, never a correctness dependency.
func (r *Redis) Get(tool, key string) (any, bool) {
	data, err := r.client.Get(context.Background(), r.redisKey(tool, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache: redis get %s: %v", tool, err)
		}
		return nil, false
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		log.Printf("cache: redis decode %s: %v", tool, err)
		return nil, false
	}
	return value, true
}

func (r *Redis) Put(tool, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("cache: redis encode %s: %v", tool, err)
		return
	}
	if err := r.client.Set(context.Background(), r.redisKey(tool, key), data, ttl).Err(); err != nil {
		log.Printf("cache: redis set %s: %v", tool, err)
	}
}

// Close releases the underlying client connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
