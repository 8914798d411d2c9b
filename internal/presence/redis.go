package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	connCountKeyPrefix = "presence:conns:"
	onlineSetKey       = "presence:online"
)

// RedisSet keeps per-user connection counts and the online set in redis so
// presence reads are correct from any process.
type RedisSet struct {
	client *redis.Client
}

// NewRedis wraps an established redis client.
func NewRedis(client *redis.Client) *RedisSet {
	return &RedisSet{client: client}
}

func (s *RedisSet) Connect(ctx context.Context, userID string) (bool, error) {
	var count *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, connCountKeyPrefix+userID)
		pipe.SAdd(ctx, onlineSetKey, userID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("presence connect: %w", err)
	}
	return count.Val() == 1, nil
}

func (s *RedisSet) Disconnect(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Decr(ctx, connCountKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("presence disconnect: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	// Last connection anywhere is gone. Clean both keys; a negative counter
	// from a duplicate disconnect collapses to the same deletion.
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, connCountKeyPrefix+userID)
		pipe.SRem(ctx, onlineSetKey, userID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("presence disconnect cleanup: %w", err)
	}
	return n == 0, nil
}

func (s *RedisSet) IsOnline(ctx context.Context, userID string) (bool, error) {
	online, err := s.client.SIsMember(ctx, onlineSetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return online, nil
}
