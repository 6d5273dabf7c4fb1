package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/model"
)

// SeenSet remembers raw messages already stored so repeated fetches of the
// same window skip cleaning. The store's natural key stays authoritative.
type SeenSet interface {
	Seen(ctx context.Context, keys ...string) ([]bool, error)
	Mark(ctx context.Context, keys ...string) error
}

// MessageKey identifies a raw message by its subject, body and received day.
func MessageKey(msg model.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(msg.Subject))
	h.Write([]byte{0})
	h.Write([]byte(msg.Body))
	h.Write([]byte{0})
	h.Write([]byte(msg.HTMLBody))
	h.Write([]byte{0})
	h.Write([]byte(msg.ReceivedAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}

type RedisSeen struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSeen(client *redis.Client, ttl time.Duration) *RedisSeen {
	return &RedisSeen{client: client, prefix: "mailsift:seen:", ttl: ttl}
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (s *RedisSeen) Seen(ctx context.Context, keys ...string) ([]bool, error) {
	out := make([]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Exists(ctx, s.prefix+k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to query seen set: %w", err)
	}
	for i, cmd := range cmds {
		out[i] = cmd.Val() > 0
	}
	return out, nil
}

func (s *RedisSeen) Mark(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.SetNX(ctx, s.prefix+k, 1, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update seen set: %w", err)
	}
	return nil
}
