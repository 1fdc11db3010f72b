// Package redis keeps session document contexts in Redis so several
// instances can share sessions.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/docchat/internal/core/domain"
)

const (
	DefaultTTL    = 24 * time.Hour
	defaultPrefix = "docchat:session:"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Open connects and pings the server.
func Open(ctx context.Context, opts Options) (*Store, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewWithClient(client, opts.TTL, opts.Prefix), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration, prefix string) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, ttl: ttl, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID + ":document"
}

func (s *Store) LoadDocument(ctx context.Context, sessionID string) (string, bool, error) {
	if sessionID == "" {
		return "", false, domain.ErrMissingSessionID
	}
	key := s.key(sessionID)
	text, err := s.client.GetEx(ctx, key, s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return text, true, nil
}

func (s *Store) SaveDocument(ctx context.Context, sessionID, text string) error {
	if sessionID == "" {
		return domain.ErrMissingSessionID
	}
	if err := s.client.Set(ctx, s.key(sessionID), text, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session document: %w", err)
	}
	return nil
}

// Touch extends the document TTL. Sessions without a document have no key.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.ErrMissingSessionID
	}
	if err := s.client.Expire(ctx, s.key(sessionID), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis expire session document: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del session document: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
