package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/campus-leave-api/pkg/config"
)

// NewRedis returns a configured Redis client. The profile cache is advisory, so
// callers may continue without it when this returns an error.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// ProfileKey is the cache key for a student's profile.
func ProfileKey(studentID string) string {
	return "profile:student:" + studentID
}

// RoleRecipientsKey is the cache key for the mailboxes notified at an approval level.
func RoleRecipientsKey(role string) string {
	return "recipients:role:" + role
}
