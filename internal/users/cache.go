package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/models"
)

const userKeyPrefix = "user:"

// MaxTTL bounds how long a deactivation can go unnoticed by the handshake.
const MaxTTL = time.Minute

// CachedDirectory keeps active users in Redis for at most MaxTTL so every
// websocket handshake does not hit the database. Inactive users are never
// cached. Redis failures fall through to the underlying directory.
type CachedDirectory struct {
	Next   Directory
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedDirectory {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &CachedDirectory{Next: next, Client: client, TTL: ttl, Logger: log}
}

func (c *CachedDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	key := userKeyPrefix + id

	cached, err := c.Client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var user models.User
		if jsonErr := json.Unmarshal([]byte(cached), &user); jsonErr == nil {
			return &user, nil
		}
		c.Logger.Warn("CACHE", fmt.Sprintf("drop unreadable cache entry %s", key))
	case !errors.Is(err, redis.Nil):
		c.Logger.Warn("CACHE", fmt.Sprintf("failed to get %s from Redis: %v", key, err))
	}

	user, err := c.Next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !user.Active {
		return user, nil
	}
	if raw, err := json.Marshal(user); err == nil {
		if err := c.Client.Set(ctx, key, raw, c.TTL).Err(); err != nil {
			c.Logger.Warn("CACHE", fmt.Sprintf("failed to store %s in Redis: %v", key, err))
		}
	}
	return user, nil
}
