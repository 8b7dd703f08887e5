package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"concert-tickets/internal/logger"
	"concert-tickets/internal/models"
)

const categoriesKey = "catalog:categories"

// Cache keeps the storefront category snapshot in Redis. The storefront
// polls the listing on every page view; a short TTL keeps the load off
// Postgres without letting availability numbers go meaningfully stale.
type Cache struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{Client: client, TTL: ttl, Logger: log}
}

func (c *Cache) GetCategories(ctx context.Context) ([]models.CategoryView, bool) {
	raw, err := c.Client.Get(ctx, categoriesKey).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.Logger.Warn("CACHE", fmt.Sprintf("Failed to read category snapshot: %v", err))
		return nil, false
	}

	var views []models.CategoryView
	if err := json.Unmarshal([]byte(raw), &views); err != nil {
		c.Logger.Warn("CACHE", fmt.Sprintf("Corrupt category snapshot, dropping it: %v", err))
		c.InvalidateCategories(ctx)
		return nil, false
	}
	return views, true
}

func (c *Cache) SetCategories(ctx context.Context, views []models.CategoryView) {
	raw, err := json.Marshal(views)
	if err != nil {
		c.Logger.Warn("CACHE", fmt.Sprintf("Failed to marshal category snapshot: %v", err))
		return
	}
	if err := c.Client.Set(ctx, categoriesKey, raw, c.TTL).Err(); err != nil {
		c.Logger.Warn("CACHE", fmt.Sprintf("Failed to store category snapshot: %v", err))
	}
}

func (c *Cache) InvalidateCategories(ctx context.Context) {
	if err := c.Client.Del(ctx, categoriesKey).Err(); err != nil {
		c.Logger.Warn("CACHE", fmt.Sprintf("Failed to invalidate category snapshot: %v", err))
	}
}
