package media

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
)

// PlaylistCacheConfig configures the Redis-backed playlist cache. The cache
// is an optional read-side accelerator; the datastore stays authoritative.
type PlaylistCacheConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	TTL      time.Duration
	Logger   *slog.Logger
}

type PlaylistCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

const defaultPlaylistCacheTTL = 15 * time.Second

// NewPlaylistCache returns nil when no address is configured so callers can
// treat the cache as absent.
func NewPlaylistCache(cfg PlaylistCacheConfig) *PlaylistCache {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultPlaylistCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Username:   strings.TrimSpace(cfg.Username),
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 2,
	})
	return &PlaylistCache{client: client, ttl: ttl, logger: logger}
}

func (c *PlaylistCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *PlaylistCache) Get(ctx context.Context, groupIDs []string) ([]models.Media, bool) {
	if c == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, playlistCacheKey(groupIDs)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("playlist cache read failed", "error", err)
		}
		return nil, false
	}
	var media []models.Media
	if err := json.Unmarshal(payload, &media); err != nil {
		c.logger.Warn("playlist cache decode failed", "error", err)
		return nil, false
	}
	return media, true
}

func (c *PlaylistCache) Set(ctx context.Context, groupIDs []string, media []models.Media) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(media)
	if err != nil {
		c.logger.Warn("playlist cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, playlistCacheKey(groupIDs), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("playlist cache write failed", "error", err)
	}
}

// Invalidate drops every cached projection that includes one of the affected
// groups. Keys embed the sorted group ids, so a pattern scan per group finds
// all group-set keys it participates in.
func (c *PlaylistCache) Invalidate(ctx context.Context, groupIDs []string) {
	if c == nil || len(groupIDs) == 0 {
		return
	}
	for _, groupID := range groupIDs {
		trimmed := strings.TrimSpace(groupID)
		if trimmed == "" {
			continue
		}
		pattern := "playlist:*" + trimmed + "*"
		iter := c.client.Scan(ctx, 0, pattern, 64).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				c.logger.Warn("playlist cache invalidate failed", "key", iter.Val(), "error", err)
			}
		}
		if err := iter.Err(); err != nil {
			c.logger.Warn("playlist cache scan failed", "error", err)
		}
	}
}

func playlistCacheKey(groupIDs []string) string {
	ids := make([]string, 0, len(groupIDs))
	for _, groupID := range groupIDs {
		if trimmed := strings.TrimSpace(groupID); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	sort.Strings(ids)
	return "playlist:" + strings.Join(ids, ",")
}
