package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/infra"
)

// CancelRegistry - кооперативная отмена сессий.
// Локальная мапа отвечает на IsCancelled без сети; Redis set переживает рестарт,
// а pub/sub разносит отмену по остальным инстансам.
type CancelRegistry struct {
	mu        sync.RWMutex
	cancelled map[string]struct{}
	rdb       *redis.Client // nil - только локальная отмена
	logger    *zap.Logger
}

func NewCancelRegistry(rdb *redis.Client, logger *zap.Logger) *CancelRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CancelRegistry{
		cancelled: make(map[string]struct{}),
		rdb:       rdb,
		logger:    logger.With(zap.String("mod", "cancel_registry")),
	}
}

// Init загружает отмененные сессии при старте и при каждом переподключении
func (c *CancelRegistry) Init(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	ids, err := c.rdb.SMembers(ctx, infra.RedisKeyCancelledSessions).Result()
	if err != nil {
		return fmt.Errorf("load cancelled sessions: %w", err)
	}
	c.mu.Lock()
	for _, id := range ids {
		c.cancelled[id] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// Cancel помечает сессию отмененной локально и в Redis
func (c *CancelRegistry) Cancel(ctx context.Context, id string) error {
	c.mark(id, true)
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.SAdd(ctx, infra.RedisKeyCancelledSessions, id).Err(); err != nil {
		return fmt.Errorf("persist cancel: %w", err)
	}
	if err := c.rdb.Publish(ctx, infra.RedisChanSessionCancel, id+":on").Err(); err != nil {
		// Set уже записан, остальные инстансы подхватят его при переподключении
		c.logger.Warn("cancel signal not published", zap.String("session_id", id), zap.Error(err))
	}
	return nil
}

// Forget убирает отметку, когда сессия стала терминальной
func (c *CancelRegistry) Forget(ctx context.Context, id string) {
	c.mark(id, false)
	if c.rdb == nil {
		return
	}
	if err := c.rdb.SRem(ctx, infra.RedisKeyCancelledSessions, id).Err(); err != nil {
		c.logger.Warn("failed to clear cancel mark", zap.String("session_id", id), zap.Error(err))
	}
}

func (c *CancelRegistry) IsCancelled(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.cancelled[id]
	return ok
}

func (c *CancelRegistry) mark(id string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.cancelled[id] = struct{}{}
	} else {
		delete(c.cancelled, id)
	}
}

// StartListener слушает сигналы отмены других инстансов. Блокирует до отмены контекста.
func (c *CancelRegistry) StartListener(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	c.logger.Info("cancel listener started")
	infra.ListenStateResilient(ctx, c.rdb, c.logger, infra.RedisChanSessionCancel,
		func() error { return c.Init(ctx) },
		func(id string, on bool) {
			c.logger.Info("cancel signal received", zap.String("session_id", id), zap.Bool("on", on))
			c.mark(id, on)
		})
	c.logger.Info("cancel listener stopped")
}
