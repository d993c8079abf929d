package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jimlawless/whereami"
	"github.com/lumora-tech/visibility-engine/internal/cfg"
	"github.com/lumora-tech/visibility-engine/internal/usecase"
	"github.com/lumora-tech/visibility-engine/pkg/clients"
	"github.com/lumora-tech/visibility-engine/pkg/e"
	"github.com/lumora-tech/visibility-engine/pkg/logger"
)

// CacheRepo держит в Redis вердикты видимости для витрины (write-through).
// Ошибки кэша не фатальны: источником истины остаётся PostgreSQL.
type CacheRepo struct {
	client *clients.RedisClient
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewCacheRepo(client *clients.RedisClient, cfg *cfg.RedisCfg, logger logger.Logger) *CacheRepo {
	return &CacheRepo{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// visibilityModel — JSON-представление вердиктов продукта в кэше.
type visibilityModel struct {
	ProductID int64          `json:"product_id"`
	Visible   bool           `json:"visible"`
	Domains   map[int64]bool `json:"domains"`
}

// SetVisibility атомарно кэширует вердикты нескольких продуктов с TTL.
// Ошибки сериализации/записи логируются и не прерывают пересчёт.
func (r *CacheRepo) SetVisibility(ctx context.Context, entries []usecase.ProductVisibilityInfo) error {
	pipeline := r.client.Client.Pipeline()
	for _, entry := range entries {
		model := visibilityModel{
			ProductID: entry.ProductID,
			Visible:   entry.Visible,
			Domains:   entry.Domains,
		}

		data, err := json.Marshal(model)
		if err != nil {
			r.logger.Warnf("Failed to marshal visibility for caching (Product ID: %d): %v", entry.ProductID, e.Wrap(whereami.WhereAmI(), err))
			continue
		}

		pipeline.Set(ctx, r.visibilityKey(entry.ProductID), data, r.cfg.VisibilityTTL)
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		r.logger.Warnf("Visibility cache pipeline failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

// DeleteVisibility удаляет вердикты продуктов из кэша по ID
func (r *CacheRepo) DeleteVisibility(ctx context.Context, ids []int64) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.visibilityKey(id)
	}

	if err := r.client.Client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warnf("Redis DEL failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

// visibilityKey возвращает Redis-ключ вердиктов одного продукта
func (r *CacheRepo) visibilityKey(id int64) string {
	return fmt.Sprintf("product:visibility:%d", id)
}
