package usecase

import (
	"context"

	"github.com/lumora-tech/visibility-engine/internal/domain"
)

type ProductRepository interface {
	// ListProductsPage возвращает страницу продуктов с id > afterID в порядке возрастания id.
	ListProductsPage(ctx context.Context, afterID int64, limit int) ([]*domain.Product, error)
	GetProducts(ctx context.Context, ids []int64) ([]*domain.Product, error)
}

type CategoryRepository interface {
	GetVisibilitySnapshot(ctx context.Context) (domain.CategoryVisibilitySet, error)
}

// VisibilityRepository — единственный путь записи производных полей видимости.
// Методы записи требуют транзакции в контексте (pkg/tr).
type VisibilityRepository interface {
	UpsertProductDomains(ctx context.Context, productID int64, verdicts map[int64]bool) (changedDomains []int64, err error)
	UpdateProductVisible(ctx context.Context, productID int64, visible bool) (changed bool, err error)
	DeleteProductDomains(ctx context.Context, productID int64) error
}

type DirtyMarkRepository interface {
	// MarkDirty идемпотентно ставит продукт в очередь на пересчёт
	// и уведомляет слушателя очереди.
	MarkDirty(ctx context.Context, productID int64) error
	// RequeueDirty возвращает метку после сбоя без уведомления слушателя,
	// чтобы сбойный продукт не запускал пересчёт немедленно по кругу.
	RequeueDirty(ctx context.Context, productID int64) error
	// ConsumeDirtySet атомарно снимает и возвращает порцию меток; метки,
	// поставленные после снимка, сохраняются до следующего вызова.
	ConsumeDirtySet(ctx context.Context, limit int) ([]int64, error)
}

type CacheRepository interface {
	SetVisibility(ctx context.Context, entries []ProductVisibilityInfo) error
	DeleteVisibility(ctx context.Context, ids []int64) error
}
