package usecase

import (
	"context"
	"time"

	transaction "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lumora-tech/visibility-engine/internal/domain"
	"github.com/lumora-tech/visibility-engine/pkg/e"
	"github.com/lumora-tech/visibility-engine/pkg/logger"
)

// VisibilityUseCase реализует движок пересчёта видимости продуктов.
// Это единственный писатель производных полей visible; остальные потоки
// меняют только исходные атрибуты и ставят метку на пересчёт.
type VisibilityUseCase struct {
	productRepo    ProductRepository
	categoryRepo   CategoryRepository
	visibilityRepo VisibilityRepository
	dirtyRepo      DirtyMarkRepository
	cacheRepo      CacheRepository
	producer       EventProducer
	dbPool         transaction.Transactional
	domainIDs      []int64
	batchSize      int
	logger         logger.Logger
}

func NewVisibilityUC(
	productRepo ProductRepository,
	categoryRepo CategoryRepository,
	visibilityRepo VisibilityRepository,
	dirtyRepo DirtyMarkRepository,
	cacheRepo CacheRepository,
	producer EventProducer,
	dbPool transaction.Transactional,
	domainIDs []int64,
	batchSize int,
	logger logger.Logger,
) *VisibilityUseCase {
	return &VisibilityUseCase{
		productRepo:    productRepo,
		categoryRepo:   categoryRepo,
		visibilityRepo: visibilityRepo,
		dirtyRepo:      dirtyRepo,
		cacheRepo:      cacheRepo,
		producer:       producer,
		dbPool:         dbPool,
		domainIDs:      domainIDs,
		batchSize:      batchSize,
		logger:         logger,
	}
}

// RefreshAll постранично пересчитывает вердикты всех продуктов каталога.
// Ошибка одного продукта не прерывает проход: продукт пропускается и логируется.
func (u *VisibilityUseCase) RefreshAll(ctx context.Context, now time.Time) (*RefreshStats, error) {
	const op = "VisibilityUseCase.RefreshAll"

	if len(u.domainIDs) == 0 {
		return nil, e.Wrap(op, e.ErrNoDomainsConfigured)
	}

	stats := NewRefreshStats(uuid.NewString())

	// Снимок видимости категорий на весь проход
	categories, err := u.categoryRepo.GetVisibilitySnapshot(ctx)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	var afterID int64
	for {
		products, err := u.productRepo.ListProductsPage(ctx, afterID, u.batchSize)
		if err != nil {
			return stats, e.Wrap(op, err)
		}

		if len(products) == 0 {
			break
		}

		for _, product := range products {
			afterID = product.ID

			if err := u.refreshProduct(ctx, product, now, categories, stats); err != nil {
				stats.Failed++
				u.logger.Warnf(
					"Product visibility refresh failed, skipping. run_id: %s, product_id: %d, error: %v",
					stats.RunID, product.ID, e.Wrap(op, err),
				)
			}
		}

		if len(products) < u.batchSize {
			break
		}
	}

	u.logger.Infof(
		"Full visibility refresh finished. run_id: %s, processed: %d, changed: %d, failed: %d",
		stats.RunID, stats.Processed, stats.Changed, stats.Failed,
	)

	return stats, nil
}

// RefreshMarked пересчитывает только продукты, помеченные на пересчёт,
// и снимает обработанные метки. Ошибка по продукту возвращает его метку в очередь.
func (u *VisibilityUseCase) RefreshMarked(ctx context.Context, now time.Time) (*RefreshStats, error) {
	const op = "VisibilityUseCase.RefreshMarked"

	if len(u.domainIDs) == 0 {
		return nil, e.Wrap(op, e.ErrNoDomainsConfigured)
	}

	stats := NewRefreshStats(uuid.NewString())

	var categories domain.CategoryVisibilitySet

	// Продукты, уже обработанные в этом проходе. Метка, возвращённая в очередь
	// после сбоя, не должна зациклить проход: она дожидается следующего запуска.
	attempted := make(map[int64]struct{})

	for {
		consumed, err := u.dirtyRepo.ConsumeDirtySet(ctx, u.batchSize)
		if err != nil {
			return stats, e.Wrap(op, err)
		}

		if len(consumed) == 0 {
			break
		}

		ids := make([]int64, 0, len(consumed))
		requeue := make([]int64, 0)
		for _, id := range consumed {
			if _, ok := attempted[id]; ok {
				requeue = append(requeue, id)
				continue
			}

			attempted[id] = struct{}{}
			ids = append(ids, id)
		}

		if len(requeue) > 0 {
			u.remark(ctx, requeue, stats.RunID)
		}

		if len(ids) == 0 {
			break
		}

		// Снимок категорий загружается лениво: холостой запуск без меток не трогает БД.
		if categories == nil {
			categories, err = u.categoryRepo.GetVisibilitySnapshot(ctx)
			if err != nil {
				u.remark(ctx, ids, stats.RunID)
				return stats, e.Wrap(op, err)
			}
		}

		products, err := u.productRepo.GetProducts(ctx, ids)
		if err != nil {
			u.remark(ctx, ids, stats.RunID)
			return stats, e.Wrap(op, err)
		}

		productsByID := make(map[int64]*domain.Product, len(products))
		for _, product := range products {
			productsByID[product.ID] = product
		}

		for _, id := range ids {
			product, ok := productsByID[id]
			if !ok {
				// Продукт удалён из каталога: чистим осиротевшие вердикты и кэш.
				if err := u.removeStaleProduct(ctx, id); err != nil {
					stats.Failed++
					u.remark(ctx, []int64{id}, stats.RunID)
					u.logger.Warnf(
						"Stale visibility cleanup failed. run_id: %s, product_id: %d, error: %v",
						stats.RunID, id, e.Wrap(op, err),
					)
					continue
				}

				stats.Removed++
				continue
			}

			if err := u.refreshProduct(ctx, product, now, categories, stats); err != nil {
				stats.Failed++
				u.remark(ctx, []int64{id}, stats.RunID)
				u.logger.Warnf(
					"Marked visibility refresh failed, re-queued. run_id: %s, product_id: %d, error: %v",
					stats.RunID, id, e.Wrap(op, err),
				)
			}
		}
	}

	if stats.Processed > 0 || stats.Removed > 0 || stats.Failed > 0 {
		u.logger.Infof(
			"Marked visibility refresh finished. run_id: %s, processed: %d, changed: %d, failed: %d, removed: %d",
			stats.RunID, stats.Processed, stats.Changed, stats.Failed, stats.Removed,
		)
	}

	return stats, nil
}

// MarkDirty ставит продукт в очередь на пересчёт. Идемпотентен: повторная
// метка до следующего прохода не создаёт дубликата.
func (u *VisibilityUseCase) MarkDirty(ctx context.Context, productID int64) error {
	const op = "VisibilityUseCase.MarkDirty"

	if productID <= 0 {
		return e.Wrap(op, e.ErrInvalidProductID)
	}

	if err := u.dirtyRepo.MarkDirty(ctx, productID); err != nil {
		return e.Wrap(op, err)
	}

	return nil
}

// refreshProduct атомарно пересчитывает и сохраняет вердикты одного продукта:
// строки по доменам и агрегат products.visible коммитятся одной транзакцией,
// чтобы читатели не увидели расхождение между ними.
func (u *VisibilityUseCase) refreshProduct(
	ctx context.Context,
	product *domain.Product,
	now time.Time,
	categories domain.CategoryVisibilitySet,
	stats *RefreshStats,
) error {
	verdict := Aggregate(product, u.domainIDs, now, categories)

	ctx, tx, err := transaction.NewTransaction(ctx, pgx.TxOptions{}, u.dbPool)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil && tx.IsActive() {
			tx.Rollback(ctx)
		}
	}()
	ctx = context.WithValue(ctx, "tx", tx.Transaction())

	changedDomains, err := u.visibilityRepo.UpsertProductDomains(ctx, product.ID, verdict.PerDomain)
	if err != nil {
		return err
	}

	productChanged, err := u.visibilityRepo.UpdateProductVisible(ctx, product.ID, verdict.AnyVisible)
	if err != nil {
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return err
	}

	stats.Processed++

	if len(changedDomains) == 0 && !productChanged {
		return nil
	}

	stats.Changed++
	u.publishChange(ctx, product.ID, verdict, now)

	return nil
}

// removeStaleProduct удаляет вердикты и кэш продукта, которого больше нет в каталоге.
func (u *VisibilityUseCase) removeStaleProduct(ctx context.Context, productID int64) error {
	ctx, tx, err := transaction.NewTransaction(ctx, pgx.TxOptions{}, u.dbPool)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil && tx.IsActive() {
			tx.Rollback(ctx)
		}
	}()
	ctx = context.WithValue(ctx, "tx", tx.Transaction())

	err = u.visibilityRepo.DeleteProductDomains(ctx, productID)
	if err != nil {
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return err
	}

	if err := u.cacheRepo.DeleteVisibility(ctx, []int64{productID}); err != nil {
		u.logger.Warnf("Failed to drop visibility cache: product_id: %d, error: %v", productID, err)
	}

	return nil
}

// publishChange объявляет о закоммиченном изменении: обновляет кэш витрины
// и шлёт событие в Kafka. Оба шага best-effort: сбой только логируется,
// полный пересчёт или следующая метка всё исправят.
func (u *VisibilityUseCase) publishChange(ctx context.Context, productID int64, verdict *Verdict, now time.Time) {
	info := NewProductVisibilityInfo(productID, verdict.AnyVisible, verdict.PerDomain)
	if err := u.cacheRepo.SetVisibility(ctx, []ProductVisibilityInfo{info}); err != nil {
		u.logger.Warnf("Failed to cache visibility: product_id: %d, error: %v", productID, err)
	}

	req := NewVisibilityChangedReq(uuid.NewString(), productID, verdict.AnyVisible, verdict.PerDomain, now)
	if err := u.producer.WriteVisibilityChanged(ctx, req); err != nil {
		u.logger.Warnf("Failed to publish visibility change: product_id: %d, error: %v", productID, err)
	}
}

// remark возвращает метки в очередь после сбоя обработки. Без уведомления:
// немедленный повтор того же сбойного продукта бессмыслен, пусть его
// подберёт страховочный интервал или следующий запуск.
func (u *VisibilityUseCase) remark(ctx context.Context, ids []int64, runID string) {
	for _, id := range ids {
		if err := u.dirtyRepo.RequeueDirty(ctx, id); err != nil {
			u.logger.Warnf("Failed to re-queue dirty mark. run_id: %s, product_id: %d, error: %v", runID, id, err)
		}
	}
}
