package pgdb

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
	"github.com/lumora-tech/visibility-engine/pkg/e"
	"github.com/lumora-tech/visibility-engine/pkg/tr"
)

// VisibilityRepo — путь записи производных полей видимости.
// Все методы выполняются в транзакции из контекста, чтобы строки по доменам
// и агрегат products.visible коммитились одним снимком.
type VisibilityRepo struct {
	pool *pgxpool.Pool
}

func NewVisibilityRepo(pool *pgxpool.Pool) *VisibilityRepo {
	return &VisibilityRepo{pool: pool}
}

// UpsertProductDomains записывает вердикты продукта по доменам.
// Обновляются только строки с изменившимся значением (IS DISTINCT FROM);
// возвращаются домены, чьё сохранённое состояние реально поменялось.
func (v *VisibilityRepo) UpsertProductDomains(ctx context.Context, productID int64, verdicts map[int64]bool) ([]int64, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	domainIDs := make([]int64, 0, len(verdicts))
	for domainID := range verdicts {
		domainIDs = append(domainIDs, domainID)
	}
	sort.Slice(domainIDs, func(i, j int) bool { return domainIDs[i] < domainIDs[j] })

	visible := make([]bool, 0, len(domainIDs))
	for _, domainID := range domainIDs {
		visible = append(visible, verdicts[domainID])
	}

	query := `
		INSERT INTO product_domains (product_id, domain_id, visible)
		SELECT $1, d.domain_id, d.visible
		FROM unnest($2::bigint[], $3::boolean[]) AS d(domain_id, visible)
		ON CONFLICT (product_id, domain_id) DO UPDATE SET
			visible = EXCLUDED.visible
		WHERE
			product_domains.visible IS DISTINCT FROM EXCLUDED.visible
		RETURNING domain_id;
	`

	rows, err := tx.Query(ctx, query, productID, domainIDs, visible)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	changed := make([]int64, 0)
	for rows.Next() {
		var domainID int64
		if err := rows.Scan(&domainID); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		changed = append(changed, domainID)
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return changed, nil
}

// UpdateProductVisible записывает агрегат "виден хотя бы на одном домене".
// Возвращает true, если сохранённое значение изменилось.
func (v *VisibilityRepo) UpdateProductVisible(ctx context.Context, productID int64, visible bool) (bool, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return false, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		UPDATE products
		SET visible = $2
		WHERE id = $1 AND visible IS DISTINCT FROM $2
	`

	result, err := tx.Exec(ctx, query, productID, visible)
	if err != nil {
		return false, e.Wrap(whereami.WhereAmI(), err)
	}

	return result.RowsAffected() > 0, nil
}

// DeleteProductDomains удаляет все доменные вердикты продукта (после удаления продукта).
func (v *VisibilityRepo) DeleteProductDomains(ctx context.Context, productID int64) error {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	query := `DELETE FROM product_domains WHERE product_id = $1`

	if _, err := tx.Exec(ctx, query, productID); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
