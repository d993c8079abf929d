package pgdb

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
	"github.com/lumora-tech/visibility-engine/internal/domain"
	"github.com/lumora-tech/visibility-engine/internal/repository/pgdb/converter"
	"github.com/lumora-tech/visibility-engine/pkg/e"
	"github.com/lumora-tech/visibility-engine/pkg/logger"
)

// ProductRepo читает исходные атрибуты продуктов поверх PostgreSQL.
type ProductRepo struct {
	pool   *pgxpool.Pool
	conv   converter.ProductConverter
	logger logger.Logger
}

func NewProductRepo(pool *pgxpool.Pool, conv converter.ProductConverter, logger logger.Logger) *ProductRepo {
	return &ProductRepo{
		pool:   pool,
		conv:   conv,
		logger: logger,
	}
}

const productSelectColumns = `
	p.id, p.hidden, p.price, p.selling_from, p.selling_to,
	p.hidden_on_domains, p.names, p.visible,
	COALESCE(array_agg(pc.category_id) FILTER (WHERE pc.category_id IS NOT NULL), '{}') AS category_ids
`

// ListProductsPage возвращает страницу продуктов после afterID (keyset-пагинация).
func (p *ProductRepo) ListProductsPage(ctx context.Context, afterID int64, limit int) ([]*domain.Product, error) {
	query := `
		SELECT ` + productSelectColumns + `
		FROM products p
		LEFT JOIN product_categories pc ON pc.product_id = p.id
		WHERE p.id > $1
		GROUP BY p.id
		ORDER BY p.id
		LIMIT $2
	`

	rows, err := p.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	return p.scanProducts(rows)
}

// GetProducts возвращает продукты по их идентификаторам; отсутствующие id
// в результат не попадают.
func (p *ProductRepo) GetProducts(ctx context.Context, ids []int64) ([]*domain.Product, error) {
	query := `
		SELECT ` + productSelectColumns + `
		FROM products p
		LEFT JOIN product_categories pc ON pc.product_id = p.id
		WHERE p.id = ANY($1)
		GROUP BY p.id
		ORDER BY p.id
	`

	rows, err := p.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	return p.scanProducts(rows)
}

func (p *ProductRepo) scanProducts(rows pgx.Rows) ([]*domain.Product, error) {
	models := make([]converter.ProductModel, 0)
	for rows.Next() {
		var model converter.ProductModel
		if err := rows.Scan(
			&model.ID, &model.Hidden, &model.Price, &model.SellingFrom, &model.SellingTo,
			&model.HiddenOnDomains, &model.Names, &model.Visible, &model.CategoryIDs,
		); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		models = append(models, model)
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return p.convertProducts(models), nil
}

// convertProducts преобразует строки выборки в сущности. Строка с битыми
// атрибутами пропускается с предупреждением: один такой продукт не должен
// ронять страницу и останавливать пересчёт остальных.
func (p *ProductRepo) convertProducts(models []converter.ProductModel) []*domain.Product {
	result := make([]*domain.Product, 0, len(models))
	for i := range models {
		product, err := p.conv.ToEntity(&models[i])
		if err != nil {
			p.logger.Warnf("Skipping product with malformed attributes. product_id: %d, error: %v", models[i].ID, err)
			continue
		}

		result = append(result, product)
	}

	return result
}
