package pgdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
	"github.com/lumora-tech/visibility-engine/internal/domain"
	"github.com/lumora-tech/visibility-engine/pkg/e"
)

// CategoryRepo читает видимость категорий поверх PostgreSQL.
type CategoryRepo struct {
	pool *pgxpool.Pool
}

func NewCategoryRepo(pool *pgxpool.Pool) *CategoryRepo {
	return &CategoryRepo{pool: pool}
}

// GetVisibilitySnapshot загружает пары (категория, домен), видимые на данный момент.
// Снимок используется на протяжении всего прохода пересчёта.
func (c *CategoryRepo) GetVisibilitySnapshot(ctx context.Context) (domain.CategoryVisibilitySet, error) {
	query := `
		SELECT category_id, domain_id
		FROM category_domains
		WHERE visible
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	snapshot := domain.NewCategoryVisibilitySet()
	for rows.Next() {
		var categoryID, domainID int64
		if err := rows.Scan(&categoryID, &domainID); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		snapshot.Add(categoryID, domainID)
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return snapshot, nil
}
