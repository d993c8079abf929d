package pgdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
	"github.com/lumora-tech/visibility-engine/pkg/e"
)

// DirtyMarkRepo хранит метки "нужен пересчёт" в таблице-очереди.
type DirtyMarkRepo struct {
	pool *pgxpool.Pool
}

func NewDirtyMarkRepo(pool *pgxpool.Pool) *DirtyMarkRepo {
	return &DirtyMarkRepo{pool: pool}
}

const enqueueDirtyQuery = `
	INSERT INTO product_visibility_queue (product_id)
	VALUES ($1)
	ON CONFLICT (product_id) DO NOTHING;
`

// MarkDirty идемпотентно ставит метку и будит слушателя уведомлений.
func (d *DirtyMarkRepo) MarkDirty(ctx context.Context, productID int64) error {
	if _, err := d.pool.Exec(ctx, enqueueDirtyQuery, productID); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	if _, err := d.pool.Exec(ctx, "NOTIFY product_visibility_dirty;"); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// RequeueDirty возвращает метку в очередь без NOTIFY. Уведомление немедленно
// разбудило бы слушателя, и сбойный продукт крутил бы горячий цикл
// consume -> fail -> requeue; без него метку подберёт страховочный интервал.
func (d *DirtyMarkRepo) RequeueDirty(ctx context.Context, productID int64) error {
	if _, err := d.pool.Exec(ctx, enqueueDirtyQuery, productID); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// ConsumeDirtySet атомарно снимает порцию меток (snapshot-and-clear).
// FOR UPDATE SKIP LOCKED позволяет нескольким потребителям не блокировать
// друг друга; метка, поставленная после снимка, — это новая строка,
// она дождётся следующего вызова.
func (d *DirtyMarkRepo) ConsumeDirtySet(ctx context.Context, limit int) ([]int64, error) {
	query := `
		DELETE FROM product_visibility_queue
		WHERE product_id IN (
			SELECT product_id FROM product_visibility_queue
			ORDER BY enqueued_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING product_id;
	`

	rows, err := d.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return ids, nil
}
