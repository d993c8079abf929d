package converter

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductModel представляет строку выборки продукта из PostgreSQL
// вместе с агрегированными ссылками на категории.
type ProductModel struct {
	ID              int64               `db:"id"`
	Hidden          bool                `db:"hidden"`
	Price           decimal.NullDecimal `db:"price"`
	SellingFrom     *time.Time          `db:"selling_from"`
	SellingTo       *time.Time          `db:"selling_to"`
	HiddenOnDomains []int64             `db:"hidden_on_domains"`
	Names           []byte              `db:"names"`
	Visible         bool                `db:"visible"`
	CategoryIDs     []int64             `db:"category_ids"`
}

// CategoryDomainModel представляет запись таблицы category_domains в PostgreSQL.
type CategoryDomainModel struct {
	CategoryID int64 `db:"category_id"`
	DomainID   int64 `db:"domain_id"`
	Visible    bool  `db:"visible"`
}

// ProductDomainModel представляет запись таблицы product_domains в PostgreSQL.
type ProductDomainModel struct {
	ProductID int64 `db:"product_id"`
	DomainID  int64 `db:"domain_id"`
	Visible   bool  `db:"visible"`
}
