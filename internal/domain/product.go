package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product — срез атрибутов продукта, от которых зависит его видимость.
// Поле Visible производное: его пересчитывает и записывает только движок видимости.
type Product struct {
	ID              int64
	Hidden          bool
	Price           *decimal.Decimal // nil — цена не задана
	SellingFrom     *time.Time
	SellingTo       *time.Time
	HiddenOnDomains []int64
	CategoryIDs     []int64
	Names           map[string]string // локаль -> название; на видимость не влияет
	Visible         bool
}

func NewProduct(id int64, hidden bool, price *decimal.Decimal, sellingFrom, sellingTo *time.Time) *Product {
	return &Product{
		ID:          id,
		Hidden:      hidden,
		Price:       price,
		SellingFrom: sellingFrom,
		SellingTo:   sellingTo,
	}
}

// IsHiddenOnDomain сообщает, скрыт ли продукт на домене явной доменной настройкой.
func (p *Product) IsHiddenOnDomain(domainID int64) bool {
	for _, id := range p.HiddenOnDomains {
		if id == domainID {
			return true
		}
	}

	return false
}

// HasPositivePrice сообщает, задана ли у продукта строго положительная цена.
func (p *Product) HasPositivePrice() bool {
	return p.Price != nil && p.Price.GreaterThan(decimal.Zero)
}

// IsInSellingWindow проверяет попадание момента now в окно продаж.
// Обе границы окна включительные, отсутствующая граница не ограничивает.
func (p *Product) IsInSellingWindow(now time.Time) bool {
	if p.SellingFrom != nil && now.Before(*p.SellingFrom) {
		return false
	}

	if p.SellingTo != nil && now.After(*p.SellingTo) {
		return false
	}

	return true
}
