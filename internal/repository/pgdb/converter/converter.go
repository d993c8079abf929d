package converter

import (
	"encoding/json"

	"github.com/lumora-tech/visibility-engine/internal/domain"
)

// ProductConverter преобразует продукт между моделью PostgreSQL и domain.
type ProductConverter interface {
	ToEntity(model *ProductModel) (*domain.Product, error)
}

type productConverter struct{}

func NewProductConverter() ProductConverter {
	return &productConverter{}
}

func (c *productConverter) ToEntity(model *ProductModel) (*domain.Product, error) {
	product := domain.NewProduct(model.ID, model.Hidden, nil, model.SellingFrom, model.SellingTo)
	product.HiddenOnDomains = model.HiddenOnDomains
	product.CategoryIDs = model.CategoryIDs
	product.Visible = model.Visible

	if model.Price.Valid {
		price := model.Price.Decimal
		product.Price = &price
	}

	if len(model.Names) > 0 {
		if err := json.Unmarshal(model.Names, &product.Names); err != nil {
			return nil, err
		}
	}

	return product, nil
}
