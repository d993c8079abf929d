package domain

// ProductDomainVisibility — сохранённый вердикт видимости продукта на одном домене.
type ProductDomainVisibility struct {
	ProductID int64
	DomainID  int64
	Visible   bool
}

func NewProductDomainVisibility(productID, domainID int64, visible bool) *ProductDomainVisibility {
	return &ProductDomainVisibility{
		ProductID: productID,
		DomainID:  domainID,
		Visible:   visible,
	}
}
