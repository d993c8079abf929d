package domain

// Category описывает категорию каталога
type Category struct {
	ID   int64
	Name string
}

// CategoryDomainKey — составной ключ (категория, домен).
type CategoryDomainKey struct {
	CategoryID int64
	DomainID   int64
}

// CategoryVisibilitySet — снимок видимости категорий по доменам,
// загружается один раз на проход пересчёта.
type CategoryVisibilitySet map[CategoryDomainKey]struct{}

func NewCategoryVisibilitySet() CategoryVisibilitySet {
	return make(CategoryVisibilitySet)
}

func (s CategoryVisibilitySet) Add(categoryID, domainID int64) {
	s[CategoryDomainKey{CategoryID: categoryID, DomainID: domainID}] = struct{}{}
}

func (s CategoryVisibilitySet) IsVisible(categoryID, domainID int64) bool {
	_, ok := s[CategoryDomainKey{CategoryID: categoryID, DomainID: domainID}]
	return ok
}
