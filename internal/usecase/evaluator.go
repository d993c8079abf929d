package usecase

import (
	"time"

	"github.com/lumora-tech/visibility-engine/internal/domain"
)

// Reason объясняет, какое правило определило вердикт видимости.
type Reason int

const (
	ReasonVisible Reason = iota
	ReasonHidden
	ReasonHiddenOnDomain
	ReasonNoPrice
	ReasonNotSellingYet
	ReasonSellingEnded
	ReasonNoVisibleCategory
)

func (r Reason) String() string {
	switch r {
	case ReasonVisible:
		return "visible"
	case ReasonHidden:
		return "hidden"
	case ReasonHiddenOnDomain:
		return "hidden on domain"
	case ReasonNoPrice:
		return "price missing or not positive"
	case ReasonNotSellingYet:
		return "selling window not started"
	case ReasonSellingEnded:
		return "selling window ended"
	case ReasonNoVisibleCategory:
		return "no visible category on domain"
	default:
		return "unknown"
	}
}

// Evaluate — чистая функция вердикта видимости продукта на одном домене.
// Все правила независимы и должны выполниться одновременно; "не виден" —
// нормальный результат, а не ошибка. Побочных эффектов нет.
func Evaluate(product *domain.Product, domainID int64, now time.Time, categories domain.CategoryVisibilitySet) (bool, Reason) {
	if product.Hidden {
		return false, ReasonHidden
	}

	if product.IsHiddenOnDomain(domainID) {
		return false, ReasonHiddenOnDomain
	}

	if !product.HasPositivePrice() {
		return false, ReasonNoPrice
	}

	if product.SellingFrom != nil && now.Before(*product.SellingFrom) {
		return false, ReasonNotSellingYet
	}

	if product.SellingTo != nil && now.After(*product.SellingTo) {
		return false, ReasonSellingEnded
	}

	// Пустой набор категорий делает продукт невидимым: нечего показывать в каталоге.
	for _, categoryID := range product.CategoryIDs {
		if categories.IsVisible(categoryID, domainID) {
			return true, ReasonVisible
		}
	}

	return false, ReasonNoVisibleCategory
}
