package usecase

import (
	"time"

	"github.com/lumora-tech/visibility-engine/internal/domain"
)

// Verdict — результат агрегации вердиктов по всем настроенным доменам.
type Verdict struct {
	PerDomain  map[int64]bool
	Reasons    map[int64]Reason
	AnyVisible bool
}

// Aggregate вычисляет вердикт для каждого настроенного домена независимо.
// Домены не пропускаются после первого видимого: каждый доменный вердикт
// сохраняется отдельной строкой.
func Aggregate(product *domain.Product, domainIDs []int64, now time.Time, categories domain.CategoryVisibilitySet) *Verdict {
	verdict := &Verdict{
		PerDomain: make(map[int64]bool, len(domainIDs)),
		Reasons:   make(map[int64]Reason, len(domainIDs)),
	}

	for _, domainID := range domainIDs {
		visible, reason := Evaluate(product, domainID, now, categories)
		verdict.PerDomain[domainID] = visible
		verdict.Reasons[domainID] = reason

		if visible {
			verdict.AnyVisible = true
		}
	}

	return verdict
}
