package usecase

import "time"

// VISIBILITY USECASE

// RefreshStats — сводка одного прохода пересчёта видимости.
type RefreshStats struct {
	RunID     string
	Processed int // продуктов пересчитано и закоммичено
	Changed   int // продуктов с изменившимся сохранённым состоянием
	Failed    int // продуктов, чья транзакция не прошла
	Removed   int // помеченных продуктов, которых уже нет в каталоге
}

// ProductVisibilityInfo — DTO с вердиктами продукта для кэша витрины.
type ProductVisibilityInfo struct {
	ProductID int64
	Visible   bool
	Domains   map[int64]bool
}

// INFRASTRUCTURE

// VisibilityChangedReq — событие об изменении сохранённой видимости продукта.
type VisibilityChangedReq struct {
	EventID    string
	ProductID  int64
	Visible    bool
	Domains    map[int64]bool
	OccurredAt time.Time
}

// MAPPERS
func NewRefreshStats(runID string) *RefreshStats {
	return &RefreshStats{RunID: runID}
}

func NewProductVisibilityInfo(productID int64, visible bool, domains map[int64]bool) ProductVisibilityInfo {
	return ProductVisibilityInfo{
		ProductID: productID,
		Visible:   visible,
		Domains:   domains,
	}
}

func NewVisibilityChangedReq(eventID string, productID int64, visible bool, domains map[int64]bool, occurredAt time.Time) *VisibilityChangedReq {
	return &VisibilityChangedReq{
		EventID:    eventID,
		ProductID:  productID,
		Visible:    visible,
		Domains:    domains,
		OccurredAt: occurredAt,
	}
}
