package usecase

import (
	"context"
	"time"
)

type VisibilityUC interface {
	RefreshAll(ctx context.Context, now time.Time) (*RefreshStats, error)
	RefreshMarked(ctx context.Context, now time.Time) (*RefreshStats, error)
	MarkDirty(ctx context.Context, productID int64) error
}
