package usecase

import "context"

type EventProducer interface {
	WriteVisibilityChanged(ctx context.Context, req *VisibilityChangedReq) error
}
