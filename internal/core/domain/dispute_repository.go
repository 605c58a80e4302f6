package domain

import "context"

// DisputeRepository persists the disputes known to the local node.
type DisputeRepository interface {
	AddDispute(ctx context.Context, dispute *Dispute) error
	GetDispute(ctx context.Context, tradeId string) (*Dispute, error)
	GetAllDisputes(ctx context.Context) ([]*Dispute, error)
	UpdateDispute(
		ctx context.Context,
		tradeId string,
		updateFn func(d *Dispute) (*Dispute, error),
	) error
}
