package inmemory

import (
	"context"
	"sync"

	"github.com/tdex-network/escrowd/internal/core/domain"
)

type disputeRepositoryImpl struct {
	disputes map[string]*domain.Dispute
	locker   *sync.RWMutex
}

func NewDisputeRepositoryImpl() domain.DisputeRepository {
	return &disputeRepositoryImpl{
		disputes: map[string]*domain.Dispute{},
		locker:   &sync.RWMutex{},
	}
}

func (r *disputeRepositoryImpl) AddDispute(_ context.Context, dispute *domain.Dispute) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.disputes[dispute.TradeId]; ok {
		return nil
	}
	r.disputes[dispute.TradeId] = clone(dispute)
	return nil
}

func (r *disputeRepositoryImpl) GetDispute(
	_ context.Context, tradeId string,
) (*domain.Dispute, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	dispute, ok := r.disputes[tradeId]
	if !ok {
		return nil, domain.ErrDisputeNotFound
	}
	return clone(dispute), nil
}

func (r *disputeRepositoryImpl) GetAllDisputes(_ context.Context) ([]*domain.Dispute, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	disputes := make([]*domain.Dispute, 0, len(r.disputes))
	for _, d := range r.disputes {
		disputes = append(disputes, clone(d))
	}
	return disputes, nil
}

func (r *disputeRepositoryImpl) UpdateDispute(
	_ context.Context,
	tradeId string,
	updateFn func(d *domain.Dispute) (*domain.Dispute, error),
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	dispute, ok := r.disputes[tradeId]
	if !ok {
		return domain.ErrDisputeNotFound
	}

	updatedDispute, err := updateFn(clone(dispute))
	if err != nil {
		return err
	}
	r.disputes[tradeId] = clone(updatedDispute)
	return nil
}
