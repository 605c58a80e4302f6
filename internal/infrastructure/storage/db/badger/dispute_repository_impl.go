package dbbadger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type disputeRepositoryImpl struct {
	store *badgerhold.Store
}

func NewDisputeRepositoryImpl(store *badgerhold.Store) domain.DisputeRepository {
	return &disputeRepositoryImpl{store}
}

// AddDispute is a no-op if a dispute for the same trade already exists.
func (r *disputeRepositoryImpl) AddDispute(
	_ context.Context, dispute *domain.Dispute,
) error {
	err := r.store.Insert(dispute.TradeId, *dispute)
	if err != nil && !errors.Is(err, badgerhold.ErrKeyExists) {
		return err
	}
	return nil
}

func (r *disputeRepositoryImpl) GetDispute(
	_ context.Context, tradeId string,
) (*domain.Dispute, error) {
	var dispute domain.Dispute
	if err := r.store.Get(tradeId, &dispute); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrDisputeNotFound
		}
		return nil, err
	}
	return &dispute, nil
}

func (r *disputeRepositoryImpl) GetAllDisputes(
	_ context.Context,
) ([]*domain.Dispute, error) {
	var disputes []domain.Dispute
	if err := r.store.Find(&disputes, nil); err != nil {
		return nil, err
	}

	res := make([]*domain.Dispute, 0, len(disputes))
	for i := range disputes {
		res = append(res, &disputes[i])
	}
	return res, nil
}

func (r *disputeRepositoryImpl) UpdateDispute(
	_ context.Context,
	tradeId string,
	updateFn func(d *domain.Dispute) (*domain.Dispute, error),
) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var dispute domain.Dispute
		if err := r.store.TxGet(tx, tradeId, &dispute); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return domain.ErrDisputeNotFound
			}
			return err
		}

		updatedDispute, err := updateFn(&dispute)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, tradeId, *updatedDispute)
	})
}
