package dbbadger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type openOfferRepositoryImpl struct {
	store *badgerhold.Store
}

func NewOpenOfferRepositoryImpl(store *badgerhold.Store) domain.OpenOfferRepository {
	return &openOfferRepositoryImpl{store}
}

func (r *openOfferRepositoryImpl) AddOpenOffer(
	_ context.Context, offer *domain.OpenOffer,
) error {
	return r.store.Upsert(offer.Offer.Id, *offer)
}

func (r *openOfferRepositoryImpl) GetOpenOffer(
	_ context.Context, offerId string,
) (*domain.OpenOffer, error) {
	var offer domain.OpenOffer
	if err := r.store.Get(offerId, &offer); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrOpenOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

func (r *openOfferRepositoryImpl) GetAllOpenOffers(
	_ context.Context,
) ([]*domain.OpenOffer, error) {
	var offers []domain.OpenOffer
	if err := r.store.Find(&offers, nil); err != nil {
		return nil, err
	}

	res := make([]*domain.OpenOffer, 0, len(offers))
	for i := range offers {
		res = append(res, &offers[i])
	}
	return res, nil
}

func (r *openOfferRepositoryImpl) UpdateOpenOffer(
	_ context.Context,
	offerId string,
	updateFn func(o *domain.OpenOffer) (*domain.OpenOffer, error),
) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var offer domain.OpenOffer
		if err := r.store.TxGet(tx, offerId, &offer); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return domain.ErrOpenOfferNotFound
			}
			return err
		}

		updatedOffer, err := updateFn(&offer)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, offerId, *updatedOffer)
	})
}

func (r *openOfferRepositoryImpl) DeleteOpenOffer(
	_ context.Context, offerId string,
) error {
	if err := r.store.Delete(offerId, domain.OpenOffer{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.ErrOpenOfferNotFound
		}
		return err
	}
	return nil
}
