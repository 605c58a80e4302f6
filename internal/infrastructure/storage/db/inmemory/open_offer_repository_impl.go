package inmemory

import (
	"context"
	"sync"

	"github.com/tdex-network/escrowd/internal/core/domain"
)

type openOfferRepositoryImpl struct {
	offers map[string]*domain.OpenOffer
	locker *sync.RWMutex
}

func NewOpenOfferRepositoryImpl() domain.OpenOfferRepository {
	return &openOfferRepositoryImpl{
		offers: map[string]*domain.OpenOffer{},
		locker: &sync.RWMutex{},
	}
}

func (r *openOfferRepositoryImpl) AddOpenOffer(
	_ context.Context, offer *domain.OpenOffer,
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	r.offers[offer.Offer.Id] = clone(offer)
	return nil
}

func (r *openOfferRepositoryImpl) GetOpenOffer(
	_ context.Context, offerId string,
) (*domain.OpenOffer, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	offer, ok := r.offers[offerId]
	if !ok {
		return nil, domain.ErrOpenOfferNotFound
	}
	return clone(offer), nil
}

func (r *openOfferRepositoryImpl) GetAllOpenOffers(
	_ context.Context,
) ([]*domain.OpenOffer, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	offers := make([]*domain.OpenOffer, 0, len(r.offers))
	for _, o := range r.offers {
		offers = append(offers, clone(o))
	}
	return offers, nil
}

func (r *openOfferRepositoryImpl) UpdateOpenOffer(
	_ context.Context,
	offerId string,
	updateFn func(o *domain.OpenOffer) (*domain.OpenOffer, error),
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	offer, ok := r.offers[offerId]
	if !ok {
		return domain.ErrOpenOfferNotFound
	}

	updatedOffer, err := updateFn(clone(offer))
	if err != nil {
		return err
	}
	r.offers[offerId] = clone(updatedOffer)
	return nil
}

func (r *openOfferRepositoryImpl) DeleteOpenOffer(_ context.Context, offerId string) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.offers[offerId]; !ok {
		return domain.ErrOpenOfferNotFound
	}
	delete(r.offers, offerId)
	return nil
}
