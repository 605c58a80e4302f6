package domain

import "context"

// OpenOfferRepository persists the maker's own offers.
type OpenOfferRepository interface {
	AddOpenOffer(ctx context.Context, offer *OpenOffer) error
	GetOpenOffer(ctx context.Context, offerId string) (*OpenOffer, error)
	GetAllOpenOffers(ctx context.Context) ([]*OpenOffer, error)
	UpdateOpenOffer(
		ctx context.Context,
		offerId string,
		updateFn func(o *OpenOffer) (*OpenOffer, error),
	) error
	DeleteOpenOffer(ctx context.Context, offerId string) error
}
