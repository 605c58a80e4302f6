package domain

import "context"

// TradeRepository is the abstraction for any kind of database intended to
// persist Trades.
type TradeRepository interface {
	// AddTrade persists a new trade. It fails if a trade with the same id
	// already exists.
	AddTrade(ctx context.Context, trade *Trade) error
	// GetTrade returns the trade with the given id.
	GetTrade(ctx context.Context, tradeId string) (*Trade, error)
	// GetAllTrades returns all the trades stored in the repository.
	GetAllTrades(ctx context.Context) ([]*Trade, error)
	// GetTradesByBucket returns the open, closed or failed trades.
	GetTradesByBucket(ctx context.Context, bucket Bucket) ([]*Trade, error)
	// UpdateTrade allows to commit multiple changes to the same trade in a
	// transactional way.
	UpdateTrade(
		ctx context.Context,
		tradeId string,
		updateFn func(t *Trade) (*Trade, error),
	) error
	// SaveTrade upserts the given trade.
	SaveTrade(ctx context.Context, trade *Trade) error
}
