package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/tdex-network/escrowd/internal/core/domain"
)

type tradeRepositoryImpl struct {
	trades map[string]*domain.Trade
	locker *sync.RWMutex
}

// NewTradeRepositoryImpl returns a new inmemory TradeRepository implementation.
func NewTradeRepositoryImpl() domain.TradeRepository {
	return &tradeRepositoryImpl{
		trades: map[string]*domain.Trade{},
		locker: &sync.RWMutex{},
	}
}

func (r *tradeRepositoryImpl) AddTrade(_ context.Context, trade *domain.Trade) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	if _, ok := r.trades[trade.Id]; ok {
		return domain.ErrTradeAlreadyExists
	}
	r.trades[trade.Id] = clone(trade)
	return nil
}

func (r *tradeRepositoryImpl) GetTrade(_ context.Context, tradeId string) (*domain.Trade, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	trade, ok := r.trades[tradeId]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return clone(trade), nil
}

func (r *tradeRepositoryImpl) GetAllTrades(_ context.Context) ([]*domain.Trade, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	return r.findTrades(func(*domain.Trade) bool { return true }), nil
}

func (r *tradeRepositoryImpl) GetTradesByBucket(
	_ context.Context, bucket domain.Bucket,
) ([]*domain.Trade, error) {
	r.locker.RLock()
	defer r.locker.RUnlock()

	return r.findTrades(func(t *domain.Trade) bool { return t.Bucket == bucket }), nil
}

func (r *tradeRepositoryImpl) UpdateTrade(
	_ context.Context,
	tradeId string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	trade, ok := r.trades[tradeId]
	if !ok {
		return domain.ErrTradeNotFound
	}

	updatedTrade, err := updateFn(clone(trade))
	if err != nil {
		return err
	}
	r.trades[tradeId] = clone(updatedTrade)
	return nil
}

func (r *tradeRepositoryImpl) SaveTrade(_ context.Context, trade *domain.Trade) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	r.trades[trade.Id] = clone(trade)
	return nil
}

func (r *tradeRepositoryImpl) findTrades(match func(*domain.Trade) bool) []*domain.Trade {
	trades := make([]*domain.Trade, 0, len(r.trades))
	for _, t := range r.trades {
		if match(t) {
			trades = append(trades, clone(t))
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].StartTime < trades[j].StartTime
	})
	return trades
}
