package dbbadger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type tradeRepositoryImpl struct {
	store *badgerhold.Store
}

func NewTradeRepositoryImpl(store *badgerhold.Store) domain.TradeRepository {
	return &tradeRepositoryImpl{store}
}

func (r *tradeRepositoryImpl) AddTrade(
	_ context.Context, trade *domain.Trade,
) error {
	if err := r.store.Insert(trade.Id, *trade); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return domain.ErrTradeAlreadyExists
		}
		return err
	}
	return nil
}

func (r *tradeRepositoryImpl) GetTrade(
	_ context.Context, tradeId string,
) (*domain.Trade, error) {
	var trade domain.Trade
	if err := r.store.Get(tradeId, &trade); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}

func (r *tradeRepositoryImpl) GetAllTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	return r.findTrades(nil)
}

func (r *tradeRepositoryImpl) GetTradesByBucket(
	_ context.Context, bucket domain.Bucket,
) ([]*domain.Trade, error) {
	return r.findTrades(badgerhold.Where("Bucket").Eq(bucket))
}

func (r *tradeRepositoryImpl) UpdateTrade(
	_ context.Context,
	tradeId string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var trade domain.Trade
		if err := r.store.TxGet(tx, tradeId, &trade); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return domain.ErrTradeNotFound
			}
			return err
		}

		updatedTrade, err := updateFn(&trade)
		if err != nil {
			return err
		}
		return r.store.TxUpdate(tx, tradeId, *updatedTrade)
	})
}

func (r *tradeRepositoryImpl) SaveTrade(
	_ context.Context, trade *domain.Trade,
) error {
	return r.store.Upsert(trade.Id, *trade)
}

func (r *tradeRepositoryImpl) findTrades(
	query *badgerhold.Query,
) ([]*domain.Trade, error) {
	var trades []domain.Trade
	if err := r.store.Find(&trades, query); err != nil {
		return nil, err
	}

	res := make([]*domain.Trade, 0, len(trades))
	for i := range trades {
		res = append(res, &trades[i])
	}
	return res, nil
}
