package trade

import (
	"context"
	"time"

	"github.com/tdex-network/escrowd/internal/core/domain"
)

// tradeObservable polls the escrow wallet of an open trade through the
// trade's lane until the trade leaves the open bucket, which happens at the
// latest once the payout is unlocked.
type tradeObservable struct {
	svc     *Service
	tradeId string
}

func newTradeObservable(svc *Service, tradeId string) *tradeObservable {
	return &tradeObservable{svc, tradeId}
}

func (o *tradeObservable) Key() string {
	return o.tradeId
}

func (o *tradeObservable) Observe(ctx context.Context) (time.Duration, bool, error) {
	var (
		next time.Duration
		done bool
	)
	err := o.svc.lanes.do(ctx, o.tradeId, func() error {
		trade := o.svc.openTrade(o.tradeId)
		if trade == nil {
			done = true
			return nil
		}
		defer o.svc.afterStep(trade)

		err := o.svc.protocol.ObserveTrade(ctx, trade)
		done = !trade.IsOpen()
		next = o.svc.pollInterval(trade)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return next, done, nil
}

// pollInterval is shorter while deposits or payout are waiting for
// confirmations.
func (s *Service) pollInterval(trade *domain.Trade) time.Duration {
	depositsInProgress := trade.IsDepositsPublished() && !trade.IsDepositsUnlocked()
	payoutInProgress := len(trade.PayoutTxHash) > 0 && !trade.IsPayoutUnlocked()
	if depositsInProgress || payoutInProgress {
		return s.pollIntervalActive
	}
	return s.pollIntervalIdle
}
