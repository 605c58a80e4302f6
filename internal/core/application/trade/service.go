// Package trade implements the trade manager. It routes the inbound protocol
// messages to their trades, runs the operator actions, and keeps the open
// trades moving by observing their wallets. All the work on a trade is
// serialized in the lane of the trade.
package trade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/application/dispute"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/tdex-network/escrowd/pkg/crawler"
	"golang.org/x/time/rate"
)

const (
	DefaultNumWorkers          = 8
	DefaultPollIntervalActive  = 10 * time.Second
	DefaultPollIntervalIdle    = time.Minute
	DefaultPollRateLimit       = rate.Limit(10)
	DefaultShutdownGracePeriod = 30 * time.Second
)

var (
	ErrServiceUnavailable = errors.New("service is unavailable, retry later")
	ErrShuttingDown       = protocol.ErrShuttingDown
	ErrTradeNotOpen       = errors.New("trade is not open")
)

// Metrics collects the stats of the trade manager.
type Metrics interface {
	MessageReceived(msgType domain.MessageType, fromMailbox bool)
	MessageDropped(reason string)
	SetOpenTrades(n int)
	SetActiveLanes(n int)
}

type Config struct {
	Protocol  *protocol.Protocol
	Disputes  dispute.Service
	Repo      ports.RepoManager
	Messenger ports.Messenger
	Bus       *EventBus
	Locks     *protocol.LockRegistry
	Metrics   Metrics

	NumWorkers          int
	PollIntervalActive  time.Duration
	PollIntervalIdle    time.Duration
	PollRateLimit       rate.Limit
	ShutdownGracePeriod time.Duration
}

func (c Config) validate() error {
	if c.Protocol == nil {
		return fmt.Errorf("missing protocol")
	}
	if c.Disputes == nil {
		return fmt.Errorf("missing dispute service")
	}
	if c.Repo == nil {
		return fmt.Errorf("missing repo manager")
	}
	if c.Messenger == nil {
		return fmt.Errorf("missing messenger")
	}
	if c.Bus == nil {
		return fmt.Errorf("missing event bus")
	}
	if c.Locks == nil {
		return fmt.Errorf("missing lock registry")
	}
	if c.PollIntervalIdle > 0 && c.PollIntervalActive > c.PollIntervalIdle {
		return fmt.Errorf("active poll interval must not exceed the idle one")
	}
	return nil
}

type Service struct {
	protocol  *protocol.Protocol
	disputes  dispute.Service
	repo      ports.RepoManager
	messenger ports.Messenger
	bus       *EventBus
	locks     *protocol.LockRegistry
	metrics   Metrics

	lanes  *lanes
	poller crawler.Service

	pollIntervalActive  time.Duration
	pollIntervalIdle    time.Duration
	shutdownGracePeriod time.Duration

	lock       sync.RWMutex
	openTrades map[string]*domain.Trade

	// jobCtx is the context of the jobs run in the lanes. It outlives the
	// inbox listener so that the queued jobs can complete during shutdown.
	jobCtx         context.Context
	cancelJobs     context.CancelFunc
	cancelListener context.CancelFunc
	listenerDone   chan struct{}
	stopOnce       sync.Once
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = DefaultNumWorkers
	}
	if cfg.PollIntervalActive <= 0 {
		cfg.PollIntervalActive = DefaultPollIntervalActive
	}
	if cfg.PollIntervalIdle <= 0 {
		cfg.PollIntervalIdle = DefaultPollIntervalIdle
	}
	if cfg.PollRateLimit <= 0 {
		cfg.PollRateLimit = DefaultPollRateLimit
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = DefaultShutdownGracePeriod
	}

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	svc := &Service{
		protocol:            cfg.Protocol,
		disputes:            cfg.Disputes,
		repo:                cfg.Repo,
		messenger:           cfg.Messenger,
		bus:                 cfg.Bus,
		locks:               cfg.Locks,
		metrics:             cfg.Metrics,
		lanes:               newLanes(cfg.NumWorkers, cfg.Metrics.SetActiveLanes),
		pollIntervalActive:  cfg.PollIntervalActive,
		pollIntervalIdle:    cfg.PollIntervalIdle,
		shutdownGracePeriod: cfg.ShutdownGracePeriod,
		openTrades:          make(map[string]*domain.Trade),
		jobCtx:              jobCtx,
		cancelJobs:          cancelJobs,
		listenerDone:        make(chan struct{}),
	}
	svc.poller = crawler.NewService(crawler.Opts{
		Interval:  cfg.PollIntervalIdle,
		RateLimit: cfg.PollRateLimit,
		ErrorHandler: func(err error) {
			log.WithError(err).Debug("trade observation failed")
		},
	})
	return svc, nil
}

// Start restores the open trades, starts observing those with a multisig
// wallet, and begins processing the messages of the inbox.
func (s *Service) Start(ctx context.Context) error {
	trades, err := s.repo.TradeRepository().GetTradesByBucket(ctx, domain.BucketOpen)
	if err != nil {
		return fmt.Errorf("failed to load open trades: %w", err)
	}

	go s.poller.Start()
	for _, trade := range trades {
		s.addOpenTrade(trade)
		s.maybeObserve(trade)
	}
	log.Infof("restored %d open trades", len(trades))

	listenerCtx, cancel := context.WithCancel(context.Background())
	s.cancelListener = cancel
	go s.listen(listenerCtx)

	return s.messenger.Start(ctx)
}

// Stop prevents any new network operation from starting, stops observing
// the trades, and gives the pending jobs a grace period to complete before
// closing the wallets left open.
func (s *Service) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		log.Info("shutting down trade manager")
		s.protocol.BeginShutdown()
		s.poller.Stop()

		if s.cancelListener != nil {
			s.cancelListener()
			<-s.listenerDone
		}
		if !s.lanes.close(s.shutdownGracePeriod) {
			log.Warn("trade lanes didn't drain in time, forcing shutdown")
		}
		s.cancelJobs()

		s.protocol.Stop(ctx)
		s.messenger.Stop()
		s.bus.Close()
	})
}

// PlaceOffer makes the local node the maker of the given offer.
func (s *Service) PlaceOffer(
	ctx context.Context, offer domain.Offer, account domain.PaymentAccount,
) (*domain.OpenOffer, error) {
	var openOffer *domain.OpenOffer
	if err := s.lanes.do(ctx, offer.Id, func() (err error) {
		openOffer, err = s.protocol.PlaceOffer(ctx, offer, account)
		return
	}); err != nil {
		return nil, err
	}
	return openOffer, nil
}

func (s *Service) CancelOffer(ctx context.Context, offerId string) error {
	return s.lanes.do(ctx, offerId, func() error {
		return s.protocol.CancelOffer(ctx, offerId)
	})
}

func (s *Service) ListOpenOffers(ctx context.Context) ([]*domain.OpenOffer, error) {
	return s.repo.OpenOfferRepository().GetAllOpenOffers(ctx)
}

// TakeOffer starts a new trade as taker of the given offer. A trade whose
// request can't reach the maker is failed and its reserved funds are
// released.
func (s *Service) TakeOffer(
	ctx context.Context, offer domain.Offer, amount uint64,
	account domain.PaymentAccount,
) (*domain.Trade, error) {
	trade, err := s.protocol.NewTakerTrade(offer, amount, account)
	if err != nil {
		return nil, err
	}

	var snapshot *domain.Trade
	if err := s.lanes.do(ctx, trade.Id, func() error {
		if s.openTrade(trade.Id) != nil {
			return domain.ErrTradeAlreadyExists
		}
		if err := s.repo.TradeRepository().AddTrade(ctx, trade); err != nil {
			return err
		}
		s.addOpenTrade(trade)
		defer s.afterStep(trade)

		if err := s.protocol.TakeOffer(ctx, trade); err != nil {
			if failErr := s.protocol.FailTrade(
				s.jobCtx, trade, fmt.Sprintf("failed to take offer: %s", err),
			); failErr != nil {
				log.WithError(failErr).Warnf("failed to persist trade %s", trade.ShortId())
			}
			return err
		}
		snapshot = trade.Clone()
		return nil
	}); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ConfirmPaymentSent is the buyer's confirmation that the counter value of
// the trade has been sent.
func (s *Service) ConfirmPaymentSent(
	ctx context.Context, tradeId, counterCurrencyTxId string,
) error {
	return s.withOpenTrade(ctx, tradeId, func(trade *domain.Trade) error {
		return s.protocol.ConfirmPaymentSent(ctx, trade, counterCurrencyTxId)
	})
}

// ConfirmPaymentReceived is the seller's confirmation that the counter
// value of the trade has been received.
func (s *Service) ConfirmPaymentReceived(ctx context.Context, tradeId string) error {
	return s.withOpenTrade(ctx, tradeId, func(trade *domain.Trade) error {
		return s.protocol.ConfirmPaymentReceived(ctx, trade)
	})
}

func (s *Service) OpenDispute(ctx context.Context, tradeId, reason string) error {
	return s.withOpenTrade(ctx, tradeId, func(trade *domain.Trade) error {
		return s.disputes.OpenDispute(ctx, trade, reason)
	})
}

// CloseDispute resolves the dispute of the given trade. It's the
// arbitrator's action.
func (s *Service) CloseDispute(
	ctx context.Context, tradeId string, result domain.DisputeResult,
) error {
	return s.withOpenTrade(ctx, tradeId, func(trade *domain.Trade) error {
		return s.disputes.CloseDispute(ctx, trade, result)
	})
}

func (s *Service) GetDispute(ctx context.Context, tradeId string) (*domain.Dispute, error) {
	return s.disputes.GetDispute(ctx, tradeId)
}

func (s *Service) ListDisputes(ctx context.Context) ([]*domain.Dispute, error) {
	return s.disputes.ListDisputes(ctx)
}

// GetTrade returns a copy of the trade with the given id.
func (s *Service) GetTrade(ctx context.Context, tradeId string) (*domain.Trade, error) {
	var snapshot *domain.Trade
	if err := s.lanes.do(ctx, tradeId, func() error {
		if trade := s.openTrade(tradeId); trade != nil {
			snapshot = trade.Clone()
			return nil
		}
		trade, err := s.repo.TradeRepository().GetTrade(ctx, tradeId)
		if err != nil {
			return err
		}
		snapshot = trade
		return nil
	}); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *Service) ListTrades(
	ctx context.Context, bucket domain.Bucket,
) ([]*domain.Trade, error) {
	return s.repo.TradeRepository().GetTradesByBucket(ctx, bucket)
}

// WaitFor returns a channel notified with the first event of the trade that
// satisfies the given predicate.
func (s *Service) WaitFor(
	ctx context.Context, tradeId string, match func(protocol.TradeEvent) bool,
) <-chan protocol.TradeEvent {
	return s.bus.WaitFor(ctx, tradeId, match)
}

func (s *Service) withOpenTrade(
	ctx context.Context, tradeId string, fn func(trade *domain.Trade) error,
) error {
	return s.lanes.do(ctx, tradeId, func() error {
		trade := s.openTrade(tradeId)
		if trade == nil {
			return s.notOpenError(ctx, tradeId)
		}
		defer s.afterStep(trade)
		return fn(trade)
	})
}

func (s *Service) notOpenError(ctx context.Context, tradeId string) error {
	if _, err := s.repo.TradeRepository().GetTrade(ctx, tradeId); err != nil {
		return err
	}
	return ErrTradeNotOpen
}

func (s *Service) listen(ctx context.Context) {
	defer close(s.listenerDone)

	inbox := s.messenger.Inbox()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-inbox:
			if !ok {
				return
			}
			for _, in := range sortByPriority(batch) {
				s.route(in)
			}
		}
	}
}

// sortByPriority orders the messages of a mailbox batch by their causal
// dependency. Messages with the same priority keep their arrival order.
func sortByPriority(batch []ports.InboundMessage) []ports.InboundMessage {
	if len(batch) <= 1 {
		return batch
	}
	sorted := make([]ports.InboundMessage, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return domain.MailboxPriority(sorted[i].Message.Type()) <
			domain.MailboxPriority(sorted[j].Message.Type())
	})
	return sorted
}

func (s *Service) route(in ports.InboundMessage) {
	msg := in.Message
	s.metrics.MessageReceived(msg.Type(), in.FromMailbox)

	tradeId := msg.Header().TradeId
	if len(tradeId) <= 0 {
		s.drop(in, "malformed", "missing trade id")
		return
	}
	if err := s.lanes.submit(tradeId, func() {
		s.handleMessage(s.jobCtx, in)
	}); err != nil {
		s.drop(in, "shutting_down", err.Error())
	}
}

func (s *Service) handleMessage(ctx context.Context, in ports.InboundMessage) {
	trade := s.tradeFor(ctx, in)
	if trade == nil {
		return
	}
	defer s.afterStep(trade)

	handle := s.protocol.HandleMessage
	if isDisputeMessage(in.Message.Type()) {
		handle = s.disputes.HandleMessage
	}
	if err := handle(ctx, trade, in); err != nil {
		log.WithError(err).Warnf(
			"failed to process %s for trade %s", in.Message.Type(), trade.ShortId(),
		)
		s.maybeFail(ctx, trade, err)
	}
}

// tradeFor returns the open trade the given message refers to. The trade is
// created if the message is the request initiating it.
func (s *Service) tradeFor(ctx context.Context, in ports.InboundMessage) *domain.Trade {
	msg := in.Message
	tradeId := msg.Header().TradeId
	req, isInitRequest := msg.(*domain.InitTradeRequest)

	if trade := s.openTrade(tradeId); trade != nil {
		if isInitRequest && trade.PeerByAddress(req.SenderNodeAddress) == nil {
			s.drop(in, "offer_taken", "offer already taken by another peer")
			return nil
		}
		return trade
	}

	if _, err := s.repo.TradeRepository().GetTrade(ctx, tradeId); err == nil {
		s.drop(in, "trade_not_open", "trade is closed or failed")
		return nil
	}
	if !isInitRequest {
		s.drop(in, "unknown_trade", "unknown trade")
		return nil
	}

	trade, err := s.protocol.NewTradeFromRequest(ctx, req)
	if err != nil {
		s.drop(in, "invalid_request", err.Error())
		return nil
	}
	if err := s.repo.TradeRepository().AddTrade(ctx, trade); err != nil {
		s.drop(in, "storage", err.Error())
		return nil
	}
	s.addOpenTrade(trade)
	log.Infof("new trade %s as %s", trade.ShortId(), trade.Role)
	return trade
}

// maybeFail moves the trade to the failed bucket if the given error leaves
// no way for the trade to progress automatically.
func (s *Service) maybeFail(ctx context.Context, trade *domain.Trade, err error) {
	if !trade.IsOpen() || trade.IsDepositsPublished() {
		return
	}
	// Messages from strangers don't affect the trade.
	if errors.Is(err, protocol.ErrUnknownSender) ||
		errors.Is(err, protocol.ErrSenderAddressMismatch) ||
		errors.Is(err, domain.ErrUnknownMessageType) {
		return
	}

	inBootstrap := trade.State < domain.StateContractSigned
	if protocol.IsFundsSafetyViolation(err) ||
		(inBootstrap && protocol.IsProtocolViolation(err)) {
		if failErr := s.protocol.FailTrade(ctx, trade, err.Error()); failErr != nil {
			log.WithError(failErr).Warnf("failed to persist trade %s", trade.ShortId())
		}
	}
}

// afterStep is called in the lane of the trade after every job.
func (s *Service) afterStep(trade *domain.Trade) {
	if !trade.IsOpen() {
		s.removeOpenTrade(trade.Id)
		s.locks.Delete(trade.Id)
		return
	}
	s.maybeObserve(trade)
}

func (s *Service) maybeObserve(trade *domain.Trade) {
	if trade.IsOpen() && trade.State >= domain.StateMultisigCompleted {
		s.poller.AddObservable(newTradeObservable(s, trade.Id))
	}
}

func (s *Service) drop(in ports.InboundMessage, reason, details string) {
	s.metrics.MessageDropped(reason)
	log.Warnf(
		"dropping %s for trade %s from %s: %s", in.Message.Type(),
		in.Message.Header().TradeId, in.SenderAddress, details,
	)
}

func (s *Service) openTrade(tradeId string) *domain.Trade {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.openTrades[tradeId]
}

func (s *Service) addOpenTrade(trade *domain.Trade) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.openTrades[trade.Id] = trade
	s.metrics.SetOpenTrades(len(s.openTrades))
}

func (s *Service) removeOpenTrade(tradeId string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.openTrades, tradeId)
	s.metrics.SetOpenTrades(len(s.openTrades))
}

func isDisputeMessage(t domain.MessageType) bool {
	return t == domain.MsgDisputeOpened || t == domain.MsgDisputeClosed
}

type noopMetrics struct{}

func (noopMetrics) MessageReceived(domain.MessageType, bool) {}
func (noopMetrics) MessageDropped(string)                    {}
func (noopMetrics) SetOpenTrades(int)                        {}
func (noopMetrics) SetActiveLanes(int)                       {}
