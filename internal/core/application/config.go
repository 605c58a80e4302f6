package application

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/application/dispute"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/application/pubsub"
	"github.com/tdex-network/escrowd/internal/core/application/trade"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	wstransport "github.com/tdex-network/escrowd/internal/infrastructure/p2p/websocket"
	dbbadger "github.com/tdex-network/escrowd/internal/infrastructure/storage/db/badger"
	dbinmemory "github.com/tdex-network/escrowd/internal/infrastructure/storage/db/inmemory"
	"golang.org/x/time/rate"
)

const (
	DBBadger   = "badger"
	DBInMemory = "inmemory"
)

var (
	SupportedDBType = map[string]struct{}{
		DBBadger:   {},
		DBInMemory: {},
	}
)

// Metrics collects the stats of the trade manager and of the trade events.
type Metrics interface {
	trade.Metrics
	ObserveTradeEvent(t *domain.Trade, event protocol.TradeEvent)
}

// Config wires the application services lazily. Each service is built on
// first access together with its dependencies.
type Config struct {
	DBType   string
	DBConfig interface{}

	WalletService ports.WalletService
	Daemon        ports.Daemon
	KeyRing       ports.KeyRing
	SecurePubSub  ports.SecurePubSub
	Metrics       Metrics
	// Messenger replaces the websocket transport if defined.
	Messenger ports.Messenger

	P2PListenAddress     string
	P2PPublicAddress     string
	AckTimeout           time.Duration
	OutboxResendInterval time.Duration

	TradeFeeAddress     string
	WalletPassword      string
	MaxFeeTolerance     decimal.Decimal
	NumWorkers          int
	PollIntervalActive  time.Duration
	PollIntervalIdle    time.Duration
	PollRateLimit       float64
	ShutdownGracePeriod time.Duration

	repo      ports.RepoManager
	messenger ports.Messenger
	disputes  dispute.Service
	pubsub    *pubsub.Service
	trade     *trade.Service
}

func (c *Config) Validate() error {
	if _, ok := SupportedDBType[c.DBType]; !ok {
		return ErrUnsupportedDBType
	}
	if c.WalletService == nil {
		return fmt.Errorf("missing wallet service")
	}
	if c.Daemon == nil {
		return fmt.Errorf("missing daemon")
	}
	if c.KeyRing == nil {
		return fmt.Errorf("missing keyring")
	}
	if _, err := c.repoManager(); err != nil {
		return err
	}
	if _, err := c.messengerService(); err != nil {
		return err
	}
	if _, err := c.tradeService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) RepoManager() ports.RepoManager {
	repo, _ := c.repoManager()
	return repo
}

func (c *Config) MessengerService() ports.Messenger {
	svc, _ := c.messengerService()
	return svc
}

// PubSubService returns nil if no SecurePubSub is configured.
func (c *Config) PubSubService() PubSubService {
	svc := c.pubsubService()
	if svc == nil {
		return nil
	}
	return svc
}

func (c *Config) DisputeService() dispute.Service {
	svc, _ := c.disputeService()
	return svc
}

func (c *Config) TradeService() TradeService {
	svc, _ := c.tradeService()
	if svc == nil {
		return nil
	}
	return svc
}

func (c *Config) repoManager() (ports.RepoManager, error) {
	if c.repo == nil {
		switch c.DBType {
		case DBBadger:
			datadir, ok := c.DBConfig.(string)
			if !ok {
				return nil, fmt.Errorf("invalid badger db config, expected datadir path")
			}
			logger := log.New()
			logger.SetLevel(log.WarnLevel)
			repoManager, err := dbbadger.NewRepoManager(datadir, logger)
			if err != nil {
				return nil, err
			}
			c.repo = repoManager
		case DBInMemory:
			c.repo = dbinmemory.NewRepoManager()
		default:
			return nil, ErrUnsupportedDBType
		}
	}
	return c.repo, nil
}

func (c *Config) messengerService() (ports.Messenger, error) {
	if c.messenger == nil {
		if c.Messenger != nil {
			c.messenger = c.Messenger
			return c.messenger, nil
		}
		repo, err := c.repoManager()
		if err != nil {
			return nil, err
		}
		messenger, err := wstransport.NewService(wstransport.Config{
			ListenAddress:  c.P2PListenAddress,
			PublicAddress:  c.P2PPublicAddress,
			KeyRing:        c.KeyRing,
			Outbox:         repo.MailboxRepository(),
			AckTimeout:     c.AckTimeout,
			ResendInterval: c.OutboxResendInterval,
		})
		if err != nil {
			return nil, err
		}
		c.messenger = messenger
	}
	return c.messenger, nil
}

func (c *Config) pubsubService() *pubsub.Service {
	if c.pubsub == nil && c.SecurePubSub != nil {
		c.pubsub = pubsub.NewService(c.SecurePubSub)
	}
	return c.pubsub
}

func (c *Config) protocolService(
	bus *trade.EventBus, locks *protocol.LockRegistry,
) (*protocol.Protocol, error) {
	repo, err := c.repoManager()
	if err != nil {
		return nil, err
	}
	messenger, err := c.messengerService()
	if err != nil {
		return nil, err
	}
	return protocol.NewProtocol(protocol.Config{
		Wallets:         c.WalletService,
		Daemon:          c.Daemon,
		Messenger:       messenger,
		KeyRing:         c.KeyRing,
		Repo:            repo,
		Store:           trade.NewTradeStore(repo.TradeRepository(), bus),
		Locks:           locks,
		TradeFeeAddress: c.TradeFeeAddress,
		WalletPassword:  c.WalletPassword,
		MaxFeeTolerance: c.MaxFeeTolerance,
		Timeout:         c.AckTimeout,
	})
}

func (c *Config) disputeService() (dispute.Service, error) {
	if c.disputes == nil {
		if _, err := c.tradeService(); err != nil {
			return nil, err
		}
	}
	return c.disputes, nil
}

func (c *Config) tradeService() (*trade.Service, error) {
	if c.trade == nil {
		repo, err := c.repoManager()
		if err != nil {
			return nil, err
		}
		messenger, err := c.messengerService()
		if err != nil {
			return nil, err
		}

		listeners := make([]trade.Listener, 0, 2)
		if svc := c.pubsubService(); svc != nil {
			listeners = append(listeners, svc.PublishTradeEvent)
		}
		var metrics trade.Metrics
		if c.Metrics != nil {
			listeners = append(listeners, c.Metrics.ObserveTradeEvent)
			metrics = c.Metrics
		}
		bus := trade.NewEventBus(listeners...)
		locks := protocol.NewLockRegistry()

		p, err := c.protocolService(bus, locks)
		if err != nil {
			bus.Close()
			return nil, err
		}
		disputes := dispute.NewService(p, repo.DisputeRepository())

		svc, err := trade.NewService(trade.Config{
			Protocol:            p,
			Disputes:            disputes,
			Repo:                repo,
			Messenger:           messenger,
			Bus:                 bus,
			Locks:               locks,
			Metrics:             metrics,
			NumWorkers:          c.NumWorkers,
			PollIntervalActive:  c.PollIntervalActive,
			PollIntervalIdle:    c.PollIntervalIdle,
			PollRateLimit:       rate.Limit(c.PollRateLimit),
			ShutdownGracePeriod: c.ShutdownGracePeriod,
		})
		if err != nil {
			bus.Close()
			return nil, err
		}
		c.disputes = disputes
		c.trade = svc
	}
	return c.trade, nil
}
