package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/config"
	"github.com/tdex-network/escrowd/internal/core/application"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/core/ports"
	"github.com/tdex-network/escrowd/internal/infrastructure/metrics"
	pubsub "github.com/tdex-network/escrowd/internal/infrastructure/pubsub"
	monerorpc "github.com/tdex-network/escrowd/internal/infrastructure/wallet/monero-rpc"
	httpinterface "github.com/tdex-network/escrowd/internal/interfaces/http"
	"github.com/tdex-network/escrowd/pkg/keyring"
	"github.com/tdex-network/escrowd/pkg/stats"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		log.WithError(err).Fatal("daemon stopped")
	}
	log.Info("exiting")
}

func run(ctx context.Context) error {
	network := config.GetString(config.NetworkKey)
	rpcUser := config.GetString(config.WalletRPCUserKey)
	rpcPassword := config.GetString(config.WalletRPCPasswordKey)
	daemonAddr := config.GetString(config.DaemonRPCAddrKey)

	kr, err := keyring.LoadOrCreate(
		config.GetKeyRingPath(), config.GetString(config.KeyRingPasswordKey),
	)
	if err != nil {
		return fmt.Errorf("failed to load keyring: %w", err)
	}

	if err := monerorpc.VerifyNetwork(
		ctx, daemonAddr, rpcUser, rpcPassword, network,
	); err != nil {
		return fmt.Errorf("failed to verify daemon network: %w", err)
	}
	daemon, err := monerorpc.NewDaemon(daemonAddr, rpcUser, rpcPassword)
	if err != nil {
		return err
	}
	walletSvc, err := monerorpc.NewService(monerorpc.Config{
		MainWalletAddr:     config.GetString(config.MainWalletRPCAddrKey),
		MainWalletName:     config.GetString(config.MainWalletNameKey),
		MainWalletPassword: config.GetString(config.WalletPasswordKey),
		WalletAddrs:        config.GetStringSlice(config.WalletRPCAddrsKey),
		User:               rpcUser,
		Password:           rpcPassword,
		WalletDir:          config.GetString(config.WalletDirKey),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to wallet rpc: %w", err)
	}
	defer walletSvc.Close()

	var securePubSub ports.SecurePubSub
	if path := config.GetPubSubDBPath(); len(path) > 0 {
		securePubSub, err = pubsub.NewService(path)
		if err != nil {
			return fmt.Errorf("failed to open webhook store: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var m *metrics.Metrics
	if config.GetBool(config.EnableMetricsKey) {
		if m, err = metrics.New(registry); err != nil {
			return err
		}
	}

	appConfig := &application.Config{
		DBType:               config.GetString(config.DBTypeKey),
		DBConfig:             config.GetDbDir(),
		WalletService:        walletSvc,
		Daemon:               daemon,
		KeyRing:              kr,
		SecurePubSub:         securePubSub,
		P2PListenAddress:     config.GetString(config.P2PListenAddrKey),
		P2PPublicAddress:     config.GetString(config.P2PPublicAddrKey),
		AckTimeout:           config.GetDuration(config.AckTimeoutKey),
		OutboxResendInterval: config.GetDuration(config.OutboxResendIntervalKey),
		TradeFeeAddress:      config.GetString(config.TradeFeeAddressKey),
		WalletPassword:       config.GetString(config.WalletPasswordKey),
		MaxFeeTolerance:      config.GetDecimal(config.MaxFeeToleranceKey),
		NumWorkers:           config.GetInt(config.NumWorkersKey),
		PollIntervalActive:   config.GetDuration(config.PollIntervalActiveKey),
		PollIntervalIdle:     config.GetDuration(config.PollIntervalIdleKey),
		PollRateLimit:        config.GetFloat(config.PollRateLimitKey),
		ShutdownGracePeriod:  config.GetDuration(config.ShutdownGracePeriodKey),
	}
	if m != nil {
		appConfig.Metrics = m
	}
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("invalid application config: %w", err)
	}
	repo := appConfig.RepoManager()
	defer repo.Close()
	if svc := appConfig.PubSubService(); svc != nil {
		defer svc.Close()
	}

	tradeSvc := appConfig.TradeService()
	if err := tradeSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start trade manager: %w", err)
	}
	defer tradeSvc.Stop(context.Background())

	opts := httpinterface.ServiceOpts{
		Address:               fmt.Sprintf(":%d", config.GetInt(config.OperatorListeningPortKey)),
		JWTSecret:             []byte(config.GetString(config.OperatorJWTSecretKey)),
		NoAuth:                config.GetBool(config.NoOperatorAuthKey),
		IsArbitrator:          config.GetBool(config.IsArbitratorKey),
		ArbitratorNodeAddress: config.GetString(config.ArbitratorAddrKey),
		Node:                  nodeInfo{appConfig.MessengerService(), kr},
		TradeSvc:              tradeSvc,
		PubSubSvc:             appConfig.PubSubService(),
	}
	if m != nil {
		opts.Gatherer = registry
	}
	operatorSvc, err := httpinterface.NewService(opts)
	if err != nil {
		return err
	}
	if err := operatorSvc.Start(); err != nil {
		return fmt.Errorf("failed to start operator interface: %w", err)
	}
	defer operatorSvc.Stop()

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	statsOpts := stats.Opts{
		Interval: config.GetDuration(config.StatsIntervalKey),
		Gatherer: registry,
	}
	if config.GetBool(config.EnableProfilerKey) {
		statsOpts.DumpDir = filepath.Join(config.GetDatadir(), config.ProfilerLocation)
	}
	if m != nil {
		statsOpts.Reporters = append(
			statsOpts.Reporters, pendingMailboxReporter(repo.MailboxRepository(), m),
		)
	}
	if err := stats.EnableStatistics(statsCtx, statsOpts); err != nil {
		return err
	}

	log.Infof("escrowd started on %s as %s", network, nodeRole(opts.IsArbitrator))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down daemon")
	return nil
}

// nodeInfo combines the address of the p2p transport with the keys of the
// local node.
type nodeInfo struct {
	messenger ports.Messenger
	keyRing   ports.KeyRing
}

func (n nodeInfo) NodeAddress() string {
	return n.messenger.NodeAddress()
}

func (n nodeInfo) PubKeyRing() domain.PubKeyRing {
	return n.keyRing.PubKeyRing()
}

func pendingMailboxReporter(
	repo domain.MailboxRepository, m *metrics.Metrics,
) stats.Reporter {
	return func(ctx context.Context) {
		msgs, err := repo.GetAllMessages(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to count pending mailbox messages")
			return
		}
		m.SetPendingMailboxMessages(len(msgs))
	}
}

func nodeRole(isArbitrator bool) string {
	if isArbitrator {
		return "arbitrator"
	}
	return "trader"
}
