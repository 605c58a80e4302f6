package application_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/application"
	"github.com/tdex-network/escrowd/internal/core/domain"
	"github.com/tdex-network/escrowd/internal/infrastructure/p2p/inmemory"
	"github.com/tdex-network/escrowd/internal/infrastructure/pubsub"
	"github.com/tdex-network/escrowd/internal/infrastructure/wallet/simulated"
	"github.com/tdex-network/escrowd/pkg/keyring"
)

const walletPassword = "password"

func newConfig(t *testing.T) *application.Config {
	kr, err := keyring.New()
	require.NoError(t, err)
	ledger := simulated.NewLedger(simulated.DefaultFee)
	feeAddress, err := simulated.NewWallet(ledger, "fees", walletPassword).
		PrimaryAddress(context.Background())
	require.NoError(t, err)

	return &application.Config{
		DBType:          application.DBInMemory,
		WalletService:   simulated.NewService(ledger, walletPassword),
		Daemon:          ledger,
		KeyRing:         kr,
		Messenger:       inmemory.NewNetwork().NewNode("localhost:9999", kr),
		TradeFeeAddress: feeAddress,
		WalletPassword:  walletPassword,
	}
}

func TestConfig(t *testing.T) {
	t.Parallel()

	t.Run("wires the services once", func(t *testing.T) {
		t.Parallel()

		cfg := newConfig(t)
		require.NoError(t, cfg.Validate())

		tradeSvc := cfg.TradeService()
		require.NotNil(t, tradeSvc)
		require.Same(t, tradeSvc, cfg.TradeService())
		require.NotNil(t, cfg.DisputeService())
		require.Same(t, cfg.Messenger, cfg.MessengerService())
		require.Nil(t, cfg.PubSubService())

		trades, err := tradeSvc.ListTrades(context.Background(), domain.BucketOpen)
		require.NoError(t, err)
		require.Empty(t, trades)
	})

	t.Run("with webhooks", func(t *testing.T) {
		t.Parallel()

		securePubSub, err := pubsub.NewService(filepath.Join(t.TempDir(), "pubsub.db"))
		require.NoError(t, err)

		cfg := newConfig(t)
		cfg.SecurePubSub = securePubSub
		require.NoError(t, cfg.Validate())

		pubsubSvc := cfg.PubSubService()
		require.NotNil(t, pubsubSvc)
		t.Cleanup(pubsubSvc.Close)

		hooks, err := pubsubSvc.ListWebhooks(context.Background(), "")
		require.NoError(t, err)
		require.Empty(t, hooks)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name          string
			edit          func(cfg *application.Config)
			expectedError string
		}{
			{
				name:          "unsupported db",
				edit:          func(cfg *application.Config) { cfg.DBType = "sql" },
				expectedError: application.ErrUnsupportedDBType.Error(),
			},
			{
				name:          "missing wallet service",
				edit:          func(cfg *application.Config) { cfg.WalletService = nil },
				expectedError: "missing wallet service",
			},
			{
				name:          "missing daemon",
				edit:          func(cfg *application.Config) { cfg.Daemon = nil },
				expectedError: "missing daemon",
			},
			{
				name:          "missing p2p listen address",
				edit:          func(cfg *application.Config) { cfg.Messenger = nil },
				expectedError: "missing listen address",
			},
			{
				name:          "missing trade fee address",
				edit:          func(cfg *application.Config) { cfg.TradeFeeAddress = "" },
				expectedError: "missing trade fee address",
			},
		}

		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				cfg := newConfig(t)
				tt.edit(cfg)
				require.EqualError(t, cfg.Validate(), tt.expectedError)
			})
		}
	})
}
