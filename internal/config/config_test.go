package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setValidEnv(t *testing.T) string {
	datadir := t.TempDir()
	env := map[string]string{
		"ESCROW_DATADIR":              datadir,
		"ESCROW_OPERATOR_JWT_SECRET":  "secret",
		"ESCROW_WALLET_RPC_ADDRS":     "localhost:18084, localhost:18085,",
		"ESCROW_MAIN_WALLET_RPC_ADDR": "localhost:18083",
		"ESCROW_DAEMON_RPC_ADDR":      "localhost:18081",
		"ESCROW_WALLET_PASSWORD":      "password",
		"ESCROW_KEYRING_PASSWORD":     "password",
		"ESCROW_TRADE_FEE_ADDRESS":    "fee-address",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	return datadir
}

func TestInitConfig(t *testing.T) {
	datadir := setValidEnv(t)
	t.Setenv("ESCROW_POLL_INTERVAL_ACTIVE", "5s")

	require.NoError(t, InitConfig())

	require.Equal(t, datadir, GetDatadir())
	require.Equal(t, []string{"localhost:18084", "localhost:18085"}, GetStringSlice(WalletRPCAddrsKey))
	require.Equal(t, 5*time.Second, GetDuration(PollIntervalActiveKey))
	require.Equal(t, time.Minute, GetDuration(PollIntervalIdleKey))
	require.Equal(t, "0.25", GetDecimal(MaxFeeToleranceKey).String())
	require.Equal(t, filepath.Join(datadir, "pubsub.db"), GetPubSubDBPath())
	require.Equal(t, filepath.Join(datadir, KeyRingFile), GetKeyRingPath())

	info, err := os.Stat(GetDbDir())
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestInitConfigDisabledWebhooks(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ESCROW_PUBSUB_DB", "")

	require.NoError(t, InitConfig())
	require.Empty(t, GetPubSubDBPath())
}

func TestInitConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "unknown network",
			env:  map[string]string{"ESCROW_NETWORK": "regtest"},
		},
		{
			name: "unsupported db",
			env:  map[string]string{"ESCROW_DB_TYPE": "postgres"},
		},
		{
			name: "missing jwt secret",
			env:  map[string]string{"ESCROW_OPERATOR_JWT_SECRET": ""},
		},
		{
			name: "missing wallet rpc addresses",
			env:  map[string]string{"ESCROW_WALLET_RPC_ADDRS": " , "},
		},
		{
			name: "missing trade fee address",
			env:  map[string]string{"ESCROW_TRADE_FEE_ADDRESS": ""},
		},
		{
			name: "negative fee tolerance",
			env:  map[string]string{"ESCROW_MAX_FEE_TOLERANCE": "-0.1"},
		},
		{
			name: "active poll interval longer than idle",
			env: map[string]string{
				"ESCROW_POLL_INTERVAL_ACTIVE": "2m",
				"ESCROW_POLL_INTERVAL_IDLE":   "1m",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setValidEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			require.Error(t, InitConfig())
		})
	}
}

func TestInitConfigNoAuth(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ESCROW_OPERATOR_JWT_SECRET", "")
	t.Setenv("ESCROW_NO_OPERATOR_AUTH", "true")

	require.NoError(t, InitConfig())
}
