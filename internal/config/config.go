package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/tdex-network/escrowd/internal/core/application"
)

const (
	// DatadirKey is the local data directory to store the internal state of daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NetworkKey is the XMR network, one of mainnet, stagenet or testnet
	NetworkKey = "NETWORK"
	// DBTypeKey is used to switch database type between those supported
	DBTypeKey = "DB_TYPE"
	// P2PListenAddrKey is the host:port where the p2p transport listens on
	P2PListenAddrKey = "P2P_LISTEN_ADDR"
	// P2PPublicAddrKey is the address advertised to the other peers. Defaults
	// to the listen address.
	P2PPublicAddrKey = "P2P_PUBLIC_ADDR"
	// OperatorListeningPortKey is the port where the operator HTTP interface will listen on
	OperatorListeningPortKey = "OPERATOR_LISTENING_PORT"
	// OperatorJWTSecretKey is the secret used to verify the bearer tokens of
	// the operator interface
	OperatorJWTSecretKey = "OPERATOR_JWT_SECRET"
	// NoOperatorAuthKey is used to start the daemon without authentication on
	// the operator interface
	NoOperatorAuthKey = "NO_OPERATOR_AUTH"
	// WalletRPCAddrsKey is the comma separated list of monero-wallet-rpc
	// endpoints serving the escrow wallets of the trades
	WalletRPCAddrsKey = "WALLET_RPC_ADDRS"
	// WalletRPCUserKey and WalletRPCPasswordKey are the credentials of the
	// wallet and daemon RPC endpoints
	WalletRPCUserKey     = "WALLET_RPC_USER"
	WalletRPCPasswordKey = "WALLET_RPC_PASSWORD"
	// WalletDirKey is the --wallet-dir of the monero-wallet-rpc instances
	WalletDirKey = "WALLET_DIR"
	// MainWalletRPCAddrKey is the monero-wallet-rpc endpoint of the funding wallet
	MainWalletRPCAddrKey = "MAIN_WALLET_RPC_ADDR"
	// MainWalletNameKey is the file name of the funding wallet
	MainWalletNameKey = "MAIN_WALLET_NAME"
	// DaemonRPCAddrKey is the monerod RPC endpoint
	DaemonRPCAddrKey = "DAEMON_RPC_ADDR"
	// WalletPasswordKey protects the wallets, it's also the multisig password
	WalletPasswordKey = "WALLET_PASSWORD"
	// KeyRingPasswordKey protects the keyring file
	KeyRingPasswordKey = "KEYRING_PASSWORD"
	// IsArbitratorKey makes the daemon run as arbitrator. An arbitrator
	// can't place or take offers.
	IsArbitratorKey = "IS_ARBITRATOR"
	// ArbitratorAddrKey is the default arbitrator node address of the
	// offers placed by this daemon
	ArbitratorAddrKey = "ARBITRATOR_ADDR"
	// TradeFeeAddressKey is the address receiving the trade fees
	TradeFeeAddressKey = "TRADE_FEE_ADDRESS"
	// MaxFeeToleranceKey is the max relative difference between the miner fee
	// of a payout tx and the local estimation
	MaxFeeToleranceKey = "MAX_FEE_TOLERANCE"
	// NumWorkersKey is the size of the pool running the trade jobs
	NumWorkersKey = "NUM_WORKERS"
	// AckTimeoutKey is how long a protocol step waits for a peer
	AckTimeoutKey = "ACK_TIMEOUT"
	// PollIntervalActiveKey and PollIntervalIdleKey are the intervals for
	// polling the escrow wallets while txs are confirming and otherwise
	PollIntervalActiveKey = "POLL_INTERVAL_ACTIVE"
	PollIntervalIdleKey   = "POLL_INTERVAL_IDLE"
	// PollRateLimitKey is the max number of wallet polls per second
	PollRateLimitKey = "POLL_RATE_LIMIT"
	// ShutdownGracePeriodKey is how long running trade jobs have to complete
	// at shutdown
	ShutdownGracePeriodKey = "SHUTDOWN_GRACE_PERIOD"
	// OutboxResendIntervalKey is the interval for retrying the delivery of
	// the mailbox messages
	OutboxResendIntervalKey = "OUTBOX_RESEND_INTERVAL"
	// PubSubDBKey is the file name, relative to the datadir, of the webhook
	// store. Webhooks are disabled if empty.
	PubSubDBKey = "PUBSUB_DB"
	// EnableMetricsKey exposes the prometheus metrics on the operator interface
	EnableMetricsKey = "ENABLE_METRICS"
	// EnableProfilerKey enables profiler that can be used to investigate performance issues
	EnableProfilerKey = "ENABLE_PROFILER"
	// StatsIntervalKey defines interval for printing basic statistics
	StatsIntervalKey = "STATS_INTERVAL"

	DbLocation       = "db"
	ProfilerLocation = "stats"
	KeyRingFile      = "keyring.json"

	NetworkMainnet  = "mainnet"
	NetworkStagenet = "stagenet"
	NetworkTestnet  = "testnet"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("escrowd", false)

var networks = map[string]struct{}{
	NetworkMainnet:  {},
	NetworkStagenet: {},
	NetworkTestnet:  {},
}

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("ESCROW")
	vip.AutomaticEnv()
	vip.AllowEmptyEnv(true)

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(NetworkKey, NetworkMainnet)
	vip.SetDefault(DBTypeKey, application.DBBadger)
	vip.SetDefault(P2PListenAddrKey, "localhost:9945")
	vip.SetDefault(OperatorListeningPortKey, 9000)
	vip.SetDefault(NoOperatorAuthKey, false)
	vip.SetDefault(MainWalletNameKey, "main")
	vip.SetDefault(IsArbitratorKey, false)
	vip.SetDefault(MaxFeeToleranceKey, 0.25)
	vip.SetDefault(NumWorkersKey, 8)
	vip.SetDefault(AckTimeoutKey, 60*time.Second)
	vip.SetDefault(PollIntervalActiveKey, 10*time.Second)
	vip.SetDefault(PollIntervalIdleKey, time.Minute)
	vip.SetDefault(PollRateLimitKey, 10)
	vip.SetDefault(ShutdownGracePeriodKey, 30*time.Second)
	vip.SetDefault(OutboxResendIntervalKey, 30*time.Second)
	vip.SetDefault(PubSubDBKey, "pubsub.db")
	vip.SetDefault(EnableMetricsKey, true)
	vip.SetDefault(EnableProfilerKey, false)
	vip.SetDefault(StatsIntervalKey, 600*time.Second)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetFloat(key string) float64 {
	return vip.GetFloat64(key)
}

func GetDecimal(key string) decimal.Decimal {
	return decimal.NewFromFloat(vip.GetFloat64(key))
}

// GetStringSlice returns the comma separated values of the given key.
func GetStringSlice(key string) []string {
	values := make([]string, 0)
	for _, v := range strings.Split(vip.GetString(key), ",") {
		if v = strings.TrimSpace(v); len(v) > 0 {
			values = append(values, v)
		}
	}
	return values
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func GetDbDir() string {
	return filepath.Join(GetDatadir(), DbLocation)
}

func GetKeyRingPath() string {
	return filepath.Join(GetDatadir(), KeyRingFile)
}

// GetPubSubDBPath returns an empty string if webhooks are disabled.
func GetPubSubDBPath() string {
	filename := GetString(PubSubDBKey)
	if len(filename) <= 0 {
		return ""
	}
	return filepath.Join(GetDatadir(), filename)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if _, ok := networks[GetString(NetworkKey)]; !ok {
		return fmt.Errorf("unknown network %s", GetString(NetworkKey))
	}
	if _, ok := application.SupportedDBType[GetString(DBTypeKey)]; !ok {
		return fmt.Errorf("unsupported db type %s", GetString(DBTypeKey))
	}

	if !GetBool(NoOperatorAuthKey) && len(GetString(OperatorJWTSecretKey)) <= 0 {
		return fmt.Errorf(
			"missing operator jwt secret, set %s to disable auth", NoOperatorAuthKey,
		)
	}

	if len(GetStringSlice(WalletRPCAddrsKey)) <= 0 {
		return fmt.Errorf("missing wallet rpc addresses")
	}
	if len(GetString(MainWalletRPCAddrKey)) <= 0 {
		return fmt.Errorf("missing main wallet rpc address")
	}
	if len(GetString(DaemonRPCAddrKey)) <= 0 {
		return fmt.Errorf("missing daemon rpc address")
	}
	if len(GetString(WalletPasswordKey)) <= 0 {
		return fmt.Errorf("missing wallet password")
	}
	if len(GetString(KeyRingPasswordKey)) <= 0 {
		return fmt.Errorf("missing keyring password")
	}
	if len(GetString(TradeFeeAddressKey)) <= 0 {
		return fmt.Errorf("missing trade fee address")
	}

	if GetFloat(MaxFeeToleranceKey) < 0 {
		return fmt.Errorf("%s must not be negative", MaxFeeToleranceKey)
	}
	if GetInt(NumWorkersKey) <= 0 {
		return fmt.Errorf("%s must be greater than 0", NumWorkersKey)
	}
	if GetDuration(PollIntervalActiveKey) > GetDuration(PollIntervalIdleKey) {
		return fmt.Errorf(
			"%s must not exceed %s", PollIntervalActiveKey, PollIntervalIdleKey,
		)
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}

	profilerEnabled := GetBool(EnableProfilerKey)
	if profilerEnabled {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation)); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
