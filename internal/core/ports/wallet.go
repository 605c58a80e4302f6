package ports

import "context"

// WalletService manages the lifecycle of the wallets used by the daemon: the
// main funding wallet and one multisig escrow wallet for every trade.
type WalletService interface {
	// MainWallet returns the daemon's funding wallet. It's used to reserve
	// funds, to create deposit transactions and to derive payout addresses.
	MainWallet() Wallet
	CreateWallet(ctx context.Context, name, password string) (Wallet, error)
	OpenWallet(ctx context.Context, name, password string) (Wallet, error)
	CloseWallet(ctx context.Context, name string, save bool) error
	DeleteWallet(ctx context.Context, name string) error
	WalletExists(ctx context.Context, name string) (bool, error)
	Close()
}

// Wallet is the minimal set of capabilities of an XMR wallet required by the
// settlement protocol.
type Wallet interface {
	Name() string
	PrimaryAddress(ctx context.Context) (string, error)
	NewSubaddress(ctx context.Context, label string) (string, error)
	Sync(ctx context.Context) error
	Height(ctx context.Context) (uint64, error)
	Balance(ctx context.Context) (Balance, error)

	PrepareMultisig(ctx context.Context) (string, error)
	MakeMultisig(
		ctx context.Context, peerHexes []string, threshold int, password string,
	) (string, error)
	ExchangeMultisigKeys(
		ctx context.Context, peerHexes []string, password string,
	) (*MultisigInfo, error)
	IsMultisigImportNeeded(ctx context.Context) (bool, error)
	ExportMultisigHex(ctx context.Context) (string, error)
	ImportMultisigHex(ctx context.Context, hexes []string) (int, error)

	CreateTx(ctx context.Context, cfg TxConfig) (*Tx, error)
	SignMultisigTxHex(ctx context.Context, txSetHex string) (*SignedTxSet, error)
	SubmitMultisigTxHex(ctx context.Context, txSetHex string) ([]string, error)
	DescribeTxSet(ctx context.Context, txSetHex string) (*Tx, error)

	GetTx(ctx context.Context, hash string) (*Tx, error)
	GetTxs(ctx context.Context, hashes []string) ([]*Tx, error)
	// GetOutgoingTxs returns the relayed txs spending the wallet's outputs.
	GetOutgoingTxs(ctx context.Context) ([]*Tx, error)
	CheckTxKey(
		ctx context.Context, hash, key, address string,
	) (*TxKeyCheck, error)

	FreezeKeyImages(ctx context.Context, keyImages []string) error
	ThawKeyImages(ctx context.Context, keyImages []string) error
}

// Daemon is the interface to the XMR network node.
type Daemon interface {
	// SubmitTxHex submits the given tx. If doNotRelay is true the tx is only
	// validated and kept in the local pool, without propagating it.
	SubmitTxHex(
		ctx context.Context, txHex string, doNotRelay bool,
	) (*SubmitResult, error)
	RelayTxsByHash(ctx context.Context, hashes []string) error
	GetTxs(ctx context.Context, hashes []string) ([]*Tx, error)
	Height(ctx context.Context) (uint64, error)
}

type Balance struct {
	Total    uint64
	Unlocked uint64
}

type Destination struct {
	Address string
	Amount  uint64
}

// TxConfig holds the parameters of a new transaction. SubtractFeeFrom lists
// the indexes of the destinations that pay the miner fee in equal parts. When
// KeyImages is not empty, only the outputs with such key images are spent.
type TxConfig struct {
	Destinations    []Destination
	SubtractFeeFrom []int
	KeyImages       []string
	Relay           bool
}

// Tx is the wallet or daemon view of a transaction. For multisig txs, Hex is
// the serialized tx set to be signed by the cosigners. IncomingAmount is the
// amount received by the wallet the tx is fetched from.
type Tx struct {
	Hash           string
	Hex            string
	Key            string
	Fee            uint64
	Destinations   []Destination
	ChangeAddress  string
	ChangeAmount   uint64
	OutputSum      uint64
	IncomingAmount uint64
	KeyImages      []string
	Height         uint64
	Confirmations  uint64
	InTxPool       bool
	IsRelayed      bool
	IsFailed       bool
	IsDoubleSpend  bool
}

func (t *Tx) IsConfirmed() bool {
	return t.Confirmations > 0
}

type SignedTxSet struct {
	Hex      string
	TxHashes []string
}

type MultisigInfo struct {
	Address     string
	MultisigHex string
}

// TxKeyCheck reports the amount received by an address in a tx, verified by
// means of the tx private key.
type TxKeyCheck struct {
	ReceivedAmount uint64
	InTxPool       bool
	Confirmations  uint64
}

type SubmitResult struct {
	Accepted    bool
	DoubleSpend bool
	Reason      string
}
