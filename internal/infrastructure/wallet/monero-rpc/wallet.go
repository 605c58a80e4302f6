package monerorpc

import (
	"context"
	"fmt"

	"github.com/tdex-network/escrowd/internal/core/ports"
)

const (
	transferTypeIn      = "in"
	transferTypePool    = "pool"
	transferTypePending = "pending"
	transferTypeFailed  = "failed"
)

// wallet is a ports.Wallet backed by the wallet currently open in a
// monero-wallet-rpc instance.
type wallet struct {
	name string
	rpc  *rpcClient
}

func (w *wallet) Name() string {
	return w.name
}

func (w *wallet) PrimaryAddress(ctx context.Context) (string, error) {
	var res getAddressResponse
	if err := w.rpc.call(ctx, "get_address", accountRequest{}, &res); err != nil {
		return "", err
	}
	return res.Address, nil
}

func (w *wallet) NewSubaddress(ctx context.Context, label string) (string, error) {
	var res createAddressResponse
	if err := w.rpc.call(
		ctx, "create_address", createAddressRequest{Label: label}, &res,
	); err != nil {
		return "", err
	}
	return res.Address, nil
}

func (w *wallet) Sync(ctx context.Context) error {
	return w.rpc.call(ctx, "refresh", struct{}{}, nil)
}

func (w *wallet) Height(ctx context.Context) (uint64, error) {
	var res getHeightResponse
	if err := w.rpc.call(ctx, "get_height", nil, &res); err != nil {
		return 0, err
	}
	return res.Height, nil
}

func (w *wallet) Balance(ctx context.Context) (ports.Balance, error) {
	res, err := w.balance(ctx)
	if err != nil {
		return ports.Balance{}, err
	}
	return ports.Balance{Total: res.Balance, Unlocked: res.UnlockedBalance}, nil
}

func (w *wallet) balance(ctx context.Context) (*getBalanceResponse, error) {
	var res getBalanceResponse
	if err := w.rpc.call(ctx, "get_balance", accountRequest{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (w *wallet) PrepareMultisig(ctx context.Context) (string, error) {
	var res prepareMultisigResponse
	if err := w.rpc.call(ctx, "prepare_multisig", nil, &res); err != nil {
		return "", err
	}
	return res.MultisigInfo, nil
}

func (w *wallet) MakeMultisig(
	ctx context.Context, peerHexes []string, threshold int, password string,
) (string, error) {
	var res multisigResponse
	if err := w.rpc.call(ctx, "make_multisig", makeMultisigRequest{
		MultisigInfo: peerHexes,
		Threshold:    threshold,
		Password:     password,
	}, &res); err != nil {
		return "", err
	}
	return res.MultisigInfo, nil
}

func (w *wallet) ExchangeMultisigKeys(
	ctx context.Context, peerHexes []string, password string,
) (*ports.MultisigInfo, error) {
	var res multisigResponse
	if err := w.rpc.call(ctx, "exchange_multisig_keys", exchangeMultisigKeysRequest{
		MultisigInfo: peerHexes,
		Password:     password,
	}, &res); err != nil {
		return nil, err
	}
	return &ports.MultisigInfo{
		Address:     res.Address,
		MultisigHex: res.MultisigInfo,
	}, nil
}

func (w *wallet) IsMultisigImportNeeded(ctx context.Context) (bool, error) {
	res, err := w.balance(ctx)
	if err != nil {
		return false, err
	}
	return res.MultisigImportNeeded, nil
}

func (w *wallet) ExportMultisigHex(ctx context.Context) (string, error) {
	var res exportMultisigInfoResponse
	if err := w.rpc.call(ctx, "export_multisig_info", nil, &res); err != nil {
		return "", err
	}
	return res.Info, nil
}

func (w *wallet) ImportMultisigHex(ctx context.Context, hexes []string) (int, error) {
	var res importMultisigInfoResponse
	if err := w.rpc.call(
		ctx, "import_multisig_info", importMultisigInfoRequest{hexes}, &res,
	); err != nil {
		return 0, err
	}
	return res.NumOutputs, nil
}

// CreateTx creates a new tx. The outputs reserved with the given key images
// are thawed first, since they are frozen while reserved. For multisig
// wallets, the returned tx is the description of the unsigned tx set and its
// hash is unknown until it's fully signed.
func (w *wallet) CreateTx(ctx context.Context, cfg ports.TxConfig) (*ports.Tx, error) {
	if len(cfg.Destinations) <= 0 {
		return nil, fmt.Errorf("missing tx destinations")
	}
	if len(cfg.KeyImages) > 0 {
		if err := w.ThawKeyImages(ctx, cfg.KeyImages); err != nil {
			return nil, err
		}
	}

	destinations := make([]destination, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		destinations = append(destinations, destination{d.Amount, d.Address})
	}
	var res transferResponse
	if err := w.rpc.call(ctx, "transfer", transferRequest{
		Destinations:           destinations,
		SubtractFeeFromOutputs: cfg.SubtractFeeFrom,
		DoNotRelay:             !cfg.Relay,
		GetTxHex:               true,
		GetTxKey:               true,
	}, &res); err != nil {
		return nil, err
	}

	if len(res.MultisigTxset) > 0 {
		return w.DescribeTxSet(ctx, res.MultisigTxset)
	}

	var outputSum uint64
	for _, d := range cfg.Destinations {
		outputSum += d.Amount
	}
	return &ports.Tx{
		Hash:         res.TxHash,
		Hex:          res.TxBlob,
		Key:          res.TxKey,
		Fee:          res.Fee,
		Destinations: cfg.Destinations,
		OutputSum:    outputSum,
		KeyImages:    res.SpentKeyImages.KeyImages,
		IsRelayed:    cfg.Relay,
		InTxPool:     cfg.Relay,
	}, nil
}

func (w *wallet) SignMultisigTxHex(
	ctx context.Context, txSetHex string,
) (*ports.SignedTxSet, error) {
	var res signMultisigResponse
	if err := w.rpc.call(
		ctx, "sign_multisig", txDataRequest{txSetHex}, &res,
	); err != nil {
		return nil, err
	}
	return &ports.SignedTxSet{Hex: res.TxDataHex, TxHashes: res.TxHashList}, nil
}

func (w *wallet) SubmitMultisigTxHex(
	ctx context.Context, txSetHex string,
) ([]string, error) {
	var res submitMultisigResponse
	if err := w.rpc.call(
		ctx, "submit_multisig", txDataRequest{txSetHex}, &res,
	); err != nil {
		return nil, err
	}
	return res.TxHashList, nil
}

func (w *wallet) DescribeTxSet(ctx context.Context, txSetHex string) (*ports.Tx, error) {
	var res describeTransferResponse
	if err := w.rpc.call(
		ctx, "describe_transfer", describeTransferRequest{txSetHex}, &res,
	); err != nil {
		return nil, err
	}
	if len(res.Desc) != 1 {
		return nil, fmt.Errorf("expected 1 tx in set, got %d", len(res.Desc))
	}

	desc := res.Desc[0]
	destinations := make([]ports.Destination, 0, len(desc.Recipients))
	for _, r := range desc.Recipients {
		destinations = append(destinations, ports.Destination{
			Address: r.Address, Amount: r.Amount,
		})
	}
	return &ports.Tx{
		Hex:           txSetHex,
		Fee:           desc.Fee,
		Destinations:  destinations,
		ChangeAddress: desc.ChangeAddress,
		ChangeAmount:  desc.ChangeAmount,
		OutputSum:     desc.AmountOut,
	}, nil
}

func (w *wallet) GetTx(ctx context.Context, hash string) (*ports.Tx, error) {
	var res getTransferByTxidResponse
	if err := w.rpc.call(
		ctx, "get_transfer_by_txid", getTransferByTxidRequest{hash}, &res,
	); err != nil {
		return nil, err
	}

	t := res.Transfer
	tx := newTxFromTransfer(hash, t)
	transfers := res.Transfers
	if len(transfers) <= 0 {
		transfers = []transfer{t}
	}
	for _, t := range transfers {
		if t.Type == transferTypeIn || t.Type == transferTypePool {
			tx.IncomingAmount += t.Amount
		}
	}
	return tx, nil
}

// GetOutgoingTxs returns the txs spending the outputs of the wallet, either
// confirmed or still in the pool.
func (w *wallet) GetOutgoingTxs(ctx context.Context) ([]*ports.Tx, error) {
	var res getTransfersResponse
	if err := w.rpc.call(ctx, "get_transfers", getTransfersRequest{
		Out: true, Pending: true,
	}, &res); err != nil {
		return nil, err
	}
	txs := make([]*ports.Tx, 0, len(res.Out)+len(res.Pending))
	for _, t := range append(res.Out, res.Pending...) {
		txs = append(txs, newTxFromTransfer(t.Txid, t))
	}
	return txs, nil
}

func newTxFromTransfer(hash string, t transfer) *ports.Tx {
	tx := &ports.Tx{
		Hash:          hash,
		Fee:           t.Fee,
		Height:        t.Height,
		Confirmations: t.Confirmations,
		InTxPool:      t.Type == transferTypePool || t.Type == transferTypePending,
		IsRelayed:     true,
		IsFailed:      t.Type == transferTypeFailed,
		IsDoubleSpend: t.DoubleSpendSeen,
	}
	for _, d := range t.Destinations {
		tx.Destinations = append(tx.Destinations, ports.Destination{
			Address: d.Address, Amount: d.Amount,
		})
	}
	return tx
}

func (w *wallet) GetTxs(ctx context.Context, hashes []string) ([]*ports.Tx, error) {
	txs := make([]*ports.Tx, 0, len(hashes))
	for _, hash := range hashes {
		tx, err := w.GetTx(ctx, hash)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (w *wallet) CheckTxKey(
	ctx context.Context, hash, key, address string,
) (*ports.TxKeyCheck, error) {
	var res checkTxKeyResponse
	if err := w.rpc.call(ctx, "check_tx_key", checkTxKeyRequest{
		Txid: hash, TxKey: key, Address: address,
	}, &res); err != nil {
		return nil, err
	}
	return &ports.TxKeyCheck{
		ReceivedAmount: res.Received,
		InTxPool:       res.InPool,
		Confirmations:  res.Confirmations,
	}, nil
}

func (w *wallet) FreezeKeyImages(ctx context.Context, keyImages []string) error {
	for _, ki := range keyImages {
		if err := w.rpc.call(ctx, "freeze", keyImageRequest{ki}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (w *wallet) ThawKeyImages(ctx context.Context, keyImages []string) error {
	for _, ki := range keyImages {
		if err := w.rpc.call(ctx, "thaw", keyImageRequest{ki}, nil); err != nil {
			return err
		}
	}
	return nil
}
