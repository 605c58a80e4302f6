package monerorpc

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/ports"
)

type daemon struct {
	rpc *rpcClient
}

// NewDaemon returns a ports.Daemon talking to the monerod RPC at addr.
func NewDaemon(addr, user, password string) (ports.Daemon, error) {
	if len(addr) <= 0 {
		return nil, fmt.Errorf("missing daemon rpc address")
	}
	return &daemon{newRPCClient(addr, user, password)}, nil
}

func (d *daemon) SubmitTxHex(
	ctx context.Context, txHex string, doNotRelay bool,
) (*ports.SubmitResult, error) {
	var res sendRawTxResponse
	if err := d.rpc.post(ctx, "/send_raw_transaction", sendRawTxRequest{
		TxAsHex:    txHex,
		DoNotRelay: doNotRelay,
	}, &res); err != nil {
		return nil, err
	}
	return &ports.SubmitResult{
		Accepted:    res.Status == statusOK && !res.DoubleSpend,
		DoubleSpend: res.DoubleSpend,
		Reason:      res.Reason,
	}, nil
}

func (d *daemon) RelayTxsByHash(ctx context.Context, hashes []string) error {
	var res statusResponse
	if err := d.rpc.call(ctx, "relay_tx", relayTxRequest{hashes}, &res); err != nil {
		return err
	}
	if res.Status != statusOK {
		return fmt.Errorf("relay_tx: %s", res.Status)
	}
	return nil
}

// GetTxs returns the txs known by the daemon, either in the pool or mined.
// Missing txs are omitted.
func (d *daemon) GetTxs(ctx context.Context, hashes []string) ([]*ports.Tx, error) {
	var res getTransactionsResponse
	if err := d.rpc.post(ctx, "/get_transactions", getTransactionsRequest{
		TxsHashes:    hashes,
		DecodeAsJSON: true,
	}, &res); err != nil {
		return nil, err
	}
	if res.Status != statusOK {
		return nil, fmt.Errorf("get_transactions: %s", res.Status)
	}
	if len(res.Txs) <= 0 {
		return nil, nil
	}

	height, err := d.Height(ctx)
	if err != nil {
		return nil, err
	}

	txs := make([]*ports.Tx, 0, len(res.Txs))
	for _, t := range res.Txs {
		tx := &ports.Tx{
			Hash:          t.TxHash,
			Hex:           t.AsHex,
			InTxPool:      t.InPool,
			IsRelayed:     !t.InPool,
			IsDoubleSpend: t.DoubleSpendSeen,
		}
		if !t.InPool {
			tx.Height = t.BlockHeight
			if height > t.BlockHeight {
				tx.Confirmations = height - t.BlockHeight
			}
		}
		if len(t.AsJSON) > 0 {
			var decoded decodedTx
			if err := json.Unmarshal([]byte(t.AsJSON), &decoded); err != nil {
				log.WithError(err).Warnf("failed to decode tx %s", t.TxHash)
			} else {
				tx.Fee = decoded.RctSignatures.TxnFee
				for _, in := range decoded.Vin {
					if len(in.Key.KeyImage) > 0 {
						tx.KeyImages = append(tx.KeyImages, in.Key.KeyImage)
					}
				}
			}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Height returns the number of blocks of the chain.
func (d *daemon) Height(ctx context.Context) (uint64, error) {
	var res getBlockCountResponse
	if err := d.rpc.call(ctx, "get_block_count", nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// VerifyNetwork makes sure that the monerod at addr runs on the given
// network, one of mainnet, stagenet or testnet.
func VerifyNetwork(ctx context.Context, addr, user, password, network string) error {
	rpc := newRPCClient(addr, user, password)
	var res getInfoResponse
	if err := rpc.call(ctx, "get_info", nil, &res); err != nil {
		return err
	}
	if res.Status != statusOK {
		return fmt.Errorf("get_info: %s", res.Status)
	}
	if res.NetType != network {
		return fmt.Errorf("daemon runs on %s, expected %s", res.NetType, network)
	}
	return nil
}
