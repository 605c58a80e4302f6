package monerorpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/ports"
	monerorpc "github.com/tdex-network/escrowd/internal/infrastructure/wallet/monero-rpc"
	"github.com/ybbus/jsonrpc/v3"
)

var ctx = context.Background()

type handlerFn func(params json.RawMessage) (interface{}, error)

type call struct {
	method string
	params map[string]interface{}
}

// fakeRPC emulates a monero-wallet-rpc or monerod endpoint. Methods without
// a handler reply with an empty object.
type fakeRPC struct {
	*httptest.Server
	lock     sync.Mutex
	calls    []call
	handlers map[string]handlerFn
}

func newFakeRPC(t *testing.T, handlers map[string]handlerFn) *fakeRPC {
	f := &fakeRPC{handlers: handlers}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeRPC) serve(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if r.URL.Path != "/json_rpc" {
		method := strings.TrimPrefix(r.URL.Path, "/")
		var params json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&params)
		result, err := f.handle(method, params)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(result)
		return
	}

	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		ID     interface{}     `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	result, err := f.handle(req.Method, req.Params)
	if err != nil {
		resp["error"] = map[string]interface{}{"code": -1, "message": err.Error()}
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeRPC) handle(method string, params json.RawMessage) (interface{}, error) {
	decoded := map[string]interface{}{}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &decoded)
	}

	f.lock.Lock()
	f.calls = append(f.calls, call{method, decoded})
	handler, ok := f.handlers[method]
	f.lock.Unlock()

	if !ok {
		return map[string]interface{}{}, nil
	}
	return handler(params)
}

func (f *fakeRPC) methods() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	methods := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		methods = append(methods, c.method)
	}
	return methods
}

func (f *fakeRPC) lastCall(method string) call {
	f.lock.Lock()
	defer f.lock.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i]
		}
	}
	return call{}
}

func fail(msg string) handlerFn {
	return func(json.RawMessage) (interface{}, error) {
		return nil, errors.New(msg)
	}
}

func reply(result interface{}) handlerFn {
	return func(json.RawMessage) (interface{}, error) {
		return result, nil
	}
}

func newService(
	t *testing.T, main *fakeRPC, walletDir string, pool ...*fakeRPC,
) ports.WalletService {
	addrs := make([]string, 0, len(pool))
	for _, p := range pool {
		addrs = append(addrs, p.URL)
	}
	svc, err := monerorpc.NewService(monerorpc.Config{
		MainWalletAddr:     main.URL,
		MainWalletName:     "main",
		MainWalletPassword: "password",
		WalletAddrs:        addrs,
		WalletDir:          walletDir,
	})
	require.NoError(t, err)
	return svc
}

func TestNewService(t *testing.T) {
	t.Parallel()

	t.Run("opens the main wallet", func(t *testing.T) {
		t.Parallel()

		main := newFakeRPC(t, nil)
		newService(t, main, "", newFakeRPC(t, nil))

		require.Equal(t, []string{"open_wallet"}, main.methods())
		params := main.lastCall("open_wallet").params
		require.Equal(t, "main", params["filename"])
		require.Equal(t, "password", params["password"])
	})

	t.Run("creates the main wallet if missing", func(t *testing.T) {
		t.Parallel()

		main := newFakeRPC(t, map[string]handlerFn{
			"open_wallet": fail("Failed to open wallet"),
		})
		newService(t, main, "", newFakeRPC(t, nil))

		require.Equal(t, []string{"open_wallet", "create_wallet"}, main.methods())
		require.Equal(t, "English", main.lastCall("create_wallet").params["language"])
	})

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()

		_, err := monerorpc.NewService(monerorpc.Config{
			MainWalletAddr: "localhost:18083",
			MainWalletName: "main",
		})
		require.EqualError(t, err, "missing wallet rpc addresses")
	})
}

func TestWalletPool(t *testing.T) {
	t.Parallel()

	walletDir := t.TempDir()
	first, second := newFakeRPC(t, nil), newFakeRPC(t, nil)
	svc := newService(t, newFakeRPC(t, nil), walletDir, first, second)

	a, err := svc.CreateWallet(ctx, "trade-a", "secret")
	require.NoError(t, err)
	require.Equal(t, "trade-a", a.Name())
	b, err := svc.OpenWallet(ctx, "trade-b", "secret")
	require.NoError(t, err)
	require.Equal(t, "trade-b", b.Name())

	_, err = svc.OpenWallet(ctx, "trade-c", "secret")
	require.ErrorIs(t, err, monerorpc.ErrNoEndpointAvailable)

	again, err := svc.OpenWallet(ctx, "trade-a", "secret")
	require.NoError(t, err)
	require.Same(t, a, again)

	exists, err := svc.WalletExists(ctx, "trade-a")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, svc.CloseWallet(ctx, "trade-a", true))
	c, err := svc.OpenWallet(ctx, "trade-c", "secret")
	require.NoError(t, err)
	require.Equal(t, "trade-c", c.Name())

	calls := append(first.methods(), second.methods()...)
	require.ElementsMatch(
		t, []string{"create_wallet", "open_wallet", "close_wallet", "open_wallet"}, calls,
	)

	exists, err = svc.WalletExists(ctx, "trade-a")
	require.NoError(t, err)
	require.False(t, exists)

	keysFile := filepath.Join(walletDir, "trade-a.keys")
	require.NoError(t, os.WriteFile(filepath.Join(walletDir, "trade-a"), nil, 0600))
	require.NoError(t, os.WriteFile(keysFile, nil, 0600))
	exists, err = svc.WalletExists(ctx, "trade-a")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, svc.DeleteWallet(ctx, "trade-a"))
	_, err = os.Stat(keysFile)
	require.True(t, os.IsNotExist(err))
}

func TestWallet(t *testing.T) {
	t.Parallel()

	const multisigAddress = "multisig-address"

	endpoint := newFakeRPC(t, map[string]handlerFn{
		"transfer": reply(map[string]interface{}{
			"fee":            1000,
			"multisig_txset": "unsigned-txset",
		}),
		"describe_transfer": reply(map[string]interface{}{
			"desc": []map[string]interface{}{{
				"amount_in":  23000,
				"amount_out": 22000,
				"recipients": []map[string]interface{}{
					{"address": "buyer", "amount": 20500},
					{"address": "seller", "amount": 1000},
				},
				"change_address": multisigAddress,
				"change_amount":  500,
				"fee":            1000,
			}},
		}),
		"get_balance": reply(map[string]interface{}{
			"balance":                22000,
			"unlocked_balance":       21000,
			"multisig_import_needed": true,
		}),
		"get_transfer_by_txid": reply(map[string]interface{}{
			"transfer": map[string]interface{}{
				"txid": "deposit", "type": "in", "amount": 11000, "confirmations": 3,
				"height": 100,
			},
			"transfers": []map[string]interface{}{
				{"txid": "deposit", "type": "in", "amount": 11000},
				{"txid": "deposit", "type": "in", "amount": 500},
			},
		}),
		"check_tx_key": reply(map[string]interface{}{
			"confirmations": 0, "in_pool": true, "received": 11000,
		}),
		"get_transfers": reply(map[string]interface{}{
			"out": []map[string]interface{}{{
				"txid": "payout", "type": "out", "fee": 1000, "confirmations": 2,
				"destinations": []map[string]interface{}{
					{"address": "buyer", "amount": 20500},
				},
			}},
			"pending": []map[string]interface{}{{
				"txid": "pending-payout", "type": "pending", "fee": 1000,
			}},
		}),
		"import_multisig_info": reply(map[string]interface{}{"n_outputs": 2}),
	})
	svc := newService(t, newFakeRPC(t, nil), "", endpoint)
	w, err := svc.OpenWallet(ctx, "trade", "secret")
	require.NoError(t, err)

	t.Run("create multisig tx", func(t *testing.T) {
		tx, err := w.CreateTx(ctx, ports.TxConfig{
			Destinations: []ports.Destination{
				{Address: "buyer", Amount: 21000},
				{Address: "seller", Amount: 1500},
			},
			SubtractFeeFrom: []int{0, 1},
			KeyImages:       []string{"ki1", "ki2"},
		})
		require.NoError(t, err)

		require.Empty(t, tx.Hash)
		require.Equal(t, "unsigned-txset", tx.Hex)
		require.Equal(t, uint64(1000), tx.Fee)
		require.Equal(t, multisigAddress, tx.ChangeAddress)
		require.Equal(t, uint64(500), tx.ChangeAmount)
		require.Equal(t, uint64(22000), tx.OutputSum)
		require.Equal(t, []ports.Destination{
			{Address: "buyer", Amount: 20500},
			{Address: "seller", Amount: 1000},
		}, tx.Destinations)

		params := endpoint.lastCall("transfer").params
		require.Equal(t, true, params["do_not_relay"])
		require.Len(t, params["subtract_fee_from_outputs"], 2)
		require.Equal(t, "ki2", endpoint.lastCall("thaw").params["key_image"])
	})

	t.Run("multisig import needed", func(t *testing.T) {
		needed, err := w.IsMultisigImportNeeded(ctx)
		require.NoError(t, err)
		require.True(t, needed)

		n, err := w.ImportMultisigHex(ctx, []string{"hex1", "hex2"})
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.Len(t, endpoint.lastCall("import_multisig_info").params["info"], 2)
	})

	t.Run("balance", func(t *testing.T) {
		balance, err := w.Balance(ctx)
		require.NoError(t, err)
		require.Equal(t, ports.Balance{Total: 22000, Unlocked: 21000}, balance)
	})

	t.Run("get tx sums incoming transfers", func(t *testing.T) {
		tx, err := w.GetTx(ctx, "deposit")
		require.NoError(t, err)
		require.Equal(t, uint64(11500), tx.IncomingAmount)
		require.Equal(t, uint64(3), tx.Confirmations)
		require.True(t, tx.IsConfirmed())
	})

	t.Run("outgoing txs", func(t *testing.T) {
		txs, err := w.GetOutgoingTxs(ctx)
		require.NoError(t, err)
		require.Len(t, txs, 2)

		require.Equal(t, "payout", txs[0].Hash)
		require.Equal(t, uint64(2), txs[0].Confirmations)
		require.False(t, txs[0].InTxPool)
		require.Equal(t, []ports.Destination{{Address: "buyer", Amount: 20500}}, txs[0].Destinations)

		require.Equal(t, "pending-payout", txs[1].Hash)
		require.True(t, txs[1].InTxPool)

		params := endpoint.lastCall("get_transfers").params
		require.Equal(t, true, params["out"])
		require.Equal(t, true, params["pending"])
	})

	t.Run("check tx key", func(t *testing.T) {
		check, err := w.CheckTxKey(ctx, "deposit", "txkey", multisigAddress)
		require.NoError(t, err)
		require.Equal(t, &ports.TxKeyCheck{ReceivedAmount: 11000, InTxPool: true}, check)

		params := endpoint.lastCall("check_tx_key").params
		require.Equal(t, "txkey", params["tx_key"])
		require.Equal(t, multisigAddress, params["address"])
	})
}

func TestRPCErrors(t *testing.T) {
	t.Parallel()

	var lock sync.Mutex
	failing := true
	endpoint := newFakeRPC(t, map[string]handlerFn{
		"get_height": func(json.RawMessage) (interface{}, error) {
			lock.Lock()
			defer lock.Unlock()
			if failing {
				return nil, fmt.Errorf("wallet is busy")
			}
			return map[string]interface{}{"height": 42}, nil
		},
	})
	svc := newService(t, newFakeRPC(t, nil), "", endpoint)
	w, err := svc.OpenWallet(ctx, "trade", "secret")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := w.Height(ctx)
		require.Error(t, err)
		var rpcErr *jsonrpc.RPCError
		require.True(t, errors.As(err, &rpcErr))
		require.Equal(t, "wallet is busy", rpcErr.Message)
	}

	// Errors of the server don't trip the circuit breaker.
	lock.Lock()
	failing = false
	lock.Unlock()
	height, err := w.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(42), height)
}

func TestDaemon(t *testing.T) {
	t.Parallel()

	asJSON := `{"vin":[{"key":{"k_image":"ki1"}},{"key":{"k_image":"ki2"}}],"rct_signatures":{"txnFee":3000}}`
	node := newFakeRPC(t, map[string]handlerFn{
		"get_block_count": reply(map[string]interface{}{"count": 110, "status": "OK"}),
		"get_transactions": reply(map[string]interface{}{
			"status": "OK",
			"txs": []map[string]interface{}{
				{"tx_hash": "mined", "as_hex": "00", "as_json": asJSON, "block_height": 100},
				{"tx_hash": "pending", "as_hex": "01", "in_pool": true},
			},
		}),
		"send_raw_transaction": func(params json.RawMessage) (interface{}, error) {
			var req map[string]interface{}
			_ = json.Unmarshal(params, &req)
			if req["tx_as_hex"] == "spent" {
				return map[string]interface{}{
					"status": "Failed", "double_spend": true, "reason": "double spend",
				}, nil
			}
			return map[string]interface{}{"status": "OK"}, nil
		},
		"relay_tx": reply(map[string]interface{}{"status": "OK"}),
		"get_info": reply(map[string]interface{}{"nettype": "stagenet", "status": "OK"}),
	})
	daemon, err := monerorpc.NewDaemon(node.URL, "", "")
	require.NoError(t, err)

	t.Run("submit tx", func(t *testing.T) {
		res, err := daemon.SubmitTxHex(ctx, "deposit", true)
		require.NoError(t, err)
		require.True(t, res.Accepted)
		require.Equal(t, true, node.lastCall("send_raw_transaction").params["do_not_relay"])

		res, err = daemon.SubmitTxHex(ctx, "spent", true)
		require.NoError(t, err)
		require.False(t, res.Accepted)
		require.True(t, res.DoubleSpend)
	})

	t.Run("get txs", func(t *testing.T) {
		txs, err := daemon.GetTxs(ctx, []string{"mined", "pending"})
		require.NoError(t, err)
		require.Len(t, txs, 2)

		require.Equal(t, []string{"ki1", "ki2"}, txs[0].KeyImages)
		require.Equal(t, uint64(3000), txs[0].Fee)
		require.Equal(t, uint64(10), txs[0].Confirmations)
		require.False(t, txs[0].InTxPool)

		require.True(t, txs[1].InTxPool)
		require.Zero(t, txs[1].Confirmations)
	})

	t.Run("relay txs", func(t *testing.T) {
		require.NoError(t, daemon.RelayTxsByHash(ctx, []string{"deposit"}))
		require.Len(t, node.lastCall("relay_tx").params["txids"], 1)
	})

	t.Run("height", func(t *testing.T) {
		height, err := daemon.Height(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(110), height)
	})

	t.Run("verify network", func(t *testing.T) {
		require.NoError(t, monerorpc.VerifyNetwork(ctx, node.URL, "", "", "stagenet"))
		err := monerorpc.VerifyNetwork(ctx, node.URL, "", "", "mainnet")
		require.EqualError(t, err, "daemon runs on stagenet, expected mainnet")
	})
}
