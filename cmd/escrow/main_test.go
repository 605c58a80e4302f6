package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

type request struct {
	method string
	path   string
	auth   string
	body   map[string]interface{}
}

type fakeDaemon struct {
	*httptest.Server
	lock     sync.Mutex
	requests []request
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	d := &fakeDaemon{}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := request{
			method: r.Method,
			path:   r.URL.RequestURI(),
			auth:   r.Header.Get("Authorization"),
		}
		_ = json.NewDecoder(r.Body).Decode(&req.body)
		d.lock.Lock()
		d.requests = append(d.requests, req)
		d.lock.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v1/trades/unknown":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"trade not found"}`))
		case r.URL.Path == "/api/v1/trades":
			_, _ = w.Write([]byte(`[{"id":"trade","state":"TRADE_COMPLETED"}]`))
		case r.URL.Path == "/api/v1/webhooks" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"hook-id"}`))
		case r.Method == http.MethodPost || r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(d.Close)
	return d
}

func (d *fakeDaemon) lastRequest() request {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.requests[len(d.requests)-1]
}

func runCLICommand(t *testing.T, datadir string, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"escrow", "--datadir", datadir}, args...))
	return out.String(), err
}

func initState(t *testing.T, d *fakeDaemon) string {
	t.Helper()
	datadir := t.TempDir()
	_, err := runCLICommand(
		t, datadir, "config", "init", "--rpcserver", d.URL, "--token", "tkn",
	)
	require.NoError(t, err)
	return datadir
}

func TestConfig(t *testing.T) {
	t.Parallel()

	datadir := filepath.Join(t.TempDir(), "cli")

	_, err := runCLICommand(t, datadir, "info")
	require.Error(t, err)
	require.Contains(t, err.Error(), "config init")

	_, err = runCLICommand(t, datadir, "config", "init", "--rpcserver", "localhost:9000")
	require.NoError(t, err)

	out, err := runCLICommand(t, datadir, "config", "set", "rpcserver", "localhost:9001")
	require.NoError(t, err)
	require.Equal(t, "rpcserver localhost:9001 has been set\n", out)

	token, err := runCLICommand(
		t, datadir, "config", "gentoken", "--secret", "secret", "--scope", "readonly",
	)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(token), "."), 3)

	out, err = runCLICommand(t, datadir, "config")
	require.NoError(t, err)
	require.Equal(t, "rpcserver: localhost:9001\ntoken: "+token, out)

	info, err := os.Stat(filepath.Join(datadir, stateFile))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = runCLICommand(
		t, datadir, "config", "gentoken", "--secret", "secret", "--scope", "root",
	)
	require.Error(t, err)
}

func TestOffers(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon(t)
	datadir := initState(t, d)

	t.Run("place", func(t *testing.T) {
		_, err := runCLICommand(
			t, datadir, "offers", "place",
			"--direction", "sell", "--amount", "1.5", "--price", "150.25",
			"--currency", "eur", "--seller_deposit", "0.15",
			"--arbitrator_signature_pubkey", "0102",
			"--arbitrator_encryption_pubkey", "0304",
			"--payment_method", "SEPA", "--account_field", "iban=DE00",
		)
		require.NoError(t, err)

		req := d.lastRequest()
		require.Equal(t, http.MethodPost, req.method)
		require.Equal(t, "/api/v1/offers", req.path)
		require.Equal(t, "Bearer tkn", req.auth)

		offer := req.body["offer"].(map[string]interface{})
		require.Equal(t, "SELL", offer["direction"])
		require.Equal(t, "EUR", offer["counterCurrency"])
		require.Equal(t, float64(1500000000000), offer["amount"])
		require.Equal(t, float64(1500000000000), offer["minAmount"])
		require.Equal(t, float64(150000000000), offer["sellerSecurityDeposit"])
		require.Equal(t, "SEPA", offer["paymentMethodId"])
		require.NotEmpty(t, offer["id"])

		account := req.body["paymentAccount"].(map[string]interface{})
		require.Equal(t, map[string]interface{}{"iban": "DE00"}, account["payload"])
	})

	t.Run("invalid account field", func(t *testing.T) {
		_, err := runCLICommand(
			t, datadir, "offers", "place",
			"--direction", "buy", "--amount", "1", "--price", "150",
			"--currency", "EUR",
			"--arbitrator_signature_pubkey", "01",
			"--arbitrator_encryption_pubkey", "02",
			"--payment_method", "SEPA", "--account_field", "iban",
		)
		require.Error(t, err)
	})

	t.Run("take", func(t *testing.T) {
		offer := domain.Offer{Id: "offer", Direction: domain.DirectionBuy, Amount: 100}
		buf, err := json.Marshal(offer)
		require.NoError(t, err)
		offerFile := filepath.Join(t.TempDir(), "offer.json")
		require.NoError(t, os.WriteFile(offerFile, buf, 0644))

		_, err = runCLICommand(
			t, datadir, "offers", "take", "--offer_file", offerFile,
			"--amount", "0.000000000050", "--payment_method", "SEPA",
		)
		require.NoError(t, err)

		req := d.lastRequest()
		require.Equal(t, "/api/v1/offers/take", req.path)
		require.Equal(t, float64(50), req.body["amount"])
	})

	t.Run("cancel", func(t *testing.T) {
		out, err := runCLICommand(t, datadir, "offers", "cancel", "offer")
		require.NoError(t, err)
		require.Equal(t, "offer canceled\n", out)
		require.Equal(t, http.MethodDelete, d.lastRequest().method)
		require.Equal(t, "/api/v1/offers/offer", d.lastRequest().path)
	})
}

func TestTradesAndDisputes(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon(t)
	datadir := initState(t, d)

	out, err := runCLICommand(t, datadir, "trades", "list", "--bucket", "closed")
	require.NoError(t, err)
	require.Contains(t, out, "TRADE_COMPLETED")
	require.Equal(t, "/api/v1/trades?bucket=closed", d.lastRequest().path)

	_, err = runCLICommand(t, datadir, "trades", "get", "unknown")
	require.EqualError(t, err, "trade not found")

	_, err = runCLICommand(t, datadir, "trades", "paymentsent", "trade", "--txid", "sepa-1")
	require.NoError(t, err)
	require.Equal(t, "/api/v1/trades/trade/payment-sent", d.lastRequest().path)
	require.Equal(t, "sepa-1", d.lastRequest().body["counterCurrencyTxId"])

	_, err = runCLICommand(t, datadir, "trades", "paymentreceived", "trade")
	require.NoError(t, err)
	require.Equal(t, "/api/v1/trades/trade/payment-received", d.lastRequest().path)

	_, err = runCLICommand(t, datadir, "disputes", "open", "trade", "--reason", "no payment")
	require.NoError(t, err)
	require.Equal(t, "no payment", d.lastRequest().body["reason"])

	_, err = runCLICommand(
		t, datadir, "disputes", "close", "trade", "--winner", "buyer",
		"--buyer_payout", "9", "--seller_payout", "2",
	)
	require.NoError(t, err)
	req := d.lastRequest()
	require.Equal(t, "/api/v1/trades/trade/dispute/close", req.path)
	require.Equal(t, "BUYER", req.body["winner"])
	require.Equal(t, float64(9000000000000), req.body["buyerPayoutAmount"])
	require.Equal(t, float64(2000000000000), req.body["sellerPayoutAmount"])
}

func TestWebhooks(t *testing.T) {
	t.Parallel()

	d := newFakeDaemon(t)
	datadir := initState(t, d)

	out, err := runCLICommand(
		t, datadir, "webhooks", "add", "--endpoint", "http://localhost/hook",
		"--topic", "TRADE_STATE_CHANGED",
	)
	require.NoError(t, err)
	require.Equal(t, "hook id: hook-id\n", out)
	require.Equal(t, "TRADE_STATE_CHANGED", d.lastRequest().body["topic"])

	_, err = runCLICommand(t, datadir, "webhooks", "list", "--topic", "*")
	require.NoError(t, err)
	require.Equal(t, "/api/v1/webhooks?topic=%2A", d.lastRequest().path)

	_, err = runCLICommand(t, datadir, "webhooks", "remove", "hook-id")
	require.NoError(t, err)
	require.Equal(t, "/api/v1/webhooks/hook-id", d.lastRequest().path)
}

func TestParseXMR(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount   string
		expected uint64
		err      bool
	}{
		{"1", 1000000000000, false},
		{"0.5", 500000000000, false},
		{"0.000000000001", 1, false},
		{"0.0000000000001", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.amount, func(t *testing.T) {
			t.Parallel()

			amount, err := parseXMR(tt.amount)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, amount)
		})
	}
}
