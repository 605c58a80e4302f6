package monerorpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/escrowd/pkg/circuitbreaker"
	"github.com/ybbus/jsonrpc/v3"
)

const requestTimeout = 2 * time.Minute

// rpcClient talks to a single monero-wallet-rpc or monerod endpoint. Every
// request goes through the circuit breaker of the endpoint.
type rpcClient struct {
	addr       string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	client     jsonrpc.RPCClient
	cb         *gobreaker.CircuitBreaker
}

func newRPCClient(addr, user, password string) *rpcClient {
	baseURL := addr
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	headers := map[string]string{}
	if len(user) > 0 {
		credentials := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		headers["Authorization"] = "Basic " + credentials
	}
	httpClient := &http.Client{Timeout: requestTimeout}

	return &rpcClient{
		addr:       addr,
		baseURL:    baseURL,
		headers:    headers,
		httpClient: httpClient,
		client: jsonrpc.NewClientWithOpts(baseURL+"/json_rpc", &jsonrpc.RPCClientOpts{
			HTTPClient:    httpClient,
			CustomHeaders: headers,
		}),
		cb: circuitbreaker.NewCircuitBreaker(addr, func(name string, from, to gobreaker.State) {
			log.Warnf("rpc endpoint %s circuit breaker changed state from %s to %s", name, from, to)
		}),
	}
}

// call invokes a JSON-RPC method. Errors returned by the server are reported
// to the caller without counting as failures of the endpoint.
func (c *rpcClient) call(
	ctx context.Context, method string, params, out interface{},
) error {
	if out == nil {
		out = &struct{}{}
	}
	res, err := c.cb.Execute(func() (interface{}, error) {
		var err error
		if params == nil {
			err = c.client.CallFor(ctx, out, method)
		} else {
			err = c.client.CallFor(ctx, out, method, params)
		}
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return rpcErr, nil
		}
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if rpcErr, ok := res.(*jsonrpc.RPCError); ok && rpcErr != nil {
		return fmt.Errorf("%s: %w", method, rpcErr)
	}
	return nil
}

// post invokes one of the plain JSON endpoints of monerod, like
// /send_raw_transaction, that are not served through /json_rpc.
func (c *rpcClient) post(
	ctx context.Context, path string, params, out interface{},
) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body),
		)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
