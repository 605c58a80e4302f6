package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 2 * time.Minute
)

type operatorClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func getOperatorClient(ctx *cli.Context) (*operatorClient, error) {
	state, err := getState(ctx)
	if err != nil {
		return nil, err
	}
	address, ok := state["rpcserver"]
	if !ok || len(address) <= 0 {
		return nil, errors.New("set rpcserver with `config set rpcserver`")
	}
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}

	return &operatorClient{
		baseURL:    strings.TrimSuffix(address, "/") + apiPrefix,
		token:      state["token"],
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

func (c *operatorClient) get(ctx *cli.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *operatorClient) post(ctx *cli.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *operatorClient) delete(ctx *cli.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *operatorClient) do(
	ctx *cli.Context, method, path string, body, out interface{},
) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx.Context, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.token) > 0 {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unable to connect to operator server: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var errRes struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&errRes); err != nil || errRes.Error == "" {
			return fmt.Errorf("request failed with status %d", res.StatusCode)
		}
		return errors.New(errRes.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
