// Package rpcclient talks to a node over HTTP JSON-RPC for reads and over
// a websocket for account subscriptions.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// Client implements subscription.Transport plus the account reads the
// facade needs.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logger.CtxZapLogger
	nextID     atomic.Uint64
	ws         *pubsub
}

var _ subscription.Transport = (*Client)(nil)

// New validates cfg. No connection is made until the first call.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()
	if err := validator.Check("rpc", cfg); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     o.logger,
		ws:         newPubsub(cfg, o.dialer, o.logger),
	}, nil
}

// GetAccountInfo returns the account at address, or nil when it does not
// exist, together with the slot the node answered at.
func (c *Client) GetAccountInfo(ctx context.Context, address string, commitment subscription.Commitment) (*Account, uint64, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, 0, err
	}
	var res accountInfoResult
	if err := c.call(ctx, "getAccountInfo", []interface{}{address, readConfig(commitment)}, &res); err != nil {
		return nil, 0, err
	}
	acc, err := res.Value.account()
	if err != nil {
		return nil, 0, err
	}
	return acc, res.Context.Slot, nil
}

// GetMultipleAccounts returns accounts in the order of addresses; missing
// accounts are nil.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []string, commitment subscription.Commitment) ([]*Account, uint64, error) {
	for _, a := range addresses {
		if err := ValidateAddress(a); err != nil {
			return nil, 0, err
		}
	}
	var res multipleAccountsResult
	if err := c.call(ctx, "getMultipleAccounts", []interface{}{addresses, readConfig(commitment)}, &res); err != nil {
		return nil, 0, err
	}
	if len(res.Value) != len(addresses) {
		return nil, 0, errdef.ErrTransport.
			WithMsgf("getMultipleAccounts returned %d values for %d addresses", len(res.Value), len(addresses))
	}
	out := make([]*Account, len(addresses))
	for i, v := range res.Value {
		acc, err := v.account()
		if err != nil {
			return nil, 0, err
		}
		out[i] = acc
	}
	return out, res.Context.Slot, nil
}

// OpenAccountSubscription sends accountSubscribe and returns once the node
// acknowledged it.
func (c *Client) OpenAccountSubscription(ctx context.Context, address string, commitment subscription.Commitment) (subscription.Feed, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	f, err := c.ws.open(ctx, address, commitment)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// CloseAccountSubscription ends the feed and sends accountUnsubscribe. A
// feed whose connection already dropped needs no unsubscribe.
func (c *Client) CloseAccountSubscription(ctx context.Context, id uint64) error {
	return c.ws.close(ctx, id)
}

// Close drops the websocket connection; open feeds end with ErrClosed.
func (c *Client) Close() error {
	c.ws.shutdown()
	return nil
}

func readConfig(commitment subscription.Commitment) map[string]interface{} {
	cfg := map[string]interface{}{"encoding": "base64"}
	if commitment != "" {
		cfg["commitment"] = string(commitment)
	}
	return cfg
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return errdef.ErrInvalidArgument.WithMsgf("%s: encode request", method).Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errdef.ErrInvalidArgument.WithMsgf("%s: build request", method).Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errdef.ErrTransport.WithMsgf("%s: request failed", method).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("rpc call rejected",
			zap.String("method", method),
			zap.Int("status", resp.StatusCode))
		return errdef.ErrTransport.WithMsgf("%s: HTTP %d", method, resp.StatusCode).
			WithData("status", resp.StatusCode)
	}

	var msg rpcMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return errdef.ErrTransport.WithMsgf("%s: malformed response", method).Wrap(err)
	}
	if msg.Error != nil {
		return msg.Error.err(method)
	}
	return decodeResult(method, msg.Result, result)
}
