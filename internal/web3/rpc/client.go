// Package rpc issues JSON-RPC reads against an ordered list of endpoints,
// falling back to the next endpoint whenever one fails.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/pkg/logger"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

type endpoint struct {
	url    string
	client *gethrpc.Client
}

// Client performs sequential fallback across endpoints. The endpoint order
// is fixed when the client is created.
type Client struct {
	endpoints []endpoint
	poll      PollConfig
	log       *slog.Logger
}

type settings struct {
	httpClient *http.Client
	poll       PollConfig
	log        *slog.Logger
}

// Option customises the client.
type Option func(*settings)

// WithHTTPClient sets the transport shared by every endpoint.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

// WithPollConfig overrides the receipt polling schedule.
func WithPollConfig(cfg PollConfig) Option {
	return func(s *settings) {
		s.poll = cfg.withDefaults()
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// Dial prepares one JSON-RPC client per endpoint. Duplicate and blank URLs
// are dropped while preserving order.
func Dial(ctx context.Context, urls []string, opts ...Option) (*Client, error) {
	s := settings{httpClient: http.DefaultClient, poll: DefaultPollConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("rpc")
	}

	ordered := Dedupe(urls)
	if len(ordered) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no rpc endpoints configured")
	}

	c := &Client{poll: s.poll, log: s.log}
	for _, url := range ordered {
		rc, err := gethrpc.DialOptions(ctx, url, gethrpc.WithHTTPClient(s.httpClient))
		if err != nil {
			c.Close()
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "dial rpc endpoint",
				xerrors.WithMetadata("endpoint", url))
		}
		c.endpoints = append(c.endpoints, endpoint{url: url, client: rc})
	}
	return c, nil
}

// Dedupe trims, drops blanks and removes duplicates, keeping first
// occurrences.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}

// Endpoints returns the endpoint order used for every call.
func (c *Client) Endpoints() []string {
	out := make([]string, len(c.endpoints))
	for i, ep := range c.endpoints {
		out[i] = ep.url
	}
	return out
}

// Close releases all endpoint connections.
func (c *Client) Close() {
	for _, ep := range c.endpoints {
		if ep.client != nil {
			ep.client.Close()
		}
	}
}

// Call tries each endpoint in order and returns the first well-formed
// result together with the endpoint that served it.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, string, error) {
	return c.CallPreferred(ctx, "", method, params...)
}

// CallPreferred behaves like Call but tries the preferred endpoint first
// when it is one of the configured endpoints.
func (c *Client) CallPreferred(ctx context.Context, preferred, method string, params ...any) (json.RawMessage, string, error) {
	var (
		lastErr      error
		lastEndpoint string
	)
	for _, ep := range c.ordered(preferred) {
		if err := ctx.Err(); err != nil {
			return nil, "", xerrors.Cancelled(err)
		}
		result, err := c.attempt(ctx, ep, method, params)
		if err == nil {
			return result, ep.url, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", xerrors.Cancelled(ctxErr)
		}
		c.log.Debug("rpc endpoint failed",
			slog.String("endpoint", ep.url),
			slog.String("method", method),
			slog.Any("error", err))
		lastErr = err
		lastEndpoint = ep.url
	}
	return nil, "", xerrors.Wrap(xerrors.CodeAllEndpointsFailed, lastErr, "",
		xerrors.WithMetadata("endpoint", lastEndpoint),
		xerrors.WithMetadata("method", method))
}

func (c *Client) ordered(preferred string) []endpoint {
	if preferred == "" {
		return c.endpoints
	}
	out := make([]endpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		if ep.url == preferred {
			out = append(out, ep)
		}
	}
	if len(out) == 0 {
		return c.endpoints
	}
	for _, ep := range c.endpoints {
		if ep.url != preferred {
			out = append(out, ep)
		}
	}
	return out
}

var errMissingResult = errors.New("response has no result")

func (c *Client) attempt(ctx context.Context, ep endpoint, method string, params []any) (json.RawMessage, error) {
	start := time.Now()
	var result json.RawMessage
	err := ep.client.CallContext(ctx, &result, method, params...)
	if err == nil && len(result) == 0 {
		err = errMissingResult
	}
	metrics.ObserveRPCCall(ep.url, method, outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s via %s: %w", method, ep.url, err)
	}
	return result, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		return "http_error"
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return "rpc_error"
	}
	return "failed"
}

type callArgs struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// ReadUint256 performs eth_call against the latest block and parses the
// returned word.
func (c *Client) ReadUint256(ctx context.Context, to, data string) (*big.Int, error) {
	raw, endpoint, err := c.Call(ctx, "eth_call", callArgs{To: to, Data: data}, "latest")
	if err != nil {
		return nil, err
	}
	value, err := ParseQuantity(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedRPCResult, err, "",
			xerrors.WithMetadata("endpoint", endpoint))
	}
	return value, nil
}

// ParseQuantity decodes a JSON string holding 0x-prefixed hex. "0x" is zero.
func ParseQuantity(raw json.RawMessage) (*big.Int, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, fmt.Errorf("result is not a string: %s", string(raw))
	}
	if len(text) < 2 || text[0] != '0' || (text[1] != 'x' && text[1] != 'X') {
		return nil, fmt.Errorf("result %q lacks 0x prefix", text)
	}
	digits := text[2:]
	if digits == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("result %q is not hex", text)
	}
	return value, nil
}
