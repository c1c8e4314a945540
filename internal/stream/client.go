package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/plan"
	"ChainPilot/pkg/logger"
)

const (
	streamPath     = "/chat/stream"
	readBufferSize = 4096
)

// Config 描述了连接对话流服务所需的信息。
type Config struct {
	BaseURL string
	APIKey  string
	// HeaderTimeout 限制等待响应头的时间，零表示不限制。响应体本身不设超时。
	HeaderTimeout time.Duration
}

// RequestContext 是随请求发送的可选钱包上下文。
type RequestContext struct {
	Account string `json:"account,omitempty"`
	Vesting string `json:"vesting,omitempty"`
}

// Request 是 POST /chat/stream 的请求体。
type Request struct {
	Messages []plan.ChatMessage `json:"messages"`
	Context  *RequestContext    `json:"context,omitempty"`
}

// Client 打开对话流并将其解码为事件。
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient 根据配置创建对话流客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置对话服务地址")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.HeaderTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.HeaderTimeout
	}
	return &Client{
		endpoint:   baseURL + streamPath,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Transport: transport},
		log:        logger.Named("stream"),
	}, nil
}

// Stream 提交请求，并在调用方 goroutine 中按顺序对每个事件调用 sink。
// 服务端关闭流后返回。
func (c *Client) Stream(ctx context.Context, req Request, sink Sink) error {
	if sink == nil {
		sink = func(Event) {}
	}
	if req.Messages == nil {
		req.Messages = []plan.ChatMessage{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "build chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return xerrors.Cancelled(ctxErr)
		}
		return xerrors.Wrap(xerrors.CodeTransport, err, "open chat stream")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(xerrors.CodeTransport,
			"chat stream returned status "+strconv.Itoa(resp.StatusCode),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
			xerrors.WithMetadata("body", strings.TrimSpace(string(body))))
	}
	if resp.Body == http.NoBody {
		return xerrors.New(xerrors.CodeTransport, "chat stream response has no body")
	}

	return c.read(ctx, resp.Body, sink)
}

func (c *Client) read(ctx context.Context, body io.Reader, sink Sink) error {
	decoder := NewDecoder()
	defer decoder.Close()

	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, ev := range decoder.Feed(buf[:n]) {
				metrics.ObserveStreamEvent(ev.Name())
				sink(ev)
			}
		}
		if errors.Is(err, io.EOF) {
			if pending := decoder.Pending(); pending > 0 {
				c.log.Debug("discarding incomplete trailing block", slog.Int("bytes", pending))
			}
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return xerrors.Cancelled(ctxErr)
			}
			return xerrors.Wrap(xerrors.CodeTransport, err, "read chat stream")
		}
	}
}
