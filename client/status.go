package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Heartbeat mirrors the server's /heartbeat response.
type Heartbeat struct {
	Identity    string
	Version     string
	StartedAt   string
	Uptime      string
	Connections int
}

// Connection mirrors one entry of the server's /connections response.
type Connection struct {
	ID          uint64
	Session     string
	Transport   string
	Remote      string
	State       string
	ConnectedAt string
	Commands    uint64
}

// StatusClient queries a server's HTTP status endpoint, retrying transient failures.
type StatusClient struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	customizeRetryableClient func(*retryablehttp.Client)
	waitInterval             time.Duration
}

type StatusOption func(c *StatusClient)

func WithStatusLogger(l *zap.Logger) StatusOption {
	return func(c *StatusClient) {
		c.Logger = l.Named("status_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) StatusOption {
	return func(c *StatusClient) {
		c.customizeRetryableClient = f
	}
}

func WithWaitInterval(d time.Duration) StatusOption {
	return func(c *StatusClient) {
		c.waitInterval = d
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewStatusClient builds a client for the status endpoint at addr, given as
// host:port or as an http URL.
func NewStatusClient(addr string, opts ...StatusOption) *StatusClient {
	baseURL := strings.TrimSuffix(addr, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	c := &StatusClient{
		Logger:       zap.NewNop().Sugar(),
		baseURL:      baseURL,
		waitInterval: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 5
	retryClient.RetryWaitMin = 10 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}
	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}
	c.HTTPClient = retryClient.StandardClient()
	return c
}

// WebSocketURL is the address of the command protocol route.
func (c *StatusClient) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
}

func (c *StatusClient) get(ctx context.Context, route string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+route, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body string
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			body = fmt.Errorf("error reading body: %w", err).Error()
		} else {
			body = string(b)
		}
		return fmt.Errorf("non-200 HTTP status code %d received from %s: %s", resp.StatusCode, route, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", route, err)
	}
	return nil
}

func (c *StatusClient) Heartbeat(ctx context.Context) (*Heartbeat, error) {
	var hb Heartbeat
	if err := c.get(ctx, "/heartbeat", &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}

func (c *StatusClient) Connections(ctx context.Context) ([]Connection, error) {
	var conns []Connection
	if err := c.get(ctx, "/connections", &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// WaitForServer polls the heartbeat until it succeeds or ctx is done.
func (c *StatusClient) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, err := c.Heartbeat(ctx)
			if err == nil {
				c.Logger.Debug("heartbeat succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got heartbeat error: %s", err)
		}
	}
}

// FetchStatus reads the heartbeat of the server whose status endpoint is at addr.
func FetchStatus(ctx context.Context, addr string, opts ...StatusOption) (*Heartbeat, error) {
	return NewStatusClient(addr, opts...).Heartbeat(ctx)
}
