package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrStatus is wrapped when the server answers with a non-2xx status.
var ErrStatus = errors.New("unexpected remote status")

// HTTPStore is a Store backed by a remote Server.
//
// Reads and writes go through Client, which the CLI points at the offline
// cache proxy. Subscription streams use their own WebSocket dialer because
// they need a hijackable connection.
type HTTPStore struct {
	base   *url.URL
	client *http.Client
	dialer *http.Client
	logger *log.Logger

	// MaxBackoff caps the reconnect delay of subscriptions.
	MaxBackoff time.Duration

	mu   sync.Mutex
	subs map[*clientSub]struct{}
}

type clientSub struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHTTPStore creates a store talking to the server at baseURL. A nil
// client means http.DefaultClient.
func NewHTTPStore(baseURL string, client *http.Client, logger *log.Logger) (*HTTPStore, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote URL %q: scheme must be http or https", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &HTTPStore{
		base:       u,
		client:     client,
		dialer:     &http.Client{},
		logger:     logger,
		MaxBackoff: 30 * time.Second,
		subs:       make(map[*clientSub]struct{}),
	}, nil
}

func (h *HTTPStore) valueURL(p string) string {
	return h.base.String() + "/v1/" + p
}

func (h *HTTPStore) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.valueURL(p), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", method, p, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: %s", ErrStatus, method, p, resp.Status)
	}
	return data, nil
}

// Read implements Store.Read.
func (h *HTTPStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := h.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	return json.RawMessage(data), nil
}

// Write implements Store.Write.
func (h *HTTPStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	_, err := h.do(ctx, http.MethodPut, path, value)
	return err
}

// Append implements Store.Append.
func (h *HTTPStore) Append(ctx context.Context, path string) (string, error) {
	data, err := h.do(ctx, http.MethodPost, path, []byte("{}"))
	if err != nil {
		return "", err
	}
	var resp struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.Key == "" {
		return "", fmt.Errorf("append %s: malformed response", path)
	}
	return resp.Key, nil
}

// Delete implements Store.Delete.
func (h *HTTPStore) Delete(ctx context.Context, path string) error {
	_, err := h.do(ctx, http.MethodDelete, path, nil)
	return err
}

// Subscribe implements Store.Subscribe.
//
// The stream reconnects with capped exponential backoff; the server sends
// the current value first on every connection, which reconciles the
// subscriber with any writes made while it was disconnected. If the very
// first connection fails, a plain Read is attempted so an offline
// subscriber still receives the last value the proxy cached.
func (h *HTTPStore) Subscribe(ctx context.Context, path string, fn func(json.RawMessage)) (func(), error) {
	p, err := CleanPath(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &clientSub{cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go h.stream(ctx, p, fn, sub)

	return func() {
		cancel()
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}, nil
}

func (h *HTTPStore) subscribeURL(p string) string {
	return h.base.String() + "/subscribe?path=" + url.QueryEscape(p)
}

func (h *HTTPStore) stream(ctx context.Context, p string, fn func(json.RawMessage), sub *clientSub) {
	defer close(sub.done)

	backoff := 500 * time.Millisecond
	delivered := false

	for {
		err := h.streamOnce(ctx, p, func(v json.RawMessage) {
			delivered = true
			backoff = 500 * time.Millisecond
			fn(v)
		})
		if ctx.Err() != nil {
			return
		}

		if !delivered {
			if v, rerr := h.Read(ctx, p); rerr == nil {
				delivered = true
				fn(v)
			}
		}

		h.logger.Printf("Subscription %s interrupted, retrying in %v: %v", p, backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > h.MaxBackoff {
			backoff = h.MaxBackoff
		}
	}
}

func (h *HTTPStore) streamOnce(ctx context.Context, p string, fn func(json.RawMessage)) error {
	conn, _, err := websocket.Dial(ctx, h.subscribeURL(p), &websocket.DialOptions{
		HTTPClient: h.dialer,
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Printf("Warning: dropping malformed frame on %s: %v", p, err)
			continue
		}
		value := frame.Value
		if string(bytes.TrimSpace(value)) == "null" {
			value = nil
		}
		fn(value)
	}
}

// Close cancels all subscriptions and waits for their streams to end.
func (h *HTTPStore) Close() error {
	h.mu.Lock()
	subs := make([]*clientSub, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*clientSub]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
	return nil
}
