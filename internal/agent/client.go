package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const readChunkSize = 4096

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for every request. Streaming
// requests are only bounded by its Timeout, so keep it zero for chat.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithIDGenerator overrides generation of missing message ids.
func WithIDGenerator(newID func() string) ClientOption {
	return func(c *Client) { c.newID = newID }
}

// Client talks to the agent service. It allows one streaming exchange at a
// time: starting a new one cancels the previous one.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	current *Exchange
}

// NewClient returns a client for the agent API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange is the handle of one SendMessage call.
type Exchange struct {
	cancel   context.CancelFunc
	canceled atomic.Bool
	done     chan struct{}

	mu       sync.Mutex
	threadID string
}

// Cancel stops the exchange. A callback already running finishes, and no
// callback starts once the exchange has observed the cancel; after Done is
// closed none will run. Cancel may be called from inside a callback and is
// safe to call more than once.
func (e *Exchange) Cancel() {
	e.canceled.Store(true)
	e.cancel()
}

// Done is closed once the exchange has stopped and made its last callback.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange has stopped or ctx ends.
func (e *Exchange) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ThreadID returns the thread the exchange runs on. It is empty until the
// thread has been created.
func (e *Exchange) ThreadID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threadID
}

func (e *Exchange) setThreadID(id string) {
	e.mu.Lock()
	e.threadID = id
	e.mu.Unlock()
}

// CreateThread allocates a conversation thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	req := createThreadRequest{Name: "AutoML Session " + c.now().UTC().Format(time.RFC3339)}
	resp, err := c.post(ctx, "/chats", req, "application/json")
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	defer closeBody(resp)

	if !isSuccess(resp.StatusCode) {
		return "", newRemoteError("create thread", resp)
	}
	var out createThreadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode thread response: %w", err)
	}
	if out.ID == "" {
		return "", ErrMissingThreadID
	}
	return out.ID, nil
}

// SendMessage streams the reply to content into obs and returns at once.
// Any exchange still running on this client is canceled first, and the new
// one makes no callback until the old one has stopped.
func (c *Client) SendMessage(ctx context.Context, content string, opts SendOptions, obs Observer) *Exchange {
	if obs == nil {
		obs = NopObserver{}
	}
	ctx, cancel := context.WithCancel(ctx)
	ex := &Exchange{cancel: cancel, done: make(chan struct{}), threadID: opts.ThreadID}

	c.mu.Lock()
	prev := c.current
	c.current = ex
	c.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	go c.run(ctx, ex, prev, content, guardedObserver{ctx: ctx, ex: ex, obs: obs})
	return ex
}

func (c *Client) run(ctx context.Context, ex, prev *Exchange, content string, obs guardedObserver) {
	defer func() {
		c.mu.Lock()
		if c.current == ex {
			c.current = nil
		}
		c.mu.Unlock()
		ex.cancel()
		close(ex.done)
	}()

	if prev != nil {
		<-prev.done
	}

	err := c.stream(ctx, ex, content, obs)
	if err == nil {
		return
	}
	if !obs.live() {
		c.logger.Debug("Agent exchange canceled", "thread_id", ex.ThreadID())
		return
	}
	c.logger.Warn("Agent exchange failed", "thread_id", ex.ThreadID(), "error", err)
	obs.OnError(err)
}

func (c *Client) stream(ctx context.Context, ex *Exchange, content string, obs guardedObserver) error {
	threadID := ex.ThreadID()
	if threadID == "" {
		id, err := c.CreateThread(ctx)
		if err != nil {
			return err
		}
		threadID = id
		ex.setThreadID(id)
	}

	resp, err := c.post(ctx, "/ag-ui/chat", newRunRequest(threadID, content), "text/event-stream")
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	// The stream may stay open after its terminal record, so never drain it.
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		return newRemoteError("send message", resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return ErrEmptyBody
	}

	dec := NewDecoder(obs, c.logger)
	dec.newID = c.newID
	dec.now = c.now

	chunk := make([]byte, readChunkSize)
	for {
		n, rerr := resp.Body.Read(chunk)
		if !obs.live() {
			return nil
		}
		if n > 0 {
			_, _ = dec.Write(chunk[:n])
			if dec.Done() {
				return nil
			}
		}
		if errors.Is(rerr, io.EOF) {
			return dec.Close()
		}
		if rerr != nil {
			return fmt.Errorf("read event stream: %w", rerr)
		}
	}
}

// SendMessageSync sends content to the non-streaming endpoint and returns
// the complete reply.
func (c *Client) SendMessageSync(ctx context.Context, content, threadID string) (Message, error) {
	if threadID == "" {
		id, err := c.CreateThread(ctx)
		if err != nil {
			return Message{}, err
		}
		threadID = id
	}

	resp, err := c.post(ctx, "/ag-ui/invoke", newRunRequest(threadID, content), "application/json")
	if err != nil {
		return Message{}, fmt.Errorf("invoke agent: %w", err)
	}
	defer closeBody(resp)

	if !isSuccess(resp.StatusCode) {
		return Message{}, newRemoteError("invoke agent", resp)
	}
	var out invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Message{}, fmt.Errorf("decode invoke response: %w", err)
	}

	msg := Message{
		ID:        out.MessageID,
		Role:      RoleAssistant,
		Content:   out.Content,
		CreatedAt: c.now(),
	}
	if msg.ID == "" {
		msg.ID = c.newID()
	}
	if msg.Content == "" {
		msg.Content = out.Response
	}
	return msg, nil
}

// Abort cancels the running exchange, if any.
func (c *Client) Abort() {
	c.mu.Lock()
	ex := c.current
	c.mu.Unlock()
	if ex != nil {
		ex.Cancel()
	}
}

// GetThreadHistory returns the messages of a thread. Missing ids are
// generated and missing or unreadable timestamps become the current time.
func (c *Client) GetThreadHistory(ctx context.Context, threadID string) ([]Message, error) {
	endpoint := c.baseURL + "/chats/" + url.PathEscape(threadID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get thread history: %w", err)
	}
	defer closeBody(resp)

	if !isSuccess(resp.StatusCode) {
		return nil, newRemoteError("get thread history", resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read thread history: %w", err)
	}
	items, err := decodeHistory(raw)
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(items))
	for _, item := range items {
		msg := Message{
			ID:        item.ID,
			Role:      item.Role,
			Content:   item.Content,
			CreatedAt: c.parseTime(item.CreatedAt),
			ToolCalls: item.ToolCalls,
		}
		if msg.ID == "" {
			msg.ID = c.newID()
		}
		out = append(out, msg)
	}
	return out, nil
}

// decodeHistory accepts either {"messages": [...]} or a bare array.
func decodeHistory(raw []byte) ([]historyMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []historyMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode thread history: %w", err)
		}
		return items, nil
	}
	var wrapped struct {
		Messages []historyMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode thread history: %w", err)
	}
	return wrapped.Messages, nil
}

func (c *Client) parseTime(s string) time.Time {
	if s == "" {
		return c.now()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return c.now()
}

func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	return c.http.Do(req)
}

func newRunRequest(threadID, content string) runRequest {
	return runRequest{
		ThreadID: threadID,
		Messages: []wireMessage{{Role: RoleUser, Content: content}},
	}
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
