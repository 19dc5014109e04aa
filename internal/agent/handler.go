package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/automl-assistant/internal/config"
	"github.com/ashureev/automl-assistant/internal/identity"
	"github.com/ashureev/automl-assistant/internal/prompt"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// ThreadHeaderName carries the thread a chat stream runs on.
const ThreadHeaderName = "X-Agent-Thread-ID"

// Handler relays browser chat requests to the agent service.
type Handler struct {
	registry    *Registry
	rateLimiter *RateLimiter
	log         ConversationLogger
	cfg         *config.Config
	logger      *slog.Logger
}

// ChatRequest is the body of the chat and invoke routes.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

// RateLimiter implements a per-user rate limiter.
// The key is userID only, not userID:sessionID, so clients cannot bypass
// throttling by rotating session IDs.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := r.fresh(r.requests[key], now)
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.stop) })
}

func (r *RateLimiter) fresh(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// startEviction periodically removes expired keys so the map stays bounded.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			now := time.Now()
			for key, times := range r.requests {
				if fresh := r.fresh(times, now); len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

// NewHandler creates the agent relay handler. A nil logger falls back to the
// default; a nil conversation logger disables conversation logging.
func NewHandler(registry *Registry, conversationLogger ConversationLogger, cfg *config.Config, logger *slog.Logger) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	if cfg != nil && cfg.RateLimit.RequestsPerWindow > 0 && cfg.RateLimit.WindowDuration > 0 {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
	}

	return &Handler{
		registry:    registry,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		log:         conversationLogger,
		cfg:         cfg,
		logger:      logger,
	}
}

// RegisterRoutes registers agent routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/invoke", h.HandleInvoke)
		r.Post("/threads", h.HandleCreateThread)
		r.Get("/threads/{threadID}/messages", h.HandleHistory)
		r.Post("/abort", h.HandleAbort)
		r.Post("/prompts/{kind}", h.HandlePrompt)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	h.registry.Close()
	if err := h.log.Close(); err != nil {
		h.logger.Warn("failed to close conversation logger", "error", err)
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// HandleChat handles POST /api/agent/chat. The reply is relayed as an event
// stream of "data: <event>" records ending in "data: [DONE]", or in a
// RUN_ERROR record when the exchange fails.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	// Rate-limit by userID only so clients cannot bypass throttling by
	// rotating session IDs.
	if !h.rateLimiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	client := h.registry.Client(sessionKey(userID, sessionID))
	reqID := chiMiddleware.GetReqID(r.Context())

	// Create the thread up front so failures still get a plain HTTP error and
	// the browser learns the id from the response headers.
	threadID := req.ThreadID
	if threadID == "" {
		id, err := client.CreateThread(r.Context())
		if err != nil {
			h.logger.Warn("Agent thread creation failed", "user_id", userID, "error", err)
			writeUpstreamError(w, err)
			return
		}
		threadID = id
	}

	h.logger.Info("Agent chat request",
		"user_id", userID,
		"session_id", sessionID,
		"thread_id", threadID,
		"remote_ip", identity.IPFromRequest(r),
		"message_length", len(req.Message),
	)
	h.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  threadID,
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta:       map[string]any{"request_id": reqID, "tab_session_id": sessionID},
	})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(ThreadHeaderName, threadID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	relay := &relayObserver{w: w, flusher: flusher, logger: h.logger}
	ex := client.SendMessage(r.Context(), req.Message, SendOptions{ThreadID: threadID}, relay)

	keepaliveInterval := 10 * time.Second
	if h.cfg != nil && h.cfg.SSE.KeepaliveInterval > 0 {
		keepaliveInterval = h.cfg.SSE.KeepaliveInterval
	}
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

wait:
	for {
		select {
		case <-ex.Done():
			break wait
		case <-r.Context().Done():
			ex.Cancel()
			<-ex.Done()
			h.logger.Info("Agent chat disconnected", "user_id", userID, "thread_id", threadID)
			break wait
		case <-keepalive.C:
			relay.comment("keepalive")
		}
	}

	h.logAssistantMessage(userID, threadID, relay.summary(), reqID)
}

func (h *Handler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg != nil && h.cfg.SSE.MaxRequestBodySize > 0 {
		maxBodySize = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return req, false
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, `{"error": "message is required"}`, http.StatusBadRequest)
		return req, false
	}
	return req, true
}

type relaySummary struct {
	content  strings.Builder
	messages int
	events   int
	partial  bool
	errMsg   string
}

func (h *Handler) logAssistantMessage(userID, threadID string, s *relaySummary, requestID string) {
	content := s.content.String()
	h.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  threadID,
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: content,
		Meta: map[string]any{
			"messages":     s.messages,
			"events":       s.events,
			"partial":      s.partial,
			"stream_error": s.errMsg,
			"request_id":   requestID,
		},
	})
}

// relayObserver writes exchange callbacks to the browser as SSE records.
type relayObserver struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	logger  *slog.Logger
	broken  bool
	sum     relaySummary
	ended   bool
}

// OnEvent relays the upstream record unchanged so fields the client does
// not model still reach the browser.
func (o *relayObserver) OnEvent(ev Event) {
	data := []byte(ev.Raw)
	if len(data) == 0 {
		var err error
		if data, err = json.Marshal(ev); err != nil {
			o.logger.Warn("failed to marshal agent event", "error", err)
			return
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sum.events++
	o.writeLocked(string(data))
}

func (o *relayObserver) OnMessage(msg Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sum.messages++
	if o.sum.content.Len() > 0 {
		o.sum.content.WriteString("\n")
	}
	o.sum.content.WriteString(msg.Content)
}

func (o *relayObserver) OnError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = true
	o.sum.partial = true
	o.sum.errMsg = err.Error()

	var runErr *RunError
	if errors.As(err, &runErr) {
		// The upstream RUN_ERROR record was already relayed by OnEvent.
		return
	}
	data, _ := json.Marshal(Event{Type: EventRunError, Error: err.Error()})
	o.writeLocked(string(data))
}

func (o *relayObserver) OnComplete() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = true
	o.writeLocked(doneSentinel)
}

func (o *relayObserver) comment(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.broken {
		return
	}
	if _, err := fmt.Fprintf(o.w, ": %s\n\n", text); err != nil {
		o.broken = true
		return
	}
	o.flusher.Flush()
}

func (o *relayObserver) writeLocked(data string) {
	if o.broken {
		return
	}
	if err := writeSSE(o.w, data); err != nil {
		o.logger.Warn("failed to write SSE record", "error", err)
		o.broken = true
		return
	}
	o.flusher.Flush()
}

func (o *relayObserver) summary() *relaySummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.ended {
		o.sum.partial = true
	}
	return &o.sum
}

func writeSSE(w io.Writer, data string) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// HandleInvoke handles POST /api/agent/invoke.
func (h *Handler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.rateLimiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if h.cfg != nil && h.cfg.Agent.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Agent.RequestTimeout)
		defer cancel()
	}

	msg, err := h.registry.Client(sessionKey(userID, sessionID)).SendMessageSync(ctx, req.Message, req.ThreadID)
	if err != nil {
		h.logger.Warn("Agent invoke failed", "user_id", userID, "error", err)
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// HandleCreateThread handles POST /api/agent/threads.
func (h *Handler) HandleCreateThread(w http.ResponseWriter, r *http.Request) {
	client, ok := h.clientFor(w, r)
	if !ok {
		return
	}
	id, err := client.CreateThread(r.Context())
	if err != nil {
		h.logger.Warn("Agent thread creation failed", "error", err)
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// HandleHistory handles GET /api/agent/threads/{threadID}/messages.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	client, ok := h.clientFor(w, r)
	if !ok {
		return
	}
	msgs, err := client.GetThreadHistory(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		h.logger.Warn("Agent history fetch failed", "error", err)
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// HandleAbort handles POST /api/agent/abort.
func (h *Handler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	h.registry.Abort(sessionKey(userID, identity.SessionIDFromContext(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

// HandlePrompt handles POST /api/agent/prompts/{kind}.
func (h *Handler) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var params prompt.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	text, err := prompt.Render(prompt.Kind(chi.URLParam(r, "kind")), params)
	switch {
	case errors.Is(err, prompt.ErrUnknownKind):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, prompt.ErrMissingParam):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		h.logger.Error("Prompt rendering failed", "error", err)
		http.Error(w, `{"error": "failed to render prompt"}`, http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": text})
	}
}

func (h *Handler) clientFor(w http.ResponseWriter, r *http.Request) (*Client, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return nil, false
	}
	return h.registry.Client(sessionKey(userID, identity.SessionIDFromContext(r.Context()))), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// writeUpstreamError maps agent failures to a gateway status.
func writeUpstreamError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var remote *RemoteError
	if errors.As(err, &remote) && remote.StatusCode == http.StatusNotFound {
		status = http.StatusNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
