package agent

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/automl-assistant/internal/config"
	"github.com/ashureev/automl-assistant/internal/identity"
	"github.com/go-chi/chi/v5"
)

type handlerFixture struct {
	agent  *fakeAgent
	router http.Handler
}

func newHandlerFixture(t *testing.T, cfg *config.Config, convLog ConversationLogger) *handlerFixture {
	t.Helper()
	f, baseURL := startFakeAgent(t)
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := NewRegistry(8, func() *Client { return NewClient(baseURL, WithLogger(discard)) })
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	h := NewHandler(reg, convLog, cfg, discard)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	return &handlerFixture{agent: f, router: r}
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute},
		SSE:       config.SSEConfig{MaxRequestBodySize: 1024, KeepaliveInterval: time.Second},
		Agent:     config.AgentConfig{RequestTimeout: 5 * time.Second},
	}
}

func (f *handlerFixture) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// sseData returns the data payloads of an event stream, skipping comments.
func sseData(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			out = append(out, data)
		}
	}
	return out
}

func TestHandleChatRelaysStream(t *testing.T) {
	f := newHandlerFixture(t, testConfig(), nil)

	w := f.do(http.MethodPost, "/api/agent/chat", `{"message":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if got := w.Header().Get(ThreadHeaderName); got != "thread-1" {
		t.Fatalf("expected thread header thread-1, got %q", got)
	}

	records := sseData(w.Body.String())
	if len(records) != 7 {
		t.Fatalf("expected 6 events and the sentinel, got %d: %v", len(records), records)
	}
	var first Event
	if err := json.Unmarshal([]byte(records[0]), &first); err != nil || first.Type != EventRunStarted {
		t.Fatalf("unexpected first record %q", records[0])
	}
	if records[len(records)-1] != doneSentinel {
		t.Fatalf("expected stream to end with the sentinel, got %q", records[len(records)-1])
	}

	req, _ := f.agent.chat()
	if req.ThreadID != "thread-1" || req.Messages[0].Content != "hello" {
		t.Fatalf("unexpected upstream request %+v", req)
	}
}

func TestHandleChatRelaysRecordsUnchanged(t *testing.T) {
	f := newHandlerFixture(t, testConfig(), nil)

	w := f.do(http.MethodPost, "/api/agent/chat", `{"message":"snapshot","thread_id":"t-1"}`)
	records := sseData(w.Body.String())
	if len(records) != 5 {
		t.Fatalf("expected 4 events and the sentinel, got %d: %v", len(records), records)
	}
	if records[0] != snapshotRecord {
		t.Fatalf("messages snapshot altered in relay: %q", records[0])
	}
	if records[1] != startRecord {
		t.Fatalf("message start altered in relay: %q", records[1])
	}
}

func TestHandleChatReportsUpstreamFailure(t *testing.T) {
	f := newHandlerFixture(t, testConfig(), nil)
	f.agent.chatStatus.Store(http.StatusInternalServerError)

	w := f.do(http.MethodPost, "/api/agent/chat", `{"message":"hello","thread_id":"t-9"}`)
	records := sseData(w.Body.String())
	if len(records) != 1 {
		t.Fatalf("expected a single error record, got %v", records)
	}
	var ev Event
	if err := json.Unmarshal([]byte(records[0]), &ev); err != nil {
		t.Fatalf("failed to decode error record: %v", err)
	}
	if ev.Type != EventRunError || !strings.Contains(ev.Error, "Internal Server Error") {
		t.Fatalf("unexpected error record %+v", ev)
	}
	if f.agent.threads.Load() != 0 {
		t.Fatal("given thread id must be reused")
	}
}

func TestHandleChatThreadCreationFailure(t *testing.T) {
	f := newHandlerFixture(t, testConfig(), nil)
	f.agent.threadStatus.Store(http.StatusServiceUnavailable)

	w := f.do(http.MethodPost, "/api/agent/chat", `{"message":"hello"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestHandleChatValidation(t *testing.T) {
	f := newHandlerFixture(t, testConfig(), nil)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"empty message", `{"message":"   "}`, http.StatusBadRequest},
		{"too large", `{"message":"` + strings.Repeat("a", 2048) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := f.do(http.MethodPost, "/api/agent/chat", tc.body); w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestHandleChatRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerWindow = 1
	f := newHandlerFixture(t, cfg, nil)

	first := f.do(http.MethodPost, "/api/agent/chat", `{"message":"hello"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}
	cookies := first.Result().Cookies()

	second := f.do(http.MethodPost, "/api/agent/chat", `{"message":"hello"}`, cookies...)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
}

func TestHandleChatWritesConversationLog(t *testing.T) {
	dir := t.TempDir()
	convLog, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	f := newHandlerFixture(t, testConfig(), convLog)

	w := f.do(http.MethodPost, "/api/agent/chat", `{"message":"hello"}`)
	userID := w.Result().Cookies()[0].Value

	path := filepath.Join(dir, userID, "thread-1.ndjson")
	deadline := time.Now().Add(2 * time.Second)
	var lines []string
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(path)
		lines = strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(lines) < 2 {
		t.Fatalf("expected user and assistant lines in %s, got %v", path, lines)
	}

	var reply ConversationLogEvent
	if err := json.Unmarshal([]byte(lines[1]), &reply); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if reply.EventType != "chat_assistant_message" || reply.ContentRaw != "Hello" {
		t.Fatalf("unexpected assistant log event %+v", reply)
	}
	if reply.Meta["partial"] != false {
		t.Fatalf("completed exchange logged as partial: %+v", reply.Meta)
	}
}

func TestHandleThreadsAndHistory(t *testing.T) {
	f := newHandlerFixture(t, testConfig(), nil)

	w := f.do(http.MethodPost, "/api/agent/threads", "")
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"thread-1"`) {
		t.Fatalf("unexpected create thread response %d: %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, "/api/agent/threads/wrapped/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[1].ID == "" {
		t.Fatalf("unexpected history %+v", got.Messages)
	}

	if w := f.do(http.MethodGet, "/api/agent/threads/missing/messages", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown thread, got %d", w.Code)
	}
}

func TestHandleInvoke(t *testing.T) {
	f := newHandlerFixture(t, testConfig(), nil)

	w := f.do(http.MethodPost, "/api/agent/invoke", `{"message":"hi","thread_id":"t1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var msg Message
	if err := json.NewDecoder(w.Body).Decode(&msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if msg.Content != "echo: hi" || msg.Role != RoleAssistant {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestHandleAbort(t *testing.T) {
	f := newHandlerFixture(t, testConfig(), nil)
	if w := f.do(http.MethodPost, "/api/agent/abort", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestHandlePrompt(t *testing.T) {
	f := newHandlerFixture(t, testConfig(), nil)

	w := f.do(http.MethodPost, "/api/agent/prompts/theme", `{"industry":"Retail","useCase":"Churn"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Retail industry") {
		t.Fatalf("unexpected prompt response %d: %s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodPost, "/api/agent/prompts/haiku", `{}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown kind, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/agent/prompts/theme", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing params, got %d", w.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	defer rl.Stop()

	if !rl.Allow("u") || !rl.Allow("u") {
		t.Fatal("first two requests must pass")
	}
	if rl.Allow("u") {
		t.Fatal("third request must be limited")
	}
	if !rl.Allow("other") {
		t.Fatal("limits are per key")
	}
	time.Sleep(80 * time.Millisecond)
	if !rl.Allow("u") {
		t.Fatal("window must expire")
	}
}
