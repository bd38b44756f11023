package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openrouter-alt/gateway/internal/auth"
	"github.com/openrouter-alt/gateway/internal/billing"
	"github.com/openrouter-alt/gateway/internal/config"
	"github.com/openrouter-alt/gateway/internal/db"
	"github.com/openrouter-alt/gateway/internal/models"
	"github.com/openrouter-alt/gateway/internal/proxy"
	"github.com/openrouter-alt/gateway/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testStack struct {
	engine *gin.Engine
	conn   *gorm.DB
}

func newTestStack(t *testing.T, backendURL string, baseRequests int64) *testStack {
	t.Helper()

	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open test db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate test db: %v", errMigrate)
	}

	cfg := config.Default()
	cfg.Backend.BaseURL = backendURL
	cfg.Backend.ConnectTimeout = config.Duration(time.Second)
	cfg.Backend.RequestTimeout = config.Duration(2 * time.Second)
	cfg.Backend.RetryDelay = config.Duration(10 * time.Millisecond)
	cfg.RateLimit.BaseRequests = baseRequests
	cfg.RateLimit.SweepProbability = 0

	forwarder := proxy.NewClient(cfg.Backend)
	limiter := ratelimit.NewService(conn, cfg.RateLimit)
	pricing := billing.NewPricingSource(conn, nil, cfg.Billing.PricingCacheTTL.Std())
	recorder := billing.NewRecorder(conn, pricing, limiter, cfg.Billing.DefaultPricePer1K)

	engine := NewRouter(Deps{
		DB:            conn,
		Config:        &cfg,
		Authenticator: auth.NewAuthenticator(conn),
		Limiter:       limiter,
		Forwarder:     forwarder,
		Recorder:      recorder,
	})
	return &testStack{engine: engine, conn: conn}
}

func (s *testStack) seedAccount(t *testing.T, status string) models.Account {
	t.Helper()
	account := models.Account{
		Email:       "caller@example.com",
		LaCookie:    "la-token-0123456789",
		CfClearance: "cf-token-0123456789",
		Tier:        models.TierFree,
		Status:      status,
	}
	if errCreate := s.conn.Create(&account).Error; errCreate != nil {
		t.Fatalf("seed account: %v", errCreate)
	}
	return account
}

func authedRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Cookie", "LA_COOKIE=la-token-0123456789; CF_CLEARANCE=cf-token-0123456789")
	return r
}

func decodeErrorBody(t *testing.T, recorder *httptest.ResponseRecorder) (string, string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if errUnmarshal := json.Unmarshal(recorder.Body.Bytes(), &body); errUnmarshal != nil {
		t.Fatalf("decode error body %q: %v", recorder.Body.String(), errUnmarshal)
	}
	return body.Error.Message, body.Error.Type, body.Error.Code
}

func TestHealthReportsChecks(t *testing.T) {
	stack := newTestStack(t, "http://127.0.0.1:0", 60)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	if errUnmarshal := json.Unmarshal(recorder.Body.Bytes(), &body); errUnmarshal != nil {
		t.Fatalf("decode health body: %v", errUnmarshal)
	}
	if body.Status != "healthy" || body.Checks["database"] != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestChatWithoutCredentialsIsUnauthorized(t *testing.T) {
	stack := newTestStack(t, "http://127.0.0.1:0", 60)

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, r)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	message, errType, code := decodeErrorBody(t, recorder)
	if errType != "authentication_error" || code != "invalid_authorization" {
		t.Fatalf("unexpected error taxonomy: %s/%s", errType, code)
	}
	if message != "missing or invalid cookie format" {
		t.Fatalf("unexpected message %q", message)
	}
}

func TestChatSuspendedAccountIsUnauthorized(t *testing.T) {
	stack := newTestStack(t, "http://127.0.0.1:0", 60)
	stack.seedAccount(t, models.AccountStatusSuspended)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, authedRequest(http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o-latest","messages":[{"role":"user","content":"hi"}]}`))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	message, _, _ := decodeErrorBody(t, recorder)
	if message != "user not found or inactive" {
		t.Fatalf("unexpected message %q", message)
	}
}

func TestChatCompletionBufferedRecordsUsage(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-LA-Cookie") == "" || r.Header.Get("X-CF-Clearance") == "" {
			t.Errorf("expected credential headers on upstream request")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","model":"gpt-4o-latest","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`))
	}))
	defer backend.Close()

	stack := newTestStack(t, backend.URL, 60)
	account := stack.seedAccount(t, models.AccountStatusActive)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, authedRequest(http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o-latest","messages":[{"role":"user","content":"hi"}]}`))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Header().Get("X-RateLimit-Limit-Requests") != "60" {
		t.Fatalf("missing rate limit telemetry: %v", recorder.Header())
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}

	var body struct {
		Object string `json:"object"`
	}
	if errUnmarshal := json.Unmarshal(recorder.Body.Bytes(), &body); errUnmarshal != nil {
		t.Fatalf("decode completion body: %v", errUnmarshal)
	}
	if body.Object != "chat.completion" {
		t.Fatalf("expected defaulted object, got %q", body.Object)
	}

	var usageRow models.Usage
	if errFind := stack.conn.Where("account_id = ?", account.ID).First(&usageRow).Error; errFind != nil {
		t.Fatalf("expected usage row: %v", errFind)
	}
	if usageRow.TotalTokens != 30 || usageRow.Model != "gpt-4o-latest" {
		t.Fatalf("unexpected usage row: %+v", usageRow)
	}

	var window models.RateWindow
	if errFind := stack.conn.Where("account_id = ?", account.ID).First(&window).Error; errFind != nil {
		t.Fatalf("expected rate window: %v", errFind)
	}
	if window.TokenCount != 30 {
		t.Fatalf("expected token feedback 30, got %d", window.TokenCount)
	}
}

func TestChatCompletionRateLimited(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","choices":[]}`))
	}))
	defer backend.Close()

	stack := newTestStack(t, backend.URL, 2)
	stack.seedAccount(t, models.AccountStatusActive)

	payload := `{"model":"gpt-4o-latest","messages":[{"role":"user","content":"hi"}]}`
	for i := 0; i < 2; i++ {
		recorder := httptest.NewRecorder()
		stack.engine.ServeHTTP(recorder, authedRequest(http.MethodPost, "/v1/chat/completions", payload))
		if recorder.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, recorder.Code)
		}
	}

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, authedRequest(http.MethodPost, "/v1/chat/completions", payload))
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	retryAfter := recorder.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Fatalf("expected Retry-After header")
	}
	_, errType, code := decodeErrorBody(t, recorder)
	if errType != "rate_limit_error" || code != "rate_limit_exceeded" {
		t.Fatalf("unexpected taxonomy: %s/%s", errType, code)
	}
}

func TestChatCompletionStreamingRelaysChunks(t *testing.T) {
	chunks := []string{
		`data: {"object":"chat.completion.chunk","choices":[{"delta":{"content":"a"}}]}`,
		`data: {"object":"chat.completion.chunk","choices":[{"delta":{"content":"b"}}]}`,
		`data: {"object":"chat.completion.chunk","choices":[{"delta":{},"finish_reason":"stop"}]}`,
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk + "\n\n"))
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer backend.Close()

	stack := newTestStack(t, backend.URL, 60)
	stack.seedAccount(t, models.AccountStatusActive)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, authedRequest(http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o-latest","messages":[{"role":"user","content":"hi"}],"stream":true}`))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event-stream, got %q", got)
	}

	body := recorder.Body.String()
	dataLines := 0
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") && !strings.Contains(line, "[DONE]") {
			dataLines++
		}
	}
	if dataLines != 3 {
		t.Fatalf("expected 3 data lines, got %d in %q", dataLines, body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("missing terminal marker in %q", body)
	}
}

func TestChatCompletionUpstream503IsSynthesized(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<html>nginx maintenance page</html>"))
	}))
	defer backend.Close()

	stack := newTestStack(t, backend.URL, 60)
	stack.seedAccount(t, models.AccountStatusActive)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, authedRequest(http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o-latest","messages":[{"role":"user","content":"hi"}]}`))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	_, errType, code := decodeErrorBody(t, recorder)
	if errType != "server_error" || code != "service_unavailable" {
		t.Fatalf("unexpected taxonomy: %s/%s", errType, code)
	}
	if strings.Contains(recorder.Body.String(), "nginx") {
		t.Fatalf("backend internals leaked: %s", recorder.Body.String())
	}
}

func TestChatCompletionValidation(t *testing.T) {
	stack := newTestStack(t, "http://127.0.0.1:0", 60)
	stack.seedAccount(t, models.AccountStatusActive)

	cases := []struct {
		name        string
		contentType string
		body        string
		wantMessage string
	}{
		{"missing model", "application/json", `{"messages":[{"role":"user","content":"hi"}]}`, "Missing required field: model"},
		{"messages not array", "application/json", `{"model":"gpt-4o-latest","messages":"nope"}`, "Missing or invalid required field: messages"},
		{"empty messages", "application/json", `{"model":"gpt-4o-latest","messages":[]}`, "Missing or invalid required field: messages"},
		{"wrong content type", "text/plain", `{"model":"gpt-4o-latest","messages":[{"role":"user","content":"hi"}]}`, "Content-Type must be application/json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(tc.body))
			r.Header.Set("Content-Type", tc.contentType)
			r.Header.Set("Cookie", "LA_COOKIE=la-token-0123456789; CF_CLEARANCE=cf-token-0123456789")

			recorder := httptest.NewRecorder()
			stack.engine.ServeHTTP(recorder, r)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
			message, errType, _ := decodeErrorBody(t, recorder)
			if errType != "invalid_request_error" {
				t.Fatalf("unexpected type %q", errType)
			}
			if message != tc.wantMessage {
				t.Fatalf("expected %q, got %q", tc.wantMessage, message)
			}
		})
	}
}

func TestModelsFallsBackToStaticCatalog(t *testing.T) {
	stack := newTestStack(t, "http://127.0.0.1:0", 60)
	stack.seedAccount(t, models.AccountStatusActive)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, authedRequest(http.MethodGet, "/v1/models", ""))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 fallback, got %d", recorder.Code)
	}
	var body struct {
		Object string `json:"object"`
		Data   []struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		} `json:"data"`
	}
	if errUnmarshal := json.Unmarshal(recorder.Body.Bytes(), &body); errUnmarshal != nil {
		t.Fatalf("decode model list: %v", errUnmarshal)
	}
	if body.Object != "list" || len(body.Data) == 0 {
		t.Fatalf("unexpected model list: %+v", body)
	}
	if body.Data[0].Object != "model" {
		t.Fatalf("expected model entries, got %+v", body.Data[0])
	}
}

func TestModelsProxiesUpstreamList(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"upstream-model","object":"model"}]}`))
	}))
	defer backend.Close()

	stack := newTestStack(t, backend.URL, 60)
	stack.seedAccount(t, models.AccountStatusActive)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, authedRequest(http.MethodGet, "/v1/models", ""))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "upstream-model") {
		t.Fatalf("expected upstream list, got %s", recorder.Body.String())
	}
}

func TestCORSPreflightAndHeaders(t *testing.T) {
	stack := newTestStack(t, "http://127.0.0.1:0", 60)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 preflight, got %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS origin header")
	}
}

func TestUnknownRouteIsFormatted(t *testing.T) {
	stack := newTestStack(t, "http://127.0.0.1:0", 60)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	_, errType, code := decodeErrorBody(t, recorder)
	if errType != "not_found_error" || code != "not_found" {
		t.Fatalf("unexpected taxonomy: %s/%s", errType, code)
	}
}

func TestWrongMethodCarriesAllowHeader(t *testing.T) {
	stack := newTestStack(t, "http://127.0.0.1:0", 60)

	recorder := httptest.NewRecorder()
	stack.engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/v1/chat/completions", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Header().Get("Allow"), "POST") {
		t.Fatalf("expected Allow header with POST, got %q", recorder.Header().Get("Allow"))
	}
}
