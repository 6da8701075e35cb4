package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"chatbot/app/internal/db"
	"chatbot/app/internal/history"
	"chatbot/app/internal/llm"
	"chatbot/app/internal/retrieval"
)

func TestHomeRouteRendersPage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{})
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != htmlContentType {
		t.Fatalf("expected content type %q, got %q", htmlContentType, ct)
	}

	body := rec.Body.String()
	if !contains(body, "NewJeans Chatbot") {
		t.Fatalf("expected body to contain title, got %q", body)
	}
	if !contains(body, "2 facts loaded") {
		t.Fatalf("expected fact count in body, got %q", body)
	}
	if !contains(body, "facebook/opt-125m") {
		t.Fatalf("expected model name in body, got %q", body)
	}
}

func TestGenerateRouteReturnsContinuation(t *testing.T) {
	t.Parallel()

	generator := &stubGenerator{result: llm.Ok(" to dance")}
	repo := &stubHistory{}
	srv := newTestServer(t, testServerOptions{generator: generator, history: repo})

	req := httptest.NewRequest("POST", "/generate", strings.NewReader(`{"prompt":"I want"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Continuation string `json:"continuation"`
		Failed       bool   `json:"failed"`
	}
	decodeBody(t, rec.Body.String(), &body)

	if body.Continuation != " to dance" || body.Failed {
		t.Fatalf("unexpected body: %+v", body)
	}
	if generator.lastPrompt != "I want" {
		t.Fatalf("expected prompt to reach the generator, got %q", generator.lastPrompt)
	}

	if len(repo.recorded) != 1 {
		t.Fatalf("expected one recorded exchange, got %d", len(repo.recorded))
	}
	exchange := repo.recorded[0]
	if exchange.Kind != history.KindGenerate || exchange.Input != "I want" || exchange.Output != " to dance" {
		t.Fatalf("unexpected exchange: %+v", exchange)
	}
	if exchange.RequestID == "" {
		t.Fatalf("expected exchange to carry the request id")
	}
}

func TestGenerateRouteReturnsSentinelOnFailure(t *testing.T) {
	t.Parallel()

	generator := &stubGenerator{result: llm.Failed(eris.New("inference backend unavailable"))}
	repo := &stubHistory{}
	srv := newTestServer(t, testServerOptions{generator: generator, history: repo})

	req := httptest.NewRequest("POST", "/generate", strings.NewReader(`{"prompt":"Hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200 even on failure, got %d", rec.Code)
	}

	var body struct {
		Continuation string `json:"continuation"`
		Failed       bool   `json:"failed"`
	}
	decodeBody(t, rec.Body.String(), &body)

	if body.Continuation != llm.ErrorSentinel || !body.Failed {
		t.Fatalf("expected error sentinel, got %+v", body)
	}
	if len(repo.recorded) != 1 || !repo.recorded[0].Failed {
		t.Fatalf("expected failed exchange to be recorded, got %+v", repo.recorded)
	}
}

func TestRetrieveRouteFindsFact(t *testing.T) {
	t.Parallel()

	repo := &stubHistory{}
	srv := newTestServer(t, testServerOptions{history: repo})

	req := httptest.NewRequest("GET", "/retrieve?q=Tell+me+about+hanni", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Found  bool   `json:"found"`
		Answer string `json:"answer"`
	}
	decodeBody(t, rec.Body.String(), &body)

	if !body.Found || body.Answer != "Hanni: Hanni is a member." {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(repo.recorded) != 1 || repo.recorded[0].Kind != history.KindRetrieve || !repo.recorded[0].Found {
		t.Fatalf("expected retrieve exchange to be recorded, got %+v", repo.recorded)
	}
}

func TestRetrieveRouteReportsAbsentFact(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{})

	req := httptest.NewRequest("GET", "/retrieve?q=weather", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Found  bool   `json:"found"`
		Answer string `json:"answer"`
	}
	decodeBody(t, rec.Body.String(), &body)

	if body.Found || body.Answer != "" {
		t.Fatalf("expected no answer, got %+v", body)
	}
}

func TestFactsRouteListsFactsInOrder(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{})

	req := httptest.NewRequest("GET", "/facts", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Count int              `json:"count"`
		Facts []retrieval.Fact `json:"facts"`
	}
	decodeBody(t, rec.Body.String(), &body)

	if body.Count != 2 || len(body.Facts) != 2 {
		t.Fatalf("expected two facts, got %+v", body)
	}
	if body.Facts[0].Key != "NewJeans" || body.Facts[1].Key != "Hanni" {
		t.Fatalf("expected file order, got %+v", body.Facts)
	}
}

func TestHistoryRouteListsExchanges(t *testing.T) {
	t.Parallel()

	repo := &stubHistory{
		listed: []history.Exchange{
			{ID: "b", Kind: history.KindRetrieve, Input: "hanni", Output: "Hanni: Hanni is a member.", Found: true},
			{ID: "a", Kind: history.KindGenerate, Input: "I want", Output: " to dance"},
		},
	}
	srv := newTestServer(t, testServerOptions{history: repo})

	req := httptest.NewRequest("GET", "/history?limit=5", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if repo.lastLimit != 5 {
		t.Fatalf("expected limit 5 to reach the repository, got %d", repo.lastLimit)
	}

	var body struct {
		Exchanges []exchangeView `json:"exchanges"`
	}
	decodeBody(t, rec.Body.String(), &body)

	if len(body.Exchanges) != 2 || body.Exchanges[0].ID != "b" || body.Exchanges[0].Kind != "retrieve" {
		t.Fatalf("unexpected exchanges: %+v", body.Exchanges)
	}
}

func TestHistoryRouteRejectsOversizedLimit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{history: &stubHistory{}})

	req := httptest.NewRequest("GET", "/history?limit=500", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 422 {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestHistoryRouteUnavailableWithoutRepository(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{})

	req := httptest.NewRequest("GET", "/history", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestHistoryRouteReturns500OnFailure(t *testing.T) {
	t.Parallel()

	repo := &stubHistory{listErr: eris.New("database is locked")}
	srv := newTestServer(t, testServerOptions{history: repo})

	req := httptest.NewRequest("GET", "/history", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 500 {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func TestHealthRouteReportsOK(t *testing.T) {
	t.Parallel()

	conn, err := db.Open(db.Options{Path: db.MemoryPath})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })

	srv := newTestServer(t, testServerOptions{database: conn})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status    string `json:"status"`
		Database  string `json:"database"`
		Generator string `json:"generator"`
		Facts     int    `json:"facts"`
	}
	decodeBody(t, rec.Body.String(), &body)

	if body.Status != "ok" || body.Database != "ok" || body.Facts != 2 {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestHealthRouteReportsClosedDatabase(t *testing.T) {
	t.Parallel()

	conn, err := db.Open(db.Options{Path: db.MemoryPath})
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	if err := db.Close(conn); err != nil {
		t.Fatalf("db.Close returned error: %v", err)
	}

	srv := newTestServer(t, testServerOptions{database: conn})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 503 {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if !contains(rec.Body.String(), `"database":"error"`) || !contains(rec.Body.String(), `"status":"degraded"`) {
		t.Fatalf("expected degraded database report, got %q", rec.Body.String())
	}
}

func TestAccessLogReportsGenerationOutcome(t *testing.T) {
	t.Parallel()

	logger, logs := newBufferLogger()
	generator := &stubGenerator{result: llm.Failed(eris.New("inference backend unavailable"))}
	srv := newTestServer(t, testServerOptions{generator: generator, logger: logger})

	req := httptest.NewRequest("POST", "/generate", strings.NewReader(`{"prompt":"Hello"}`))
	req.Header.Set("Content-Type", "application/json")
	srv.ServeHTTP(httptest.NewRecorder(), req)

	entry := findLogEntry(t, logs.String(), "generation failed")
	if entry["kind"] != "generate" || entry["failed"] != true || entry["operation"] != "post-generate" {
		t.Fatalf("expected generate outcome in access log, got %v", entry)
	}
	if entry["level"] != "warning" {
		t.Fatalf("expected failed generation to log at warning, got %v", entry["level"])
	}
}

func TestAccessLogReportsRetrieveOutcome(t *testing.T) {
	t.Parallel()

	logger, logs := newBufferLogger()
	srv := newTestServer(t, testServerOptions{logger: logger})

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/retrieve?q=hanni", nil))

	entry := findLogEntry(t, logs.String(), "request completed")
	if entry["kind"] != "retrieve" || entry["found"] != true {
		t.Fatalf("expected retrieve outcome in access log, got %v", entry)
	}
	if _, ok := entry["request_id"]; !ok {
		t.Fatalf("expected request id in access log, got %v", entry)
	}
}

func TestPanicIsRecoveredAsProblemResponse(t *testing.T) {
	t.Parallel()

	logger, logs := newBufferLogger()
	generator := &stubGenerator{panicWith: "tokenizer exploded"}
	srv := newTestServer(t, testServerOptions{generator: generator, logger: logger})

	req := httptest.NewRequest("POST", "/generate", strings.NewReader(`{"prompt":"Hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 500 {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if !contains(rec.Header().Get("Content-Type"), "json") {
		t.Fatalf("expected a problem document, got content type %q", rec.Header().Get("Content-Type"))
	}

	entry := findLogEntry(t, logs.String(), "panic recovered")
	if !strings.Contains(entry["error"].(string), "tokenizer exploded") {
		t.Fatalf("expected panic value in log, got %v", entry)
	}
	if strings.Count(logs.String(), "panic recovered") != 1 {
		t.Fatalf("expected the panic to be reported once, got %q", logs.String())
	}
}

func TestErrorPageRendersStatusAndMessage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{})

	resp := srv.renderErrorResponse(context.Background(), 500, homeErrorMessage)

	if resp.Status != 500 || resp.ContentType != htmlContentType {
		t.Fatalf("unexpected error response: status %d, content type %q", resp.Status, resp.ContentType)
	}
	if !contains(string(resp.Body), "500 Internal Server Error") || !contains(string(resp.Body), "We couldn&#39;t render the homepage.") {
		t.Fatalf("expected status and message in error page, got %q", resp.Body)
	}
}

func TestErrorPageFallsBackToPlainText(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := srv.renderErrorResponse(ctx, 500, homeErrorMessage)

	if resp.ContentType != plainContentType {
		t.Fatalf("expected plain text fallback, got %q", resp.ContentType)
	}
	if string(resp.Body) != "500 Internal Server Error: "+homeErrorMessage {
		t.Fatalf("unexpected fallback body %q", resp.Body)
	}
}

func TestHealthRouteWithoutDatabase(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !contains(rec.Body.String(), `"database":"disabled"`) {
		t.Fatalf("expected database to be reported as disabled, got %q", rec.Body.String())
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{})
	requestID := uuid.NewString()

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", requestID)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != requestID {
		t.Fatalf("expected request id %q to be echoed, got %q", requestID, got)
	}
}

func TestRequestIDReplacesInvalidHeader(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	got := rec.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("expected a generated uuid, got %q", got)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testServerOptions{
		rateLimit: RateLimiterSettings{RequestsPerSecond: 0.01, Burst: 1, ClientTTL: time.Minute},
	})

	first := httptest.NewRecorder()
	srv.ServeHTTP(first, httptest.NewRequest("GET", "/healthz", nil))
	if first.Code != 200 {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	srv.ServeHTTP(second, httptest.NewRequest("GET", "/healthz", nil))
	if second.Code != 429 {
		t.Fatalf("expected status 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestNewServerValidatesOptions(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(Options{Retriever: &stubRetriever{}}); err == nil {
		t.Fatalf("expected error without generator")
	}
	if _, err := NewServer(Options{Generator: &stubGenerator{}}); err == nil {
		t.Fatalf("expected error without retriever")
	}

	_, err := NewServer(Options{
		Generator:   &stubGenerator{},
		Retriever:   &stubRetriever{},
		RateLimiter: RateLimiterSettings{RequestsPerSecond: 1},
	})
	if err == nil {
		t.Fatalf("expected error for incomplete rate limiter settings")
	}
}

// helper utilities

type testServerOptions struct {
	generator *stubGenerator
	history   history.Repository
	database  *gorm.DB
	logger    *logrus.Logger
	rateLimit RateLimiterSettings
}

func newTestServer(t *testing.T, opts testServerOptions) *Server {
	t.Helper()

	logger := opts.logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	generator := opts.generator
	if generator == nil {
		generator = &stubGenerator{result: llm.Ok("")}
	}

	srv, err := NewServer(Options{
		Generator:   generator,
		Retriever:   newStubRetriever(),
		History:     opts.history,
		Database:    opts.database,
		Logger:      logger,
		RateLimiter: opts.rateLimit,
	})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	t.Cleanup(srv.Close)

	return srv
}

func newBufferLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger, &buf
}

func findLogEntry(t *testing.T, logs, message string) map[string]any {
	t.Helper()

	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == message {
			return entry
		}
	}

	t.Fatalf("expected log entry %q, got %q", message, logs)
	return nil
}

func decodeBody(t *testing.T, body string, target any) {
	t.Helper()

	if err := json.Unmarshal([]byte(body), target); err != nil {
		t.Fatalf("decoding response body %q: %v", body, err)
	}
}

func contains(body, substring string) bool {
	return strings.Contains(body, substring)
}

// stubs

type stubGenerator struct {
	result     llm.Result
	panicWith  string
	lastPrompt string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) string {
	return s.GenerateResult(ctx, prompt).String()
}

func (s *stubGenerator) GenerateResult(_ context.Context, prompt string) llm.Result {
	s.lastPrompt = prompt
	if s.panicWith != "" {
		panic(s.panicWith)
	}
	return s.result
}

func (s *stubGenerator) Model() string {
	return llm.DefaultModel
}

type stubRetriever struct {
	facts []retrieval.Fact
}

func newStubRetriever() *stubRetriever {
	return &stubRetriever{facts: []retrieval.Fact{
		{Key: "NewJeans", Fact: "NewJeans is a group."},
		{Key: "Hanni", Fact: "Hanni is a member."},
	}}
}

func (s *stubRetriever) Retrieve(query string) (string, bool) {
	lowered := strings.ToLower(query)
	for _, fact := range s.facts {
		if strings.Contains(lowered, strings.ToLower(fact.Key)) {
			return fact.Key + ": " + fact.Fact, true
		}
	}
	return "", false
}

func (s *stubRetriever) Facts() []retrieval.Fact {
	return append([]retrieval.Fact(nil), s.facts...)
}

func (s *stubRetriever) Len() int {
	return len(s.facts)
}

type stubHistory struct {
	recorded  []history.Exchange
	listed    []history.Exchange
	listErr   error
	lastLimit int
}

func (s *stubHistory) Record(_ context.Context, exchange *history.Exchange) error {
	s.recorded = append(s.recorded, *exchange)
	return nil
}

func (s *stubHistory) ListRecent(_ context.Context, limit int) ([]history.Exchange, error) {
	s.lastLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listed, nil
}

func (s *stubHistory) Count(_ context.Context) (int64, error) {
	return int64(len(s.recorded)), nil
}

var _ llm.Generator = (*stubGenerator)(nil)
var _ retrieval.Retriever = (*stubRetriever)(nil)
var _ history.Repository = (*stubHistory)(nil)
