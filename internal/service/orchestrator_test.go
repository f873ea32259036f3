package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitroom/backend/internal/config"
	"github.com/fitroom/backend/internal/cryptox"
	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/internal/policy"
	"github.com/fitroom/backend/internal/session"
	"github.com/fitroom/backend/internal/store"
	"github.com/fitroom/backend/internal/upstream"
)

const testModel = "fitroom/tryon-v2"

// fakeProvider scripts the upstream API: one response for create, a fixed
// sequence for get. Counters let tests assert exactly how many network
// calls were issued.
type fakeProvider struct {
	mu          sync.Mutex
	createBody  string
	getBodies   []getResponse
	createCalls int
	getCalls    int
	onGet       func(call int)
}

type getResponse struct {
	status     int
	body       string
	retryAfter string
}

func (f *fakeProvider) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			f.createCalls++
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, f.createBody)
			return
		}

		f.getCalls++
		call := f.getCalls
		if f.onGet != nil {
			f.onGet(call)
		}
		resp := f.getBodies[len(f.getBodies)-1]
		if call <= len(f.getBodies) {
			resp = f.getBodies[call-1]
		}
		if resp.retryAfter != "" {
			w.Header().Set("Retry-After", resp.retryAfter)
		}
		if resp.status != 0 {
			w.WriteHeader(resp.status)
		}
		fmt.Fprint(w, resp.body)
	})
}

func (f *fakeProvider) counts() (creates, gets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.getCalls
}

func newTestService(t *testing.T, providerURL string, tweak func(*config.Config)) (*Service, string) {
	t.Helper()

	c, err := cryptox.New("test-secret")
	if err != nil {
		t.Fatalf("cryptox.New failed: %v", err)
	}
	vault := session.NewVault(store.NewMemoryStore(), c, time.Hour, 10, zerolog.Nop())

	res, err := vault.Create(context.Background(), "r8_validkey1234", "", "")
	if err != nil {
		t.Fatalf("vault.Create failed: %v", err)
	}

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("policy.NewEngine failed: %v", err)
	}

	cfg := &config.Config{
		PollInterval:    5 * time.Millisecond,
		PollMaxAttempts: 120,
		RetryMax:        3,
		RetryBaseDelay:  time.Millisecond,
	}
	if tweak != nil {
		tweak(cfg)
	}

	up := upstream.NewClient(providerURL, "", time.Second, time.Second)
	return New(vault, up, engine, cfg, zerolog.Nop()), res.Token
}

func TestSubmitPollsToSuccess(t *testing.T) {
	// Scenario: created starting, three processing polls, then success.
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"starting"}`,
		getBodies: []getResponse{
			{body: `{"id":"p1","status":"processing"}`},
			{body: `{"id":"p1","status":"processing"}`},
			{body: `{"id":"p1","status":"processing"}`},
			{body: `{"id":"p1","status":"succeeded","output":["https://cdn.example/out.png"]}`},
		},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	var statuses []domain.PredictionStatus
	pred, err := svc.Submit(context.Background(), token, testModel, json.RawMessage(`{}`), func(p *domain.Prediction) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if pred.Status != domain.PredictionSucceeded {
		t.Fatalf("unexpected status: %s", pred.Status)
	}
	if string(pred.Output) != `["https://cdn.example/out.png"]` {
		t.Fatalf("unexpected output: %s", pred.Output)
	}

	creates, gets := provider.counts()
	if creates != 1 || gets != 4 {
		t.Fatalf("expected 1 create and exactly 4 gets, got %d/%d", creates, gets)
	}
	if len(statuses) != 4 || statuses[3] != domain.PredictionSucceeded {
		t.Fatalf("unexpected progress sequence: %v", statuses)
	}
}

func TestSubmitFastPathTerminalCreate(t *testing.T) {
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"succeeded","output":["https://cdn.example/out.png"]}`,
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	pred, err := svc.Submit(context.Background(), token, testModel, nil, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if pred.Status != domain.PredictionSucceeded {
		t.Fatalf("unexpected status: %s", pred.Status)
	}
	if _, gets := provider.counts(); gets != 0 {
		t.Fatalf("fast path must not poll, got %d gets", gets)
	}
}

func TestSubmitRetriesRateLimitedPoll(t *testing.T) {
	// Scenario: 429 on the second get, honored Retry-After, success on the
	// third. Total get count must be exactly 3.
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"starting"}`,
		getBodies: []getResponse{
			{body: `{"id":"p1","status":"processing"}`},
			{status: http.StatusTooManyRequests, body: `{"detail":"slow down"}`, retryAfter: "0"},
			{body: `{"id":"p1","status":"succeeded"}`},
		},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	pred, err := svc.Submit(context.Background(), token, testModel, nil, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if pred.Status != domain.PredictionSucceeded {
		t.Fatalf("unexpected status: %s", pred.Status)
	}
	if _, gets := provider.counts(); gets != 3 {
		t.Fatalf("expected exactly 3 gets, got %d", gets)
	}
}

func TestSubmitRetriesServerErrors(t *testing.T) {
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"starting"}`,
		getBodies: []getResponse{
			{status: http.StatusInternalServerError, body: `oops`},
			{status: http.StatusBadGateway, body: `oops`},
			{body: `{"id":"p1","status":"succeeded"}`},
		},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	pred, err := svc.Submit(context.Background(), token, testModel, nil, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if pred.Status != domain.PredictionSucceeded {
		t.Fatalf("unexpected status: %s", pred.Status)
	}
	if _, gets := provider.counts(); gets != 3 {
		t.Fatalf("expected 3 gets, got %d", gets)
	}
}

func TestSubmitUpstreamBusyAfterBudget(t *testing.T) {
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"starting"}`,
		getBodies: []getResponse{
			{status: http.StatusTooManyRequests, body: `{"detail":"slow down"}`, retryAfter: "0"},
		},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, func(cfg *config.Config) {
		cfg.RetryMax = 2
	})

	_, err := svc.Submit(context.Background(), token, testModel, nil, nil)
	if !errors.Is(err, domain.ErrUpstreamBusy) {
		t.Fatalf("expected ErrUpstreamBusy, got %v", err)
	}
	if _, gets := provider.counts(); gets != 3 { // initial + 2 retries
		t.Fatalf("expected 3 gets, got %d", gets)
	}
}

func TestSubmitClientErrorFailsImmediately(t *testing.T) {
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"starting"}`,
		getBodies: []getResponse{
			{status: http.StatusNotFound, body: `{"detail":"prediction not found"}`},
		},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	_, err := svc.Submit(context.Background(), token, testModel, nil, nil)
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 UpstreamError, got %v", err)
	}
	if _, gets := provider.counts(); gets != 1 {
		t.Fatalf("404 must not be retried: got %d gets", gets)
	}
}

func TestSubmitPollingTimeout(t *testing.T) {
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"starting"}`,
		getBodies: []getResponse{
			{body: `{"id":"p1","status":"processing"}`},
		},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, func(cfg *config.Config) {
		cfg.PollMaxAttempts = 3
	})

	_, err := svc.Submit(context.Background(), token, testModel, nil, nil)
	if !errors.Is(err, domain.ErrPollingTimeout) {
		t.Fatalf("expected ErrPollingTimeout, got %v", err)
	}
	if _, gets := provider.counts(); gets != 3 {
		t.Fatalf("expected 3 gets, got %d", gets)
	}
}

func TestSubmitCancellationStopsPolling(t *testing.T) {
	// Scenario: cancel fires after the first poll; no second get may be
	// issued and the result is a cancellation, not a timeout.
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"starting"}`,
		getBodies: []getResponse{
			{body: `{"id":"p1","status":"processing"}`},
		},
	}
	provider.onGet = func(call int) {
		if call == 1 {
			cancel()
		}
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, func(cfg *config.Config) {
		cfg.PollInterval = 50 * time.Millisecond
	})

	start := time.Now()
	_, err := svc.Submit(ctx, token, testModel, nil, nil)
	if !errors.Is(err, domain.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation not prompt: %v", elapsed)
	}
	if _, gets := provider.counts(); gets != 1 {
		t.Fatalf("no further polls may run after cancel: got %d gets", gets)
	}
}

func TestSubmitAuthFailureBeforeAnyCall(t *testing.T) {
	provider := &fakeProvider{createBody: `{"id":"p1","status":"starting"}`}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, _ := newTestService(t, server.URL, nil)

	_, err := svc.Submit(context.Background(), "not-a-token", testModel, nil, nil)
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	creates, gets := provider.counts()
	if creates != 0 || gets != 0 {
		t.Fatalf("no upstream calls may run without a session: %d/%d", creates, gets)
	}
}

func TestSubmitPolicyBlocksMalformedModel(t *testing.T) {
	provider := &fakeProvider{createBody: `{"id":"p1","status":"starting"}`}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	for _, model := range []string{"", "no-slash", "UPPER/Case", "bad model/name"} {
		_, err := svc.Submit(context.Background(), token, model, nil, nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("model %q: expected ErrValidation, got %v", model, err)
		}
	}
	if creates, _ := provider.counts(); creates != 0 {
		t.Fatalf("blocked submissions must not reach upstream: %d creates", creates)
	}
}

func TestCreateRetriesTransientFailure(t *testing.T) {
	var mu sync.Mutex
	createCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		createCalls++
		n := createCalls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"p1","status":"starting"}`)
	}))
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	pred, err := svc.CreatePrediction(context.Background(), token, testModel, nil)
	if err != nil {
		t.Fatalf("CreatePrediction failed: %v", err)
	}
	if pred.ID != "p1" {
		t.Fatalf("unexpected prediction: %+v", pred)
	}
	mu.Lock()
	defer mu.Unlock()
	if createCalls != 2 {
		t.Fatalf("expected create retried once, got %d calls", createCalls)
	}
}

func TestWatchDeliversSequenceAndCloses(t *testing.T) {
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"starting"}`,
		getBodies: []getResponse{
			{body: `{"id":"p1","status":"processing"}`},
			{body: `{"id":"p1","status":"succeeded"}`},
		},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	var updates []Update
	for u := range svc.Watch(context.Background(), token, "p1") {
		updates = append(updates, u)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d: %+v", len(updates), updates)
	}
	if updates[0].Prediction.Status != domain.PredictionProcessing {
		t.Fatalf("unexpected first update: %+v", updates[0])
	}
	last := updates[len(updates)-1]
	if last.Err != nil || last.Prediction.Status != domain.PredictionSucceeded {
		t.Fatalf("unexpected final update: %+v", last)
	}
}

func TestWatchSurfacesErrorAsFinalElement(t *testing.T) {
	provider := &fakeProvider{
		getBodies: []getResponse{
			{status: http.StatusNotFound, body: `{"detail":"prediction not found"}`},
		},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	var updates []Update
	for u := range svc.Watch(context.Background(), token, "missing") {
		updates = append(updates, u)
	}
	if len(updates) != 1 || updates[0].Err == nil {
		t.Fatalf("expected a single error element, got %+v", updates)
	}
}

func TestSubmitFailedJobReturnsRecord(t *testing.T) {
	provider := &fakeProvider{
		createBody: `{"id":"p1","status":"starting"}`,
		getBodies: []getResponse{
			{body: `{"id":"p1","status":"failed","error":"NSFW content detected"}`},
		},
	}
	server := httptest.NewServer(provider.handler())
	defer server.Close()

	svc, token := newTestService(t, server.URL, nil)

	pred, err := svc.Submit(context.Background(), token, testModel, nil, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if pred.Status != domain.PredictionFailed || pred.Error == "" {
		t.Fatalf("unexpected prediction: %+v", pred)
	}
}
