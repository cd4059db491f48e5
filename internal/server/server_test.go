package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/health"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/parser"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/rules"
	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

const body = `[2025-06-01T10:00:00Z] [ERROR] auth: invalid credentials for alice
[2025-06-01T10:00:01Z] [ERROR] auth: invalid credentials for alice

INFO - GET /healthz 200
WARN - disk at 85%
`

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	engine := rules.New([]types.TriageRule{
		{Where: types.WhereClause{Contains: types.StringSet{"invalid credentials"}}, Action: types.Action{Bucket: "auth"}},
		{Where: types.WhereClause{Regex: "GET /healthz"}, Action: types.Action{Drop: true}},
	}, logging.Nop())

	p, err := pipeline.New(pipeline.Config{}, parser.NewChain(), engine, pipeline.WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}
	return p
}

func newTestServer(t *testing.T, cfg Config, deliverer Deliverer) (*Server, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector()
	cfg.Metrics = collector
	cfg.Logger = logging.Nop()

	s, err := New(cfg, newTestPipeline(t), deliverer)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, collector
}

func decodeResult(t *testing.T, r io.Reader) pipeline.Result {
	t.Helper()
	var result pipeline.Result
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	return result
}

func TestTriage_PlainText(t *testing.T) {
	s, collector := newTestServer(t, Config{}, nil)

	req := httptest.NewRequest(http.MethodPost, TriagePath, strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	result := decodeResult(t, w.Body)

	if result.Summary.Total != 4 || result.Summary.Dropped != 1 {
		t.Errorf("Total = %d, Dropped = %d, want 4 and 1", result.Summary.Total, result.Summary.Dropped)
	}
	if result.Summary.Buckets["auth"].Count != 2 {
		t.Errorf("auth bucket = %+v", result.Summary.Buckets["auth"])
	}
	if w.Header().Get("X-Run-Id") != result.Summary.RunID || result.Summary.RunID == "" {
		t.Errorf("X-Run-Id = %q, runId = %q", w.Header().Get("X-Run-Id"), result.Summary.RunID)
	}

	if got := testutil.ToFloat64(collector.ServerRequests.WithLabelValues(TriagePath, "200")); got != 1 {
		t.Errorf("request counter = %v, want 1", got)
	}
}

func TestTriage_JSON(t *testing.T) {
	s, _ := newTestServer(t, Config{}, nil)

	payload := `{"lines": ["ERROR - invalid credentials for bob", "", "INFO - ok"]}`
	req := httptest.NewRequest(http.MethodPost, TriagePath, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	result := decodeResult(t, w.Body)
	if result.Summary.Total != 2 {
		t.Errorf("Total = %d, want 2", result.Summary.Total)
	}
}

func TestTriage_BadRequests(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		maxBody     int64
		wantStatus  int
	}{
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
		{name: "malformed JSON", method: http.MethodPost, contentType: "application/json", body: `{"lines": [`, wantStatus: http.StatusBadRequest},
		{name: "body too large", method: http.MethodPost, contentType: "text/plain", body: strings.Repeat("x", 64), maxBody: 16, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, Config{MaxBodySize: tt.maxBody}, nil)

			req := httptest.NewRequest(tt.method, TriagePath, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestTriage_Auth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"missing key", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"api key header", "X-API-Key", "secret-key", http.StatusOK},
		{"bearer token", "Authorization", "Bearer secret-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, Config{APIKeys: []string{"secret-key"}}, nil)

			req := httptest.NewRequest(http.MethodPost, TriagePath, strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestTriage_RateLimit(t *testing.T) {
	s, collector := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 2}, nil)

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, TriagePath, strings.NewReader(body))
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("10.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, code)
		}
	}
	if code := send("10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", code)
	}
	if code := send("10.0.0.2:5000"); code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", code)
	}

	if got := testutil.ToFloat64(collector.InputRateLimited.WithLabelValues("10.0.0.1")); got != 1 {
		t.Errorf("rate limited counter = %v, want 1", got)
	}

	s.evictIdle(time.Now().Add(time.Minute))
	if len(s.limiters) != 0 {
		t.Errorf("idle limiters not evicted: %d left", len(s.limiters))
	}
}

func TestTriage_RateLimitPerAPIKey(t *testing.T) {
	s, collector := newTestServer(t, Config{
		APIKeys:   []string{"sk-live-AAAA", "sk-live-BBBB"},
		RateLimit: 0.001,
		RateBurst: 1,
	}, nil)

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, TriagePath, strings.NewReader(body))
		req.Header.Set("X-API-Key", key)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w.Code
	}

	// Keys sharing a prefix get separate buckets
	if code := send("sk-live-AAAA"); code != http.StatusOK {
		t.Fatalf("first key status = %d, want 200", code)
	}
	if code := send("sk-live-BBBB"); code != http.StatusOK {
		t.Fatalf("second key status = %d, want 200", code)
	}
	if code := send("sk-live-AAAA"); code != http.StatusTooManyRequests {
		t.Errorf("repeated first key status = %d, want 429", code)
	}

	if got := testutil.ToFloat64(collector.InputRateLimited.WithLabelValues("key-0")); got != 1 {
		t.Errorf("rate limited counter for key-0 = %v, want 1", got)
	}

	families, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if strings.Contains(lp.GetValue(), "sk-live") {
					t.Errorf("metric %s exposes key text in label %s=%q", mf.GetName(), lp.GetName(), lp.GetValue())
				}
			}
		}
	}
}

type fakeDeliverer struct {
	err    error
	runIDs []string
}

func (f *fakeDeliverer) Dispatch(ctx context.Context, result *pipeline.Result) error {
	f.runIDs = append(f.runIDs, result.Summary.RunID)
	return f.err
}

func TestTriage_Delivery(t *testing.T) {
	d := &fakeDeliverer{}
	s, _ := newTestServer(t, Config{}, d)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, TriagePath, strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(d.runIDs) != 1 || d.runIDs[0] != w.Header().Get("X-Run-Id") {
		t.Errorf("delivered run IDs = %v", d.runIDs)
	}

	d.err = errors.New("kafka: broker unavailable")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, TriagePath, strings.NewReader(body)))
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 on delivery failure", w.Code)
	}
}

func TestMetricsAndHealthEndpoints(t *testing.T) {
	checker := health.NewChecker(time.Second)
	checker.Register("rules", health.RulesCheck(rules.New(nil, logging.Nop())))

	s, collector := newTestServer(t, Config{HealthChecker: checker}, nil)
	collector.PipelineRuns.WithLabelValues("ok").Inc()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/metrics", http.StatusOK, "logtriage_pipeline_runs_total"},
		{"/health/live", http.StatusOK, `"alive"`},
		{"/health/ready", http.StatusOK, `"degraded"`},
		{"/health", http.StatusOK, `"rules"`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body does not contain %s:\n%s", tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t, Config{Address: "127.0.0.1:0"}, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestNew_RequiresTriager(t *testing.T) {
	if _, err := New(Config{}, nil, nil); err == nil {
		t.Error("New() expected error without triager")
	}
}

func TestDebugHandler_RequiresAuth(t *testing.T) {
	debug := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("profile"))
	})
	s, _ := newTestServer(t, Config{APIKeys: []string{"secret"}, Debug: debug}, nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "profile" {
		t.Errorf("authenticated response = %d %q", w.Code, w.Body.String())
	}
}
