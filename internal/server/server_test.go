package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vivavoce-ai/vivavoce/internal/app"
	"github.com/vivavoce-ai/vivavoce/internal/config"
	"github.com/vivavoce-ai/vivavoce/internal/engine"
	"github.com/vivavoce-ai/vivavoce/internal/server"
	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
	oraclemock "github.com/vivavoce-ai/vivavoce/pkg/oracle/mock"
)

type discardSink struct{}

func (discardSink) Save(context.Context, *engine.Report) error { return nil }

// newTestServer builds a full app around the given coverage oracle and serves
// its router. Sessions evaluate on every fragment.
func newTestServer(t *testing.T, cov oracle.CoverageOracle) *httptest.Server {
	t.Helper()

	cfg := &config.Config{Engine: config.EngineConfig{
		EvalFragmentCount: 1,
		FollowupCooldown:  time.Nanosecond,
	}}
	bank := []config.Question{{
		ID:      "q-lru",
		Text:    "Explain how an LRU cache works.",
		Bullets: []string{"eviction policy", "O(1) lookups"},
	}}

	a, err := app.New(context.Background(), cfg, nil, bank,
		app.WithCoverageOracle(cov),
		app.WithConfidenceOracle(&oraclemock.ConfidenceOracle{}),
		app.WithPhrasingOracle(&oraclemock.PhrasingOracle{}),
		app.WithSink(discardSink{}),
	)
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })

	srv := server.New(a, nil, slog.New(slog.DiscardHandler))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

// startSession creates a bank session and returns its ID.
func startSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, raw := postJSON(t, ts, "/v1/sessions", map[string]string{"question_id": "q-lru"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", resp.StatusCode, raw)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatal("create response has empty session_id")
	}
	return created.SessionID
}

func TestCreateSession_FromBank(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{})

	resp, raw := postJSON(t, ts, "/v1/sessions", map[string]string{"question_id": "q-lru"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", resp.StatusCode, raw)
	}
	var created struct {
		SessionID    string `json:"session_id"`
		QuestionText string `json:"question_text"`
		Bullets      int    `json:"bullets"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Bullets != 2 || !strings.Contains(created.QuestionText, "LRU") {
		t.Errorf("response = %+v, want 2 bullets and the bank question text", created)
	}
}

func TestCreateSession_Inline(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{})

	resp, raw := postJSON(t, ts, "/v1/sessions", map[string]any{
		"question": map[string]any{
			"text":    "Explain DNS resolution.",
			"bullets": []string{"recursive resolvers", "caching with TTLs"},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", resp.StatusCode, raw)
	}
}

func TestCreateSession_Errors(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{})

	cases := []struct {
		name string
		body any
		want int
	}{
		{"unknown question", map[string]string{"question_id": "nope"}, http.StatusNotFound},
		{"neither field", map[string]string{}, http.StatusBadRequest},
		{"inline without text", map[string]any{"question": map[string]any{"bullets": []string{"x"}}}, http.StatusBadRequest},
		{"both fields", map[string]any{"question_id": "q-lru", "question": map[string]any{"text": "t"}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, raw := postJSON(t, ts, "/v1/sessions", tc.body)
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status = %d, want %d; body %s", tc.name, resp.StatusCode, tc.want, raw)
		}
	}
}

func TestPostFragment_ReturnsBulletStates(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{Default: oracle.CoverageCovered})
	id := startSession(t, ts)

	resp, raw := postJSON(t, ts, "/v1/sessions/"+id+"/fragments", engine.Fragment{
		Seq: 1, Text: "it evicts the least recently used entry with O(1) map lookups",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", resp.StatusCode, raw)
	}

	var state struct {
		Bullets []engine.BulletResult `json:"bullets"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(state.Bullets) != 2 {
		t.Fatalf("bullets = %d, want 2", len(state.Bullets))
	}
	for _, b := range state.Bullets {
		if b.State != engine.StateCovered {
			t.Errorf("bullet %q state = %s, want covered", b.Text, b.State)
		}
	}
}

func TestPostFragment_UnknownSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{})

	resp, _ := postJSON(t, ts, "/v1/sessions/no-such-id/fragments", engine.Fragment{Seq: 1, Text: "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestFinalize_ReturnsScoredReport(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{Default: oracle.CoverageCovered})
	id := startSession(t, ts)

	postJSON(t, ts, "/v1/sessions/"+id+"/fragments", engine.Fragment{Seq: 1, Text: "covers everything"})

	resp, raw := postJSON(t, ts, "/v1/sessions/"+id+"/finalize", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", resp.StatusCode, raw)
	}
	var rep engine.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Score != 100 {
		t.Errorf("Score = %v, want 100", rep.Score)
	}
	if len(rep.Covered) != 2 {
		t.Errorf("covered = %d, want 2", len(rep.Covered))
	}

	// The session is gone afterwards.
	resp, _ = postJSON(t, ts, "/v1/sessions/"+id+"/finalize", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second finalize status = %d, want 404", resp.StatusCode)
	}
}

func TestGetSession_Snapshot(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{})
	id := startSession(t, ts)

	resp, raw := getJSON(t, ts, "/v1/sessions/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", resp.StatusCode, raw)
	}
	var state struct {
		Bullets []engine.BulletResult `json:"bullets"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, b := range state.Bullets {
		if b.State != engine.StateUncovered {
			t.Errorf("bullet %q state = %s, want uncovered before any speech", b.Text, b.State)
		}
	}
}

func TestGetReport_WithoutStore(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{})

	resp, _ := getJSON(t, ts, "/v1/reports/s-1")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without a report store", resp.StatusCode)
	}
}

func TestSearchAnswers_WithoutBackends(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{})

	resp, _ := getJSON(t, ts, "/v1/answers/search?q=caching")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without store and embedder", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &oraclemock.CoverageOracle{})

	resp, _ := getJSON(t, ts, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}
	resp, _ = getJSON(t, ts, "/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200 with no checkers", resp.StatusCode)
	}
	resp, _ = getJSON(t, ts, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}
}
