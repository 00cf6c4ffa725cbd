package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prcopilot/internal/pr"
	"github.com/linnemanlabs/prcopilot/internal/triage"
)

// mockDispatcher records dispatched tasks and returns a canned outcome.
type mockDispatcher struct {
	last *triage.Task
	out  *triage.Dispatched
	err  error
}

func (m *mockDispatcher) Dispatch(_ context.Context, task *triage.Task) (*triage.Dispatched, error) {
	m.last = task
	if m.err != nil {
		return nil, m.err
	}
	out := *m.out
	out.TaskID = task.ID
	return &out, nil
}

type mockVerdictReader struct {
	verdict *pr.Verdict
	err     error
}

func (m *mockVerdictReader) GetByPRID(_ context.Context, id int64) (*pr.Verdict, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	if m.verdict == nil || m.verdict.Signal.GitHubPRID != id {
		return nil, false, nil
	}
	return m.verdict, true, nil
}

func newTestAPI(t *testing.T, d triage.Dispatcher, store VerdictReader, secret string) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	New(log.Nop(), d, store, secret, nil).RegisterRoutes(r)
	return r
}

func postWebhook(h http.Handler, event string, body []byte, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", event)
	if secret != "" {
		req.Header.Set("X-Hub-Signature-256", SignBody(body, secret))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return got
}

func TestWebhook_QueuedDispatch(t *testing.T) {
	t.Parallel()

	d := &mockDispatcher{out: &triage.Dispatched{Mode: triage.ModeQueued}}
	h := newTestAPI(t, d, nil, "s3cret")

	rec := postWebhook(h, "pull_request", prEventBody("opened"), "s3cret")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body=%s)", rec.Code, rec.Body.String())
	}

	got := decodeBody(t, rec)
	if got["status"] != "queued" {
		t.Errorf("status = %v, want queued", got["status"])
	}
	if got["task_id"] == "" || got["task_id"] == nil {
		t.Error("expected a task_id")
	}
	if got["pr_number"] != float64(42) {
		t.Errorf("pr_number = %v, want 42", got["pr_number"])
	}

	if d.last == nil || d.last.Action != "opened" {
		t.Fatalf("dispatched task = %+v, want action=opened", d.last)
	}
	if d.last.Signal.GitHubPRID != 9001 {
		t.Errorf("task signal pr id = %d, want 9001", d.last.Signal.GitHubPRID)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	t.Parallel()

	d := &mockDispatcher{out: &triage.Dispatched{Mode: triage.ModeQueued}}
	h := newTestAPI(t, d, nil, "s3cret")

	body := prEventBody("opened")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if d.last != nil {
		t.Error("nothing should be dispatched on a bad signature")
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	t.Parallel()

	d := &mockDispatcher{out: &triage.Dispatched{Mode: triage.ModeQueued}}
	h := newTestAPI(t, d, nil, "s3cret")

	body := []byte(`{"action": "opened"}`)
	rec := postWebhook(h, "pull_request", body, "s3cret")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhook_IgnoredEvent(t *testing.T) {
	t.Parallel()

	d := &mockDispatcher{out: &triage.Dispatched{Mode: triage.ModeQueued}}
	h := newTestAPI(t, d, nil, "s3cret")

	rec := postWebhook(h, "pull_request", prEventBody("closed"), "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["status"] != "ignored" {
		t.Errorf("status = %v, want ignored", got["status"])
	}
	if d.last != nil {
		t.Error("ignored events must not be dispatched")
	}
}

func TestWebhook_HelpCommand(t *testing.T) {
	t.Parallel()

	d := &mockDispatcher{out: &triage.Dispatched{Mode: triage.ModeQueued}}
	h := newTestAPI(t, d, nil, "s3cret")

	rec := postWebhook(h, "issue_comment", commentEventBody("created", "@prcopilot /help", true), "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["status"] != "help_posted" {
		t.Errorf("status = %v, want help_posted", got["status"])
	}
	if d.last != nil {
		t.Error("help must not dispatch a task")
	}
}

func TestWebhook_TriageCommandDispatchesReAnalyze(t *testing.T) {
	t.Parallel()

	d := &mockDispatcher{out: &triage.Dispatched{Mode: triage.ModeQueued}}
	h := newTestAPI(t, d, nil, "s3cret")

	rec := postWebhook(h, "issue_comment", commentEventBody("created", "@prcopilot /triage", true), "s3cret")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if d.last == nil || d.last.Action != "re_analyze" {
		t.Fatalf("dispatched task = %+v, want action=re_analyze", d.last)
	}
}

func TestWebhook_InlineProcessed(t *testing.T) {
	t.Parallel()

	d := &mockDispatcher{out: &triage.Dispatched{
		Mode: triage.ModeInline,
		Result: &triage.ProcessResult{
			Status: triage.StatusPersisted,
			Classification: &pr.Classification{
				Category: pr.CategoryReadyToMerge,
				Priority: 50,
			},
			CommentPosted: true,
		},
	}}
	h := newTestAPI(t, d, nil, "s3cret")

	rec := postWebhook(h, "pull_request", prEventBody("opened"), "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["status"] != "processed" {
		t.Errorf("status = %v, want processed", got["status"])
	}
	if got["classification"] != string(pr.CategoryReadyToMerge) {
		t.Errorf("classification = %v", got["classification"])
	}
	if got["comment_posted"] != true {
		t.Error("expected comment_posted true")
	}
}

func TestWebhook_InlineSkippedDuplicate(t *testing.T) {
	t.Parallel()

	d := &mockDispatcher{out: &triage.Dispatched{
		Mode:   triage.ModeInline,
		Result: &triage.ProcessResult{Status: triage.StatusSkipped, Reason: "already_analyzed"},
	}}
	h := newTestAPI(t, d, nil, "s3cret")

	rec := postWebhook(h, "pull_request", prEventBody("opened"), "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["status"] != "skipped" || got["reason"] != "already_analyzed" {
		t.Errorf("body = %v, want skipped/already_analyzed", got)
	}
}

func TestWebhook_DispatchError(t *testing.T) {
	t.Parallel()

	d := &mockDispatcher{err: errors.New("broker unavailable")}
	h := newTestAPI(t, d, nil, "s3cret")

	rec := postWebhook(h, "pull_request", prEventBody("opened"), "s3cret")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestGetVerdict(t *testing.T) {
	t.Parallel()

	store := &mockVerdictReader{verdict: &pr.Verdict{
		ID:     1,
		Signal: pr.Signal{GitHubPRID: 9001, RepoFullName: "acme/widgets", Number: 42},
		Classification: pr.Classification{
			Category:   pr.CategoryMinorFixes,
			Confidence: 0.8,
			Priority:   40,
		},
		CreatedAt: time.Now().UTC(),
	}}
	d := &mockDispatcher{out: &triage.Dispatched{Mode: triage.ModeQueued}}
	h := newTestAPI(t, d, store, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/9001", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", rec.Code, rec.Body.String())
	}
	got := decodeBody(t, rec)
	if got["classification"] != string(pr.CategoryMinorFixes) {
		t.Errorf("classification = %v, want %q", got["classification"], pr.CategoryMinorFixes)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/1234", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown pr: status = %d, want 404", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/notanumber", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}
