package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prcopilot/internal/pr"
)

// fakeGitHub serves both the token exchange and the REST endpoints the
// client touches.
type fakeGitHub struct {
	t *testing.T

	mergeable    *bool
	createdAt    time.Time
	headSHA      string
	reviews      int
	ciState      string
	failReviews  bool
	failStatus   bool
	failComment  bool
	commentBody  string
	commentCalls int
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /app/installations/777/access_tokens", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token": "ghs_testtoken", "expires_at": "` +
			time.Now().Add(time.Hour).UTC().Format(time.RFC3339) + `"}`))
	})

	mux.HandleFunc("GET /repos/acme/widgets/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		f.requireToken(r)
		resp := map[string]any{
			"number":     42,
			"created_at": f.createdAt.Format(time.RFC3339),
			"head":       map[string]any{"sha": f.headSHA},
		}
		if f.mergeable != nil {
			resp["mergeable"] = *f.mergeable
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("GET /repos/acme/widgets/pulls/42/reviews", func(w http.ResponseWriter, r *http.Request) {
		f.requireToken(r)
		if f.failReviews {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		reviews := make([]map[string]any, f.reviews)
		for i := range reviews {
			reviews[i] = map[string]any{"id": i + 1, "state": "APPROVED"}
		}
		_ = json.NewEncoder(w).Encode(reviews)
	})

	mux.HandleFunc("GET /repos/acme/widgets/commits/", func(w http.ResponseWriter, r *http.Request) {
		f.requireToken(r)
		if f.failStatus {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"state": f.ciState, "total_count": 1})
	})

	mux.HandleFunc("POST /repos/acme/widgets/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		f.requireToken(r)
		f.commentCalls++
		if f.failComment {
			http.Error(w, "boom", http.StatusForbidden)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Body string `json:"body"`
		}
		_ = json.Unmarshal(body, &payload)
		f.commentBody = payload.Body
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 1}`))
	})

	return mux
}

func (f *fakeGitHub) requireToken(r *http.Request) {
	if got := r.Header.Get("Authorization"); got != "Bearer ghs_testtoken" {
		f.t.Errorf("Authorization = %q, want installation token", got)
	}
}

func newTestClient(t *testing.T, f *fakeGitHub) (*Client, func()) {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f.handler())

	pemData, _ := testPrivateKeyPEM(t)
	auth, err := NewAppAuthFromKey("12345", pemData, srv.URL)
	if err != nil {
		srv.Close()
		t.Fatalf("NewAppAuthFromKey: %v", err)
	}
	return New(auth, srv.URL, log.Nop()), srv.Close
}

func TestPRContext(t *testing.T) {
	t.Parallel()

	mergeable := false
	f := &fakeGitHub{
		mergeable: &mergeable,
		createdAt: time.Now().Add(-72 * time.Hour),
		headSHA:   "abc123",
		reviews:   2,
		ciState:   "success",
	}
	client, closeFn := newTestClient(t, f)
	defer closeFn()

	got, err := client.PRContext(context.Background(), 777, "acme/widgets", 42)
	if err != nil {
		t.Fatalf("PRContext: %v", err)
	}
	if !got.HasConflicts {
		t.Error("mergeable=false should report conflicts")
	}
	if got.ReviewCount != 2 {
		t.Errorf("ReviewCount = %d, want 2", got.ReviewCount)
	}
	if got.CIStatus != "success" {
		t.Errorf("CIStatus = %q, want success", got.CIStatus)
	}
	if got.DaysSinceCreated != 3 {
		t.Errorf("DaysSinceCreated = %d, want 3", got.DaysSinceCreated)
	}
}

func TestPRContext_UnknownMergeability(t *testing.T) {
	t.Parallel()

	f := &fakeGitHub{createdAt: time.Now(), headSHA: "abc123", ciState: "pending"}
	client, closeFn := newTestClient(t, f)
	defer closeFn()

	got, err := client.PRContext(context.Background(), 777, "acme/widgets", 42)
	if err != nil {
		t.Fatalf("PRContext: %v", err)
	}
	if got.HasConflicts {
		t.Error("absent mergeable field must not count as a conflict")
	}
}

func TestPRContext_PartialFailuresDegrade(t *testing.T) {
	t.Parallel()

	f := &fakeGitHub{
		createdAt:   time.Now(),
		headSHA:     "abc123",
		failReviews: true,
		failStatus:  true,
	}
	client, closeFn := newTestClient(t, f)
	defer closeFn()

	got, err := client.PRContext(context.Background(), 777, "acme/widgets", 42)
	if err != nil {
		t.Fatalf("PRContext should tolerate partial failures: %v", err)
	}
	if got.ReviewCount != 0 {
		t.Errorf("ReviewCount = %d, want 0", got.ReviewCount)
	}
	if got.CIStatus != "unknown" {
		t.Errorf("CIStatus = %q, want unknown", got.CIStatus)
	}
}

func TestPRContext_RequiresInstallation(t *testing.T) {
	t.Parallel()

	f := &fakeGitHub{createdAt: time.Now(), headSHA: "abc123"}
	client, closeFn := newTestClient(t, f)
	defer closeFn()

	if _, err := client.PRContext(context.Background(), 0, "acme/widgets", 42); err == nil {
		t.Error("expected error without installation id")
	}
	if _, err := client.PRContext(context.Background(), 777, "notarepo", 42); err == nil {
		t.Error("expected error for malformed repository name")
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()

	f := &fakeGitHub{createdAt: time.Now(), headSHA: "abc123"}
	client, closeFn := newTestClient(t, f)
	defer closeFn()

	c := &pr.Classification{
		Category:        pr.CategoryReadyToMerge,
		Confidence:      0.9,
		Priority:        30,
		Reasoning:       "Looks solid.",
		SuggestedAction: "Merge it.",
	}

	if !client.Publish(context.Background(), 777, "acme/widgets", 42, c) {
		t.Fatal("Publish should succeed")
	}
	if f.commentCalls != 1 {
		t.Errorf("comment calls = %d, want 1", f.commentCalls)
	}
	if !strings.Contains(f.commentBody, "Ready to Merge") {
		t.Errorf("posted body missing classification:\n%s", f.commentBody)
	}
}

func TestPublish_FailureReturnsFalse(t *testing.T) {
	t.Parallel()

	f := &fakeGitHub{createdAt: time.Now(), headSHA: "abc123", failComment: true}
	client, closeFn := newTestClient(t, f)
	defer closeFn()

	c := &pr.Classification{Category: pr.CategoryReadyToMerge, Reasoning: "r", SuggestedAction: "a"}
	if client.Publish(context.Background(), 777, "acme/widgets", 42, c) {
		t.Error("Publish should report failure, not panic or error out")
	}
}
