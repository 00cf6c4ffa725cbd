package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/prcopilot/internal/pr"
	"github.com/linnemanlabs/prcopilot/internal/triage"
)

const (
	headerSignature = "X-Hub-Signature-256"
	headerEvent     = "X-GitHub-Event"
)

// VerdictReader is the read side the API needs from the store.
type VerdictReader interface {
	GetByPRID(ctx context.Context, githubPRID int64) (*pr.Verdict, bool, error)
}

// API holds dependencies for the webhook HTTP handlers.
type API struct {
	logger     log.Logger
	dispatcher triage.Dispatcher
	store      VerdictReader
	secret     string
	metrics    *triage.Metrics
}

// New creates the webhook API. secret may be empty, which disables
// signature verification (main warns loudly about that at startup).
func New(logger log.Logger, dispatcher triage.Dispatcher, store VerdictReader, secret string, metrics *triage.Metrics) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if dispatcher == nil {
		panic(xerrors.New("dispatcher is required"))
	}
	return &API{
		logger:     logger,
		dispatcher: dispatcher,
		store:      store,
		secret:     secret,
		metrics:    metrics,
	}
}

// RegisterRoutes attaches endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/github", a.handleGitHubWebhook)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/verdicts/{prID}", a.handleGetVerdict)
	})
}

func (a *API) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventType := r.Header.Get(headerEvent)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.count(eventType, "read_error")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "cannot read body"})
		return
	}

	if !VerifySignature(body, r.Header.Get(headerSignature), a.secret) {
		a.logger.Warn(ctx, "invalid webhook signature", "event", eventType)
		a.count(eventType, "invalid_signature")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid signature"})
		return
	}

	route, err := RouteEvent(eventType, body)
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			a.logger.Warn(ctx, "malformed webhook payload", "event", eventType, "error", err)
			a.count(eventType, "malformed")
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		a.logger.Error(ctx, err, "webhook routing failed", "event", eventType)
		a.count(eventType, "error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("prcopilot.event", eventType),
		attribute.String("prcopilot.route", string(route.Kind)),
	)

	switch route.Kind {
	case KindIgnored:
		a.count(eventType, "ignored")
		resp := map[string]any{"status": "ignored", "reason": route.Reason}
		if route.Action != "" {
			resp["action"] = route.Action
		}
		writeJSON(w, http.StatusOK, resp)

	case KindPullRequestUpdate:
		a.dispatch(w, r, triage.NewTask(route.Action, *route.Signal), eventType)

	case KindCommentCommand:
		switch route.Command.Action {
		case CommandHelp:
			a.count(eventType, "help")
			writeJSON(w, http.StatusOK, map[string]any{
				"status":  "help_posted",
				"message": "Use " + Mention + " /triage to re-analyze this PR.",
			})
		case CommandTriage:
			a.dispatch(w, r, triage.NewTask("re_analyze", *route.Signal), eventType)
		}
	}
}

func (a *API) dispatch(w http.ResponseWriter, r *http.Request, task *triage.Task, eventType string) {
	ctx := r.Context()

	dispatched, err := a.dispatcher.Dispatch(ctx, task)
	if err != nil {
		a.logger.Error(ctx, err, "dispatch failed",
			"task_id", task.ID,
			"pr_id", task.Signal.GitHubPRID,
			"action", task.Action,
		)
		a.count(eventType, "error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "processing failed"})
		return
	}

	if dispatched.Mode == triage.ModeQueued {
		a.count(eventType, "queued")
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":    "queued",
			"task_id":   dispatched.TaskID,
			"action":    task.Action,
			"pr_number": task.Signal.Number,
		})
		return
	}

	// Inline: the chain already ran, report what it did.
	result := dispatched.Result
	if result.Status == triage.StatusSkipped {
		a.count(eventType, "skipped")
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "skipped",
			"reason": result.Reason,
		})
		return
	}

	a.count(eventType, "processed")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "processed",
		"task_id":        dispatched.TaskID,
		"action":         task.Action,
		"pr_number":      task.Signal.Number,
		"classification": result.Classification.Category,
		"priority_score": result.Classification.Priority,
		"comment_posted": result.CommentPosted,
	})
}

func (a *API) handleGetVerdict(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}

	prID, err := strconv.ParseInt(chi.URLParam(r, "prID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid pr id"})
		return
	}

	verdict, ok, err := a.store.GetByPRID(r.Context(), prID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get verdict", "pr_id", prID)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

func (a *API) count(event, result string) {
	if a.metrics != nil {
		if event == "" {
			event = "unknown"
		}
		a.metrics.WebhooksTotal.WithLabelValues(event, result).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
