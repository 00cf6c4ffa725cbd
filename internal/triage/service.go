package triage

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prcopilot/internal/pr"
)

// ContextFetcher obtains enrichment signals from the origin platform.
// Implementations are best-effort: an error means "no context", never a
// blocked classification.
type ContextFetcher interface {
	PRContext(ctx context.Context, installationID int64, repoFullName string, number int) (*pr.Context, error)
}

// Publisher posts a verdict back to the origin platform. Returns false on
// failure; it never fails the task, the verdict is already durable by the
// time it runs.
type Publisher interface {
	Publish(ctx context.Context, installationID int64, repoFullName string, number int, c *pr.Classification) bool
}

// Service executes the classify -> persist -> publish chain for one task.
// It owns idempotency (via the store) but not retries; the Runner wraps it.
type Service struct {
	store     Store
	engine    *Engine
	fetcher   ContextFetcher
	publisher Publisher
	logger    log.Logger
	metrics   *Metrics
}

// NewService creates a triage service. fetcher and publisher may be nil, in
// which case enrichment is skipped and verdicts are not posted back.
func NewService(store Store, engine *Engine, fetcher ContextFetcher, publisher Publisher, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:     store,
		engine:    engine,
		fetcher:   fetcher,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Process runs the chain for one task. Duplicate PR ids resolve to a Skipped
// result, not an error. Storage-level errors are returned as retryable;
// incomplete signals come back wrapped with Terminal since retrying cannot
// repair the payload.
func (s *Service) Process(ctx context.Context, task *Task) (*ProcessResult, error) {
	signal := &task.Signal
	L := s.logger.With(
		"task_id", task.ID,
		"pr_id", signal.GitHubPRID,
		"repo", signal.RepoFullName,
		"pr_number", signal.Number,
	)

	// A signal without a PR id or repository can never persist or be looked
	// up; no number of retries grows the missing fields.
	if signal.GitHubPRID == 0 || signal.RepoFullName == "" {
		return nil, Terminal(fmt.Errorf("task %s has incomplete signal (pr_id=%d, repo=%q)",
			task.ID, signal.GitHubPRID, signal.RepoFullName))
	}

	// Cheap pre-check before paying for a classification. Correctness does
	// not depend on it: the insert below is the atomic gate.
	if _, ok, err := s.store.GetByPRID(ctx, signal.GitHubPRID); err != nil {
		return nil, fmt.Errorf("lookup verdict: %w", err)
	} else if ok {
		L.Info(ctx, "pr already analyzed, skipping")
		return &ProcessResult{Status: StatusSkipped, Reason: "already_analyzed"}, nil
	}

	var prCtx *pr.Context
	if s.fetcher != nil {
		fetched, err := s.fetcher.PRContext(ctx, signal.InstallationID, signal.RepoFullName, signal.Number)
		if err != nil {
			L.Warn(ctx, "pr context unavailable, classifying with defaults", "error", err)
		} else {
			prCtx = fetched
		}
	}

	classification := s.engine.Classify(ctx, signal, prCtx)

	outcome, err := s.store.PersistIfAbsent(ctx, signal, classification)
	if err != nil {
		return nil, fmt.Errorf("persist verdict: %w", err)
	}
	if !outcome.Persisted {
		// Lost the race to a concurrent delivery of the same PR id.
		L.Info(ctx, "verdict already persisted by concurrent delivery, skipping")
		return &ProcessResult{Status: StatusSkipped, Reason: outcome.Reason}, nil
	}

	result := &ProcessResult{
		Status:         StatusPersisted,
		VerdictID:      outcome.VerdictID,
		Classification: classification,
	}

	if s.publisher != nil {
		if signal.InstallationID == 0 {
			L.Warn(ctx, "no installation id on signal, cannot post comment")
		} else {
			result.CommentPosted = s.publisher.Publish(ctx, signal.InstallationID, signal.RepoFullName, signal.Number, classification)
			if !result.CommentPosted {
				if s.metrics != nil {
					s.metrics.CommentPostsTotal.WithLabelValues("error").Inc()
				}
				L.Warn(ctx, "comment post failed, verdict remains persisted")
			} else if s.metrics != nil {
				s.metrics.CommentPostsTotal.WithLabelValues("posted").Inc()
			}
		}
	}

	L.Info(ctx, "pr processed",
		"verdict_id", outcome.VerdictID,
		"category", classification.Category,
		"priority", classification.Priority,
		"confidence", classification.Confidence,
		"comment_posted", result.CommentPosted,
	)

	return result, nil
}
