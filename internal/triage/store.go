package triage

import (
	"context"

	"github.com/linnemanlabs/prcopilot/internal/pr"
)

// PersistOutcome reports whether PersistIfAbsent won the insert or observed
// an existing verdict for the same PR id.
type PersistOutcome struct {
	Persisted bool
	VerdictID int64
	Reason    string // "already_analyzed" when not persisted
}

// Store is the persistence interface for verdicts. Implementations must make
// PersistIfAbsent atomic with respect to the PR-id uniqueness constraint:
// two workers racing on the same PR id resolve to exactly one persisted row,
// with the loser observing Persisted == false, never an error.
type Store interface {
	GetByPRID(ctx context.Context, githubPRID int64) (*pr.Verdict, bool, error)
	PersistIfAbsent(ctx context.Context, signal *pr.Signal, c *pr.Classification) (*PersistOutcome, error)
}
