// Package memstore provides an in-memory implementation of triage.Store.
// Suitable for dev and testing; the uniqueness gate is a mutex instead of a
// database constraint but the PersistIfAbsent contract is identical.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/prcopilot/internal/pr"
	"github.com/linnemanlabs/prcopilot/internal/triage"
)

// Store holds verdicts in memory, keyed by GitHub PR id.
type Store struct {
	mu     sync.Mutex
	nextID int64
	byPRID map[int64]*pr.Verdict
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{byPRID: make(map[int64]*pr.Verdict)}
}

// GetByPRID retrieves a verdict by GitHub PR id. Returns a copy.
func (s *Store) GetByPRID(_ context.Context, githubPRID int64) (*pr.Verdict, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byPRID[githubPRID]
	if !ok {
		return nil, false, nil
	}
	cp := *v
	return &cp, true, nil
}

// PersistIfAbsent stores a verdict unless one already exists for the PR id.
// The check and insert happen under one lock, mirroring the atomic
// constraint-backed insert of the SQL store.
func (s *Store) PersistIfAbsent(_ context.Context, signal *pr.Signal, c *pr.Classification) (*triage.PersistOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPRID[signal.GitHubPRID]; ok {
		return &triage.PersistOutcome{Reason: "already_analyzed"}, nil
	}

	s.nextID++
	now := time.Now().UTC()
	s.byPRID[signal.GitHubPRID] = &pr.Verdict{
		ID:             s.nextID,
		Signal:         *signal,
		Classification: *c,
		CreatedAt:      now,
		AnalyzedAt:     now,
	}

	return &triage.PersistOutcome{Persisted: true, VerdictID: s.nextID}, nil
}
