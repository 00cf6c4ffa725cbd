// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/prcopilot/internal/pr"
	"github.com/linnemanlabs/prcopilot/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/prcopilot/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists verdicts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const verdictColumns = `id, github_pr_id, repository_full_name, pr_number, title, description,
	author, state, classification, confidence, priority_score, reasoning, suggested_action,
	created_at, updated_at, analyzed_at`

// GetByPRID retrieves a verdict by GitHub PR id.
func (s *Store) GetByPRID(ctx context.Context, githubPRID int64) (*pr.Verdict, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByPRID", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + verdictColumns + ` FROM pull_requests WHERE github_pr_id = $1`
	v, err := scanVerdictRow(s.pool.QueryRow(ctx, query, githubPRID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// PersistIfAbsent inserts a verdict unless one already exists for the PR id.
// The uniqueness constraint makes the insert the atomic gate: of two workers
// racing on the same PR id exactly one insert returns a row, the other sees
// no row and reports already_analyzed. There is no separate read-then-write
// window.
func (s *Store) PersistIfAbsent(ctx context.Context, signal *pr.Signal, c *pr.Classification) (*triage.PersistOutcome, error) {
	ctx, span := tracer.Start(ctx, "pgstore.PersistIfAbsent", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	now := time.Now().UTC()

	query := `INSERT INTO pull_requests (
		github_pr_id, repository_full_name, pr_number, title, description,
		author, state, classification, confidence, priority_score, reasoning,
		suggested_action, created_at, analyzed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (github_pr_id) DO NOTHING
	RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		signal.GitHubPRID, signal.RepoFullName, signal.Number, signal.Title, signal.Description,
		signal.Author, signal.State, string(c.Category), c.Confidence, c.Priority, c.Reasoning,
		c.SuggestedAction, now, now,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &triage.PersistOutcome{Reason: "already_analyzed"}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("insert verdict: %w", err)
	}

	return &triage.PersistOutcome{Persisted: true, VerdictID: id}, nil
}

// scanVerdictRow scans a single row into a pr.Verdict.
// Returns (nil, nil) when no row is found.
func scanVerdictRow(row pgx.Row) (*pr.Verdict, error) {
	var (
		v          pr.Verdict
		category   string
		updatedAt  *time.Time
		analyzedAt *time.Time
	)

	err := row.Scan(
		&v.ID, &v.Signal.GitHubPRID, &v.Signal.RepoFullName, &v.Signal.Number,
		&v.Signal.Title, &v.Signal.Description, &v.Signal.Author, &v.Signal.State,
		&category, &v.Confidence, &v.Priority, &v.Reasoning, &v.SuggestedAction,
		&v.CreatedAt, &updatedAt, &analyzedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	v.Category = pr.Category(category)
	if updatedAt != nil {
		v.UpdatedAt = *updatedAt
	}
	if analyzedAt != nil {
		v.AnalyzedAt = *analyzedAt
	}
	return &v, nil
}
