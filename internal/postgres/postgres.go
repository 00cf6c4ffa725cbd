// Package postgres owns the pgx connection pool and its query
// instrumentation: otel spans via otelpgx, a structured log line per query,
// and a metrics hook wired by main.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/go-core/log"
)

// context keys for query metadata.
type ctxKey string

const (
	ctxKeySQL        ctxKey = "pgx.sql"
	ctxKeyStart      ctxKey = "pgx.start"
	ctxKeyHTTPMethod ctxKey = "http.method"
)

var queryObserver atomic.Pointer[queryObserverHolder]

type queryObserverHolder struct{ QueryObserver }

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

// WithHTTPMethod stores the HTTP method in the context for query metrics labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyHTTPMethod, method)
}

// NewPool opens a pgx pool with tracing and logging instrumentation and
// verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.ConnConfig.Tracer = loggingTracer{inner: otelpgx.NewTracer()}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds a
// structured log line plus the metrics hook for every query.
type loggingTracer struct {
	inner pgx.QueryTracer
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	// Let the inner tracer (otelpgx) create its span first.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	ctx = context.WithValue(ctx, ctxKeySQL, data.SQL)
	ctx = context.WithValue(ctx, ctxKeyStart, time.Now())
	return ctx
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// Always call the inner tracer first so spans finish correctly.
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	sql, _ := ctx.Value(ctxKeySQL).(string)
	start, _ := ctx.Value(ctxKeyStart).(time.Time)

	var dur time.Duration
	if !start.IsZero() {
		dur = time.Since(start)
	}

	if obs := getQueryObserver(); obs != nil && dur > 0 {
		method := httpMethodFromContext(ctx)
		if method == "" {
			method = "UNKNOWN"
		}
		route := routePatternFromContext(ctx)
		if route == "" {
			route = "unknown"
		}
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, method, route, outcome, dur)
	}

	L := log.FromContext(ctx)

	fields := []any{
		"db.statement", sql,
		"db.duration", dur.Seconds(),
	}

	tag := strings.TrimSpace(data.CommandTag.String())
	if tag != "" {
		parts := strings.Fields(tag)
		if len(parts) > 0 {
			fields = append(fields, "db.operation.name", strings.ToUpper(parts[0]))
		}
		if rows := data.CommandTag.RowsAffected(); rows >= 0 {
			fields = append(fields, "db.rows", rows)
		}
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}

	L.Info(ctx, "db query", fields...)
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

func httpMethodFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyHTTPMethod).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
