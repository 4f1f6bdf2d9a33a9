package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

// Policy bounds every store call.
type Policy struct {
	// Timeout applies to each attempt.
	Timeout time.Duration
	// Attempts is the total number of tries for reads. Writes get one.
	Attempts int
	// Delay is the fixed pause between read attempts.
	Delay time.Duration
}

// DefaultPolicy mirrors the hosted store client settings: 10s per query,
// three attempts two seconds apart.
func DefaultPolicy() Policy {
	return Policy{Timeout: 10 * time.Second, Attempts: 3, Delay: 2 * time.Second}
}

// Guarded decorates a Store with per-call timeouts, bounded retries of
// idempotent reads and error classification into the apperr taxonomy.
// Writes are never retried: the store offers no idempotency key.
type Guarded struct {
	next    Store
	policy  Policy
	metrics *obs.Metrics
}

// Guard wraps next. A nil metrics gets a private instance.
func Guard(next Store, p Policy, m *obs.Metrics) *Guarded {
	if p.Timeout <= 0 {
		p.Timeout = DefaultPolicy().Timeout
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if m == nil {
		m = obs.NewMetrics(nil)
	}
	return &Guarded{next: next, policy: p, metrics: m}
}

func (g *Guarded) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	start := time.Now()
	op := func() ([]Row, error) {
		cctx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
		defer cancel()
		rows, err := g.next.Select(cctx, table, q)
		if err == nil {
			return rows, nil
		}
		if ctx.Err() != nil || errors.Is(err, apperr.ErrValidation) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	rows, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(g.policy.Delay)),
		backoff.WithMaxTries(uint(g.policy.Attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.metrics.StoreRetriesTotal.WithLabelValues(table).Inc()
			obs.Logger.Warn("store_read_retry", "table", table, "error", err, "retry_in_ms", next.Milliseconds())
		}),
	)
	g.observe(table, "select", start, err)
	if err != nil {
		return nil, classify("select "+table, err)
	}
	return rows, nil
}

func (g *Guarded) Insert(ctx context.Context, table string, row Row) (Row, error) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
	defer cancel()
	out, err := g.next.Insert(cctx, table, row)
	g.observe(table, "insert", start, err)
	if err != nil {
		return nil, classify("insert "+table, err)
	}
	return out, nil
}

func (g *Guarded) InsertMany(ctx context.Context, table string, rows []Row) error {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
	defer cancel()
	err := g.next.InsertMany(cctx, table, rows)
	g.observe(table, "insert_many", start, err)
	return classify("insert "+table, err)
}

func (g *Guarded) Update(ctx context.Context, table string, filters []Filter, patch Row) (int64, error) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
	defer cancel()
	n, err := g.next.Update(cctx, table, filters, patch)
	g.observe(table, "update", start, err)
	return n, classify("update "+table, err)
}

func (g *Guarded) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
	defer cancel()
	n, err := g.next.Delete(cctx, table, filters)
	g.observe(table, "delete", start, err)
	return n, classify("delete "+table, err)
}

func (g *Guarded) observe(table, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	g.metrics.StoreCallSeconds.WithLabelValues(table, op, status).Observe(time.Since(start).Seconds())
}

// classify maps backend errors onto the taxonomy. Errors already classified
// by the backend pass through with op context.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Timeout(op, err)
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrTimeout):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return apperr.Persistence(op, err)
	}
}
