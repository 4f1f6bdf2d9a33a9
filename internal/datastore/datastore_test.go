package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

func TestMatchFilters(t *testing.T) {
	row := Row{"id": "7", "stock": int64(12), "org_id": "o1", "precio": decimal.RequireFromString("9.50")}
	assert.True(t, Match(row, []Filter{Eq("id", "7"), Eq("org_id", "o1")}))
	assert.True(t, Match(row, []Filter{Gte("stock", 12), Lt("stock", 13.5)}))
	assert.False(t, Match(row, []Filter{Gt("stock", 12)}))
	assert.True(t, Match(row, []Filter{Eq("precio", "9.5")}))
	assert.False(t, Match(row, []Filter{Eq("missing", "x")}))
	assert.True(t, Match(row, []Filter{Neq("missing", "x")}))
	assert.True(t, Match(row, []Filter{Eq("missing", nil)}))
}

func TestApplyOrderAndLimit(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		{"id": "a", "created_at": base},
		{"id": "b", "created_at": base.Add(2 * time.Hour)},
		{"id": "c", "created_at": base.Add(time.Hour).Format(time.RFC3339Nano)},
	}
	out := Apply(rows, Query{Order: []Order{{Column: "created_at", Desc: true}}, Limit: 2})
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].String("id"))
	assert.Equal(t, "c", out[1].String("id"))

	out[0]["id"] = "mutated"
	assert.Equal(t, "b", rows[1]["id"], "Apply must return copies")
}

func TestRowAccessors(t *testing.T) {
	r := Row{
		"a": float64(3), "b": json.Number("4"), "c": []byte("12.75"), "d": "5",
		"t": "2024-05-01T10:00:00Z", "on": "true", "n": nil, "id": int64(42),
	}
	assert.Equal(t, int64(3), r.Int64("a"))
	assert.Equal(t, int64(4), r.Int64("b"))
	assert.True(t, decimal.RequireFromString("12.75").Equal(r.Decimal("c")))
	assert.Equal(t, int64(5), r.Int64("d"))
	assert.Equal(t, 2024, r.Time("t").Year())
	assert.True(t, r.Bool("on"))
	assert.Nil(t, r.OptString("n"))
	assert.Equal(t, "42", r.String("id"))
	assert.Equal(t, int64(0), r.Int64("missing"))
}

type flakyStore struct {
	selectFails int
	selects     int
	inserts     int
	block       bool
}

func (f *flakyStore) Select(ctx context.Context, _ string, _ Query) ([]Row, error) {
	f.selects++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.selects <= f.selectFails {
		return nil, errors.New("connection reset")
	}
	return []Row{{"id": "1"}}, nil
}

func (f *flakyStore) Insert(context.Context, string, Row) (Row, error) {
	f.inserts++
	return nil, errors.New("connection reset")
}

func (f *flakyStore) InsertMany(context.Context, string, []Row) error { return nil }

func (f *flakyStore) Update(context.Context, string, []Filter, Row) (int64, error) { return 1, nil }

func (f *flakyStore) Delete(context.Context, string, []Filter) (int64, error) { return 1, nil }

func TestGuardedRetriesReads(t *testing.T) {
	m := obs.NewMetrics(prometheus.NewRegistry())
	fs := &flakyStore{selectFails: 2}
	g := Guard(fs, Policy{Timeout: time.Second, Attempts: 3, Delay: time.Millisecond}, m)

	rows, err := g.Select(context.Background(), TableProduct, Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 3, fs.selects)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreRetriesTotal.WithLabelValues(TableProduct)))
}

func TestGuardedGivesUpAfterAttempts(t *testing.T) {
	fs := &flakyStore{selectFails: 10}
	g := Guard(fs, Policy{Timeout: time.Second, Attempts: 3, Delay: time.Millisecond}, nil)

	_, err := g.Select(context.Background(), TableProduct, Query{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, 3, fs.selects)
}

func TestGuardedNeverRetriesWrites(t *testing.T) {
	fs := &flakyStore{}
	g := Guard(fs, Policy{Timeout: time.Second, Attempts: 3, Delay: time.Millisecond}, nil)

	_, err := g.Insert(context.Background(), TableSale, Row{"total": 1})
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, 1, fs.inserts)
}

func TestGuardedTimeout(t *testing.T) {
	fs := &flakyStore{block: true}
	g := Guard(fs, Policy{Timeout: 10 * time.Millisecond, Attempts: 2, Delay: time.Millisecond}, nil)

	_, err := g.Select(context.Background(), TableProduct, Query{})
	assert.ErrorIs(t, err, apperr.ErrTimeout)
	assert.Equal(t, 2, fs.selects)
}
