package alerts

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingSink checks that a product is never raised twice without a clear
// in between.
type recordingSink struct {
	t       *testing.T
	mu      sync.Mutex
	open    map[string]bool
	raised  []string
	cleared []string
	snoozed []model.Snooze
}

func newRecordingSink(t *testing.T) *recordingSink {
	return &recordingSink{t: t, open: map[string]bool{}}
}

func (s *recordingSink) AlertRaised(a model.StockAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open[a.ProductID] {
		s.t.Errorf("product %s raised twice", a.ProductID)
	}
	s.open[a.ProductID] = true
	s.raised = append(s.raised, a.ProductID)
}

func (s *recordingSink) AlertCleared(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[id] = false
	s.cleared = append(s.cleared, id+":"+reason)
}

func (s *recordingSink) AlertSnoozed(sn model.Snooze) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snoozed = append(s.snoozed, sn)
}

func newTestEngine(t *testing.T) (*Engine, *clock, *recordingSink, *obs.Metrics) {
	t.Helper()
	c := &clock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	sink := newRecordingSink(t)
	m := obs.NewMetrics(nil)
	e := NewEngine(DefaultConfig(), WithClock(c.now), WithSink(sink), WithMetrics(m))
	return e, c, sink, m
}

func level(id string, stock int64) model.ProductLevel {
	return model.ProductLevel{ID: id, Name: "Product " + id, Code: "C-" + id, Stock: stock}
}

func TestClassifyThresholds(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		stock int64
		want  model.Severity
	}{
		{0, model.SeverityCritical},
		{5, model.SeverityCritical},
		{6, model.SeverityLow},
		{10, model.SeverityLow},
		{11, model.SeverityWarning},
		{15, model.SeverityWarning},
		{16, model.SeverityNone},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.stock), func(t *testing.T) {
			assert.Equal(t, tc.want, th.Classify(tc.stock))
		})
	}
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.ErrorIs(t, Thresholds{Critical: 5, Low: 5, Warning: 15}.Validate(), apperr.ErrValidation)
	assert.ErrorIs(t, Thresholds{Critical: -1, Low: 5, Warning: 15}.Validate(), apperr.ErrValidation)
}

func TestEvaluateRaisesOncePerProduct(t *testing.T) {
	e, _, sink, m := newTestEngine(t)
	levels := []model.ProductLevel{level("a", 5), level("b", 10), level("c", 15), level("d", 16)}

	sum := e.Evaluate(levels)
	assert.Equal(t, Summary{Evaluated: 4, Raised: 3, Active: 3}, sum)
	sum = e.Evaluate(levels)
	assert.Equal(t, Summary{Evaluated: 4, Active: 3}, sum)
	assert.Len(t, sink.raised, 3)

	a, ok := e.Alert("a")
	require.True(t, ok)
	assert.Equal(t, model.SeverityCritical, a.Severity)
	assert.Equal(t, int64(5), a.Threshold)
	assert.Contains(t, a.Message, "Critical stock")
	_, ok = e.Alert("d")
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsActive.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsActive.WithLabelValues("warning")))
}

func TestEvaluateKeepsExistingAlertUnchanged(t *testing.T) {
	e, c, _, _ := newTestEngine(t)
	e.Evaluate([]model.ProductLevel{level("a", 12)})
	first, _ := e.Alert("a")
	c.advance(time.Minute)
	e.Evaluate([]model.ProductLevel{level("a", 2)})
	second, _ := e.Alert("a")
	assert.Equal(t, first, second)
}

func TestEvaluateClearsRecoveredAndRemoved(t *testing.T) {
	e, _, sink, _ := newTestEngine(t)
	e.Evaluate([]model.ProductLevel{level("a", 1), level("b", 2)})
	sum := e.Evaluate([]model.ProductLevel{level("a", 40)})
	assert.Equal(t, 2, sum.Cleared)
	assert.Empty(t, e.Alerts())
	assert.ElementsMatch(t, []string{"a:" + ClearedRecovered, "b:" + ClearedRemoved}, sink.cleared)
}

func TestDismissSuppressesWithinWindow(t *testing.T) {
	e, c, sink, _ := newTestEngine(t)
	e.Evaluate([]model.ProductLevel{level("a", 8)})

	sn, err := e.Dismiss("a", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(8), sn.Stock)
	assert.Equal(t, c.now().Add(30*time.Minute), sn.Until)
	assert.Empty(t, e.Alerts())
	require.Len(t, sink.snoozed, 1)

	for _, stock := range []int64{8, 9, 7, 8} {
		c.advance(5 * time.Minute)
		sum := e.Evaluate([]model.ProductLevel{level("a", stock)})
		assert.Equal(t, 0, sum.Raised, "stock %d", stock)
		assert.Equal(t, 1, sum.Suppressed)
	}
	assert.Empty(t, e.Alerts())
}

func TestDriftOverridesSnooze(t *testing.T) {
	for _, stock := range []int64{6, 10, 0} {
		t.Run(fmt.Sprint(stock), func(t *testing.T) {
			e, c, _, m := newTestEngine(t)
			e.Evaluate([]model.ProductLevel{level("a", 8)})
			_, err := e.Dismiss("a", 30*time.Minute)
			require.NoError(t, err)
			c.advance(time.Minute)

			sum := e.Evaluate([]model.ProductLevel{level("a", stock)})
			assert.Equal(t, 1, sum.Raised)
			assert.Equal(t, 1, sum.Overridden)
			a, ok := e.Alert("a")
			require.True(t, ok)
			assert.Equal(t, stock, a.Stock)
			assert.Empty(t, e.Snoozes())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.SnoozeOverridesTotal))
		})
	}
}

func TestExpiredSnoozeNoLongerSuppresses(t *testing.T) {
	e, c, _, _ := newTestEngine(t)
	e.Evaluate([]model.ProductLevel{level("a", 8)})
	_, err := e.Dismiss("a", 0)
	require.NoError(t, err)
	c.advance(30 * time.Minute)

	sum := e.Evaluate([]model.ProductLevel{level("a", 8)})
	assert.Equal(t, 1, sum.Raised)
	assert.Empty(t, e.Snoozes())
}

func TestDismissReplacesSnooze(t *testing.T) {
	e, c, _, _ := newTestEngine(t)
	e.Evaluate([]model.ProductLevel{level("a", 8)})
	_, err := e.Dismiss("a", time.Minute)
	require.NoError(t, err)
	c.advance(2 * time.Minute)
	e.Evaluate([]model.ProductLevel{level("a", 3)})
	_, err = e.Dismiss("a", time.Hour)
	require.NoError(t, err)

	snoozes := e.Snoozes()
	require.Len(t, snoozes, 1)
	assert.Equal(t, int64(3), snoozes[0].Stock)
	assert.Equal(t, c.now().Add(time.Hour), snoozes[0].Until)
}

func TestDismissWithoutAlert(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	_, err := e.Dismiss("missing", time.Minute)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPurgeExpiredSnoozes(t *testing.T) {
	e, c, _, m := newTestEngine(t)
	e.Evaluate([]model.ProductLevel{level("a", 1), level("b", 2)})
	_, _ = e.Dismiss("a", 10*time.Minute)
	_, _ = e.Dismiss("b", 60*time.Minute)

	assert.Equal(t, 0, e.PurgeExpiredSnoozes(c.now()))
	assert.Equal(t, 1, e.PurgeExpiredSnoozes(c.now().Add(10*time.Minute)))
	require.Len(t, e.Snoozes(), 1)
	assert.Equal(t, "b", e.Snoozes()[0].ProductID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnoozesPurgedTotal))
}

func TestAlertsOrderedByCriticality(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	e.Evaluate([]model.ProductLevel{
		{ID: "1", Name: "beans", Stock: 9},
		{ID: "2", Name: "Apples", Stock: 9},
		{ID: "3", Name: "Zucchini", Stock: 1},
	})
	var ids []string
	for _, a := range e.Alerts() {
		ids = append(ids, a.ProductID)
	}
	assert.Equal(t, []string{"3", "2", "1"}, ids)
}

func TestStats(t *testing.T) {
	s := DefaultThresholds().Stats([]model.ProductLevel{level("a", 0), level("b", 7), level("c", 13), level("d", 99), level("e", 16)})
	assert.Equal(t, Stats{Total: 5, Critical: 1, Low: 1, Warning: 1, Healthy: 2}, s)
}

func TestRandomSequencesKeepOneAlertPerProduct(t *testing.T) {
	e, c, sink, _ := newTestEngine(t)
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d"}
	for step := 0; step < 500; step++ {
		switch rng.Intn(4) {
		case 0, 1:
			var levels []model.ProductLevel
			for _, id := range ids {
				if rng.Intn(5) > 0 {
					levels = append(levels, level(id, rng.Int63n(25)))
				}
			}
			e.Evaluate(levels)
		case 2:
			_, _ = e.Dismiss(ids[rng.Intn(len(ids))], time.Duration(rng.Intn(40))*time.Minute)
		case 3:
			c.advance(time.Duration(rng.Intn(10)) * time.Minute)
			e.PurgeExpiredSnoozes(c.now())
		}
		seen := map[string]bool{}
		for _, a := range e.Alerts() {
			require.False(t, seen[a.ProductID], "duplicate alert for %s", a.ProductID)
			seen[a.ProductID] = true
		}
	}
	assert.NotEmpty(t, sink.raised)
}

func TestConcurrentEvaluateAndDismiss(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Evaluate([]model.ProductLevel{level("a", int64(j%20)), level("b", 3)})
				_, _ = e.Dismiss("a", time.Minute)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, len(e.Alerts()), 2)
}
