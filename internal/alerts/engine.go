// Package alerts classifies product stock into alerts and manages their
// lifecycle: at most one alert per product, dismissal into a snooze, and
// re-firing when stock drifts away from the snoozed level.
package alerts

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
)

// Reasons passed to Sink.AlertCleared.
const (
	ClearedRecovered = "recovered"
	ClearedRemoved   = "removed"
	ClearedDismissed = "dismissed"
)

// Sink receives alert lifecycle changes in registry order. Calls are made
// under the engine lock and must neither block nor call back into the engine.
type Sink interface {
	AlertRaised(a model.StockAlert)
	AlertCleared(productID, reason string)
	AlertSnoozed(s model.Snooze)
}

type nopSink struct{}

func (nopSink) AlertRaised(model.StockAlert) {}
func (nopSink) AlertCleared(string, string)  {}
func (nopSink) AlertSnoozed(model.Snooze)    {}

// Config tunes an Engine.
type Config struct {
	Thresholds Thresholds
	// DriftTolerance is the stock change a snooze absorbs. A larger change
	// re-raises the alert.
	DriftTolerance int64
	// SnoozeDuration applies when Dismiss is given no duration.
	SnoozeDuration time.Duration
}

// DefaultConfig returns thresholds 5/10/15, drift 1 and a 30 minute snooze.
func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), DriftTolerance: 1, SnoozeDuration: 30 * time.Minute}
}

// Engine owns the alert and snooze registries. Evaluate, Dismiss and
// PurgeExpiredSnoozes serialize on one lock.
type Engine struct {
	cfg     Config
	sink    Sink
	now     func() time.Time
	metrics *obs.Metrics

	mu      sync.Mutex
	alerts  map[string]model.StockAlert
	snoozes map[string]model.Snooze
}

// Option configures an Engine.
type Option func(*Engine)

func WithSink(s Sink) Option { return func(e *Engine) { e.sink = s } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithMetrics(m *obs.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func NewEngine(cfg Config, opts ...Option) *Engine {
	if cfg.SnoozeDuration <= 0 {
		cfg.SnoozeDuration = DefaultConfig().SnoozeDuration
	}
	if cfg.DriftTolerance < 0 {
		cfg.DriftTolerance = 0
	}
	e := &Engine{
		cfg:     cfg,
		sink:    nopSink{},
		now:     time.Now,
		alerts:  make(map[string]model.StockAlert),
		snoozes: make(map[string]model.Snooze),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = obs.NewMetrics(nil)
	}
	return e
}

// Thresholds returns the configured thresholds.
func (e *Engine) Thresholds() Thresholds { return e.cfg.Thresholds }

// Classify returns the severity of stock.
func (e *Engine) Classify(stock int64) model.Severity { return e.cfg.Thresholds.Classify(stock) }

// Summary counts what one Evaluate changed.
type Summary struct {
	Evaluated  int `json:"evaluated"`
	Raised     int `json:"raised"`
	Cleared    int `json:"cleared"`
	Suppressed int `json:"suppressed"`
	Overridden int `json:"overridden"`
	Active     int `json:"active"`
}

// event is a sink call queued until the registry is consistent.
type event func(Sink)

// Evaluate reconciles the registry with the current stock of products. It
// raises alerts for alerting products that have none and are not snoozed,
// lets a drift beyond the tolerance break a snooze, and clears alerts of
// products that recovered or are absent from products.
func (e *Engine) Evaluate(products []model.ProductLevel) Summary {
	var events []event
	e.mu.Lock()
	now := e.now()
	sum := Summary{Evaluated: len(products)}
	current := make(map[string]model.ProductLevel, len(products))
	for _, p := range products {
		current[p.ID] = p
		sev := e.cfg.Thresholds.Classify(p.Stock)
		if sev == model.SeverityNone {
			continue
		}
		if _, ok := e.alerts[p.ID]; ok {
			continue
		}
		if sn, ok := e.snoozes[p.ID]; ok {
			if now.Before(sn.Until) {
				if drift(p.Stock, sn.Stock) <= e.cfg.DriftTolerance {
					sum.Suppressed++
					continue
				}
				sum.Overridden++
				e.metrics.SnoozeOverridesTotal.Inc()
				obs.Logger.Info("snooze_overridden", "product_id", p.ID,
					"snoozed_stock", sn.Stock, "stock", p.Stock)
			}
			delete(e.snoozes, p.ID)
		}
		a := model.StockAlert{
			ProductID:   p.ID,
			ProductName: p.Name,
			ProductCode: p.Code,
			Stock:       p.Stock,
			Severity:    sev,
			Threshold:   e.cfg.Thresholds.Bound(sev),
			Message:     describe(p, sev),
			CreatedAt:   now,
		}
		e.alerts[p.ID] = a
		sum.Raised++
		e.metrics.AlertsRaisedTotal.WithLabelValues(string(sev)).Inc()
		obs.Logger.Info("alert_raised", "product_id", p.ID, "severity", sev, "stock", p.Stock)
		events = append(events, func(s Sink) { s.AlertRaised(a) })
	}
	for id := range e.alerts {
		reason := ""
		if p, ok := current[id]; !ok {
			reason = ClearedRemoved
		} else if e.cfg.Thresholds.Classify(p.Stock) == model.SeverityNone {
			reason = ClearedRecovered
		}
		if reason == "" {
			continue
		}
		delete(e.alerts, id)
		sum.Cleared++
		e.metrics.AlertsClearedTotal.Inc()
		obs.Logger.Info("alert_cleared", "product_id", id, "reason", reason)
		events = append(events, func(s Sink) { s.AlertCleared(id, reason) })
	}
	sum.Active = len(e.alerts)
	e.updateGaugeLocked()
	e.emit(events)
	e.mu.Unlock()
	return sum
}

// Dismiss removes the active alert of productID and snoozes the product for
// d, or the configured duration when d <= 0. The snooze remembers the
// alert's stock for drift detection and replaces any earlier snooze.
func (e *Engine) Dismiss(productID string, d time.Duration) (model.Snooze, error) {
	if d <= 0 {
		d = e.cfg.SnoozeDuration
	}
	e.mu.Lock()
	a, ok := e.alerts[productID]
	if !ok {
		e.mu.Unlock()
		return model.Snooze{}, apperr.NotFound("alert", productID)
	}
	delete(e.alerts, productID)
	sn := model.Snooze{ProductID: productID, Until: e.now().Add(d), Stock: a.Stock}
	e.snoozes[productID] = sn
	e.updateGaugeLocked()
	e.sink.AlertCleared(productID, ClearedDismissed)
	e.sink.AlertSnoozed(sn)
	e.mu.Unlock()

	e.metrics.AlertsSnoozedTotal.Inc()
	obs.Logger.Info("alert_snoozed", "product_id", productID, "until", sn.Until, "stock", sn.Stock)
	return sn, nil
}

// PurgeExpiredSnoozes removes snoozes whose window ended at or before now and
// returns how many were removed.
func (e *Engine) PurgeExpiredSnoozes(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, sn := range e.snoozes {
		if !sn.Until.After(now) {
			delete(e.snoozes, id)
			n++
		}
	}
	if n > 0 {
		e.metrics.SnoozesPurgedTotal.Add(float64(n))
		obs.Logger.Debug("snoozes_purged", "count", n)
	}
	return n
}

// Alerts returns the active alerts, least stock first, then by name.
func (e *Engine) Alerts() []model.StockAlert {
	e.mu.Lock()
	out := make([]model.StockAlert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, a)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stock != out[j].Stock {
			return out[i].Stock < out[j].Stock
		}
		if ni, nj := strings.ToLower(out[i].ProductName), strings.ToLower(out[j].ProductName); ni != nj {
			return ni < nj
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

// Alert returns the active alert of productID.
func (e *Engine) Alert(productID string) (model.StockAlert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[productID]
	return a, ok
}

// Snoozes returns the snoozes, expired ones included until purged.
func (e *Engine) Snoozes() []model.Snooze {
	e.mu.Lock()
	out := make([]model.Snooze, 0, len(e.snoozes))
	for _, s := range e.snoozes {
		out = append(out, s)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (e *Engine) updateGaugeLocked() {
	counts := map[model.Severity]int{}
	for _, a := range e.alerts {
		counts[a.Severity]++
	}
	for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityLow, model.SeverityWarning} {
		e.metrics.AlertsActive.WithLabelValues(string(sev)).Set(float64(counts[sev]))
	}
}

func (e *Engine) emit(events []event) {
	for _, ev := range events {
		ev(e.sink)
	}
}

func drift(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
