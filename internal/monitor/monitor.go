// Package monitor polls stock levels into the alert engine.
package monitor

import (
	"context"
	"time"

	"github.com/fairyhunter13/pos-stock-service/internal/alerts"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
	"github.com/fairyhunter13/pos-stock-service/internal/schedule"
)

// Task names registered by Register.
const (
	TaskStockCheck  = "stock_check"
	TaskSnoozePurge = "snooze_purge"
)

// LevelSource reads the current stock of an organization's active products.
type LevelSource interface {
	Levels(ctx context.Context, orgID string) ([]model.ProductLevel, error)
}

// Monitor evaluates one organization's stock.
type Monitor struct {
	orgID  string
	levels LevelSource
	engine *alerts.Engine
	now    func() time.Time
}

func New(orgID string, levels LevelSource, engine *alerts.Engine) *Monitor {
	return &Monitor{orgID: orgID, levels: levels, engine: engine, now: time.Now}
}

// OrgID returns the monitored organization.
func (m *Monitor) OrgID() string { return m.orgID }

// Check reads current levels and feeds them to the engine. A failed read
// leaves the registry untouched.
func (m *Monitor) Check(ctx context.Context) (alerts.Summary, error) {
	levels, err := m.levels.Levels(ctx, m.orgID)
	if err != nil {
		return alerts.Summary{}, err
	}
	sum := m.engine.Evaluate(levels)
	obs.Logger.Debug("stock_checked", "org_id", m.orgID, "evaluated", sum.Evaluated,
		"raised", sum.Raised, "cleared", sum.Cleared, "active", sum.Active)
	return sum, nil
}

// Purge drops expired snoozes.
func (m *Monitor) Purge(context.Context) error {
	m.engine.PurgeExpiredSnoozes(m.now())
	return nil
}

// Register adds the stock check and snooze purge tasks to s.
func (m *Monitor) Register(s *schedule.Scheduler, poll, purge time.Duration) error {
	if err := s.Add(schedule.Task{
		Name:      TaskStockCheck,
		Interval:  poll,
		Immediate: true,
		Run: func(ctx context.Context) error {
			_, err := m.Check(ctx)
			return err
		},
	}); err != nil {
		return err
	}
	return s.Add(schedule.Task{Name: TaskSnoozePurge, Interval: purge, Run: m.Purge})
}
