package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pos-stock-service/internal/alerts"
	ds "github.com/fairyhunter13/pos-stock-service/internal/datastore"
	"github.com/fairyhunter13/pos-stock-service/internal/ledger"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
	"github.com/fairyhunter13/pos-stock-service/internal/schedule"
	"github.com/fairyhunter13/pos-stock-service/internal/store"
)

type failingSource struct{}

func (failingSource) Levels(context.Context, string) ([]model.ProductLevel, error) {
	return nil, errors.New("store down")
}

func TestCheckEvaluatesLedgerLevels(t *testing.T) {
	s := store.New()
	ctx := context.Background()
	for code, stock := range map[string]int64{"A": 2, "B": 40} {
		_, err := s.Insert(ctx, ds.TableProduct, ds.Row{
			ds.ColProductCode: code, ds.ColProductName: code, ds.ColProductStock: stock,
			ds.ColProductActive: true, ds.ColOrgID: "org-1",
		})
		require.NoError(t, err)
	}
	engine := alerts.NewEngine(alerts.DefaultConfig())
	m := New("org-1", ledger.New(s), engine)

	sum, err := m.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Evaluated)
	assert.Equal(t, 1, sum.Raised)
	require.Len(t, engine.Alerts(), 1)
	assert.Equal(t, "A", engine.Alerts()[0].ProductCode)
}

func TestCheckKeepsRegistryOnReadFailure(t *testing.T) {
	engine := alerts.NewEngine(alerts.DefaultConfig())
	engine.Evaluate([]model.ProductLevel{{ID: "p", Stock: 1}})
	m := New("org-1", failingSource{}, engine)
	_, err := m.Check(context.Background())
	assert.Error(t, err)
	assert.Len(t, engine.Alerts(), 1)
}

func TestRegisterAndPurge(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	engine := alerts.NewEngine(alerts.DefaultConfig(), alerts.WithClock(func() time.Time { return now }))
	engine.Evaluate([]model.ProductLevel{{ID: "p", Stock: 1}})
	_, err := engine.Dismiss("p", time.Minute)
	require.NoError(t, err)

	m := New("org-1", failingSource{}, engine)
	m.now = func() time.Time { return now.Add(time.Minute) }
	sched := schedule.New(nil)
	require.NoError(t, m.Register(sched, 30*time.Second, time.Minute))
	assert.Equal(t, []string{TaskStockCheck, TaskSnoozePurge}, sched.Names())

	require.NoError(t, sched.Trigger(context.Background(), TaskSnoozePurge))
	assert.Empty(t, engine.Snoozes())
	assert.Error(t, sched.Trigger(context.Background(), TaskStockCheck))
}
