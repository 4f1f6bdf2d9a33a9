package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pos-stock-service/internal/alerts"
	"github.com/fairyhunter13/pos-stock-service/internal/auth"
	ds "github.com/fairyhunter13/pos-stock-service/internal/datastore"
	httpapi "github.com/fairyhunter13/pos-stock-service/internal/http"
	"github.com/fairyhunter13/pos-stock-service/internal/ledger"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
	"github.com/fairyhunter13/pos-stock-service/internal/monitor"
	"github.com/fairyhunter13/pos-stock-service/internal/notify"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
	"github.com/fairyhunter13/pos-stock-service/internal/sales"
	"github.com/fairyhunter13/pos-stock-service/internal/schedule"
	"github.com/fairyhunter13/pos-stock-service/internal/seed"
	"github.com/fairyhunter13/pos-stock-service/internal/store"
	"github.com/fairyhunter13/pos-stock-service/internal/store/badgerstore"
)

const org = "shop-1"

const catalog = `
org_id: shop-1
products:
  - {code: BREAD, name: Bread, price: "1.10", stock: 16}
  - {code: SALT, name: Salt, price: "0.40", stock: 200}
customers:
  - {id: c-1, name: Ana}
`

type harness struct {
	st    ds.Store
	app   *httpapi.App
	h     http.Handler
	clock *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newHarness(t *testing.T, raw ds.Store, cas bool) *harness {
	t.Helper()
	obs.InitLogger("error")
	m := obs.NewMetrics(nil)
	st := ds.Guard(raw, ds.Policy{Timeout: 2 * time.Second, Attempts: 2, Delay: time.Millisecond}, m)

	c, err := seed.Parse(strings.NewReader(catalog), "")
	require.NoError(t, err)
	_, err = seed.Apply(context.Background(), st, c)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	feed := notify.New(128, 16, m)
	feed.Start(ctx, 1000)
	t.Cleanup(func() {
		cancel()
		feed.Stop()
	})

	clk := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	l := ledger.New(st, ledger.WithMetrics(m), ledger.WithCAS(cas))
	engine := alerts.NewEngine(alerts.DefaultConfig(), alerts.WithSink(feed), alerts.WithMetrics(m), alerts.WithClock(clk.Now))
	mon := monitor.New(org, l, engine)
	sched := schedule.New(m)
	require.NoError(t, mon.Register(sched, time.Hour, time.Hour))

	app := httpapi.NewApp(httpapi.Deps{
		Identity:  auth.Static{Default: auth.Identity{UserID: "till-1", OrgID: org, Role: auth.RoleCashier}},
		Ledger:    l,
		Sales:     sales.New(st, l, m),
		Engine:    engine,
		Monitor:   mon,
		Scheduler: sched,
		Feed:      feed,
		Gatherer:  prometheus.NewRegistry(),
	})
	return &harness{st: st, app: app, h: httpapi.NewRouter(app), clock: clk}
}

func (h *harness) productID(t *testing.T, code string) string {
	t.Helper()
	rows, err := h.st.Select(context.Background(), ds.TableProduct, ds.Where(ds.Eq(ds.ColProductCode, code)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].String(ds.ColID)
}

func (h *harness) post(t *testing.T, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.h.ServeHTTP(w, r)
	return w
}

func (h *harness) get(t *testing.T, target string, v any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func (h *harness) sell(t *testing.T, productID string, qty int) {
	t.Helper()
	body := `{"customer_id":"c-1","lines":[{"product_id":"` + productID + `","quantity":` +
		strconv.Itoa(qty) + `,"unit_price":"1.10"}]}`
	w := h.post(t, "/sales", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (h *harness) alerts(t *testing.T) []model.StockAlert {
	t.Helper()
	w := h.post(t, "/alerts/check", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Alerts []model.StockAlert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Alerts
}

func backends() map[string]func(t *testing.T) ds.Store {
	return map[string]func(t *testing.T) ds.Store{
		"memory": func(t *testing.T) ds.Store { return store.New() },
		"badger": func(t *testing.T) ds.Store {
			b, err := badgerstore.OpenInMemory()
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
}

func TestSaleToAlertLifecycle(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, open(t), false)
			bread := h.productID(t, "BREAD")

			assert.Empty(t, h.alerts(t))

			h.sell(t, bread, 3)
			list := h.alerts(t)
			require.Len(t, list, 1)
			assert.Equal(t, model.SeverityWarning, list[0].Severity)
			assert.EqualValues(t, 13, list[0].Stock)

			w := h.post(t, "/alerts/"+bread+"/dismiss", `{"snooze_minutes":10}`)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Empty(t, h.alerts(t))

			// One unit of drift stays snoozed.
			h.sell(t, bread, 1)
			assert.Empty(t, h.alerts(t))

			// Larger drift overrides the snooze.
			h.sell(t, bread, 2)
			list = h.alerts(t)
			require.Len(t, list, 1)
			assert.Equal(t, model.SeverityLow, list[0].Severity)
			assert.EqualValues(t, 10, list[0].Stock)

			// An existing alert is not escalated.
			h.sell(t, bread, 6)
			list = h.alerts(t)
			require.Len(t, list, 1)
			assert.Equal(t, model.SeverityLow, list[0].Severity)

			require.Eventually(t, func() bool {
				return h.app.Feed.LastSeq() > 0 && len(h.app.Feed.Since(0, 0)) == int(h.app.Feed.LastSeq())
			}, 2*time.Second, 10*time.Millisecond)
			var kinds []notify.Kind
			for _, ev := range h.app.Feed.Since(0, 0) {
				kinds = append(kinds, ev.Kind)
			}
			assert.Equal(t, []notify.Kind{
				notify.KindAlertRaised,
				notify.KindAlertCleared,
				notify.KindAlertSnoozed,
				notify.KindAlertRaised,
			}, kinds)

			var stats struct {
				Customers []sales.CustomerStat `json:"customers"`
			}
			h.get(t, "/customers/stats", &stats)
			require.Len(t, stats.Customers, 1)
			assert.Equal(t, 4, stats.Customers[0].TotalSales)
		})
	}
}

func TestSnoozeExpiresWithClock(t *testing.T) {
	h := newHarness(t, store.New(), false)
	bread := h.productID(t, "BREAD")
	h.sell(t, bread, 12)
	require.Len(t, h.alerts(t), 1)

	require.Equal(t, http.StatusOK, h.post(t, "/alerts/"+bread+"/dismiss", "").Code)
	assert.Empty(t, h.alerts(t))

	h.clock.Advance(31 * time.Minute)
	list := h.alerts(t)
	require.Len(t, list, 1)
	assert.Equal(t, model.SeverityCritical, list[0].Severity)
}

func TestConcurrentSalesKeepStockConsistent(t *testing.T) {
	h := newHarness(t, store.New(), true)
	salt := h.productID(t, "SALT")

	const workers = 40
	var wg sync.WaitGroup
	reports := make(chan sales.LineStock, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := h.post(t, "/sales", `{"lines":[{"product_id":"`+salt+`","quantity":1,"unit_price":"0.40"}]}`)
			if w.Code != http.StatusCreated {
				return
			}
			var resp struct {
				StockReport []sales.LineStock `json:"stock_report"`
			}
			if json.Unmarshal(w.Body.Bytes(), &resp) == nil && len(resp.StockReport) == 1 {
				reports <- resp.StockReport[0]
			}
		}()
	}
	wg.Wait()
	close(reports)

	updated := 0
	for r := range reports {
		if r.Updated {
			updated++
		}
	}
	require.Positive(t, updated)

	var stock struct {
		Stock int64 `json:"stock"`
	}
	h.get(t, "/products/"+salt+"/stock", &stock)
	assert.EqualValues(t, 200-updated, stock.Stock)

	rows, err := h.st.Select(context.Background(), ds.TableSale, ds.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, workers)
}
