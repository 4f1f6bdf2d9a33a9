package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairyhunter13/pos-stock-service/internal/alerts"
	"github.com/fairyhunter13/pos-stock-service/internal/apperr"
	"github.com/fairyhunter13/pos-stock-service/internal/auth"
	httpopenapi "github.com/fairyhunter13/pos-stock-service/internal/http/openapi"
	"github.com/fairyhunter13/pos-stock-service/internal/ledger"
	"github.com/fairyhunter13/pos-stock-service/internal/model"
	"github.com/fairyhunter13/pos-stock-service/internal/monitor"
	"github.com/fairyhunter13/pos-stock-service/internal/notify"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
	"github.com/fairyhunter13/pos-stock-service/internal/sales"
	"github.com/fairyhunter13/pos-stock-service/internal/schedule"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Deps are the components the handlers serve.
type Deps struct {
	Identity  auth.Provider
	Ledger    *ledger.Ledger
	Sales     *sales.Coordinator
	Engine    *alerts.Engine
	Monitor   *monitor.Monitor
	Scheduler *schedule.Scheduler
	Feed      *notify.Feed
	Gatherer  prometheus.Gatherer
}

// App is the HTTP application state.
type App struct {
	Deps

	closing atomic.Bool
	started time.Time
}

// NewApp wires an App. A nil Gatherer serves the default registry.
func NewApp(d Deps) *App {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &App{Deps: d, started: time.Now()}
}

// StartShutdown rejects new sales and closes the feed intake.
func (a *App) StartShutdown() {
	a.closing.Store(true)
	a.Feed.CloseIntake()
}

func (a *App) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, err := a.Identity.Identity(r.Context())
	if err != nil {
		WriteError(w, err)
		return auth.Identity{}, false
	}
	return id, true
}

// monitoredIdentity resolves the caller and rejects organizations other than
// the one whose alerts this process keeps.
func (a *App) monitoredIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := a.identity(w, r)
	if !ok {
		return auth.Identity{}, false
	}
	if id.OrgID != a.Monitor.OrgID() {
		WriteError(w, apperr.NotFound("alerts of organization", id.OrgID))
		return auth.Identity{}, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

type saleRequest struct {
	CustomerID *string          `json:"customer_id"`
	Lines      []model.CartLine `json:"lines"`
}

type saleResponse struct {
	Success     bool              `json:"success"`
	Sale        *model.Sale       `json:"sale,omitempty"`
	Lines       []model.SaleLine  `json:"lines,omitempty"`
	StockReport []sales.LineStock `json:"stock_report"`
	Error       string            `json:"error,omitempty"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	OrphanSale  string            `json:"orphan_sale_id,omitempty"`
	RequestID   string            `json:"request_id"`
}

func (a *App) postSaleHandler(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req saleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp := saleResponse{StockReport: []sales.LineStock{}, RequestID: RequestIDFromContext(r.Context())}
	rcpt, err := a.Sales.Commit(r.Context(), id.OrgID, req.CustomerID, req.Lines)
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = apperr.Kind(err)
		var inc *apperr.InconsistencyError
		if errors.As(err, &inc) {
			resp.OrphanSale = inc.SaleID
		}
		writeJSON(w, StatusFor(resp.ErrorKind), resp)
		return
	}
	resp.Success = true
	resp.Sale = &rcpt.Sale
	resp.Lines = rcpt.Lines
	resp.StockReport = rcpt.Stock
	if id.OrgID == a.Monitor.OrgID() {
		a.publishStockWarnings(rcpt)
	}
	writeJSON(w, http.StatusCreated, resp)
	obs.Logger.Info("sale_accepted",
		"request_id", resp.RequestID,
		"sale_id", rcpt.Sale.ID,
		"user_id", id.UserID,
		"role", id.Role,
	)
}

// publishStockWarnings tells the operator about lines whose stock was not
// updated or was overdrawn.
func (a *App) publishStockWarnings(rcpt *sales.Receipt) {
	for _, ls := range rcpt.Stock {
		reason := ""
		switch {
		case !ls.Updated:
			reason = "stock_update_failed: " + ls.Error
		case ls.Overdraft:
			reason = "overdraft: requested " + strconv.FormatInt(ls.Quantity, 10) +
				", available " + strconv.FormatInt(ls.Previous, 10)
		default:
			continue
		}
		a.Feed.Publish(notify.Event{Kind: notify.KindStockWarning, SaleID: rcpt.Sale.ID, ProductID: ls.ProductID, Reason: reason})
	}
}

func (a *App) listSalesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := sales.HistoryFilter{CustomerID: q.Get("customer_id")}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "from: "+err.Error())
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "to: "+err.Error())
		return
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			WriteJSONError(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer")
			return
		}
	}
	list, err := a.Sales.History(r.Context(), id.OrgID, f)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": list})
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func (a *App) getSaleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	d, err := a.Sales.Get(r.Context(), id.OrgID, r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *App) customerStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	stats, err := a.Sales.CustomerStats(r.Context(), id.OrgID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": stats})
}

func (a *App) productStockHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	p, err := a.Ledger.Product(r.Context(), id.OrgID, r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id": p.ID,
		"code":       p.Code,
		"name":       p.Name,
		"stock":      p.Stock,
		"active":     p.Active,
		"severity":   a.Engine.Classify(p.Stock),
	})
}

type stockCheckRequest struct {
	Lines []model.CartLine `json:"lines"`
}

func (a *App) stockCheckHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req stockCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := a.Ledger.Check(r.Context(), id.OrgID, req.Lines)
	if err != nil {
		WriteError(w, err)
		return
	}
	all := true
	for _, av := range res {
		all = all && av.OK
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": all, "lines": res})
}

func (a *App) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.monitoredIdentity(w, r); !ok {
		return
	}
	a.writeAlerts(w)
}

func (a *App) writeAlerts(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"org_id":   a.Monitor.OrgID(),
		"alerts":   a.Engine.Alerts(),
		"snoozes":  a.Engine.Snoozes(),
		"last_seq": a.Feed.LastSeq(),
	})
}

func (a *App) alertStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := a.identity(w, r)
	if !ok {
		return
	}
	levels, err := a.Ledger.Levels(r.Context(), id.OrgID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Engine.Thresholds().Stats(levels))
}

func (a *App) checkAlertsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.monitoredIdentity(w, r); !ok {
		return
	}
	err := a.Scheduler.Trigger(r.Context(), monitor.TaskStockCheck)
	if errors.Is(err, schedule.ErrBusy) {
		WriteJSONError(w, http.StatusConflict, "check_in_progress", err.Error())
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	a.writeAlerts(w)
}

type dismissRequest struct {
	SnoozeMinutes int `json:"snooze_minutes"`
}

func (a *App) dismissAlertHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := a.monitoredIdentity(w, r)
	if !ok {
		return
	}
	var req dismissRequest
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "validation_error", "minutes must be an integer")
			return
		}
		req.SnoozeMinutes = n
	}
	if req.SnoozeMinutes < 0 {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "snooze_minutes must not be negative")
		return
	}
	sn, err := a.Engine.Dismiss(r.PathValue("productID"), time.Duration(req.SnoozeMinutes)*time.Minute)
	if err != nil {
		WriteError(w, err)
		return
	}
	obs.Logger.Info("alert_dismissed", "product_id", sn.ProductID, "user_id", id.UserID, "role", id.Role)
	writeJSON(w, http.StatusOK, sn)
}

func (a *App) alertEventsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.monitoredIdentity(w, r); !ok {
		return
	}
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "validation_error", "after must be a sequence number")
			return
		}
		after = n
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteJSONError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":   a.Feed.Since(after, limit),
		"last_seq": a.Feed.LastSeq(),
	})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if a.closing.Load() {
		status = "shutting_down"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	pub, del, backlog, depth := a.Feed.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_published": pub,
		"feed_delivered": del,
		"feed_backlog":   backlog,
		"feed_depth":     depth,
		"alerts_active":  len(a.Engine.Alerts()),
		"snoozes":        len(a.Engine.Snoozes()),
		"uptime_sec":     time.Since(a.started).Seconds(),
	})
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	html := `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>POS Stock API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui'
      });
    </script>
  </body>
</html>`
	_, _ = w.Write([]byte(html))
}
