package httpapi

import (
	"expvar"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sales", app.postSaleHandler)
	mux.HandleFunc("GET /sales", app.listSalesHandler)
	mux.HandleFunc("GET /sales/{id}", app.getSaleHandler)
	mux.HandleFunc("GET /customers/stats", app.customerStatsHandler)
	mux.HandleFunc("GET /products/{id}/stock", app.productStockHandler)
	mux.HandleFunc("POST /stock/check", app.stockCheckHandler)
	mux.HandleFunc("GET /alerts", app.listAlertsHandler)
	mux.HandleFunc("GET /alerts/stats", app.alertStatsHandler)
	mux.HandleFunc("POST /alerts/check", app.checkAlertsHandler)
	mux.HandleFunc("POST /alerts/{productID}/dismiss", app.dismissAlertHandler)
	mux.HandleFunc("GET /alerts/events", app.alertEventsHandler)
	mux.HandleFunc("GET /healthz", app.healthHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(app.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /debug/metrics", app.metricsHandler)
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("GET /openapi.yaml", app.openapiHandler)
	mux.HandleFunc("GET /docs", app.docsHandler)
	return WithRequestID(WithLogging(WithIdentity(mux)))
}
