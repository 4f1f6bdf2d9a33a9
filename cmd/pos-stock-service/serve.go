package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fairyhunter13/pos-stock-service/internal/alerts"
	"github.com/fairyhunter13/pos-stock-service/internal/auth"
	"github.com/fairyhunter13/pos-stock-service/internal/config"
	httpapi "github.com/fairyhunter13/pos-stock-service/internal/http"
	"github.com/fairyhunter13/pos-stock-service/internal/ledger"
	"github.com/fairyhunter13/pos-stock-service/internal/monitor"
	"github.com/fairyhunter13/pos-stock-service/internal/notify"
	"github.com/fairyhunter13/pos-stock-service/internal/obs"
	"github.com/fairyhunter13/pos-stock-service/internal/sales"
	"github.com/fairyhunter13/pos-stock-service/internal/schedule"
)

const (
	feedBuffer    = 128
	gcInterval    = 10 * time.Minute
	gcDiscard     = 0.5
	taskStoreGC   = "store_gc"
	serverTimeout = 10 * time.Second
)

// garbageCollector is implemented by backends that need periodic compaction.
type garbageCollector interface {
	CollectGarbage(discardRatio float64) error
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stock monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*cfg)
		},
	}
}

func serve(cfg config.Config) error {
	obs.Logger.Info("service_starting", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "org_id", cfg.DefaultOrgID)

	shutdownTracing, err := obs.InitTracing(cfg.TraceStdout, os.Stdout)
	if err != nil {
		return err
	}
	m := obs.NewMetrics(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closer, err := openStore(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer closer.Close()

	l := ledger.New(st, ledger.WithMetrics(m), ledger.WithCAS(cfg.StockCAS))
	feed := notify.New(cfg.FeedHistory, feedBuffer, m)
	feed.Start(ctx, cfg.FeedHighWatermark)
	engine := alerts.NewEngine(cfg.Alerts(), alerts.WithSink(feed), alerts.WithMetrics(m))
	mon := monitor.New(cfg.DefaultOrgID, l, engine)

	sched := schedule.New(m)
	if err := mon.Register(sched, cfg.PollInterval, cfg.SnoozePurgeInterval); err != nil {
		return err
	}
	if gc, ok := closer.(garbageCollector); ok {
		if err := sched.Add(schedule.Task{
			Name:     taskStoreGC,
			Interval: gcInterval,
			Run: func(context.Context) error {
				return gc.CollectGarbage(gcDiscard)
			},
		}); err != nil {
			return err
		}
	}
	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	app := httpapi.NewApp(httpapi.Deps{
		Identity:  auth.Static{Default: cfg.Identity()},
		Ledger:    l,
		Sales:     sales.New(st, l, m),
		Engine:    engine,
		Monitor:   mon,
		Scheduler: sched,
		Feed:      feed,
		Gatherer:  prometheus.DefaultGatherer,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	select {
	case s := <-sigc:
		obs.Logger.Info("shutdown_signal", "signal", s.String())
	case err := <-srvErr:
		obs.Logger.Error("http_server_error", "error", err)
		return err
	}

	app.StartShutdown()
	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), serverTimeout)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err)
	}

	obs.Logger.Info("shutdown_drain_begin", "backlog_size", feed.BacklogSize(), "depth", feed.Depth())
	ctxDrain, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if feed.DrainUntil(ctxDrain) {
		obs.Logger.Info("shutdown_drain_complete")
	} else {
		obs.Logger.Warn("shutdown_drain_timeout")
	}

	cancel()
	if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) {
		obs.Logger.Warn("scheduler_stopped", "error", err)
	}
	feed.Stop()
	if err := shutdownTracing(ctxSrv); err != nil {
		obs.Logger.Warn("tracing_shutdown_error", "error", err)
	}
	obs.Logger.Info("service_stopped")
	return nil
}
