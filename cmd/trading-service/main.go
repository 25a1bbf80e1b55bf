package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/broker"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/clock"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/config"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/engine"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/metrics"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/risk"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/router"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/store"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/bus"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Exit codes follow sysexits: 64 bad configuration, 69 a required service
// is unavailable, 70 internal failure.
const (
	exitOK          = 0
	exitUsage       = 64
	exitUnavailable = 69
	exitInternal    = 70
)

// maxActiveOrdersPerUser caps open orders per user at the risk gate
const maxActiveOrdersPerUser = 200

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Error("invalid configuration")
		return exitUsage
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	log := logrus.WithField("component", "main")

	clk := clock.SystemClock{}
	ids := clock.UUIDGen{}

	repo := store.NewMemoryStore()

	journal, err := store.NewJournal(cfg.JournalDir)
	if err != nil {
		log.WithError(err).Error("failed to open order journal")
		return exitInternal
	}
	defer journal.Close()

	var eventBus bus.Bus
	if cfg.NATSURL != "" {
		natsBus, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			log.WithError(err).Error("failed to connect to nats")
			return exitUnavailable
		}
		eventBus = natsBus
	} else {
		log.Info("no nats url configured, events stay in process")
		eventBus = bus.NewMemoryBus()
	}
	defer eventBus.Close()

	sink := metrics.NewPromSink()

	registry := broker.NewRegistry(clk)
	paper := broker.NewPaperBroker(clk)
	brokers := broker.NewResilientClient(paper, registry, clk, cfg.Circuit, cfg.Broker)

	smartRouter := router.NewSmartRouter(registry, brokers, cfg, sink, clk)
	gate := risk.NewLimitGate(cfg.MaxNotionalINR, maxActiveOrdersPerUser, repo)

	eng := engine.NewEngine(cfg, repo, journal, brokers, registry, smartRouter,
		gate, eventBus, sink, clk, ids)

	if err := eventBus.SubscribeFills(func(fill *types.Fill) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.ApplyFill(ctx, fill); err != nil {
			log.WithError(err).WithField("order_id", fill.OrderID).Warn("failed to apply fill")
		}
	}); err != nil {
		log.WithError(err).Error("failed to subscribe to fills")
		return exitUnavailable
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := engine.NewScheduler(eng)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	httpServer := serveOps(cfg.MetricsAddr, sink, registry, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{
		"primary_broker":  cfg.PrimaryBroker,
		"fallback_broker": cfg.FallbackBroker,
		"metrics_addr":    cfg.MetricsAddr,
	}).Info("trading service started")

	<-ctx.Done()
	log.Info("shutting down")

	if err := journal.Flush(); err != nil {
		log.WithError(err).Warn("failed to flush journal")
	}
	return exitOK
}

// serveOps exposes the scrape endpoint and a broker health view
func serveOps(addr string, sink *metrics.PromSink, registry *broker.Registry, log *logrus.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", sink.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		snapshot := registry.Snapshot()
		healthy := false
		for _, status := range snapshot {
			if status.Usable() {
				healthy = true
				break
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("ops http server failed")
		}
	}()
	return server
}
