package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/spatial-filter/internal/catalog"
	"github.com/mohammed-shakir/spatial-filter/internal/catalog/events"
	"github.com/mohammed-shakir/spatial-filter/internal/catalog/redisstore"
	"github.com/mohammed-shakir/spatial-filter/internal/codec"
	"github.com/mohammed-shakir/spatial-filter/internal/controller"
	"github.com/mohammed-shakir/spatial-filter/internal/core/config"
	"github.com/mohammed-shakir/spatial-filter/internal/core/geom"
	"github.com/mohammed-shakir/spatial-filter/internal/core/health"
	"github.com/mohammed-shakir/spatial-filter/internal/core/router"
	"github.com/mohammed-shakir/spatial-filter/internal/core/server"
	"github.com/mohammed-shakir/spatial-filter/internal/dataset"
	"github.com/mohammed-shakir/spatial-filter/internal/filter"
	"github.com/mohammed-shakir/spatial-filter/internal/logger"
	"github.com/mohammed-shakir/spatial-filter/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "err", err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "spatialfilterd",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	defaultCRS, err := geom.ParseCRS(cfg.DefaultCRS)
	if err != nil {
		appLog.Error("invalid default crs", "crs", cfg.DefaultCRS, "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var checks []health.Check
	var store catalog.Store
	switch cfg.Catalog.Driver {
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rs, err := redisstore.New(dialCtx, cfg.Redis.Addr, cfg.Catalog.Group, cfg.Redis.OpTimeout)
		cancel()
		if err != nil {
			appLog.Error("redis catalog unavailable", "addr", cfg.Redis.Addr, "err", err)
			return 1
		}
		defer func() { _ = rs.Close() }()
		store = rs
		checks = append(checks, health.Check{Name: "catalog", Probe: rs.Ping})
	default:
		store = catalog.NewMemoryStore()
	}
	store = catalog.NewCachedStore(store, cfg.Catalog.CacheSize)

	instance := cfg.Events.Instance
	if instance == "" {
		instance = logger.NewID()
	}

	catOpts := catalog.Options{Logger: appLog.With("component", "catalog"), Group: cfg.Catalog.Group}
	if cfg.Events.Enabled {
		pub, err := events.New(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("catalog events disabled", "brokers", cfg.Events.Brokers, "err", err)
		} else {
			pub.Origin = instance
			defer func() { _ = pub.Close() }()
			catOpts.Notifier = pub
		}
	}
	cat := catalog.New(store, catOpts)

	if cfg.Events.Enabled && cfg.Events.Consume {
		cons := events.NewConsumer(events.ConsumerConfig{
			Brokers:        cfg.Events.Brokers,
			Topic:          cfg.Events.Topic,
			GroupID:        cfg.Events.ConsumerGroup,
			Origin:         instance,
			Group:          cfg.Catalog.Group,
			SessionTimeout: cfg.Events.Session,
		}, cat.ApplyEvent, appLog.With("component", "events"))
		if err := cons.Start(ctx); err != nil {
			appLog.Error("catalog events consumer disabled", "err", err)
		} else {
			defer cons.Stop()
		}
	}

	cdc := codec.New(appLog.With("component", "codec"))
	reg := dataset.NewRegistry()
	ctl := controller.New(cdc, cat, reg, defaultCRS, appLog.With("component", "controller"))
	ctl.Subscribe(func(def *filter.Definition) {
		if def == nil {
			appLog.Debug("active filter cleared")
			return
		}
		appLog.Debug("active filter changed", "filter", def.String())
	})

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		p := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: Version}})
		metricsHandler = p.Handler()
	}

	appLog.Info("starting spatialfilterd",
		"addr", cfg.Addr,
		"version", Version,
		"catalog", cfg.Catalog.Driver,
		"group", cfg.Catalog.Group,
		"events", cfg.Events.Enabled,
		"instance", instance)

	api := &router.API{Codec: cdc, Catalog: cat, Controller: ctl, Datasets: reg, Log: appLog}
	if err := server.Run(ctx, cfg, appLog, api, server.Options{Metrics: metricsHandler, Checks: checks}); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
