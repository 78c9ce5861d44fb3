// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command doorman runs the request-admission engine as an HTTP daemon:
// every request is gated through the kernel before reaching the
// protected handler.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/doorman/internal/actionlog"
	"grimm.is/doorman/internal/component"
	"grimm.is/doorman/internal/config"
	"grimm.is/doorman/internal/httpd"
	"grimm.is/doorman/internal/kernel"
	"grimm.is/doorman/internal/logging"
	"grimm.is/doorman/internal/messenger"
	"grimm.is/doorman/internal/metrics"
	"grimm.is/doorman/internal/store"
	"grimm.is/doorman/internal/store/file"
	"grimm.is/doorman/internal/store/memory"
	"grimm.is/doorman/internal/store/redis"
	"grimm.is/doorman/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	trustProxy := flag.Bool("trust-proxy", false, "take the client IP from X-Forwarded-For")
	flag.Parse()

	logger := logging.New(logging.Config{Format: *logFormat, Level: logging.LevelInfo, Output: os.Stderr})
	logging.SetDefault(logger)
	log := logger.WithComponent("main")

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Error("failed to load configuration", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}

	driver, err := openDriver(cfg)
	if err != nil {
		log.Error("failed to open storage driver", "type", cfg.Driver.Type, "error", err)
		os.Exit(1)
	}
	defer driver.Close()

	k := kernel.New(cfg, logger.WithComponent("kernel"))
	k.AttachDriver(driver)

	if err := attachComponents(k, cfg, logger); err != nil {
		log.Error("failed to attach components", "error", err)
		os.Exit(1)
	}

	if cfg.Notifications.Enabled {
		ms, errs := messenger.FromConfig(cfg.Notifications)
		for _, e := range errs {
			log.Warn("skipping notification channel", "error", e)
		}
		for _, m := range ms {
			k.AttachMessenger(m)
		}
	}

	if cfg.ActionLogDir != "" {
		actions, err := actionlog.New(cfg.ActionLogDir, logger.WithComponent("actionlog"))
		if err != nil {
			log.Error("failed to open action log", "dir", cfg.ActionLogDir, "error", err)
			os.Exit(1)
		}
		defer actions.Close()
		k.SetActionLogger(actions)
	}

	registry := prometheus.NewRegistry()
	stats := metrics.New()
	if err := stats.Register(registry); err != nil {
		log.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}
	k.SetMetrics(stats)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	guarded := router.PathPrefix("/").Subrouter()
	guarded.Use(httpd.NewMiddleware(k, cfg.CookieName, *trustProxy, logger.WithComponent("httpd")).Handler)
	guarded.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("admitted\n"))
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", cfg.Listen, "channel", cfg.Channel, "driver", cfg.Driver.Type)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

func openDriver(cfg *config.Config) (store.Driver, error) {
	switch cfg.Driver.Type {
	case "", "memory":
		return memory.New(), nil
	case "file":
		return file.New(cfg.Driver.Path)
	case "sqlite":
		return sqlite.Open(cfg.Driver.Path)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return redis.Open(ctx, redis.Options{Addr: cfg.Driver.Addr, DB: cfg.Driver.DB})
	default:
		return nil, &invalidDriverError{kind: cfg.Driver.Type}
	}
}

type invalidDriverError struct{ kind string }

func (e *invalidDriverError) Error() string { return "unknown driver type: " + e.kind }

func attachComponents(k *kernel.Kernel, cfg *config.Config, logger *logging.Logger) error {
	if cfg.Components.IP.Enabled {
		k.AttachComponent(component.NewIP(cfg.Components.IP.Strict))
	}
	if cfg.Components.UserAgent.Enabled {
		k.AttachComponent(component.NewUserAgent(cfg.Components.UserAgent.Strict))
	}

	needsResolver := cfg.Components.TrustedBot.Enabled || cfg.Components.RDNS.Enabled
	var resolver component.Resolver
	if needsResolver {
		var err error
		resolver, err = component.NewResolver()
		if err != nil {
			return err
		}
	}
	if cfg.Components.TrustedBot.Enabled {
		k.AttachComponent(component.NewTrustedBot(cfg.Components.TrustedBot.Strict, resolver,
			logger.WithComponent("trusted_bot")))
	}
	if cfg.Components.RDNS.Enabled {
		k.AttachComponent(component.NewRDNS(cfg.Components.RDNS.Strict, resolver,
			logger.WithComponent("rdns")))
	}
	if cfg.Components.Header.Enabled {
		k.AttachComponent(component.NewHeader(cfg.Components.Header.Strict))
	}
	return nil
}
