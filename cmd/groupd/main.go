package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrgroup/discovery"
	"github.com/ryandielhenn/zephyrgroup/internal/config"
	"github.com/ryandielhenn/zephyrgroup/internal/logging"
	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/group"
	"github.com/ryandielhenn/zephyrgroup/pkg/node"
	"github.com/ryandielhenn/zephyrgroup/pkg/ring"
)

// set with -ldflags
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file, ignored when missing")
	configFile := flag.String("config", "groupd.yaml", "YAML config file, ignored when missing")
	flag.Parse()

	if err := run(*envFile, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, "groupd:", err)
		os.Exit(1)
	}
}

func run(envFile, configFile string) error {
	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, Service: "groupd", Version: version})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Metrics
	reg := telemetry.NewRegistry(version, gitSHA)
	groupMetrics := telemetry.NewGroupMetrics(reg)
	httpMetrics := telemetry.NewHTTPMetrics(reg)

	// 2. Coordination store
	logger.Info("[Boot] connecting to etcd", zap.Strings("endpoints", cfg.Etcd.Endpoints))
	store, err := discovery.Open(ctx, discovery.Config{
		Endpoints:      cfg.Etcd.Endpoints,
		Namespace:      cfg.Etcd.Namespace,
		TTL:            cfg.Etcd.TTL,
		DialTimeout:    cfg.Etcd.DialTimeout,
		RequestTimeout: cfg.Etcd.RequestTimeout,
		Username:       cfg.Etcd.Username,
		Password:       cfg.Etcd.Password,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing etcd store", zap.Error(err))
		}
	}()

	// 3. Group membership, with the ring following it
	registry := group.NewRegistry(store,
		group.WithLogger(logger),
		group.WithMetrics(groupMetrics),
		group.WithCloseTimeout(cfg.Group.CloseTimeout),
	)
	g, err := registry.Group(ctx, cfg.Group.Path, group.WithMemberPrefix(cfg.Group.MemberPrefix))
	if err != nil {
		return err
	}
	n := node.New(g, ring.New(cfg.Ring.Replicas, ring.FNV32a), cfg.Node.Address, logger)
	g.AddListener(n)
	g.AddListener(group.ListenerFunc(func(g *group.Group, ev group.EventType) error {
		if ev == group.EventChanged {
			master, ok := g.Master()
			logger.Info("membership changed",
				zap.Int("members", len(g.Members())),
				zap.Bool("master", g.IsMaster()),
				zap.Bool("has_master", ok),
				zap.String("master_container", master.Container))
		}
		return nil
	}))

	// 4. Register this process
	err = g.Update(&group.NodeState{
		ID:         cfg.Node.ID,
		Container:  cfg.Node.Container,
		Address:    cfg.Node.Address,
		Services:   cfg.Node.Services,
		Attributes: cfg.Node.Attributes,
	})
	if err != nil {
		return err
	}

	// 5. HTTP endpoints
	mux := http.NewServeMux()
	n.Routes(mux, httpMetrics.Instrument)
	mux.Handle("GET /metrics", telemetry.Handler(reg))
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("groupd listening", zap.String("addr", cfg.HTTP.Addr), zap.String("group", cfg.Group.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Group.CloseTimeout)
		defer cancel()
		// deregister first so the fleet fails over while we drain HTTP
		err := registry.Close(shutdownCtx)
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			err = multierr.Append(err, serr)
		}
		return err
	})
	return eg.Wait()
}
