package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gyaneshwarpardhi/fraudwatch/internal/api"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/config"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/ingest"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/notify"
	"github.com/gyaneshwarpardhi/fraudwatch/internal/store"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Subscribe to the fraud channel and serve the aggregated view over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	_ = viper.BindPFlag("serve.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	logger := slog.Default()

	// ── Load config ──────────────────────────────────────────────────────────
	loader, cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	// ── Store ────────────────────────────────────────────────────────────────
	st, err := store.New(storeCapacities(cfg), store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	defer st.Close()

	// ── Webhook notifier ─────────────────────────────────────────────────────
	notifier := notify.New(ctx, notifyOptions(cfg), webhookTargets(cfg), logger)
	detach := notifier.Attach(st)

	// ── Ingest adapter ───────────────────────────────────────────────────────
	dispatcher := ingest.NewDispatcher(st, logger)
	var channel api.ChannelProbe
	adapterDone := make(chan struct{})
	switch cfg.Ingest.Transport {
	case config.TransportRedis:
		tr := ingest.NewRedisTransport(ingest.RedisOptions{
			Addr:     cfg.Ingest.Redis.Addr,
			Password: cfg.Ingest.Redis.Password,
			DB:       cfg.Ingest.Redis.DB,
		}, logger)
		defer tr.Close()
		adapter := ingest.NewAdapter(tr, cfg.Ingest.Topic, dispatcher,
			ingest.WithBackoff(backoff(cfg)),
			ingest.WithAdapterLogger(logger),
		)
		channel = adapter
		go func() {
			defer close(adapterDone)
			adapter.Run(ctx)
		}()
		logger.Info("ingest adapter started", "transport", cfg.Ingest.Transport, "addr", cfg.Ingest.Redis.Addr, "topic", cfg.Ingest.Topic)
	default:
		close(adapterDone)
		logger.Info("no push channel configured; accepting HTTP batches only")
	}

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	if loader != nil {
		loader.OnChange(func(newCfg *config.Config) {
			if err := st.Resize(storeCapacities(newCfg)); err != nil {
				logger.Warn("hot-reload: store resize skipped", "err", err)
			}
			notifier.SetTargets(webhookTargets(newCfg))
			if newCfg.Ingest != cfg.Ingest {
				logger.Warn("hot-reload: ingest settings changed; restart to apply")
			}
			logger.Info("config applied",
				"recent_transactions", newCfg.Store.RecentTransactions,
				"recent_alerts", newCfg.Store.RecentAlerts,
				"webhooks", len(newCfg.Notify.Webhooks),
			)
		})
		stopWatch, err := loader.Watch()
		if err != nil {
			logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	handler := api.NewHandler(api.Deps{
		Store:      st,
		Dispatcher: dispatcher,
		Loader:     loader,
		Config:     cfg,
		Channel:    channel,
		Notifier:   notifier,
		Logger:     logger,
	})
	addr := viper.GetString("serve.addr")
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(handler.CloseStreams)

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err = <-srvErr:
		logger.Error("server error", "err", err)
	}
	logger.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	if serr := srv.Shutdown(shutCtx); serr != nil {
		logger.Warn("http shutdown incomplete", "err", serr)
	}
	cancel() // leave the channel
	<-adapterDone
	detach()
	notifier.Close()
	logger.Info("goodbye")
	return err
}

// loadConfig returns a Loader when a file is configured, otherwise defaults.
func loadConfig(logger *slog.Logger) (*config.Loader, *config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return nil, config.Default(), nil
	}
	loader, err := config.NewLoader(path, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return loader, loader.Config(), nil
}

func storeCapacities(cfg *config.Config) store.Capacities {
	return store.Capacities{
		Transactions: cfg.Store.RecentTransactions,
		Alerts:       cfg.Store.RecentAlerts,
	}
}

func backoff(cfg *config.Config) ingest.Backoff {
	rc := cfg.Ingest.Reconnect
	return ingest.Backoff{
		Initial:    time.Duration(rc.InitialMs) * time.Millisecond,
		Max:        time.Duration(rc.MaxMs) * time.Millisecond,
		Multiplier: rc.Multiplier,
	}
}

func notifyOptions(cfg *config.Config) notify.Options {
	return notify.Options{
		Workers:    cfg.Notify.Workers,
		QueueDepth: cfg.Notify.QueueDepth,
		Timeout:    time.Duration(cfg.Notify.TimeoutMs) * time.Millisecond,
	}
}

func webhookTargets(cfg *config.Config) []notify.Target {
	out := make([]notify.Target, 0, len(cfg.Notify.Webhooks))
	for _, wh := range cfg.Notify.Webhooks {
		out = append(out, notify.Target{ID: wh.ID, URL: wh.URL, MinScore: wh.MinScore})
	}
	return out
}
