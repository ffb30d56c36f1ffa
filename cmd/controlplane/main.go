package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rajeevramani/flowplane/internal/admin"
	"github.com/rajeevramani/flowplane/internal/builder"
	"github.com/rajeevramani/flowplane/internal/cache"
	"github.com/rajeevramani/flowplane/internal/config"
	"github.com/rajeevramani/flowplane/internal/logging"
	"github.com/rajeevramani/flowplane/internal/secretcrypto"
	"github.com/rajeevramani/flowplane/internal/store"
	"github.com/rajeevramani/flowplane/internal/watch"
	"github.com/rajeevramani/flowplane/internal/xds"
)

func main() {
	log, err := logging.New(false)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Sugar().Fatalw("failed to load config", "error", err)
	}
	log.Sugar().Infow("config loaded",
		"xds_addr", cfg.XDSAddr, "admin_addr", cfg.AdminAddr,
		"db_driver", cfg.DBDriver, "default_team", cfg.DefaultTeam,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg)
	if err != nil {
		log.Sugar().Fatalw("failed to open store", "error", err)
	}
	defer db.Close()

	var sealer *secretcrypto.Sealer
	if cfg.SecretEncryptionKey != "" {
		sealer, err = secretcrypto.New([]byte(cfg.SecretEncryptionKey))
		if err != nil {
			log.Sugar().Fatalw("failed to build secret sealer", "error", err)
		}
	}

	b := builder.New(db, sealer, nil) // no external secret backend is wired in

	resourceCache := cache.New()

	watchLog := logging.Named(log, "watch")
	watcher := watch.New(db, b, resourceCache, cfg.WatcherInterval, cfg.MaxConcurrentBuilds, watchLog.Sugar())
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Sugar().Errorw("watch manager stopped", "error", err)
		}
	}()

	xdsLog := logging.Named(log, "xds")
	xdsServer := xds.NewServer(resourceCache, db.Nacks, cfg, xdsLog)

	adminLog := logging.Named(log, "admin")
	adminServer := admin.New(db, sealer, adminLog)
	httpServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           adminServer.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Sugar().Info("received shutdown signal")
		cancel()
		_ = httpServer.Shutdown(context.Background())
	}()

	go func() {
		log.Sugar().Infow("admin API listening", "addr", cfg.AdminAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Sugar().Errorw("admin API failed", "error", err)
		}
	}()

	if err := xdsServer.Serve(ctx, cfg.XDSAddr); err != nil && ctx.Err() == nil {
		log.Sugar().Fatalw("xDS server failed", "error", err)
	}
}
