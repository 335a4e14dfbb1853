// main.go
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/rvnztolentino/road-defect-indexing-maps/api/config"
	"github.com/rvnztolentino/road-defect-indexing-maps/api/internal"
	httpx "github.com/rvnztolentino/road-defect-indexing-maps/api/internal/http"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	level := internal.ParseLogLevel(cfg.LogLevel)
	logger := internal.NewComponentLogger(level, "MAIN")

	ctx := context.Background()

	// Pick the object store. A local directory takes precedence so the
	// service can be developed without cloud credentials; otherwise GCS
	// when configured; otherwise no store at all and every fetch returns
	// an empty set.
	var store internal.ObjectStore
	var gcs *internal.GCSStore
	switch {
	case cfg.LocalStoreDir != "":
		store = internal.NewLocalStore(cfg.LocalStoreDir)
		logger.Info("Using local store at %s", cfg.LocalStoreDir)
	case cfg.CloudConfigured():
		var err error
		gcs, err = internal.NewGCSStore(ctx, cfg, internal.NewComponentLogger(level, "GCS"))
		if err != nil {
			logger.Error("Failed to create GCS client: %v", err)
		} else {
			store = gcs
			defer gcs.Close()
		}
	default:
		logger.Warn("No object store configured, serving empty data (set GCS_BUCKET_NAME or LOCAL_STORE_DIR)")
	}

	if store != nil {
		readyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.Ready(readyCtx); err != nil {
			logger.Warn("Object store not ready: %v", err)
		} else {
			logger.Info("Object store ready (bucket=%s folder=%s)", cfg.GCSBucketName, cfg.GCSFolderPath)
		}
		cancel()
	}

	fetcher := internal.NewFetcher(store, cfg.GCSFolderPath, cfg.SignTTL, internal.NewComponentLogger(level, "FETCH"))
	alerts := internal.NewAlertNotifier(cfg.AlertWebhookURL, internal.NewComponentLogger(level, "ALERT"))
	engine := internal.NewEngine(fetcher, cfg.SyncInterval, cfg.SyncNoPrune, alerts, internal.NewComponentLogger(level, "SYNC"))
	filter := &internal.FilterState{}

	// In local mode a filesystem watcher nudges the engine as soon as new
	// metadata files land, instead of waiting out the sync interval.
	if cfg.LocalStoreDir != "" {
		watcher, err := internal.NewStoreWatcher(cfg.LocalStoreDir, engine, internal.NewComponentLogger(level, "WATCHER"))
		if err != nil {
			logger.Warn("File watcher unavailable: %v", err)
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("File watcher failed to start: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Sync engine crashed: %v", r)
			}
		}()
		engine.Run(ctx)
	}()

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	r.Use(httpx.CompressionMiddleware())

	httpx.Routes(r, httpx.Deps{
		Cfg:     cfg,
		Store:   store,
		Fetcher: fetcher,
		Engine:  engine,
		Filter:  filter,
	})

	// Local mode serves images straight from disk; SignURL hands out
	// /local/ paths that resolve here.
	if cfg.LocalStoreDir != "" {
		r.Static("/local", cfg.LocalStoreDir)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("API server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
		}
	}()

	select {}
}
