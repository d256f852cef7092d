// SiteVault Server
//
// Features:
// - Prometheus metrics & structured logging (zap)
// - Hierarchical file storage with trash and automatic versioning
// - Chunked uploads with out-of-order delivery
// - Bounded in-memory download cache
// - Time-limited share links
// - Favorites and activity log
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sitevault/sitevault/internal/api"
	"github.com/sitevault/sitevault/internal/auth"
	"github.com/sitevault/sitevault/internal/chunks"
	"github.com/sitevault/sitevault/internal/config"
	"github.com/sitevault/sitevault/internal/logging"
	"github.com/sitevault/sitevault/internal/metadata"
	"github.com/sitevault/sitevault/internal/metadata/memory"
	"github.com/sitevault/sitevault/internal/metadata/postgres"
	"github.com/sitevault/sitevault/internal/metrics"
	"github.com/sitevault/sitevault/internal/sharing"
	"github.com/sitevault/sitevault/internal/vault"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("SiteVault Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage_root", cfg.StorageRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metadata store
	var metaStore metadata.Store
	var pgStore *postgres.Store
	switch cfg.MetadataBackend {
	case "memory":
		logging.Info("using in-memory metadata store")
		metaStore = memory.New()
	default:
		logging.Info("connecting to PostgreSQL...")
		pgStore, err = postgres.New(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		if dir := findMigrationsDir(cfg.MigrationsDir); dir != "" {
			logging.Info("running migrations...", zap.String("dir", dir))
			if err := pgStore.Migrate(dir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		}
		metaStore = pgStore
	}
	defer metaStore.Close()

	// Storage engine and collaborators
	engine, err := vault.NewEngine(cfg.StorageRoot)
	if err != nil {
		logging.Fatal("storage engine init failed", zap.Error(err))
	}
	catalog := vault.NewCatalog(engine, metaStore)
	cache := vault.NewCache(cfg.CacheMaxBytes, time.Duration(cfg.CacheTTLSec)*time.Second)

	chunkDir := cfg.ChunkTempDir
	if chunkDir == "" {
		chunkDir = filepath.Join(os.TempDir(), "sitevault-chunks")
	}
	assembler, err := chunks.New(chunkDir, metaStore, engine,
		time.Duration(cfg.UploadExpirySec)*time.Second)
	if err != nil {
		logging.Fatal("chunk assembler init failed", zap.Error(err))
	}
	assembler.StartCleanup(ctx)

	shares := sharing.NewRegistry(metaStore, engine)
	authHandler := auth.New(cfg.JWTSecret)

	srv := api.NewServer(engine, catalog, cache, assembler, shares,
		metaStore, authHandler, cfg.MaxUploadSize)

	// Metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Periodic DB pool metrics
	if pgStore != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pgStore.UpdateConnectionMetrics()
				}
			}
		}()
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}

// findMigrationsDir checks the configured directory and a few locations
// relative to the binary so `go run ./cmd/server` works from the repo
// root.
func findMigrationsDir(configured string) string {
	candidates := []string{configured, "migrations", "../migrations", "../../migrations"}
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
