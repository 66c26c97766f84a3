package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/engine"
	"github.com/lazypower/surfacer/internal/metrics"
	"github.com/lazypower/surfacer/internal/server"
	"github.com/lazypower/surfacer/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newEmbedder probes Ollama and falls back to TF-IDF over the stored corpus.
func newEmbedder(cfg config.EmbeddingConfig, db *store.DB, logger *zap.Logger) engine.Embedder {
	if engine.ProbeOllama(cfg.OllamaURL, cfg.Model) {
		logger.Info("embedder configured", zap.String("kind", "ollama"), zap.String("model", cfg.Model))
		return engine.NewOllamaEmbedder(cfg.OllamaURL, cfg.Model, 768)
	}
	emb, err := engine.NewTFIDFEmbedder(db, cfg.MaxTerms)
	if err != nil {
		logger.Warn("tfidf embedder init failed, retrieval disabled", zap.Error(err))
		return nil
	}
	logger.Info("embedder configured", zap.String("kind", "tfidf"))
	return emb
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector("surfacer", registry)

	embedder := newEmbedder(cfg.Embedding, db, logger)

	eng := engine.New(db, embedder, cfg, logger, collector)
	eng.Start()
	defer eng.Stop()

	srv := server.New(db, eng, VersionString(), logger, registry)
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("surfacer serving", zap.String("addr", addr), zap.String("db", dbPath))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-done
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
