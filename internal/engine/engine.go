// Package engine implements the memory surfacing decision pipeline:
// context extraction, candidate retrieval, relevance scoring, threshold
// gating, disambiguation, stitching, and feedback ingestion.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/metrics"
	"github.com/lazypower/surfacer/internal/store"
)

// Engine wires the pipeline stages over a memory store. Evaluations are
// stateless and safe to run concurrently; all shared mutable state lives
// behind the feedback ingestor.
type Engine struct {
	db        *store.DB
	cfg       config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	embedder  Embedder

	extractor     *Extractor
	retriever     *Retriever
	scorer        *Scorer
	gate          *Gate
	disambiguator *Disambiguator
	stitcher      *Stitcher
	ingestor      *Ingestor

	stopCh chan struct{}
}

// storeDirectory adapts the DB's user table to the Directory interface.
type storeDirectory struct {
	db *store.DB
}

func (d storeDirectory) ResolveUser(_ context.Context, userID string) (store.User, error) {
	return d.db.GetUser(userID)
}

// New creates an Engine over the given database and embedder.
func New(db *store.DB, embedder Embedder, cfg config.Config, logger *zap.Logger, collector *metrics.Collector) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		db:        db,
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		embedder:  embedder,
		stopCh:    make(chan struct{}),
	}
	e.extractor = NewExtractor(storeDirectory{db: db})
	e.retriever = NewRetriever(db, embedder, cfg.Retrieval)
	e.scorer = NewScorer(cfg.Scoring)
	e.gate = NewGate(cfg.Gate, cfg.Retrieval.SimilarityFloor, cfg.Debug, logger)
	e.disambiguator = NewDisambiguator(cfg.Stitch)
	e.stitcher = NewStitcher(cfg.Stitch)
	e.ingestor = NewIngestor(db, cfg.Feedback, logger, collector)
	return e
}

// SetDirectory replaces the identity collaborator (the store-backed
// directory is the default).
func (e *Engine) SetDirectory(d Directory) {
	e.extractor = NewExtractor(d)
}

// Ingestor returns the feedback ingestor.
func (e *Engine) Ingestor() *Ingestor {
	return e.ingestor
}

// AddMemory stores a memory and its embedding. Approval is explicit; the
// human governance workflow owns every other status transition.
func (e *Engine) AddMemory(ctx context.Context, m *store.Memory, approve bool) error {
	if approve {
		m.Status = store.StatusApproved
	}
	if err := e.db.CreateMemory(m); err != nil {
		return err
	}
	if e.embedder == nil {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, EmbeddingText(m))
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", m.ID, err)
	}
	return e.db.SaveVector(m.ID, vec, e.embedder.Model())
}

// Start launches the feedback workers and the lifecycle sweeper.
func (e *Engine) Start() {
	e.ingestor.Start()

	// Sweep once at startup and then daily.
	e.sweep()

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.sweep()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// sweep expires memories past their deadline and demotes those overdue for
// human reconfirmation.
func (e *Engine) sweep() {
	now := time.Now().UnixMilli()
	if n, err := e.db.SweepExpired(now); err != nil {
		e.logger.Error("expiration sweep failed", zap.Error(err))
	} else if n > 0 {
		e.logger.Info("expiration sweep", zap.Int("expired", n))
	}
	if n, err := e.db.SweepReconfirmations(now); err != nil {
		e.logger.Error("reconfirmation sweep failed", zap.Error(err))
	} else if n > 0 {
		e.logger.Info("reconfirmation sweep", zap.Int("demoted", n))
	}
}

// Stop shuts down the sweeper and drains the feedback workers.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.ingestor.Stop()
}
