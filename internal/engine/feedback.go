package engine

import (
	"errors"
	"fmt"
	"hash/fnv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/metrics"
	"github.com/lazypower/surfacer/internal/store"
)

// ErrInvalidFeedback covers malformed feedback events. They are dropped at
// the door; feedback is best-effort and never becomes a user-visible failure.
var ErrInvalidFeedback = errors.New("invalid feedback event")

// Ingestor applies feedback events to usage stats and adaptive thresholds.
//
// Events are sharded by user id onto single-writer workers: one user's
// events apply in submission order, different users proceed in parallel,
// and no two workers ever touch the same user's threshold row. Memory
// rows can be shared across shards; the EMA fold is a single atomic
// UPDATE in the store, so cross-shard writes to one memory never lose an
// update, and replays stay idempotent via the event-id dedup.
type Ingestor struct {
	db        *store.DB
	cfg       config.FeedbackConfig
	logger    *zap.Logger
	collector *metrics.Collector

	shards []chan store.FeedbackEvent
	group  *errgroup.Group
}

// NewIngestor creates a feedback ingestor. Start must be called before Submit.
func NewIngestor(db *store.DB, cfg config.FeedbackConfig, logger *zap.Logger, collector *metrics.Collector) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 256
	}
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha > 1 {
		cfg.EMAAlpha = 0.1
	}
	return &Ingestor{
		db:        db,
		cfg:       cfg,
		logger:    logger,
		collector: collector,
	}
}

// Start launches the shard workers.
func (in *Ingestor) Start() {
	in.shards = make([]chan store.FeedbackEvent, in.cfg.Workers)
	in.group = &errgroup.Group{}
	for i := range in.shards {
		ch := make(chan store.FeedbackEvent, in.cfg.QueueLen)
		in.shards[i] = ch
		in.group.Go(func() error {
			for ev := range ch {
				in.apply(ev)
			}
			return nil
		})
	}
}

// Stop closes the shards and waits for in-flight events to drain.
func (in *Ingestor) Stop() {
	for _, ch := range in.shards {
		close(ch)
	}
	if in.group != nil {
		in.group.Wait()
	}
	in.shards = nil
}

// Submit validates and enqueues one event. Returns ErrInvalidFeedback for
// malformed events; a full shard drops the event with a warning rather
// than blocking the caller.
func (in *Ingestor) Submit(ev store.FeedbackEvent) error {
	if ev.EventID == "" || ev.MemoryID == "" || ev.UserID == "" || !store.ValidOutcome(ev.Outcome) {
		in.collector.ObserveFeedback(ev.Outcome, "invalid")
		return fmt.Errorf("%w: event=%q memory=%q outcome=%q", ErrInvalidFeedback, ev.EventID, ev.MemoryID, ev.Outcome)
	}
	if in.shards == nil {
		return fmt.Errorf("%w: ingestor not started", ErrInvalidFeedback)
	}

	shard := in.shards[shardFor(ev.UserID, len(in.shards))]
	select {
	case shard <- ev:
		return nil
	default:
		in.collector.ObserveFeedback(ev.Outcome, "dropped")
		in.logger.Warn("feedback shard full, dropping event",
			zap.String("event_id", ev.EventID))
		return nil
	}
}

func (in *Ingestor) apply(ev store.FeedbackEvent) {
	inserted, err := in.db.InsertFeedbackEvent(ev)
	if err != nil {
		in.collector.ObserveFeedback(ev.Outcome, "failed")
		in.logger.Warn("feedback insert failed", zap.String("event_id", ev.EventID), zap.Error(err))
		return
	}
	if !inserted {
		// Duplicate delivery; aggregation already happened.
		in.collector.ObserveFeedback(ev.Outcome, "duplicate")
		return
	}

	if err := in.db.ApplyUsage(ev.MemoryID, ev.Outcome, in.cfg.EMAAlpha); err != nil {
		in.collector.ObserveFeedback(ev.Outcome, "invalid")
		in.logger.Warn("feedback for unknown memory dropped",
			zap.String("event_id", ev.EventID),
			zap.String("memory_id", ev.MemoryID),
			zap.Error(err))
		return
	}

	switch ev.Outcome {
	case store.OutcomeAccepted:
		err = in.db.BumpThreshold(ev.UserID, ev.ContextFingerprint, true)
	case store.OutcomeRejected, store.OutcomeIgnored:
		err = in.db.BumpThreshold(ev.UserID, ev.ContextFingerprint, false)
	default:
		// Edits refine content, they don't move the surfacing threshold.
	}
	if err != nil {
		in.collector.ObserveFeedback(ev.Outcome, "failed")
		in.logger.Warn("threshold bump failed", zap.String("event_id", ev.EventID), zap.Error(err))
		return
	}

	in.collector.ObserveFeedback(ev.Outcome, "applied")
}

func shardFor(userID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}
