package store

import (
	"fmt"
	"time"
)

// Feedback outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeEdited   = "edited"
)

// ValidOutcome reports whether s is a known feedback outcome.
func ValidOutcome(s string) bool {
	switch s {
	case OutcomeAccepted, OutcomeIgnored, OutcomeRejected, OutcomeEdited:
		return true
	}
	return false
}

// FeedbackEvent is one user reaction to a surfaced memory. Append-only.
type FeedbackEvent struct {
	EventID            string
	MemoryID           string
	UserID             string
	ContextFingerprint string
	Outcome            string
	CreatedAt          int64
}

// InsertFeedbackEvent records an event. Duplicate event ids are silently
// ignored; the boolean result reports whether the row was new, so the
// caller can skip aggregation on replays.
func (db *DB) InsertFeedbackEvent(ev FeedbackEvent) (bool, error) {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}
	res, err := db.Exec(`
		INSERT OR IGNORE INTO feedback_events
			(event_id, memory_id, user_id, context_fingerprint, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.MemoryID, ev.UserID, ev.ContextFingerprint, ev.Outcome, ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert feedback: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ApplyUsage folds one feedback outcome into a memory's usage stats.
// acceptRate moves by exponential moving average with the given alpha;
// accepted counts as 1, everything else as 0. Touches last_accessed and
// bumps access_count. The fold is a single statement, so concurrent
// callers for the same memory never lose an update.
func (db *DB) ApplyUsage(memoryID, outcome string, alpha float64) error {
	sample := 0.0
	if outcome == OutcomeAccepted {
		sample = 1.0
	}
	now := time.Now().UnixMilli()

	res, err := db.Exec(`
		UPDATE memories
		SET accept_rate = (1.0 - ?) * accept_rate + ? * ?,
		    last_accessed = ?, access_count = access_count + 1
		WHERE id = ?
	`, alpha, alpha, sample, now, memoryID)
	if err != nil {
		return fmt.Errorf("apply usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("apply usage: memory %s not found", memoryID)
	}
	return nil
}

// FeedbackCounts returns the total and accepted event counts for a memory.
func (db *DB) FeedbackCounts(memoryID string) (total, accepted int, err error) {
	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(outcome = 'accepted'), 0)
		FROM feedback_events WHERE memory_id = ?
	`, memoryID).Scan(&total, &accepted)
	if err != nil {
		return 0, 0, fmt.Errorf("feedback counts: %w", err)
	}
	return total, accepted, nil
}
