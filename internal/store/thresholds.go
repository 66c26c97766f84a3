package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ThresholdState is the accumulated feedback signal for one user/context
// pair. The gate converts it into a bounded threshold adjustment; the raw
// counters live here so the adjustment curve stays a pure policy decision.
type ThresholdState struct {
	UserID     string
	ContextKey string
	Positive   int
	Negative   int
	UpdatedAt  int64
}

// GetThresholdState returns the adaptive state for a user/context pair.
// Missing rows are a zero state, not an error.
func (db *DB) GetThresholdState(userID, contextKey string) (ThresholdState, error) {
	st := ThresholdState{UserID: userID, ContextKey: contextKey}
	err := db.QueryRow(`
		SELECT positive, negative, updated_at
		FROM user_thresholds WHERE user_id = ? AND context_key = ?
	`, userID, contextKey).Scan(&st.Positive, &st.Negative, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("get threshold state: %w", err)
	}
	return st, nil
}

// BumpThreshold increments the positive or negative accumulator for a
// user/context pair. Callers must serialize per user; the feedback pool
// guarantees this.
func (db *DB) BumpThreshold(userID, contextKey string, positive bool) error {
	now := time.Now().UnixMilli()
	pos, neg := 0, 0
	if positive {
		pos = 1
	} else {
		neg = 1
	}
	_, err := db.Exec(`
		INSERT INTO user_thresholds (user_id, context_key, positive, negative, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, context_key) DO UPDATE SET
			positive = positive + ?, negative = negative + ?, updated_at = ?
	`, userID, contextKey, pos, neg, now, pos, neg, now)
	if err != nil {
		return fmt.Errorf("bump threshold: %w", err)
	}
	return nil
}
