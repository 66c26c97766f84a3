package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownUser is returned when an identity lookup finds no user.
// Callers must degrade to a minimally privileged context, never guess.
var ErrUnknownUser = errors.New("unknown user")

// GetUser resolves a user id to its role, department, and clearance.
func (db *DB) GetUser(id string) (User, error) {
	var u User
	err := db.QueryRow(`
		SELECT id, role, department, clearance FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Role, &u.Department, &u.Clearance)
	if err == sql.ErrNoRows {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// PutUser inserts or replaces a directory entry.
func (db *DB) PutUser(u User) error {
	if u.Clearance == "" {
		u.Clearance = ClearanceInternal
	}
	_, err := db.Exec(`
		INSERT INTO users (id, role, department, clearance, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET role = ?, department = ?, clearance = ?
	`, u.ID, u.Role, u.Department, u.Clearance, time.Now().UnixMilli(),
		u.Role, u.Department, u.Clearance)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}
