package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Memory status lifecycle. Only approved memories are retrievable.
const (
	StatusDraft           = "draft"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusExpired         = "expired"
	StatusArchived        = "archived"
)

// Sensitivity classes. Security and legal are the critical classes: the
// adaptive threshold mechanism can never lower their gate below the
// configured critical floor.
const (
	SensitivityGeneral  = "general"
	SensitivitySecurity = "security"
	SensitivityLegal    = "legal"
)

// Clearance levels, ordered.
const (
	ClearancePublic       = "public"
	ClearanceInternal     = "internal"
	ClearanceConfidential = "confidential"
)

var clearanceRank = map[string]int{
	ClearancePublic:       0,
	ClearanceInternal:     1,
	ClearanceConfidential: 2,
}

// User is the resolved identity of a requester.
type User struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Clearance  string `json:"clearance"`
}

// Access is the three-valued outcome of a memory's access rule.
type Access int

const (
	AccessDeny Access = iota
	AccessRedact
	AccessAllow
)

// Memory is a unit of approved knowledge. The answer payload is opaque to
// the engine; usage stats are written only by the feedback ingestor.
type Memory struct {
	ID                string
	CanonicalQuestion string
	SemanticVariants  []string
	Answer            string

	Departments  []string
	MinClearance string
	AllowedRoles []string // empty = any role
	RedactBelow  bool     // one clearance level short sees a redacted reference
	Sensitivity  string

	RelatedWorkflows []string
	WorkflowStep     int // 0 = no declared step order

	Status         string
	ExpiresAt      int64 // unix ms, 0 = no expiration
	ReconfirmBy    int64 // unix ms, 0 = no reconfirmation policy
	AuthorityScore float64

	AccessCount  int
	LastAccessed *int64
	AcceptRate   float64

	CreatedAt int64
	UpdatedAt int64
}

// Critical reports whether the memory belongs to a critical sensitivity class.
func (m *Memory) Critical() bool {
	return m.Sensitivity == SensitivitySecurity || m.Sensitivity == SensitivityLegal
}

// Expired reports whether the memory is past its expiration at the given time.
func (m *Memory) Expired(now int64) bool {
	return m.ExpiresAt > 0 && now >= m.ExpiresAt
}

// EvaluateAccess applies the memory's access rule to a user.
func (m *Memory) EvaluateAccess(u User) Access {
	userRank, ok := clearanceRank[u.Clearance]
	if !ok {
		userRank = 0 // unknown clearance degrades to public
	}
	needRank := clearanceRank[m.MinClearance]

	if userRank < needRank {
		if m.RedactBelow && userRank == needRank-1 {
			return AccessRedact
		}
		return AccessDeny
	}

	if len(m.AllowedRoles) > 0 {
		allowed := false
		for _, r := range m.AllowedRoles {
			if r == u.Role {
				allowed = true
				break
			}
		}
		if !allowed {
			return AccessDeny
		}
	}

	return AccessAllow
}

// DepartmentMatch returns 1.0 for a direct department match, 0.5 when the
// memory spans multiple departments including the user's, 0 otherwise.
// Memories with no department tags match everyone partially.
func (m *Memory) DepartmentMatch(department string) float64 {
	if len(m.Departments) == 0 {
		return 0.5
	}
	for _, d := range m.Departments {
		if d == department {
			if len(m.Departments) == 1 {
				return 1.0
			}
			return 0.75
		}
	}
	return 0
}

const memoryColumns = `id, canonical_question, semantic_variants, answer,
	departments, min_clearance, allowed_roles, redact_below, sensitivity,
	related_workflows, workflow_step, status, expires_at, reconfirm_by, authority_score,
	access_count, last_accessed, accept_rate, created_at, updated_at`

// CreateMemory inserts a new memory. Assigns an id if absent and defaults
// the status to draft.
func (db *DB) CreateMemory(m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = StatusDraft
	}
	if m.MinClearance == "" {
		m.MinClearance = ClearanceInternal
	}
	if m.Sensitivity == "" {
		m.Sensitivity = SensitivityGeneral
	}
	now := time.Now().UnixMilli()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.AcceptRate = 1.0

	_, err := db.Exec(`
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.CanonicalQuestion, marshalList(m.SemanticVariants), m.Answer,
		marshalList(m.Departments), m.MinClearance, marshalList(m.AllowedRoles),
		boolInt(m.RedactBelow), m.Sensitivity,
		marshalList(m.RelatedWorkflows), m.WorkflowStep, m.Status, m.ExpiresAt, m.ReconfirmBy, m.AuthorityScore,
		0, nil, 1.0, now, now)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

// GetMemory returns a memory by id, or nil if not found.
func (db *DB) GetMemory(id string) (*Memory, error) {
	row := db.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// SetStatus transitions a memory's lifecycle status.
func (db *DB) SetStatus(id, status string) error {
	res, err := db.Exec(`UPDATE memories SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set status: memory %s not found", id)
	}
	return nil
}

// ListApproved returns all approved memories that are neither expired nor
// overdue for reconfirmation at the given time.
func (db *DB) ListApproved(now int64) ([]Memory, error) {
	rows, err := db.Query(`
		SELECT `+memoryColumns+` FROM memories
		WHERE status = ?
		  AND (expires_at = 0 OR expires_at > ?)
		  AND (reconfirm_by = 0 OR reconfirm_by > ?)
	`, StatusApproved, now, now)
	if err != nil {
		return nil, fmt.Errorf("list approved: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SweepExpired marks approved memories past their expiration as expired.
// Returns the number of memories swept.
func (db *DB) SweepExpired(now int64) (int, error) {
	res, err := db.Exec(`
		UPDATE memories SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at > 0 AND expires_at <= ?
	`, StatusExpired, now, StatusApproved, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SweepReconfirmations demotes approved memories past their reconfirmation
// deadline back to pending approval. Unlike expiration this is reversible:
// a human re-approves the memory and pushes the deadline forward.
// Returns the number of memories demoted.
func (db *DB) SweepReconfirmations(now int64) (int, error) {
	res, err := db.Exec(`
		UPDATE memories SET status = ?, updated_at = ?
		WHERE status = ? AND reconfirm_by > 0 AND reconfirm_by <= ?
	`, StatusPendingApproval, now, StatusApproved, now)
	if err != nil {
		return 0, fmt.Errorf("sweep reconfirmations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var variants, departments, roles, workflows sql.NullString
	var answer sql.NullString
	var redact int
	var lastAccessed sql.NullInt64

	err := row.Scan(&m.ID, &m.CanonicalQuestion, &variants, &answer,
		&departments, &m.MinClearance, &roles, &redact, &m.Sensitivity,
		&workflows, &m.WorkflowStep, &m.Status, &m.ExpiresAt, &m.ReconfirmBy, &m.AuthorityScore,
		&m.AccessCount, &lastAccessed, &m.AcceptRate, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	m.Answer = answer.String
	m.SemanticVariants = unmarshalList(variants.String)
	m.Departments = unmarshalList(departments.String)
	m.AllowedRoles = unmarshalList(roles.String)
	m.RelatedWorkflows = unmarshalList(workflows.String)
	m.RedactBelow = redact != 0
	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Int64
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

func marshalList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func unmarshalList(s string) []string {
	if s == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil
	}
	return list
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
