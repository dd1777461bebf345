package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// AuditRepository defines the data access contract for the audit trail.
// The trail is append-only: there is no update or delete.
type AuditRepository interface {
	// Append inserts a new entry and sets its ID.
	Append(ctx context.Context, entry *Entry) error

	// List returns entries most recent first, optionally filtered by
	// action (empty = all), with the total count for pagination.
	List(ctx context.Context, action Action, limit, offset int) ([]Entry, int, error)
}

// auditRepository implements AuditRepository with MariaDB queries.
type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new repository backed by the given DB pool.
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Append inserts an entry. An empty UserID is stored as NULL and nil
// details as NULL.
func (r *auditRepository) Append(ctx context.Context, entry *Entry) error {
	query := `INSERT INTO audit_logs (user_id, action, details, ip_address, user_agent, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshaling audit details: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	userID := sql.NullString{String: entry.UserID, Valid: entry.UserID != ""}

	result, err := r.db.ExecContext(ctx, query,
		userID, string(entry.Action), detailsJSON,
		entry.IPAddress, truncate(entry.UserAgent, 512), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting audit entry id: %w", err)
	}
	entry.ID = id

	return nil
}

// List returns a page of entries joined with the actor's email.
func (r *auditRepository) List(ctx context.Context, action Action, limit, offset int) ([]Entry, int, error) {
	where := ""
	args := []any{}
	if action != "" {
		where = "WHERE a.action = ?"
		args = append(args, string(action))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_logs a ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT a.id, a.user_id, a.action, a.details, a.ip_address, a.user_agent,
	                 a.created_at, COALESCE(u.email, '')
	          FROM audit_logs a
	          LEFT JOIN users u ON u.id = a.user_id
	          ` + where + `
	          ORDER BY a.created_at DESC, a.id DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanAuditRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// scanAuditRows scans rows from an audit_logs query. Expects columns: id,
// user_id, action, details, ip_address, user_agent, created_at, user_email.
func scanAuditRows(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			userID      sql.NullString
			action      string
			detailsJSON sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &userID, &action, &detailsJSON,
			&e.IPAddress, &e.UserAgent, &e.CreatedAt, &e.UserEmail,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.UserID = userID.String
		e.Action = Action(action)

		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				// Non-fatal: a bad row must not break the listing.
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
// Invalid bytes are replaced first so utf8mb4 columns accept the value.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "?")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
