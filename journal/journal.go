// Package journal persists event descriptions so a session can be inspected
// after the fact. Entries are append-only.
package journal

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/janus/errors"
)

// Source says where an entry came from.
type Source string

const (
	SourceSurface   Source = "surface"
	SourceCanonical Source = "canonical"
)

// DefaultLimit caps List when the filter does not.
const DefaultLimit = 200

// Entry is one journaled event.
type Entry struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	SurfaceID   *int      `json:"surface_id,omitempty"`
	Source      Source    `json:"source"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows List. Zero values mean no constraint.
type Filter struct {
	SessionID string
	SurfaceID *int
	Source    Source
	Limit     int
}

// Store handles journal rows
type Store struct {
	db      *sql.DB
	session string
	now     func() time.Time
}

// NewStore creates a store that stamps every entry with sessionID.
func NewStore(db *sql.DB, sessionID string) *Store {
	return &Store{
		db:      db,
		session: sessionID,
		now:     time.Now,
	}
}

// SessionID returns the id this store writes under.
func (s *Store) SessionID() string {
	return s.session
}

// AppendSurface journals a lifecycle event from a surface.
func (s *Store) AppendSurface(ctx context.Context, surfaceID int, eventType, description string) error {
	return s.Append(ctx, Entry{
		SurfaceID:   &surfaceID,
		Source:      SourceSurface,
		EventType:   eventType,
		Description: description,
	})
}

// AppendCanonical journals a native SDK event.
func (s *Store) AppendCanonical(ctx context.Context, kind, description string) error {
	return s.Append(ctx, Entry{
		Source:      SourceCanonical,
		EventType:   kind,
		Description: description,
	})
}

// Append writes e. SessionID and CreatedAt are filled in when empty.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.Source != SourceSurface && e.Source != SourceCanonical {
		return errors.NewInvalidRequestError("unknown journal source %q", e.Source)
	}
	if e.SessionID == "" {
		e.SessionID = s.session
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}

	var surfaceID sql.NullInt64
	if e.SurfaceID != nil {
		surfaceID = sql.NullInt64{Int64: int64(*e.SurfaceID), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal (session_id, surface_id, source, event_type, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, surfaceID, string(e.Source), e.EventType, e.Description, e.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to journal %s event %s", e.Source, e.EventType)
	}
	return nil
}

// List returns entries oldest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.SurfaceID != nil {
		where = append(where, "surface_id = ?")
		args = append(args, *f.SurfaceID)
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(f.Source))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, session_id, surface_id, source, event_type, description, created_at FROM journal`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list journal")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			surfaceID sql.NullInt64
			source    string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &surfaceID, &source, &e.EventType, &e.Description, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan journal entry")
		}
		if surfaceID.Valid {
			id := int(surfaceID.Int64)
			e.SurfaceID = &id
		}
		e.Source = Source(source)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read journal")
	}

	// newest N were selected; hand them back oldest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Prune deletes entries created before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM journal WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune journal")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pruned entries")
	}
	return n, nil
}
