// Package episodic implements the durable, typed event log described in
// spec.md section 4.2: add/query operations, idempotent error rows,
// principle back-annotation, and month-stamped archival.
//
// The store is backed by a single sqlite file (modernc.org/sqlite, a
// pure-Go driver -- the same choice the teacher's modules/database package
// makes) with write-ahead journaling enabled, matching the teacher's
// migrations.go convention of an explicit schema_migrations-style startup
// step (here a fixed CREATE TABLE IF NOT EXISTS set, since the schema is
// closed and versioned by this repository, not pluggable).
package episodic

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/digitalbeing/core/internal/logging"
	"github.com/digitalbeing/core/internal/model"
)

// NoID is the sentinel returned by AddEpisode on validation failure.
const NoID int64 = -1

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	description TEXT NOT NULL,
	outcome TEXT NOT NULL,
	data TEXT
);
CREATE INDEX IF NOT EXISTS idx_episodes_event_type ON episodes(event_type);
CREATE INDEX IF NOT EXISTS idx_episodes_timestamp ON episodes(timestamp);
CREATE INDEX IF NOT EXISTS idx_episodes_outcome ON episodes(outcome);
CREATE INDEX IF NOT EXISTS idx_episodes_type_outcome ON episodes(event_type, outcome);

CREATE TABLE IF NOT EXISTS errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	error_type TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL,
	cause TEXT,
	repeat_count INTEGER NOT NULL DEFAULT 1,
	last_seen DATETIME NOT NULL,
	principle_id INTEGER
);

CREATE TABLE IF NOT EXISTS principles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	source_error_id INTEGER,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
`

// Store is the episodic memory engine.
type Store struct {
	db     *sql.DB
	logger logging.Logger
	path   string
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures the schema exists.
func Open(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("episodic: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single connection shared across goroutines, per spec.md section 4.2
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("episodic: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("episodic: apply schema: %w", err)
	}
	return &Store{db: db, logger: logger, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// AddEpisode inserts a new episode. It fails (returning NoID, false) when
// description is empty or exceeds model.MaxDescriptionLen; out-of-set
// outcomes are normalized to "unknown"; data is serialized as JSON,
// dropping to null if it cannot be marshaled.
func (s *Store) AddEpisode(ctx context.Context, eventType, description string, outcome model.Outcome, data any) (int64, bool) {
	if description == "" || len(description) > model.MaxDescriptionLen {
		if s.logger != nil {
			s.logger.Warn("episodic: rejected episode", "event_type", eventType, "reason", "description length out of bounds")
		}
		return NoID, false
	}
	outcome = model.NormalizeOutcome(outcome)

	var payload sql.NullString
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = sql.NullString{String: string(b), Valid: true}
		} else if s.logger != nil {
			s.logger.Warn("episodic: payload not serializable, storing null", "event_type", eventType, "error", err)
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (timestamp, event_type, description, outcome, data) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC(), eventType, description, string(outcome), payload)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("episodic: insert failed", "event_type", eventType, "error", err)
		}
		return NoID, false
	}
	id, err := res.LastInsertId()
	if err != nil {
		return NoID, false
	}
	return id, true
}

// AddError is idempotent by error type: if a row for typ already exists,
// its repeat_count and last_seen are bumped instead of inserting a new row.
func (s *Store) AddError(ctx context.Context, typ, description, cause string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE errors SET repeat_count = repeat_count + 1, last_seen = ?, description = ?, cause = ? WHERE error_type = ?`,
		now, description, cause, typ)
	if err != nil {
		return fmt.Errorf("episodic: bump error %s: %w", typ, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO errors (error_type, description, cause, repeat_count, last_seen) VALUES (?, ?, ?, 1, ?)`,
		typ, description, cause, now)
	if err != nil {
		return fmt.Errorf("episodic: insert error %s: %w", typ, err)
	}
	return nil
}

// AddPrinciple inserts a principle and back-annotates the source error row,
// if sourceErrorID is non-zero.
func (s *Store) AddPrinciple(ctx context.Context, text string, sourceErrorID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO principles (text, source_error_id, active, created_at) VALUES (?, ?, 1, ?)`,
		text, nullableID(sourceErrorID), time.Now().UTC())
	if err != nil {
		return NoID, fmt.Errorf("episodic: insert principle: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return NoID, err
	}
	if sourceErrorID != 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE errors SET principle_id = ? WHERE id = ?`, id, sourceErrorID); err != nil {
			if s.logger != nil {
				s.logger.Warn("episodic: failed to back-annotate error row", "error_id", sourceErrorID, "error", err)
			}
		}
	}
	return id, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// GetRecent returns the most recent episodes, newest first.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]model.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, description, outcome, data FROM episodes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("episodic: get recent: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// GetByType returns episodes of the given type, optionally filtered by
// outcome, newest first.
func (s *Store) GetByType(ctx context.Context, eventType string, limit int, outcome *model.Outcome) ([]model.Episode, error) {
	var rows *sql.Rows
	var err error
	if outcome != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, timestamp, event_type, description, outcome, data FROM episodes WHERE event_type = ? AND outcome = ? ORDER BY id DESC LIMIT ?`,
			eventType, string(*outcome), limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, timestamp, event_type, description, outcome, data FROM episodes WHERE event_type = ? ORDER BY id DESC LIMIT ?`,
			eventType, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("episodic: get by type: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// CountRecentSimilar counts episodes of eventType within the last `hours`.
func (s *Store) CountRecentSimilar(ctx context.Context, eventType string, hours float64) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM episodes WHERE event_type = ? AND timestamp >= ?`, eventType, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("episodic: count recent similar: %w", err)
	}
	return n, nil
}

// Principle is an active, hard-won generalization distilled from errors.
type Principle struct {
	ID            int64     `json:"id"`
	Text          string    `json:"text"`
	SourceErrorID int64     `json:"source_error_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// GetActivePrinciples returns all principles not marked inactive.
func (s *Store) GetActivePrinciples(ctx context.Context) ([]Principle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, COALESCE(source_error_id, 0), created_at FROM principles WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("episodic: get active principles: %w", err)
	}
	defer rows.Close()
	var out []Principle
	for rows.Next() {
		var p Principle
		if err := rows.Scan(&p.ID, &p.Text, &p.SourceErrorID, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count returns the number of episodes currently in the primary store;
// episodes moved out by ArchiveOld are not counted.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n)
	return n, err
}

// ArchiveOld moves episodes older than `days` into a month-stamped sibling
// database per the month of each episode's timestamp, then deletes them
// from the primary store. It is idempotent: inserts into the archive use
// INSERT OR IGNORE keyed by the original id, so re-running with the same
// cutoff after a partial failure adds nothing new and removes nothing that
// wasn't already gone.
func (s *Store) ArchiveOld(ctx context.Context, days int, archiveDir string) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, description, outcome, data FROM episodes WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("episodic: archive query: %w", err)
	}
	episodes, err := scanEpisodes(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}
	if len(episodes) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]model.Episode)
	for _, e := range episodes {
		key := e.Timestamp.Format("2006_01")
		byMonth[key] = append(byMonth[key], e)
	}

	var archived int
	for month, batch := range byMonth {
		archPath := fmt.Sprintf("%s/episodic_archive_%s.db", archiveDir, month)
		archDB, err := sql.Open("sqlite", archPath)
		if err != nil {
			return archived, fmt.Errorf("episodic: open archive %s: %w", archPath, err)
		}
		if _, err := archDB.ExecContext(ctx, schema); err != nil {
			archDB.Close()
			return archived, fmt.Errorf("episodic: schema archive %s: %w", archPath, err)
		}
		for _, e := range batch {
			_, err := archDB.ExecContext(ctx,
				`INSERT OR IGNORE INTO episodes (id, timestamp, event_type, description, outcome, data) VALUES (?, ?, ?, ?, ?, ?)`,
				e.ID, e.Timestamp, e.EventType, e.Description, string(e.Outcome), nullableBytes(e.Data))
			if err != nil {
				archDB.Close()
				return archived, fmt.Errorf("episodic: insert archive row %d: %w", e.ID, err)
			}
		}
		archDB.Close()
		archived += len(batch)
	}

	// Only delete from primary once every batch has been durably archived.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE timestamp < ?`, cutoff); err != nil {
		return archived, fmt.Errorf("episodic: delete archived rows: %w", err)
	}

	// Reclaim the space the deleted rows held, per spec.md section 4.2's
	// "then reclaims space". Best-effort: a failed VACUUM does not undo
	// the archival, which already completed and is itself idempotent.
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil && s.logger != nil {
		s.logger.Warn("episodic: vacuum after archive failed", "error", err)
	}
	return archived, nil
}

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// Healthy performs a lightweight probe confirming the expected tables
// exist and respond to a trivial read.
func (s *Store) Healthy(ctx context.Context) error {
	for _, table := range []string{"episodes", "errors", "principles"} {
		var one int
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", table)).Scan(&one); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("episodic: health probe failed on %s: %w", table, err)
		}
	}
	return nil
}

func scanEpisodes(rows *sql.Rows) ([]model.Episode, error) {
	var out []model.Episode
	for rows.Next() {
		var e model.Episode
		var data sql.NullString
		var outcome string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Description, &outcome, &data); err != nil {
			return nil, fmt.Errorf("episodic: scan: %w", err)
		}
		e.Outcome = model.Outcome(outcome)
		if data.Valid {
			e.Data = []byte(data.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
