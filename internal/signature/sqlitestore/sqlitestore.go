// Package sqlitestore provides a SQLite implementation of
// signature.Store for single-node deployments that want durability
// without running PostgreSQL.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/sleuth/internal/signature"
)

const sigTable = "signatures"

// Store persists signatures in a SQLite database. Update applies the
// same version CAS as the Postgres store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	// sqlite handles one writer at a time
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL UNIQUE,
			error_type TEXT NOT NULL,
			service TEXT NOT NULL,
			message_pattern TEXT NOT NULL DEFAULT '',
			stack_hash TEXT NOT NULL DEFAULT '',
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			occurrence_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			diagnosis_json BLOB,
			tags_json BLOB NOT NULL DEFAULT '[]',
			note TEXT NOT NULL DEFAULT '',
			status_changed_at INTEGER NOT NULL,
			last_attempt INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL
		);`, sigTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);`, sigTable, sigTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_stack ON %s(stack_hash);`, sigTable, sigTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_seen ON %s(last_seen);`, sigTable, sigTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitestore: ensure schema: %w", err)
		}
	}
	return nil
}

const sigColumns = `id, fingerprint, error_type, service, message_pattern, stack_hash,
	first_seen, last_seen, occurrence_count, status, diagnosis_json, tags_json, note,
	status_changed_at, last_attempt, version`

// GetByID retrieves a signature by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*signature.Signature, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sigColumns+` FROM `+sigTable+` WHERE id = ?`, id)
	return scanOne(row)
}

// GetByFingerprint retrieves a signature by fingerprint.
func (s *Store) GetByFingerprint(ctx context.Context, fp string) (*signature.Signature, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sigColumns+` FROM `+sigTable+` WHERE fingerprint = ?`, fp)
	return scanOne(row)
}

// Save inserts a newly created signature.
func (s *Store) Save(ctx context.Context, sig *signature.Signature) error {
	rec := sig.Snapshot()
	if rec.ID == "" {
		return fmt.Errorf("sqlitestore: save: empty id")
	}
	diagJSON, tagsJSON, err := marshalAux(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+sigTable+` (`+sigColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Fingerprint, rec.ErrorType, rec.Service, rec.MessagePattern, rec.StackHash,
		rec.FirstSeen.UnixNano(), rec.LastSeen.UnixNano(), rec.OccurrenceCount, rec.Status,
		diagJSON, tagsJSON, rec.Note, rec.StatusChangedAt.UnixNano(), unixOrZero(rec.LastAttempt), 1,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: save %s: %w", rec.ID, err)
	}
	signature.SetVersionForStore(sig, 1)
	return nil
}

// Update persists a mutated signature under a version CAS; zero rows
// affected resolves to ErrNotFound or ErrConflict, never a silent
// overwrite.
func (s *Store) Update(ctx context.Context, sig *signature.Signature) error {
	rec := sig.Snapshot()
	if rec.ID == "" {
		return fmt.Errorf("sqlitestore: update: empty id")
	}
	diagJSON, tagsJSON, err := marshalAux(rec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE `+sigTable+` SET
			last_seen = ?, occurrence_count = ?, status = ?, diagnosis_json = ?,
			tags_json = ?, note = ?, status_changed_at = ?, last_attempt = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		rec.LastSeen.UnixNano(), rec.OccurrenceCount, rec.Status, diagJSON,
		tagsJSON, rec.Note, rec.StatusChangedAt.UnixNano(), unixOrZero(rec.LastAttempt),
		rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: update %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: update %s: %w", rec.ID, err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sigTable+` WHERE id = ?`, rec.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("sqlitestore: update %s: %w", rec.ID, err)
		}
		if exists == 0 {
			return fmt.Errorf("sqlitestore: update %s: %w", rec.ID, signature.ErrNotFound)
		}
		return fmt.Errorf("sqlitestore: update %s: %w", rec.ID, signature.ErrConflict)
	}
	signature.SetVersionForStore(sig, rec.Version+1)
	return nil
}

// PendingInvestigation returns investigation candidates, oldest first.
func (s *Store) PendingInvestigation(ctx context.Context) ([]*signature.Signature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sigColumns+` FROM `+sigTable+`
		WHERE status IN ('new', 'investigating', 'muted') ORDER BY first_seen`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: pending: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// GetSimilar returns signatures sharing the stack hash or the
// service+error type pair, most recently seen first.
func (s *Store) GetSimilar(ctx context.Context, sig *signature.Signature, limit int) ([]*signature.Signature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sigColumns+` FROM `+sigTable+`
		WHERE id <> ? AND (stack_hash = ? OR (service = ? AND error_type = ?))
		ORDER BY last_seen DESC LIMIT ?`,
		sig.ID(), sig.StackHash(), sig.Service(), sig.ErrorType(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: similar: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Stats summarizes the signatures table.
func (s *Store) Stats(ctx context.Context) (signature.StoreStats, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(status = 'new'), 0),
		COALESCE(SUM(status = 'investigating'), 0),
		COALESCE(SUM(status = 'diagnosed'), 0),
		COALESCE(SUM(status = 'resolved'), 0),
		COALESCE(SUM(status = 'muted'), 0),
		COALESCE(SUM(diagnosis_json IS NOT NULL), 0),
		COALESCE(MIN(CASE WHEN status <> 'resolved' THEN first_seen END), 0)
	FROM ` + sigTable

	var st signature.StoreStats
	var oldest int64
	err := s.db.QueryRowContext(ctx, query).Scan(
		&st.Total, &st.New, &st.Investigating, &st.Diagnosed,
		&st.Resolved, &st.Muted, &st.WithDiagnosis, &oldest,
	)
	if err != nil {
		return signature.StoreStats{}, fmt.Errorf("sqlitestore: stats: %w", err)
	}
	if oldest != 0 {
		st.OldestUnresolved = time.Unix(0, oldest).UTC()
	}
	return st, nil
}

func marshalAux(rec signature.Record) (diagJSON, tagsJSON []byte, err error) {
	if rec.Diagnosis != nil {
		diagJSON, err = json.Marshal(rec.Diagnosis)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore: marshal diagnosis: %w", err)
		}
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err = json.Marshal(tags)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlitestore: marshal tags: %w", err)
	}
	return diagJSON, tagsJSON, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*signature.Signature, bool, error) {
	sig, err := scanSignature(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return sig, true, nil
}

func collect(rows *sql.Rows) ([]*signature.Signature, error) {
	var out []*signature.Signature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate: %w", err)
	}
	return out, nil
}

func scanSignature(row rowScanner) (*signature.Signature, error) {
	var (
		rec                          signature.Record
		firstSeen, lastSeen          int64
		statusChangedAt, lastAttempt int64
		diagJSON, tagsJSON           []byte
	)

	err := row.Scan(
		&rec.ID, &rec.Fingerprint, &rec.ErrorType, &rec.Service, &rec.MessagePattern, &rec.StackHash,
		&firstSeen, &lastSeen, &rec.OccurrenceCount, &rec.Status, &diagJSON, &tagsJSON, &rec.Note,
		&statusChangedAt, &lastAttempt, &rec.Version,
	)
	if err != nil {
		return nil, err
	}

	rec.FirstSeen = time.Unix(0, firstSeen).UTC()
	rec.LastSeen = time.Unix(0, lastSeen).UTC()
	rec.StatusChangedAt = time.Unix(0, statusChangedAt).UTC()
	if lastAttempt != 0 {
		rec.LastAttempt = time.Unix(0, lastAttempt).UTC()
	}
	if diagJSON != nil {
		rec.Diagnosis = &signature.Diagnosis{}
		if err := json.Unmarshal(diagJSON, rec.Diagnosis); err != nil {
			return nil, fmt.Errorf("sqlitestore: unmarshal diagnosis for %s: %w", rec.ID, err)
		}
	}
	if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
		return nil, fmt.Errorf("sqlitestore: unmarshal tags for %s: %w", rec.ID, err)
	}

	return signature.Rehydrate(rec)
}
