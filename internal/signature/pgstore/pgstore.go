// Package pgstore provides a PostgreSQL implementation of signature.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sleuth/internal/signature"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sleuth/internal/signature/pgstore")

//go:embed schema.sql
var schema string

// Store persists signatures in PostgreSQL. Update uses a version CAS so
// a conflicting concurrent update surfaces as signature.ErrConflict.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const sigColumns = `id, fingerprint, error_type, service, message_pattern, stack_hash,
	first_seen, last_seen, occurrence_count, status, diagnosis, tags, note,
	status_changed_at, last_attempt, version`

// GetByID retrieves a signature by ID.
//
//nolint:dupl // similar structure to GetByFingerprint is intentional
func (s *Store) GetByID(ctx context.Context, id string) (*signature.Signature, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByID", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + sigColumns + ` FROM signatures WHERE id = $1`
	sig, err := scanSignature(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if sig == nil {
		return nil, false, nil
	}
	return sig, true, nil
}

// GetByFingerprint retrieves a signature by its fingerprint.
//
//nolint:dupl // similar structure to GetByID is intentional
func (s *Store) GetByFingerprint(ctx context.Context, fp string) (*signature.Signature, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByFingerprint", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + sigColumns + ` FROM signatures WHERE fingerprint = $1`
	sig, err := scanSignature(s.pool.QueryRow(ctx, query, fp))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if sig == nil {
		return nil, false, nil
	}
	return sig, true, nil
}

// Save inserts a newly created signature.
func (s *Store) Save(ctx context.Context, sig *signature.Signature) error {
	ctx, span := tracer.Start(ctx, "pgstore.Save", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	rec := sig.Snapshot()
	if rec.ID == "" {
		return fmt.Errorf("pgstore: save: empty id")
	}

	diagJSON, tagsJSON, err := marshalAux(rec)
	if err != nil {
		return err
	}

	query := `INSERT INTO signatures (` + sigColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.Fingerprint, rec.ErrorType, rec.Service, rec.MessagePattern, rec.StackHash,
		rec.FirstSeen, rec.LastSeen, rec.OccurrenceCount, rec.Status, diagJSON, tagsJSON, rec.Note,
		rec.StatusChangedAt, nullableTime(rec.LastAttempt), 1,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("pgstore: save %s: %w", rec.ID, err)
	}
	signature.SetVersionForStore(sig, 1)
	return nil
}

// Update persists a mutated signature. The WHERE clause carries the
// version the caller read; zero rows affected means either the
// signature vanished or a concurrent writer won.
func (s *Store) Update(ctx context.Context, sig *signature.Signature) error {
	ctx, span := tracer.Start(ctx, "pgstore.Update", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	rec := sig.Snapshot()
	if rec.ID == "" {
		return fmt.Errorf("pgstore: update: empty id")
	}

	diagJSON, tagsJSON, err := marshalAux(rec)
	if err != nil {
		return err
	}

	query := `UPDATE signatures SET
		last_seen = $1, occurrence_count = $2, status = $3, diagnosis = $4,
		tags = $5, note = $6, status_changed_at = $7, last_attempt = $8, version = version + 1
	WHERE id = $9 AND version = $10`

	tag, err := s.pool.Exec(ctx, query,
		rec.LastSeen, rec.OccurrenceCount, rec.Status, diagJSON,
		tagsJSON, rec.Note, rec.StatusChangedAt, nullableTime(rec.LastAttempt),
		rec.ID, rec.Version,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("pgstore: update %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM signatures WHERE id = $1)`, rec.ID).Scan(&exists); err != nil {
			return fmt.Errorf("pgstore: update %s: %w", rec.ID, err)
		}
		if !exists {
			return fmt.Errorf("pgstore: update %s: %w", rec.ID, signature.ErrNotFound)
		}
		return fmt.Errorf("pgstore: update %s: %w", rec.ID, signature.ErrConflict)
	}
	signature.SetVersionForStore(sig, rec.Version+1)
	return nil
}

// PendingInvestigation returns investigation candidates, oldest first.
func (s *Store) PendingInvestigation(ctx context.Context) ([]*signature.Signature, error) {
	ctx, span := tracer.Start(ctx, "pgstore.PendingInvestigation", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + sigColumns + ` FROM signatures
	WHERE status IN ('new', 'investigating', 'muted') ORDER BY first_seen`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("pgstore: pending: %w", err)
	}
	defer rows.Close()
	return collectSignatures(rows)
}

// GetSimilar returns signatures sharing the stack hash or the
// service+error type pair, most recently seen first.
func (s *Store) GetSimilar(ctx context.Context, sig *signature.Signature, limit int) ([]*signature.Signature, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetSimilar", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + sigColumns + ` FROM signatures
	WHERE id <> $1 AND (stack_hash = $2 OR (service = $3 AND error_type = $4))
	ORDER BY last_seen DESC LIMIT $5`

	rows, err := s.pool.Query(ctx, query, sig.ID(), sig.StackHash(), sig.Service(), sig.ErrorType(), limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("pgstore: similar: %w", err)
	}
	defer rows.Close()
	return collectSignatures(rows)
}

// Stats summarizes the signatures table in one aggregate query.
func (s *Store) Stats(ctx context.Context) (signature.StoreStats, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Stats", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE status = 'new'),
		COUNT(*) FILTER (WHERE status = 'investigating'),
		COUNT(*) FILTER (WHERE status = 'diagnosed'),
		COUNT(*) FILTER (WHERE status = 'resolved'),
		COUNT(*) FILTER (WHERE status = 'muted'),
		COUNT(*) FILTER (WHERE diagnosis IS NOT NULL),
		MIN(first_seen) FILTER (WHERE status <> 'resolved')
	FROM signatures`

	var st signature.StoreStats
	var oldest *time.Time
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.Total, &st.New, &st.Investigating, &st.Diagnosed,
		&st.Resolved, &st.Muted, &st.WithDiagnosis, &oldest,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return signature.StoreStats{}, fmt.Errorf("pgstore: stats: %w", err)
	}
	if oldest != nil {
		st.OldestUnresolved = *oldest
	}
	return st, nil
}

func marshalAux(rec signature.Record) (diagJSON, tagsJSON []byte, err error) {
	if rec.Diagnosis != nil {
		diagJSON, err = json.Marshal(rec.Diagnosis)
		if err != nil {
			return nil, nil, fmt.Errorf("pgstore: marshal diagnosis: %w", err)
		}
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err = json.Marshal(tags)
	if err != nil {
		return nil, nil, fmt.Errorf("pgstore: marshal tags: %w", err)
	}
	return diagJSON, tagsJSON, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func collectSignatures(rows pgx.Rows) ([]*signature.Signature, error) {
	var out []*signature.Signature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate: %w", err)
	}
	return out, nil
}

// scanSignature scans one row and rehydrates it through the entity's
// own invariant checks. Returns (nil, nil) when no row is found.
func scanSignature(row pgx.Row) (*signature.Signature, error) {
	var (
		rec         signature.Record
		diagJSON    []byte
		tagsJSON    []byte
		lastAttempt *time.Time
	)

	err := row.Scan(
		&rec.ID, &rec.Fingerprint, &rec.ErrorType, &rec.Service, &rec.MessagePattern, &rec.StackHash,
		&rec.FirstSeen, &rec.LastSeen, &rec.OccurrenceCount, &rec.Status, &diagJSON, &tagsJSON, &rec.Note,
		&rec.StatusChangedAt, &lastAttempt, &rec.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgstore: scan: %w", err)
	}

	if diagJSON != nil {
		rec.Diagnosis = &signature.Diagnosis{}
		if err := json.Unmarshal(diagJSON, rec.Diagnosis); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal diagnosis for %s: %w", rec.ID, err)
		}
	}
	if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
		return nil, fmt.Errorf("pgstore: unmarshal tags for %s: %w", rec.ID, err)
	}
	if lastAttempt != nil {
		rec.LastAttempt = *lastAttempt
	}

	return signature.Rehydrate(rec)
}
