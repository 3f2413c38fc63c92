// Package postgres implements the polling population store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"paceline/internal/domain"
)

var (
	ErrDuplicateTarget = errors.New("target already exists")
	ErrTargetNotFound  = errors.New("target not found")
)

// enabledPageSize bounds the per-query row count when paging through the
// full enabled population.
const enabledPageSize = 5000

// Store persists target records in PostgreSQL. Every operation is bounded
// by the configured per-operation timeout.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// CreateTarget inserts a new target record.
// Returns ErrDuplicateTarget when the target_id is already present.
func (s *Store) CreateTarget(ctx context.Context, record domain.TargetRecord) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryCreateTarget,
		record.ID,
		record.EndpointRef,
		string(record.Priority),
		record.Enabled,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateTarget
		}
		return err
	}
	return nil
}

// GetTarget returns a single target by id.
// Returns ErrTargetNotFound when no row exists.
func (s *Store) GetTarget(ctx context.Context, id string) (domain.TargetRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	record, err := scanTarget(s.db.QueryRowContext(ctx, queryGetTarget, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TargetRecord{}, ErrTargetNotFound
	}
	return record, err
}

// ListTargets returns targets ordered by id, paginated by limit and offset.
func (s *Store) ListTargets(ctx context.Context, limit, offset int) ([]domain.TargetRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTargets, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTargets(rows)
}

// ListEnabledTargets returns the full enabled population snapshot.
// It pages keyset-style through the table so a single huge query never
// holds the per-operation timeout hostage at realistic population sizes.
func (s *Store) ListEnabledTargets(ctx context.Context) ([]domain.TargetRecord, error) {
	var all []domain.TargetRecord
	lastID := ""

	for {
		page, err := s.listEnabledPage(ctx, lastID)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < enabledPageSize {
			return all, nil
		}
		lastID = page[len(page)-1].ID
	}
}

func (s *Store) listEnabledPage(ctx context.Context, afterID string) ([]domain.TargetRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEnabledTargets, afterID, enabledPageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTargets(rows)
}

// CountTargets returns total and enabled target counts.
func (s *Store) CountTargets(ctx context.Context) (total, enabled int, err error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.db.QueryRowContext(ctx, queryCountTargets).Scan(&total); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRowContext(ctx, queryCountEnabledTargets).Scan(&enabled); err != nil {
		return 0, 0, err
	}
	return total, enabled, nil
}

// SetTargetEnabled toggles whether a target participates in generation.
// Returns ErrTargetNotFound when no row exists.
func (s *Store) SetTargetEnabled(ctx context.Context, id string, enabled bool) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, querySetTargetEnabled, enabled, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTargetNotFound
	}
	return nil
}

// DeleteTarget removes a target record.
// Returns ErrTargetNotFound when no row exists.
func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryDeleteTarget, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTargetNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (domain.TargetRecord, error) {
	var record domain.TargetRecord
	var tier string
	err := row.Scan(
		&record.ID,
		&record.EndpointRef,
		&tier,
		&record.Enabled,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return domain.TargetRecord{}, err
	}
	record.Priority = domain.PriorityTier(tier)
	return record, nil
}

func collectTargets(rows *sql.Rows) ([]domain.TargetRecord, error) {
	var result []domain.TargetRecord
	for rows.Next() {
		record, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// PostgreSQL unique violation error code is 23505.
	errStr := err.Error()
	return strings.Contains(errStr, "23505") ||
		strings.Contains(errStr, "unique constraint") ||
		strings.Contains(errStr, "duplicate key")
}
