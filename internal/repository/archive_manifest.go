package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const manifestColumns = `id, chain_id, from_sequence, to_sequence, prev_row_hash, last_row_hash,
	row_count, object_key, sha256, signature, created_at, purged_at, restored_at`

type ArchiveManifestRepository struct {
	db *sql.DB
}

func NewArchiveManifestRepository(db *sql.DB) *ArchiveManifestRepository {
	return &ArchiveManifestRepository{db: db}
}

func (r *ArchiveManifestRepository) Create(ctx context.Context, m *domain.ArchiveManifest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_archive_manifests (
			id, chain_id, from_sequence, to_sequence, prev_row_hash, last_row_hash,
			row_count, object_key, sha256, signature, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.ChainID, m.FromSequence, m.ToSequence, m.PrevRowHash, m.LastRowHash,
		m.RowCount, m.ObjectKey, m.SHA256, m.Signature, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *ArchiveManifestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ArchiveManifest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+manifestColumns+` FROM audit_archive_manifests WHERE id = $1`, id,
	)
	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return m, nil
}

func (r *ArchiveManifestRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.ArchiveManifest, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+manifestColumns+` FROM audit_archive_manifests WHERE id = $1 FOR UPDATE`, id,
	)
	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return m, nil
}

// Latest returns the manifest with the highest range for the chain.
func (r *ArchiveManifestRepository) Latest(ctx context.Context, chainID string) (*domain.ArchiveManifest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+manifestColumns+` FROM audit_archive_manifests
		WHERE chain_id = $1 ORDER BY to_sequence DESC LIMIT 1`, chainID,
	)
	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Latest: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Latest: %w", err)
	}
	return m, nil
}

// LatestPurged returns the purged, not restored manifest with the highest
// range. Chain verification starts right after it.
func (r *ArchiveManifestRepository) LatestPurged(ctx context.Context, chainID string) (*domain.ArchiveManifest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+manifestColumns+` FROM audit_archive_manifests
		WHERE chain_id = $1 AND purged_at IS NOT NULL AND restored_at IS NULL
		ORDER BY to_sequence DESC LIMIT 1`, chainID,
	)
	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("LatestPurged: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("LatestPurged: %w", err)
	}
	return m, nil
}

func (r *ArchiveManifestRepository) ListUnpurged(ctx context.Context, chainID string) ([]domain.ArchiveManifest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+manifestColumns+` FROM audit_archive_manifests
		WHERE chain_id = $1 AND purged_at IS NULL ORDER BY from_sequence`, chainID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListUnpurged: %w", err)
	}
	defer rows.Close()

	var manifests []domain.ArchiveManifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("ListUnpurged: scan: %w", err)
		}
		manifests = append(manifests, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListUnpurged: rows: %w", err)
	}
	return manifests, nil
}

func (r *ArchiveManifestRepository) MarkPurged(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE audit_archive_manifests SET purged_at = now(), restored_at = NULL WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("MarkPurged: %w", err)
	}
	return nil
}

func (r *ArchiveManifestRepository) MarkRestored(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE audit_archive_manifests SET restored_at = now() WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("MarkRestored: %w", err)
	}
	return nil
}

func scanManifest(s scanner) (*domain.ArchiveManifest, error) {
	var m domain.ArchiveManifest
	err := s.Scan(
		&m.ID, &m.ChainID, &m.FromSequence, &m.ToSequence, &m.PrevRowHash, &m.LastRowHash,
		&m.RowCount, &m.ObjectKey, &m.SHA256, &m.Signature, &m.CreatedAt,
		&m.PurgedAt, &m.RestoredAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
