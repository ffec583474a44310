package repository

import (
	"context"
	"errors"

	"legalchat-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttachmentRepository handles database operations for uploaded attachments
type AttachmentRepository struct {
	db *pgxpool.Pool
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(db *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create records an uploaded attachment. The caller assigns the id so the
// storage key can be derived from it before the row exists.
func (r *AttachmentRepository) Create(ctx context.Context, att *models.Attachment) error {
	query := `
		INSERT INTO attachments (
			id, filename, content_type, size, storage_key
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	return r.db.QueryRow(
		ctx, query,
		att.ID,
		att.Filename,
		att.ContentType,
		att.Size,
		att.StorageKey,
	).Scan(&att.CreatedAt)
}

// GetByID retrieves an attachment by ID
func (r *AttachmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Attachment, error) {
	att := &models.Attachment{}
	query := `
		SELECT id, filename, content_type, size, storage_key, created_at
		FROM attachments
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&att.ID,
		&att.Filename,
		&att.ContentType,
		&att.Size,
		&att.StorageKey,
		&att.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return att, nil
}

// Delete removes an attachment record
func (r *AttachmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
