package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/roster-api/internal/models"
)

// AvatarRepository stores one avatar row per student.
type AvatarRepository struct {
	db sqlx.ExtContext
}

// NewAvatarRepository constructs an AvatarRepository.
func NewAvatarRepository(db sqlx.ExtContext) *AvatarRepository {
	return &AvatarRepository{db: db}
}

// FindByStudentID returns the student's avatar including its preview bytes.
func (r *AvatarRepository) FindByStudentID(ctx context.Context, studentID int64) (*models.Avatar, error) {
	const query = `SELECT id, student_id, file_path, media_type, file_size, data, preview_media_type, preview_width, preview_height, created_at, updated_at
        FROM avatars WHERE student_id = $1`
	var avatar models.Avatar
	if err := sqlx.GetContext(ctx, r.db, &avatar, query, studentID); err != nil {
		return nil, err
	}
	return &avatar, nil
}

// Upsert replaces the student's avatar, keeping the row identity stable across uploads.
func (r *AvatarRepository) Upsert(ctx context.Context, avatar *models.Avatar) error {
	avatar.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO avatars (student_id, file_path, media_type, file_size, data, preview_media_type, preview_width, preview_height, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
        ON CONFLICT (student_id) DO UPDATE SET
            file_path = EXCLUDED.file_path,
            media_type = EXCLUDED.media_type,
            file_size = EXCLUDED.file_size,
            data = EXCLUDED.data,
            preview_media_type = EXCLUDED.preview_media_type,
            preview_width = EXCLUDED.preview_width,
            preview_height = EXCLUDED.preview_height,
            updated_at = EXCLUDED.updated_at
        RETURNING id, created_at`
	row := r.db.QueryRowxContext(ctx, query,
		avatar.StudentID, avatar.FilePath, avatar.MediaType, avatar.FileSize, avatar.Data,
		avatar.PreviewMediaType, avatar.PreviewWidth, avatar.PreviewHeight, avatar.UpdatedAt)
	if err := row.Scan(&avatar.ID, &avatar.CreatedAt); err != nil {
		return fmt.Errorf("upsert avatar: %w", err)
	}
	return nil
}

// DeleteByStudentID removes the student's avatar row if one exists.
func (r *AvatarRepository) DeleteByStudentID(ctx context.Context, studentID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM avatars WHERE student_id = $1`, studentID); err != nil {
		return fmt.Errorf("delete avatar: %w", err)
	}
	return nil
}
