package models

import "time"

// Avatar is a student's image: the original lives on disk at FilePath, Data holds the preview.
type Avatar struct {
	ID               int64     `db:"id" json:"id"`
	StudentID        int64     `db:"student_id" json:"student_id"`
	FilePath         string    `db:"file_path" json:"file_path"`
	MediaType        string    `db:"media_type" json:"media_type"`
	FileSize         int64     `db:"file_size" json:"file_size"`
	Data             []byte    `db:"data" json:"-"`
	PreviewMediaType string    `db:"preview_media_type" json:"preview_media_type"`
	PreviewWidth     int       `db:"preview_width" json:"preview_width"`
	PreviewHeight    int       `db:"preview_height" json:"preview_height"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
