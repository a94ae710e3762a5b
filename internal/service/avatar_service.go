package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/internal/repository"
	appErrors "github.com/noah-isme/roster-api/pkg/errors"
	"github.com/noah-isme/roster-api/pkg/imaging"
	"github.com/noah-isme/roster-api/pkg/validation"
)

const defaultAvatarMaxBytes = 10 << 20

// AvatarUpload is an image submitted for a student.
type AvatarUpload struct {
	Filename  string
	MediaType string
	Content   []byte
}

// AvatarContent is the image returned to clients.
type AvatarContent struct {
	Data      []byte
	MediaType string
	Length    int64
}

type avatarFiles interface {
	Save(filename string, data []byte) (string, error)
	Read(filename string) ([]byte, error)
	Exists(filename string) (bool, error)
	Delete(filename string) error
	Path(filename string) string
}

type previewRenderer interface {
	Preview(raw []byte) (*imaging.Preview, error)
}

// AvatarConfig tunes upload limits.
type AvatarConfig struct {
	MaxBytes int64
}

// AvatarService stores each avatar twice: the original on disk and a preview in the database.
type AvatarService struct {
	store   repository.Transactor
	files   avatarFiles
	codec   previewRenderer
	metrics *MetricsService
	cfg     AvatarConfig
	logger  *zap.Logger
}

// NewAvatarService constructs an AvatarService. codec defaults to a 100px preview.
func NewAvatarService(store repository.Transactor, files avatarFiles, codec previewRenderer, metrics *MetricsService, cfg AvatarConfig, logger *zap.Logger) *AvatarService {
	if codec == nil {
		codec = imaging.NewCodec(0)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultAvatarMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvatarService{store: store, files: files, codec: codec, metrics: metrics, cfg: cfg, logger: logger}
}

// SetAvatar decodes the upload, writes the original to disk and upserts the avatar row.
// Nothing is written when the image cannot be decoded; the database is left untouched when the file write fails.
// A new file is removed again when the row cannot be committed.
func (s *AvatarService) SetAvatar(ctx context.Context, studentID int64, upload AvatarUpload) (*models.Avatar, error) {
	if len(upload.Content) == 0 {
		s.metrics.RecordAvatarUpload(AvatarOutcomeRejected)
		return nil, validation.Field("file", "file is required", "invalid avatar upload")
	}
	if int64(len(upload.Content)) > s.cfg.MaxBytes {
		s.metrics.RecordAvatarUpload(AvatarOutcomeRejected)
		return nil, validation.Field("file", fmt.Sprintf("file must not exceed %d bytes", s.cfg.MaxBytes), "invalid avatar upload")
	}

	detected := mimetype.Detect(upload.Content)
	mediaType := avatarMediaType(detected.String(), upload.MediaType)

	started := time.Now()
	preview, err := s.codec.Preview(upload.Content)
	s.metrics.ObserveAvatarPreview(time.Since(started))
	if err != nil {
		s.metrics.RecordAvatarUpload(AvatarOutcomeUndecoded)
		if errors.Is(err, imaging.ErrUndecodable) {
			return nil, appErrors.WithDetail(appErrors.Wrap(err, appErrors.ErrProcessing.Code, appErrors.ErrProcessing.Status, appErrors.ErrProcessing.Message), "media_type", detected.String())
		}
		return nil, appErrors.Internal(err, "failed to build avatar preview")
	}

	filePath := avatarPath(studentID, upload.Filename, detected.Extension())
	avatar := &models.Avatar{
		StudentID:        studentID,
		FilePath:         filePath,
		MediaType:        mediaType,
		FileSize:         int64(len(upload.Content)),
		Data:             preview.Data,
		PreviewMediaType: preview.MediaType,
		PreviewWidth:     preview.Width,
		PreviewHeight:    preview.Height,
	}

	// The file is written under the student row lock: uploads for one student
	// apply their file and row changes in commit order.
	var previousPath string
	var written, existed bool
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Students().FindByIDForUpdate(ctx, studentID); err != nil {
			return studentLookupError(err, studentID)
		}
		previous, err := tx.Avatars().FindByStudentID(ctx, studentID)
		switch {
		case err == nil:
			previousPath = previous.FilePath
		case !errors.Is(err, sql.ErrNoRows):
			return appErrors.Internal(err, "failed to load avatar")
		}

		existed, err = s.files.Exists(filePath)
		if err != nil {
			s.logger.Warn("avatar file stat failed", zap.String("path", filePath), zap.Error(err))
			existed = true
		}
		if _, err := s.files.Save(filePath, upload.Content); err != nil {
			s.logger.Error("avatar file write failed", zap.String("file", s.files.Path(filePath)), zap.Error(err))
			return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to store avatar file")
		}
		written = true

		if err := tx.Avatars().Upsert(ctx, avatar); err != nil {
			return appErrors.Internal(err, "failed to save avatar")
		}
		if err := tx.Students().AttachAvatar(ctx, studentID, avatar.ID); err != nil {
			return studentLookupError(err, studentID)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordAvatarUpload(uploadOutcome(err, written))
		if written && !existed {
			if rmErr := s.files.Delete(filePath); rmErr != nil {
				s.logger.Warn("failed to remove orphaned avatar file", zap.String("file", s.files.Path(filePath)), zap.Error(rmErr))
			}
		}
		return nil, err
	}

	if previousPath != "" && previousPath != filePath {
		removeFiles(s.files, s.logger, previousPath)
	}
	s.metrics.RecordAvatarUpload(AvatarOutcomeStored)
	s.logger.Info("avatar stored",
		zap.Int64("student_id", studentID),
		zap.String("path", filePath),
		zap.String("media_type", mediaType),
		zap.String("source_format", preview.SourceFormat),
		zap.Int("source_width", preview.SourceWidth),
		zap.Int("source_height", preview.SourceHeight),
		zap.Int("preview_width", preview.Width),
		zap.Int("preview_height", preview.Height))
	return avatar, nil
}

func uploadOutcome(err error, written bool) string {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr) && appErr.Code == appErrors.ErrStudentNotFound.Code:
		return AvatarOutcomeRejected
	case errors.As(err, &appErr) && appErr.Code == appErrors.ErrStorage.Code && !written:
		return AvatarOutcomeStorageErr
	default:
		return AvatarOutcomeDBErr
	}
}

// GetAvatar returns the original file when preferLocal is set, otherwise the stored preview.
func (s *AvatarService) GetAvatar(ctx context.Context, studentID int64, preferLocal bool) (*AvatarContent, error) {
	if _, err := s.store.Students().FindByID(ctx, studentID); err != nil {
		return nil, studentLookupError(err, studentID)
	}
	avatar, err := s.store.Avatars().FindByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetail(appErrors.ErrAvatarNotFound, "student_id", strconv.FormatInt(studentID, 10))
		}
		return nil, appErrors.Internal(err, "failed to load avatar")
	}

	if !preferLocal {
		return &AvatarContent{Data: avatar.Data, MediaType: avatar.PreviewMediaType, Length: int64(len(avatar.Data))}, nil
	}
	data, err := s.files.Read(avatar.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to read avatar file")
	}
	return &AvatarContent{Data: data, MediaType: avatar.MediaType, Length: int64(len(data))}, nil
}

// avatarMediaType prefers the sniffed type when it names an image. The declared
// type is used only when sniffing is inconclusive.
func avatarMediaType(sniffed, declared string) string {
	sniffed = baseMediaType(sniffed)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if declared = baseMediaType(declared); strings.HasPrefix(declared, "image/") {
		return declared
	}
	return sniffed
}

func baseMediaType(value string) string {
	base, _, _ := strings.Cut(value, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func avatarPath(studentID int64, filename, fallbackExt string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	if len(ext) < 2 || len(ext) > 6 || strings.ContainsAny(ext, " /") {
		ext = fallbackExt
	}
	return fmt.Sprintf("students/%d/avatar%s", studentID, ext)
}
