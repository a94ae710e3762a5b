package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/internal/service"
	appErrors "github.com/noah-isme/roster-api/pkg/errors"
	"github.com/noah-isme/roster-api/pkg/response"
	"github.com/noah-isme/roster-api/pkg/validation"
)

type avatarService interface {
	SetAvatar(ctx context.Context, studentID int64, upload service.AvatarUpload) (*models.Avatar, error)
	GetAvatar(ctx context.Context, studentID int64, preferLocal bool) (*service.AvatarContent, error)
}

// AvatarHandler uploads and serves student avatars.
type AvatarHandler struct {
	avatars  avatarService
	maxBytes int64
}

// NewAvatarHandler constructs AvatarHandler. Reads of the multipart file stop one byte past maxBytes.
func NewAvatarHandler(avatars avatarService, maxBytes int64) *AvatarHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &AvatarHandler{avatars: avatars, maxBytes: maxBytes}
}

// Upload godoc
// @Summary Set student avatar
// @Description Stores the original on disk and a preview in the database, replacing any previous avatar.
// @Tags Avatars
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Student ID"
// @Param file formData file true "Image file"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id}/avatar [post]
func (h *AvatarHandler) Upload(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, validation.Field("file", "file is required", "invalid upload"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to open upload"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to read upload"))
		return
	}

	avatar, err := h.avatars.SetAvatar(c.Request.Context(), id, service.AvatarUpload{
		Filename:  header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Content:   content,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, avatar, nil)
}

// Original godoc
// @Summary Download original avatar
// @Description Serves the original file from disk. A row whose file is missing yields STORAGE_UNAVAILABLE.
// @Tags Avatars
// @Produce image/png
// @Produce image/jpeg
// @Param id path int true "Student ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /students/{id}/avatar [get]
func (h *AvatarHandler) Original(c *gin.Context) {
	h.serve(c, true)
}

// Preview godoc
// @Summary Download avatar preview
// @Tags Avatars
// @Produce image/png
// @Produce image/jpeg
// @Param id path int true "Student ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/avatar/preview [get]
func (h *AvatarHandler) Preview(c *gin.Context) {
	h.serve(c, false)
}

func (h *AvatarHandler) serve(c *gin.Context, preferLocal bool) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	content, err := h.avatars.GetAvatar(c.Request.Context(), id, preferLocal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, "", content.MediaType, content.Data)
}
