package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/internal/service"
	"github.com/noah-isme/roster-api/pkg/export"
	"github.com/noah-isme/roster-api/pkg/response"
	"github.com/noah-isme/roster-api/pkg/validation"
)

type facultyService interface {
	List(ctx context.Context, filter models.FacultyFilter) ([]models.Faculty, error)
	Get(ctx context.Context, id int64) (*models.Faculty, error)
	Students(ctx context.Context, id int64) ([]models.Student, error)
	Create(ctx context.Context, req service.FacultyRequest) (*models.Faculty, error)
	Update(ctx context.Context, id int64, req service.FacultyRequest) (*models.Faculty, error)
	Delete(ctx context.Context, id int64, cascade bool) error
	Roster(ctx context.Context, id int64, format export.Format) (*service.RosterDocument, error)
}

// FacultyHandler exposes faculty endpoints.
type FacultyHandler struct {
	faculties facultyService
}

// NewFacultyHandler constructs FacultyHandler.
func NewFacultyHandler(faculties facultyService) *FacultyHandler {
	return &FacultyHandler{faculties: faculties}
}

// List godoc
// @Summary List faculties
// @Description Faculties whose name (case-insensitive) or colour matches; all when no filter is given.
// @Tags Faculties
// @Produce json
// @Param name query string false "Faculty name"
// @Param color query string false "RED, GREEN, BLUE or YELLOW"
// @Success 200 {object} response.Envelope
// @Router /faculties [get]
func (h *FacultyHandler) List(c *gin.Context) {
	filter := models.FacultyFilter{Name: strings.TrimSpace(c.Query("name"))}
	if raw := c.Query("color"); raw != "" {
		color, ok := models.ParseFacultyColor(raw)
		if !ok {
			response.Error(c, validation.Field("color", "color must be one of RED GREEN BLUE YELLOW", "invalid query parameter"))
			return
		}
		filter.Color = color
	}
	faculties, err := h.faculties.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, faculties, nil)
}

// Get godoc
// @Summary Get faculty
// @Tags Faculties
// @Produce json
// @Param id path int true "Faculty ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /faculties/{id} [get]
func (h *FacultyHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	faculty, err := h.faculties.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, faculty, nil)
}

// Students godoc
// @Summary List students of a faculty in enrollment order
// @Tags Faculties
// @Produce json
// @Param id path int true "Faculty ID"
// @Success 200 {object} response.Envelope
// @Router /faculties/{id}/students [get]
func (h *FacultyHandler) Students(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	students, err := h.faculties.Students(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// Create godoc
// @Summary Create faculty
// @Tags Faculties
// @Accept json
// @Produce json
// @Param payload body service.FacultyRequest true "Faculty payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /faculties [post]
func (h *FacultyHandler) Create(c *gin.Context) {
	var req service.FacultyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	faculty, err := h.faculties.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, faculty)
}

// Update godoc
// @Summary Replace faculty name and colour
// @Tags Faculties
// @Accept json
// @Produce json
// @Param id path int true "Faculty ID"
// @Param payload body service.FacultyRequest true "Faculty payload"
// @Success 200 {object} response.Envelope
// @Router /faculties/{id} [put]
func (h *FacultyHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.FacultyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	faculty, err := h.faculties.Update(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, faculty, nil)
}

// Delete godoc
// @Summary Delete faculty
// @Description Rejected with FACULTY_NOT_EMPTY while students remain, unless cascade=true withdraws them.
// @Tags Faculties
// @Param id path int true "Faculty ID"
// @Param cascade query bool false "Withdraw enrolled students"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /faculties/{id} [delete]
func (h *FacultyHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	cascade := strings.EqualFold(c.Query("cascade"), "true")
	if err := h.faculties.Delete(c.Request.Context(), id, cascade); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Roster godoc
// @Summary Export faculty roster
// @Tags Faculties
// @Produce text/csv
// @Produce application/pdf
// @Param id path int true "Faculty ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /faculties/{id}/roster [get]
func (h *FacultyHandler) Roster(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	format, ok := export.ParseFormat(c.Query("format"))
	if !ok {
		response.Error(c, validation.Field("format", "format must be csv or pdf", "invalid query parameter"))
		return
	}
	doc, err := h.faculties.Roster(c.Request.Context(), id, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, doc.Filename, doc.ContentType, doc.Data)
}
