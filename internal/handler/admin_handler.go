package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/pkg/response"
)

type consistencyChecker interface {
	Check(ctx context.Context) (*models.ConsistencyReport, error)
}

// AdminHandler exposes maintenance endpoints.
type AdminHandler struct {
	checker consistencyChecker
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(checker consistencyChecker) *AdminHandler {
	return &AdminHandler{checker: checker}
}

// Consistency godoc
// @Summary Verify faculty and student membership agree
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/consistency [get]
func (h *AdminHandler) Consistency(c *gin.Context) {
	report, err := h.checker.Check(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil, map[string]interface{}{"consistent": report.Consistent()})
}
