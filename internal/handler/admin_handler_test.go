package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/internal/service"
)

type checkerMock struct {
	report *models.ConsistencyReport
}

func (m checkerMock) Check(ctx context.Context) (*models.ConsistencyReport, error) {
	return m.report, nil
}

func TestAdminHandlerConsistency(t *testing.T) {
	report := &models.ConsistencyReport{
		Students:  1,
		Faculties: 1,
		Issues:    []models.ConsistencyIssue{{Kind: models.IssueMissingMembership, StudentID: 1, FacultyID: 1}},
	}
	handler := NewAdminHandler(checkerMock{report: report})

	c, w := newTestContext(http.MethodGet, "/admin/consistency", nil)
	handler.Consistency(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data models.ConsistencyReport `json:"data"`
		Meta map[string]interface{}  `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data.Issues, 1)
	assert.Equal(t, false, envelope.Meta["consistent"])
}

func TestMetricsHandlerReady(t *testing.T) {
	handler := NewMetricsHandler(service.NewMetricsService(), map[string]PingFunc{
		"database": func(ctx context.Context) error { return nil },
	})

	c, w := newTestContext(http.MethodGet, "/ready", nil)
	handler.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)

	handler = NewMetricsHandler(nil, map[string]PingFunc{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	c, w = newTestContext(http.MethodGet, "/ready", nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	c, w = newTestContext(http.MethodGet, "/metrics", nil)
	handler.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, c.Writer.Status())
}
