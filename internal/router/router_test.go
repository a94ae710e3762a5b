package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/roster-api/internal/handler"
	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/internal/repository/memory"
	"github.com/noah-isme/roster-api/internal/service"
	"github.com/noah-isme/roster-api/pkg/config"
	"github.com/noah-isme/roster-api/pkg/imaging"
	"github.com/noah-isme/roster-api/pkg/storage"
	"github.com/noah-isme/roster-api/pkg/validation"
)

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	store := memory.NewStore()
	logr := zap.NewNop()
	metrics := service.NewMetricsService()
	validator := validation.New()
	reconciler := service.NewReconciler(store, logr)

	handlers := &Handlers{
		Faculty: handler.NewFacultyHandler(service.NewFacultyService(store, reconciler, nil, files, validator, logr)),
		Student: handler.NewStudentHandler(service.NewStudentService(store, reconciler, nil, files, validator, logr)),
		Avatar:  handler.NewAvatarHandler(service.NewAvatarService(store, files, imaging.NewCodec(100), metrics, service.AvatarConfig{}, logr), 0),
		Admin:   handler.NewAdminHandler(reconciler),
		Metrics: handler.NewMetricsHandler(metrics, nil),
	}
	cfg := &config.Config{Env: "test", APIPrefix: "/api/v1"}
	return New(cfg, logr, metrics, handlers)
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRosterRoutes(t *testing.T) {
	r := newTestEngine(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/faculties", map[string]string{"name": "Gryffindor", "color": "RED"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data models.Faculty `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	facultyID := created.Data.ID

	w = doJSON(t, r, http.MethodPost, "/api/v1/students", map[string]interface{}{"name": "Harry", "age": 17, "faculty_id": facultyID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var student struct {
		Data models.Student `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &student))

	w = doJSON(t, r, http.MethodGet, "/api/v1/faculties/"+strconv.FormatInt(facultyID, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"students":[`+strconv.FormatInt(student.Data.ID, 10)+`]`)

	w = doJSON(t, r, http.MethodGet, "/api/v1/students/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), `"cache_hit":false`)

	w = doJSON(t, r, http.MethodGet, "/api/v1/students/by-age?age=20&upTo=16", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Harry")

	w = doJSON(t, r, http.MethodDelete, "/api/v1/faculties/"+strconv.FormatInt(facultyID, 10), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/admin/consistency", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"consistent":true`)

	w = doJSON(t, r, http.MethodGet, "/api/v1/students/"+strconv.FormatInt(student.Data.ID, 10)+"/avatar", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "AVATAR_NOT_FOUND")

	w = doJSON(t, r, http.MethodGet, "/api/v1/students/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStudentListHugePage(t *testing.T) {
	r := newTestEngine(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/faculties", map[string]string{"name": "Hufflepuff", "color": "YELLOW"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data models.Faculty `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	w = doJSON(t, r, http.MethodPost, "/api/v1/students", map[string]interface{}{"name": "Cedric", "age": 17, "faculty_id": created.Data.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/v1/students?page=4611686018427387904&limit=20", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"data":[]`)
	assert.Contains(t, w.Body.String(), `"total_count":1`)
}

func TestOpsRoutes(t *testing.T) {
	r := newTestEngine(t)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	doJSON(t, r, http.MethodGet, "/api/v1/faculties", nil)
	w = doJSON(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `path="/api/v1/faculties"`)
}
