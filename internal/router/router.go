package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/roster-api/api/swagger"
	"github.com/noah-isme/roster-api/internal/handler"
	"github.com/noah-isme/roster-api/internal/middleware"
	"github.com/noah-isme/roster-api/internal/service"
	"github.com/noah-isme/roster-api/pkg/config"
	"github.com/noah-isme/roster-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/roster-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/roster-api/pkg/middleware/requestid"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Faculty *handler.FacultyHandler
	Student *handler.StudentHandler
	Avatar  *handler.AvatarHandler
	Admin   *handler.AdminHandler
	Metrics *handler.MetricsHandler
}

// New builds the gin engine with middleware and every route registered.
func New(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, h *Handlers) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	faculties := api.Group("/faculties")
	faculties.GET("", h.Faculty.List)
	faculties.POST("", h.Faculty.Create)
	faculties.GET("/:id", h.Faculty.Get)
	faculties.PUT("/:id", h.Faculty.Update)
	faculties.DELETE("/:id", h.Faculty.Delete)
	faculties.GET("/:id/students", h.Faculty.Students)
	faculties.GET("/:id/roster", h.Faculty.Roster)

	students := api.Group("/students")
	students.GET("", h.Student.List)
	students.POST("", h.Student.Create)
	students.GET("/by-age", h.Student.ByAge)
	students.GET("/stats", h.Student.Stats)
	students.GET("/:id", h.Student.Get)
	students.PUT("/:id", h.Student.Update)
	students.DELETE("/:id", h.Student.Delete)
	students.GET("/:id/faculty", h.Student.Faculty)
	students.POST("/:id/avatar", h.Avatar.Upload)
	students.GET("/:id/avatar", h.Avatar.Original)
	students.GET("/:id/avatar/preview", h.Avatar.Preview)

	admin := api.Group("/admin")
	admin.GET("/consistency", h.Admin.Consistency)

	return r
}
