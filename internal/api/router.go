package api

import (
	"github.com/gin-gonic/gin"
	"github.com/pcheng/pixsearch/internal/api/handler"
	"github.com/pcheng/pixsearch/internal/api/middleware"
	"github.com/pcheng/pixsearch/internal/service"
)

// RouterDeps carries everything the router needs.
type RouterDeps struct {
	SearchService *service.SearchService
	Metadata      handler.Pinger
	Vectors       handler.Pinger
	Model         handler.ReadyChecker
	CORS          middleware.CORSConfig
	Mode          string
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(deps RouterDeps) *gin.Engine {
	switch deps.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(deps.CORS))

	healthHandler := handler.NewHealthHandler(deps.Metadata, deps.Vectors, deps.Model)
	searchHandler := handler.NewSearchHandler(deps.SearchService)
	imageHandler := handler.NewImageHandler(deps.SearchService)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/search", searchHandler.ImageSearch)
		v1.POST("/search/text", searchHandler.TextSearch)

		v1.GET("/images/:id", imageHandler.GetImage)
	}

	return r
}
