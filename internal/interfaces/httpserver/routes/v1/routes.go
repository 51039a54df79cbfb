package v1

import (
	"github.com/gin-gonic/gin"

	"jan-server/services/upload-api/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

func NewRoutes(provider *handlers.Provider) *Routes {
	return &Routes{handlers: provider}
}

// Register attaches all v1 routes under /v1 prefix.
func (r *Routes) Register(router gin.IRouter) {
	group := router.Group("/v1")
	group.POST("/media/initiate", r.handlers.Upload.Initiate)
	group.GET("/media/:id", r.handlers.Upload.Status)
	group.GET("/media/:id/parts/:partNumber/url", r.handlers.Upload.PartURL)
	group.PUT("/media/:id/finalize", r.handlers.Upload.Finalize)
	group.POST("/media/:id/abort", r.handlers.Upload.Abort)
	group.GET("/media/:id/download", r.handlers.Upload.Download)
	group.POST("/media/:id/analysis", r.handlers.Analysis.Result)
}
