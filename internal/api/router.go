// Package api exposes the access stack over HTTP: generic entity CRUD
// with query filters, linkage resolution, view rendering and the meta
// endpoints describing the loaded profiles.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"shrike/internal/physical"
	"shrike/internal/profile"
	"shrike/internal/view"
)

// Deps wires the handlers to the access stack. LoadSet re-reads the
// profile documents for the admin reload endpoint.
type Deps struct {
	Phys    *physical.Interface
	Views   *view.Materializer
	LoadSet func() (*profile.Set, error)
	Log     zerolog.Logger
}

// NewRouter builds the gin engine with all routes attached.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta/entities", MetaEntitiesHandler(d))
		apiGroup.GET("/meta/entities/:entity", MetaEntityHandler(d))
		apiGroup.GET("/meta/linkages", MetaLinkagesHandler(d))
		apiGroup.GET("/meta/views", MetaViewsHandler(d))
		apiGroup.GET("/meta/frameworks", MetaFrameworksHandler(d))

		// служебные маршруты — СНАЧАЛА
		apiGroup.POST("/entities/:entity/_bulk", BulkCreateHandler(d))

		// обычные CRUD
		apiGroup.POST("/entities/:entity", CreateHandler(d))
		apiGroup.GET("/entities/:entity", ListHandler(d))
		apiGroup.GET("/entities/:entity/:id", GetOneHandler(d))
		apiGroup.PATCH("/entities/:entity/:id", PatchHandler(d))
		apiGroup.DELETE("/entities/:entity/:id", DeleteHandler(d))
		apiGroup.GET("/entities/:entity/:id/linkages/:linkage", LinkageHandler(d))

		apiGroup.GET("/views/:view", ViewHandler(d))

		apiGroup.POST("/admin/reload", ReloadHandler(d))
	}

	return r
}

// RunServer blocks serving the API on addr.
func RunServer(addr string, d Deps) error {
	return NewRouter(d).Run(addr)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("request")
	}
}
