package server

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

func NewRouter(st *state, accessLogger *log.Logger, accessColor bool) *gin.Engine {
	cfg := st.Snapshot().cfg

	r := gin.New()
	r.Use(requestIDMiddleware())
	if cfg.AccessLogEnabled() {
		r.Use(requestLoggerWithColor(accessLogger, accessColor))
	}
	r.Use(gin.Recovery())
	if cfg.CORSEnabled() {
		r.Use(corsMiddleware(cfg.Context.Header))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "started_at": st.StartedAtUnix()})
	})
	r.GET("/version", handleVersion)

	admin := r.Group("/admin")
	admin.Use(adminMiddleware(st))
	admin.POST("/reload", makeReloadHandler(st))

	scoped := r.Group("/")
	scoped.Use(contextMiddleware(st))

	scoped.GET("/context", handleContext)

	scoped.GET("/dashboards", handleListDashboards)
	scoped.GET("/dashboards/names", handleDashboardNames)
	scoped.GET("/dashboards/:id", handleGetDashboard)
	scoped.GET("/dashboards/:id/thumbnail", handleDashboardInfo)
	scoped.PUT("/dashboards/:id", adminMiddleware(st), handlePutDashboard)

	hooks := scoped.Group("/hooks")
	hooks.POST("/datasource", handleShapeDataSource)
	hooks.POST("/datasource-item", handleShapeDataItem)
	hooks.POST("/filter/datasource", handleFilterDataSource)
	hooks.POST("/filter/datasource-item", handleFilterDataItem)
	hooks.POST("/credential", handleCredential)

	return r
}
