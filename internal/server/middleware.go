package server

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/dashgate/internal/auth"
	"github.com/r9s-ai/dashgate/internal/logx"
	"github.com/r9s-ai/dashgate/internal/requestid"
	"github.com/r9s-ai/dashgate/internal/userctx"
)

const (
	keySnapshot = "dg.snapshot"
	keyContext  = "dg.context"
	keyUserID   = "dg.user_id"
	keyRole     = "dg.role"
	keyItemID   = "dg.item_id"
	keyAllowed  = "dg.allowed"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := requestid.Sanitize(c.GetHeader(requestid.HeaderKey))
		if id == "" {
			id = requestid.Gen()
		}
		c.Header(requestid.HeaderKey, id)
		c.Set(requestid.HeaderKey, id)
		c.Next()
	}
}

func requestLoggerWithColor(l *log.Logger, color bool) gin.HandlerFunc {
	if l == nil {
		l = log.New(os.Stdout, "", log.LstdFlags)
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)

		fields := map[string]any{}
		if v := c.GetString(requestid.HeaderKey); v != "" {
			fields["request_id"] = v
		}
		if v, ok := c.Get(keyUserID); ok {
			fields["user_id"] = v
		}
		if v, ok := c.Get(keyRole); ok {
			fields["role"] = v
		}
		if v, ok := c.Get(keyItemID); ok {
			fields["item_id"] = v
		}
		if v, ok := c.Get(keyAllowed); ok {
			fields["allowed"] = v
		}
		fields["latency_ms"] = latency.Milliseconds()

		l.Println(logx.FormatRequestLineWithColor(time.Now(), status, latency, c.ClientIP(), c.Request.Method, c.Request.URL.Path, fields, color))
	}
}

// contextMiddleware takes one runtime snapshot and resolves the user context
// once per request.
func contextMiddleware(st *state) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := st.Snapshot()
		rc := snap.gate.ResolveContext(c.Request.Header)
		c.Set(keySnapshot, snap)
		c.Set(keyContext, rc)
		c.Set(keyUserID, rc.UserID())
		c.Set(keyRole, string(rc.Role()))
		c.Request = c.Request.WithContext(userctx.WithContext(c.Request.Context(), rc))
		c.Next()
	}
}

// adminMiddleware reads the key from the current snapshot so a reload can
// rotate it.
func adminMiddleware(st *state) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth.Middleware(st.Snapshot().cfg.Auth.AdminAPIKey)(c)
	}
}

// corsMiddleware allows any origin. The context header is listed so a
// browser-hosted viewer can send the identity on cross-origin hook calls.
func corsMiddleware(contextHeader string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:    []string{contextHeader, "Content-Type", "Authorization", auth.APIKeyHeader, requestid.HeaderKey},
		ExposeHeaders:   []string{requestid.HeaderKey},
		MaxAge:          12 * time.Hour,
	})
}

func snapshotFrom(c *gin.Context) snapshot {
	v, _ := c.Get(keySnapshot)
	snap, _ := v.(snapshot)
	return snap
}

func contextFrom(c *gin.Context) *userctx.Context {
	v, _ := c.Get(keyContext)
	rc, _ := v.(*userctx.Context)
	return rc
}
