package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/dashgate/internal/dashboards"
	"github.com/r9s-ai/dashgate/internal/datasource"
	"github.com/r9s-ai/dashgate/internal/gate"
	"github.com/r9s-ai/dashgate/internal/requestid"
	"github.com/r9s-ai/dashgate/internal/shaper"
	"github.com/r9s-ai/dashgate/internal/version"
)

const (
	maxHookBody      = 1 << 20
	maxDashboardBody = 64 << 20
)

type itemRequest struct {
	DashboardID string               `json:"dashboard_id"`
	Item        *datasource.DataItem `json:"item"`
}

type itemResponse struct {
	Item *datasource.DataItem `json:"item"`
	// Query is CustomQuery with its arguments inlined as escaped literals,
	// for hosts that only accept a single query string.
	Query string `json:"query,omitempty"`
}

type contextView struct {
	UserID     string         `json:"user_id"`
	OrderID    string         `json:"order_id"`
	Anonymous  bool           `json:"anonymous"`
	Role       string         `json:"role"`
	Tables     []string       `json:"tables"`
	DenyAll    bool           `json:"deny_all,omitempty"`
	Connection connectionView `json:"connection"`
}

type connectionView struct {
	Host     string `json:"host"`
	Database string `json:"database"`
	Schema   string `json:"schema"`
	Port     string `json:"port"`
}

func handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

func handleContext(c *gin.Context) {
	rc := contextFrom(c)
	if rc == nil {
		writeNoContext(c)
		return
	}
	conn := rc.Connection()
	c.JSON(http.StatusOK, contextView{
		UserID:    rc.UserID(),
		OrderID:   rc.OrderID(),
		Anonymous: rc.Anonymous(),
		Role:      string(rc.Role()),
		Tables:    rc.TableFilter().Names(),
		DenyAll:   rc.TableFilter().DeniesAll(),
		Connection: connectionView{
			Host:     conn.Host,
			Database: conn.Database,
			Schema:   conn.Schema,
			Port:     conn.Port,
		},
	})
}

func handleListDashboards(c *gin.Context) {
	list, err := snapshotFrom(c).store.List(contextFrom(c))
	if err != nil {
		writeDashboardError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func handleDashboardNames(c *gin.Context) {
	names, err := snapshotFrom(c).store.Names(contextFrom(c))
	if err != nil {
		writeDashboardError(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func handleDashboardInfo(c *gin.Context) {
	info, err := snapshotFrom(c).store.Info(contextFrom(c), c.Param("id"))
	if err != nil {
		writeDashboardError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func handleGetDashboard(c *gin.Context) {
	f, err := snapshotFrom(c).store.Load(contextFrom(c), c.Param("id"))
	if err != nil {
		writeDashboardError(c, err)
		return
	}
	defer func() { _ = f.Close() }()
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", f, nil)
}

func handlePutDashboard(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxDashboardBody)
	if err := snapshotFrom(c).store.Save(contextFrom(c), c.Param("id"), body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error", "body_too_large", "dashboard body too large")
			return
		}
		writeDashboardError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleShapeDataSource(c *gin.Context) {
	var ds datasource.DataSource
	if !readJSON(c, &ds) {
		return
	}
	out, err := snapshotFrom(c).gate.ShapeDataSource(contextFrom(c), &ds)
	if err != nil {
		writeGateError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func handleShapeDataItem(c *gin.Context) {
	var req itemRequest
	if !readJSON(c, &req) {
		return
	}
	if req.Item == nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "missing_item", "item is required")
		return
	}
	c.Set(keyItemID, req.Item.ID)
	item, err := snapshotFrom(c).gate.ShapeDataItem(contextFrom(c), req.DashboardID, req.Item)
	if err != nil {
		writeGateError(c, err)
		return
	}
	query, err := shaper.InterpolatedQuery(item)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "invalid_query_args", err.Error())
		return
	}
	c.JSON(http.StatusOK, itemResponse{Item: item, Query: query})
}

func handleFilterDataSource(c *gin.Context) {
	var ds datasource.DataSource
	if !readJSON(c, &ds) {
		return
	}
	ok := snapshotFrom(c).gate.AllowSource(contextFrom(c), &ds)
	c.Set(keyAllowed, ok)
	c.JSON(http.StatusOK, gin.H{"allowed": ok})
}

func handleFilterDataItem(c *gin.Context) {
	var item datasource.DataItem
	if !readJSON(c, &item) {
		return
	}
	c.Set(keyItemID, item.ID)
	ok, err := snapshotFrom(c).gate.AllowItem(contextFrom(c), &item)
	if err != nil {
		writeGateError(c, err)
		return
	}
	c.Set(keyAllowed, ok)
	c.JSON(http.StatusOK, gin.H{"allowed": ok})
}

// handleCredential reports whether a credential is granted. The password is
// handed to the database driver in-process and never leaves the server.
func handleCredential(c *gin.Context) {
	var ds datasource.DataSource
	if !readJSON(c, &ds) {
		return
	}
	cred, ok, err := snapshotFrom(c).gate.ResolveCredential(contextFrom(c), &ds)
	if err != nil {
		writeGateError(c, err)
		return
	}
	c.Set(keyAllowed, ok)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"granted": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": true, "username": cred.Username})
}

func makeReloadHandler(st *state) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := st.Reload(); err != nil {
			st.log.Error("reload failed", map[string]any{"error": err.Error(), "source": "http"})
			writeError(c, http.StatusInternalServerError, "server_error", "reload_failed", err.Error())
			return
		}
		st.log.Info("reload ok", map[string]any{"source": "http"})
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func readJSON(c *gin.Context, dst any) bool {
	b, err := ioReadAllLimit(c.Request.Body, maxHookBody)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "invalid_body", err.Error())
		return false
	}
	if len(bytes.TrimSpace(b)) == 0 {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "invalid_json", "empty request body")
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_error", "invalid_json", err.Error())
		return false
	}
	return true
}

func writeGateError(c *gin.Context, err error) {
	if errors.Is(err, gate.ErrNoContext) {
		writeNoContext(c)
		return
	}
	writeError(c, http.StatusInternalServerError, "server_error", "internal_error", err.Error())
}

func writeNoContext(c *gin.Context) {
	writeError(c, http.StatusBadRequest, "invalid_request_error", "missing_context", gate.ErrNoContext.Error())
}

func writeDashboardError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dashboards.ErrNotFound):
		writeError(c, http.StatusNotFound, "invalid_request_error", "dashboard_not_found", err.Error())
	case errors.Is(err, dashboards.ErrInvalidID):
		writeError(c, http.StatusBadRequest, "invalid_request_error", "invalid_dashboard_id", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "server_error", "dashboard_storage_error", "dashboard storage error")
	}
}

func writeError(c *gin.Context, status int, typ, code, msg string) {
	if rid := strings.TrimSpace(c.GetString(requestid.HeaderKey)); rid != "" {
		msg = msg + " (request id: " + rid + ")"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": msg,
			"type":    typ,
			"code":    code,
		},
	})
}

func ioReadAllLimit(rc io.ReadCloser, limit int64) ([]byte, error) {
	defer func() { _ = rc.Close() }()
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, rc, limit+1); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(buf.Len()) > limit {
		return nil, errors.New("request body too large")
	}
	return buf.Bytes(), nil
}
