package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/r9s-ai/dashgate/internal/config"
	"github.com/r9s-ai/dashgate/internal/logx"
	"github.com/r9s-ai/dashgate/internal/requestid"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MYSQL_HOST", "MYSQL_DATABASE", "MYSQL_USERNAME", "MYSQL_PASSWORD", "MYSQL_SCHEMA", "MYSQL_PORT",
		"DASHGATE_LISTEN", "DASHGATE_CONTEXT_HEADER", "DASHGATE_ANONYMOUS_ROLE", "DASHGATE_LOG_LEVEL",
		"DASHGATE_DASHBOARDS_DIR", "DASHGATE_DASHBOARDS_PER_USER", "DASHGATE_ADMIN_API_KEY",
		"DASHGATE_MASTER_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "dashgate.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func baseConfig(dashDir, extra string) string {
	return `
mysql:
  host: db.internal
  database: northwind
  username: app
  password: hunter2
dashboards:
  dir: ` + dashDir + `
logging:
  access_log: false
` + extra
}

func newTestServer(t *testing.T, extra string) (*gin.Engine, *state, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clearEnv(t)
	dir := t.TempDir()
	dashDir := filepath.Join(dir, "dashboards")
	path := writeConfig(t, dir, baseConfig(dashDir, extra))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	st, err := newState(path, cfg, logx.Discard())
	require.NoError(t, err)
	return NewRouter(st, nil, false), st, path
}

func do(r http.Handler, method, path, identity, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if identity != "" {
		req.Header.Set("x-header-one", identity)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthzAndRequestID(t *testing.T) {
	r, _, _ := newTestServer(t, "")
	w := do(r, http.MethodGet, "/healthz", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(requestid.HeaderKey))

	w = do(r, http.MethodGet, "/healthz", "", "", map[string]string{requestid.HeaderKey: "rid-1"})
	require.Equal(t, "rid-1", w.Header().Get(requestid.HeaderKey))
}

func TestContextEndpointIsRedacted(t *testing.T) {
	r, _, _ := newTestServer(t, "")
	w := do(r, http.MethodGet, "/context", "userId:42,orderId:10248", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "hunter2")
	require.NotContains(t, w.Body.String(), "app")

	out := decode(t, w)
	require.Equal(t, "42", out["user_id"])
	require.Equal(t, "10248", out["order_id"])
	require.Equal(t, "User", out["role"])
	require.Equal(t, []any{"customers", "order_details", "orders"}, out["tables"])

	out = decode(t, do(r, http.MethodGet, "/context", "", "", nil))
	require.Equal(t, "Admin", out["role"])
	require.Equal(t, true, out["anonymous"])
}

func TestShapeDataSourceHook(t *testing.T) {
	r, _, _ := newTestServer(t, "")
	w := do(r, http.MethodPost, "/hooks/datasource", "userId:42", `{"id":"ds1","type":"mysql","host":"evil","database":"other_db"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	require.Equal(t, "db.internal", out["host"])
	require.Equal(t, "northwind", out["database"])
	require.Equal(t, "mysql", out["type"])

	w = do(r, http.MethodPost, "/hooks/datasource", "userId:42", `{"type":"sqlserver","host":"h"}`, nil)
	require.Equal(t, "h", decode(t, w)["host"])
}

func TestShapeDataItemHook(t *testing.T) {
	r, _, _ := newTestServer(t, "")
	body := `{"dashboard_id":"Sales","item":{"id":"customer_orders_details","data_source":{"type":"mysql"}}}`
	w := do(r, http.MethodPost, "/hooks/datasource-item", "userId:42", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	require.Contains(t, out["query"], "customer_id = '42'")
	item := out["item"].(map[string]any)
	require.Equal(t, "SELECT * FROM northwind.customer_orders_details WHERE customer_id = ?", item["custom_query"])
	require.Equal(t, []any{"42"}, item["query_args"])
	require.Equal(t, "northwind", item["data_source"].(map[string]any)["database"])
}

func TestShapeDataItemHook_BadRequests(t *testing.T) {
	r, _, _ := newTestServer(t, "")
	cases := map[string]string{
		"empty":        "",
		"invalid_json": "{",
		"missing_item": `{"dashboard_id":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/hooks/datasource-item", "userId:42", body, nil)
			require.Equal(t, http.StatusBadRequest, w.Code)
			errObj := decode(t, w)["error"].(map[string]any)
			require.Equal(t, "invalid_request_error", errObj["type"])
			require.Contains(t, errObj["message"], "request id:")
		})
	}
}

func TestShapeDataItemHook_ProcedureDropsClientQuery(t *testing.T) {
	r, _, _ := newTestServer(t, "")
	body := `{"dashboard_id":"Sales","item":{"id":"sp_customer_orders","custom_query":"SELECT * FROM northwind.salaries","data_source":{"type":"mysql"}}}`
	w := do(r, http.MethodPost, "/hooks/datasource-item", "userId:42", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	require.NotContains(t, out, "query")
	item := out["item"].(map[string]any)
	require.NotContains(t, item, "custom_query")
	require.Equal(t, "sp_customer_orders", item["procedure"])
}

func TestFilterHooks(t *testing.T) {
	r, _, _ := newTestServer(t, "")

	out := decode(t, do(r, http.MethodPost, "/hooks/filter/datasource", "userId:42", `{"type":"mysql","database":"other_db"}`, nil))
	require.Equal(t, false, out["allowed"])
	out = decode(t, do(r, http.MethodPost, "/hooks/filter/datasource", "userId:42", `{"type":"mysql","database":"northwind"}`, nil))
	require.Equal(t, true, out["allowed"])

	item := `{"id":"x","table":"employees","data_source":{"type":"mysql"}}`
	out = decode(t, do(r, http.MethodPost, "/hooks/filter/datasource-item", "userId:42", item, nil))
	require.Equal(t, false, out["allowed"])
	out = decode(t, do(r, http.MethodPost, "/hooks/filter/datasource-item", "userId:11", item, nil))
	require.Equal(t, true, out["allowed"])
	out = decode(t, do(r, http.MethodPost, "/hooks/filter/datasource-item", "userId:42", `{"table":"Orders","data_source":{"type":"mysql"}}`, nil))
	require.Equal(t, true, out["allowed"])
}

func TestCredentialHookNeverReturnsPassword(t *testing.T) {
	r, _, _ := newTestServer(t, "")
	w := do(r, http.MethodPost, "/hooks/credential", "userId:42", `{"type":"mysql"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "hunter2")
	out := decode(t, w)
	require.Equal(t, true, out["granted"])
	require.Equal(t, "app", out["username"])

	out = decode(t, do(r, http.MethodPost, "/hooks/credential", "userId:42", `{"type":"rest"}`, nil))
	require.Equal(t, false, out["granted"])
	require.NotContains(t, out, "username")
}

func TestDashboardRoutes(t *testing.T) {
	r, _, _ := newTestServer(t, "")

	w := do(r, http.MethodGet, "/dashboards/Sales", "", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPut, "/dashboards/Sales", "", "rdash-bytes", nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/dashboards/Sales", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "rdash-bytes", w.Body.String())

	w = do(r, http.MethodGet, "/dashboards", "", "", nil)
	require.JSONEq(t, `[{"name":"Sales"}]`, w.Body.String())

	w = do(r, http.MethodGet, "/dashboards/names", "", "", nil)
	require.JSONEq(t, `[{"dashboardFileName":"Sales","dashboardTitle":"Sales"}]`, w.Body.String())

	w = do(r, http.MethodGet, "/dashboards/Sales/thumbnail", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"dashboardFileName":"Sales","dashboardTitle":"Sales"}`, w.Body.String())

	w = do(r, http.MethodGet, "/dashboards/Missing/thumbnail", "", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/dashboards/..", "", "", nil)
	require.NotEqual(t, http.StatusOK, w.Code)
}

func TestAdminKeyGuardsWrites(t *testing.T) {
	r, _, _ := newTestServer(t, "auth:\n  admin_api_key: k-1\n")

	w := do(r, http.MethodPut, "/dashboards/Sales", "", "x", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPut, "/dashboards/Sales", "", "x", map[string]string{"Authorization": "Bearer k-1"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodPost, "/admin/reload", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(r, http.MethodPost, "/admin/reload", "", "", map[string]string{"x-api-key": "k-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestReloadSwapsPolicy(t *testing.T) {
	r, st, path := newTestServer(t, "")
	out := decode(t, do(r, http.MethodGet, "/context", "", "", nil))
	require.Equal(t, "Admin", out["role"])

	dashDir := st.Snapshot().cfg.Dashboards.Dir
	require.NoError(t, os.WriteFile(path, []byte(baseConfig(dashDir, "policy:\n  anonymous_role: user\n")), 0o600))
	w := do(r, http.MethodPost, "/admin/reload", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out = decode(t, do(r, http.MethodGet, "/context", "", "", nil))
	require.Equal(t, "User", out["role"])
}

func TestReloadFailureKeepsPreviousRuntime(t *testing.T) {
	r, st, path := newTestServer(t, "")
	before := st.Snapshot().gate

	require.NoError(t, os.WriteFile(path, []byte("policy:\n  anonymous_role: root\n"), 0o600))
	w := do(r, http.MethodPost, "/admin/reload", "", "", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Same(t, before, st.Snapshot().gate)
}

func TestCORSPreflight(t *testing.T) {
	r, _, _ := newTestServer(t, "context:\n  header: x-header-one\n")
	w := do(r, http.MethodOptions, "/hooks/datasource", "", "", map[string]string{
		"Origin":                         "http://viewer.local",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "x-header-one, content-type",
	})
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	allowed := w.Header().Get("Access-Control-Allow-Headers")
	require.Contains(t, allowed, "X-Header-One")
	require.Contains(t, allowed, "Content-Type")
	require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")

	w = do(r, http.MethodGet, "/healthz", "", "", map[string]string{"Origin": "http://viewer.local"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")


	r2, _, _ := newTestServer(t, "server:\n  cors: false\n")
	w = do(r2, http.MethodGet, "/healthz", "", "", map[string]string{"Origin": "http://viewer.local"})
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestIsConfigChange(t *testing.T) {
	p := filepath.Join(t.TempDir(), "dashgate.yaml")
	require.True(t, isConfigChange(fsnotify.Event{Name: p, Op: fsnotify.Write}, p))
	require.True(t, isConfigChange(fsnotify.Event{Name: p, Op: fsnotify.Create}, p))
	require.False(t, isConfigChange(fsnotify.Event{Name: p, Op: fsnotify.Chmod}, p))
	require.False(t, isConfigChange(fsnotify.Event{Name: p + ".swp", Op: fsnotify.Write}, p))
}
