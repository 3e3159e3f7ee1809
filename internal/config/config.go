package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/r9s-ai/dashgate/internal/secrets"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type Config struct {
	Server struct {
		Listen         string `yaml:"listen"`
		ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
		WriteTimeoutMs int    `yaml:"write_timeout_ms"`
		PidFile        string `yaml:"pid_file"`
		// MaxConns caps concurrently accepted connections. 0 means unlimited.
		MaxConns int   `yaml:"max_conns"`
		CORS     *bool `yaml:"cors"`
		// WatchConfig reloads the runtime when the config file changes on disk.
		WatchConfig bool `yaml:"watch_config"`
	} `yaml:"server"`

	Auth struct {
		// AdminAPIKey guards dashboard writes and /admin/reload. Empty leaves them open.
		AdminAPIKey string `yaml:"admin_api_key"`
	} `yaml:"auth"`

	Context struct {
		// Header carries the "key:value,key:value" identity list.
		Header string `yaml:"header"`
	} `yaml:"context"`

	MySQL MySQL `yaml:"mysql"`

	Policy Policy `yaml:"policy"`

	// Items maps a data item id to the query or procedure it is rewritten to.
	Items map[string]ItemRule `yaml:"items"`

	Dashboards struct {
		Dir     string `yaml:"dir"`
		PerUser bool   `yaml:"per_user"`
	} `yaml:"dashboards"`

	Logging struct {
		Level         string `yaml:"level"`
		AccessLog     *bool  `yaml:"access_log"`
		AccessLogPath string `yaml:"access_log_path"`
	} `yaml:"logging"`
}

// MySQL holds the server-side connection parameters. Values are kept as
// strings and may be empty; nothing downstream treats an empty value as fatal.
type MySQL struct {
	Host     string `yaml:"host"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`
	Port     string `yaml:"port"`
}

// LogFields omits the password.
func (m MySQL) LogFields() map[string]any {
	return map[string]any{
		"host":     m.Host,
		"database": m.Database,
		"username": m.Username,
		"schema":   m.Schema,
		"port":     m.Port,
	}
}

type Policy struct {
	AdminUserIDs []string `yaml:"admin_user_ids"`
	// AnonymousRole applies when the request carries no user id.
	AnonymousRole string `yaml:"anonymous_role"`
	// Tables is the per-role allow-list of tables and procedures. An empty
	// list means the role is unrestricted.
	Tables             map[string][]string `yaml:"tables"`
	AllowedDatabases   []string            `yaml:"allowed_databases"`
	FallbackCredential struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"fallback_credential"`
}

type ItemRule struct {
	Query     string            `yaml:"query"`
	Args      []string          `yaml:"args"`
	Procedure string            `yaml:"procedure"`
	Params    map[string]string `yaml:"params"`
}

func Load(path string) (*Config, error) {
	// #nosec G304 -- config path comes from trusted flag.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// LoadOrDefault behaves like Load but falls back to defaults plus environment
// overrides when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return Parse(nil)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := revealSecrets(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) CORSEnabled() bool {
	return c.Server.CORS == nil || *c.Server.CORS
}

func (c *Config) AccessLogEnabled() bool {
	return c.Logging.AccessLog == nil || *c.Logging.AccessLog
}

func DefaultItems() map[string]ItemRule {
	return map[string]ItemRule{
		"customer_orders": {
			Query: "SELECT * FROM northwind.customer_orders",
		},
		"customer_orders_details": {
			Query: "SELECT * FROM northwind.customer_orders_details WHERE customer_id = ?",
			Args:  []string{"user_id"},
		},
		"sp_customer_orders": {
			Procedure: "sp_customer_orders",
			Params:    map[string]string{"customer": "user_id"},
		},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":5111"
	}
	if cfg.Server.ReadTimeoutMs <= 0 {
		cfg.Server.ReadTimeoutMs = 30000
	}
	if cfg.Server.WriteTimeoutMs <= 0 {
		cfg.Server.WriteTimeoutMs = 30000
	}
	if strings.TrimSpace(cfg.Context.Header) == "" {
		cfg.Context.Header = "x-header-one"
	}
	if cfg.Policy.AdminUserIDs == nil {
		cfg.Policy.AdminUserIDs = []string{"11"}
	}
	if strings.TrimSpace(cfg.Policy.AnonymousRole) == "" {
		cfg.Policy.AnonymousRole = RoleAdmin
	}
	if cfg.Policy.Tables == nil {
		cfg.Policy.Tables = map[string][]string{
			RoleAdmin: {},
			RoleUser:  {"customers", "orders", "order_details"},
		}
	}
	if cfg.Policy.AllowedDatabases == nil {
		cfg.Policy.AllowedDatabases = []string{"northwind"}
	}
	if strings.TrimSpace(cfg.Policy.FallbackCredential.Username) == "" &&
		strings.TrimSpace(cfg.Policy.FallbackCredential.Password) == "" {
		cfg.Policy.FallbackCredential.Username = "demouser"
		cfg.Policy.FallbackCredential.Password = "demopass"
	}
	if cfg.Items == nil {
		cfg.Items = DefaultItems()
	}
	if strings.TrimSpace(cfg.Dashboards.Dir) == "" {
		cfg.Dashboards.Dir = "./dashboards"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	envString("DASHGATE_LISTEN", &cfg.Server.Listen)
	envString("DASHGATE_PID_FILE", &cfg.Server.PidFile)
	envString("DASHGATE_CONTEXT_HEADER", &cfg.Context.Header)
	envString("DASHGATE_ANONYMOUS_ROLE", &cfg.Policy.AnonymousRole)
	envString("DASHGATE_DASHBOARDS_DIR", &cfg.Dashboards.Dir)
	envString("DASHGATE_LOG_LEVEL", &cfg.Logging.Level)
	envString("DASHGATE_ACCESS_LOG_PATH", &cfg.Logging.AccessLogPath)
	envString("DASHGATE_ADMIN_API_KEY", &cfg.Auth.AdminAPIKey)
	if v := strings.TrimSpace(os.Getenv("DASHGATE_MAX_CONNS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.MaxConns = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DASHGATE_READ_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.ReadTimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DASHGATE_WRITE_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.WriteTimeoutMs = n
		}
	}
	cfg.Server.WatchConfig = envBool("DASHGATE_WATCH_CONFIG", cfg.Server.WatchConfig)
	cfg.Dashboards.PerUser = envBool("DASHGATE_DASHBOARDS_PER_USER", cfg.Dashboards.PerUser)

	envString("MYSQL_HOST", &cfg.MySQL.Host)
	envString("MYSQL_DATABASE", &cfg.MySQL.Database)
	envString("MYSQL_USERNAME", &cfg.MySQL.Username)
	envString("MYSQL_PASSWORD", &cfg.MySQL.Password)
	envString("MYSQL_SCHEMA", &cfg.MySQL.Schema)
	envString("MYSQL_PORT", &cfg.MySQL.Port)
}

func normalize(cfg *Config) {
	cfg.Context.Header = strings.ToLower(strings.TrimSpace(cfg.Context.Header))
	cfg.Policy.AnonymousRole = strings.ToLower(strings.TrimSpace(cfg.Policy.AnonymousRole))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.MySQL.Host = strings.TrimSpace(cfg.MySQL.Host)
	cfg.MySQL.Database = strings.TrimSpace(cfg.MySQL.Database)
	cfg.MySQL.Schema = strings.TrimSpace(cfg.MySQL.Schema)
	cfg.MySQL.Port = strings.TrimSpace(cfg.MySQL.Port)

	tables := make(map[string][]string, len(cfg.Policy.Tables))
	for role, names := range cfg.Policy.Tables {
		tables[strings.ToLower(strings.TrimSpace(role))] = names
	}
	cfg.Policy.Tables = tables
}

// revealSecrets decrypts ENC[...] values in place.
func revealSecrets(cfg *Config) error {
	fields := []struct {
		name string
		dst  *string
	}{
		{"mysql.password", &cfg.MySQL.Password},
		{"policy.fallback_credential.password", &cfg.Policy.FallbackCredential.Password},
		{"auth.admin_api_key", &cfg.Auth.AdminAPIKey},
	}
	for _, f := range fields {
		v, err := secrets.Reveal(*f.dst)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return nil
}

func validate(cfg *Config) error {
	if !validRole(cfg.Policy.AnonymousRole) {
		return fmt.Errorf("policy.anonymous_role must be %q or %q, got %q", RoleAdmin, RoleUser, cfg.Policy.AnonymousRole)
	}
	for role := range cfg.Policy.Tables {
		if !validRole(role) {
			return fmt.Errorf("policy.tables: unknown role %q", role)
		}
	}
	// A missing entry would read as "unrestricted", so both roles must be spelled out.
	for _, role := range []string{RoleAdmin, RoleUser} {
		if _, ok := cfg.Policy.Tables[role]; !ok {
			return fmt.Errorf("policy.tables: missing entry for role %q", role)
		}
	}
	if cfg.Server.MaxConns < 0 {
		return errors.New("server.max_conns must be non-negative")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", cfg.Logging.Level)
	}
	for id, rule := range cfg.Items {
		if strings.TrimSpace(id) == "" {
			return errors.New("items: empty item id")
		}
		hasQuery := strings.TrimSpace(rule.Query) != ""
		hasProc := strings.TrimSpace(rule.Procedure) != ""
		if hasQuery == hasProc {
			return fmt.Errorf("items.%s: exactly one of query or procedure is required", id)
		}
	}
	return nil
}

func validRole(s string) bool {
	return s == RoleAdmin || s == RoleUser
}

func envString(name string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
