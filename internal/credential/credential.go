package credential

import (
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/r9s-ai/dashgate/internal/datasource"
	"github.com/r9s-ai/dashgate/internal/logx"
	"github.com/r9s-ai/dashgate/internal/userctx"
)

const defaultMySQLPort = "3306"

type Credential struct {
	Username string
	Password string
}

// String never includes the password.
func (c Credential) String() string {
	if c.Password == "" {
		return c.Username + ":<not set>"
	}
	return c.Username + ":********"
}

func (c Credential) GoString() string { return c.String() }

type Resolver struct {
	fallback Credential
	log      *logx.Logger
}

// NewResolver returns a resolver that hands out fallback when the context
// carries no complete username/password pair.
func NewResolver(fallback Credential, logger *logx.Logger) *Resolver {
	return &Resolver{fallback: fallback, log: logger}
}

// Resolve returns the credential for ds. ok=false means access is denied,
// which is an outcome rather than an error.
func (r *Resolver) Resolve(rc *userctx.Context, ds *datasource.DataSource) (Credential, bool) {
	if rc == nil || ds == nil {
		return Credential{}, false
	}
	switch ds.Kind {
	case datasource.KindMySQL:
	case datasource.KindSQLServer, datasource.KindPostgreSQL, datasource.KindREST, datasource.KindUnknown:
		r.log.Debug("credential denied", map[string]any{"kind": ds.Kind.String(), "user_id": rc.UserID()})
		return Credential{}, false
	default:
		return Credential{}, false
	}

	conn := rc.Connection()
	cred := Credential{Username: conn.Username, Password: conn.Password}
	source := "context"
	if cred.Username == "" || cred.Password == "" {
		cred = r.fallback
		source = "fallback"
	}
	r.log.Debug("credential resolved", map[string]any{
		"user_id":  rc.UserID(),
		"username": cred.Username,
		"password": cred.Password,
		"source":   source,
	})
	return cred, true
}

// DSN builds a go-sql-driver/mysql DSN for the shaped data source.
func DSN(ds *datasource.DataSource, cred Credential) string {
	return mysqlConfig(ds, cred).FormatDSN()
}

// RedactedDSN is DSN with the password masked, safe for logs and CLI output.
func RedactedDSN(ds *datasource.DataSource, cred Credential) string {
	if cred.Password != "" {
		cred.Password = "********"
	}
	return mysqlConfig(ds, cred).FormatDSN()
}

func mysqlConfig(ds *datasource.DataSource, cred Credential) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = cred.Username
	cfg.Passwd = cred.Password
	cfg.Net = "tcp"
	if ds == nil {
		return cfg
	}
	host := strings.TrimSpace(ds.Host)
	port := strings.TrimSpace(ds.Port)
	if host != "" {
		if port == "" {
			port = defaultMySQLPort
		}
		cfg.Addr = net.JoinHostPort(host, port)
	}
	cfg.DBName = strings.TrimSpace(ds.Database)
	return cfg
}
