// Package datasource describes the data sources and data items a dashboard
// references. Descriptors are owned by the caller; the shaper writes resolved
// connection fields and queries into them in place.
package datasource

import (
	"strings"
)

// Kind is the closed set of data source variants the host viewer can send.
type Kind string

const (
	KindUnknown    Kind = ""
	KindMySQL      Kind = "mysql"
	KindSQLServer  Kind = "sqlserver"
	KindPostgreSQL Kind = "postgresql"
	KindREST       Kind = "rest"
)

// ParseKind maps a wire tag to a Kind. Unrecognized tags become KindUnknown.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql":
		return KindMySQL
	case "sqlserver", "mssql":
		return KindSQLServer
	case "postgresql", "postgres":
		return KindPostgreSQL
	case "rest", "json":
		return KindREST
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	if k == KindUnknown {
		return "unknown"
	}
	return string(k)
}

// Supported reports whether this layer resolves connections for the kind.
// Every kind is listed so that adding one forces a decision here.
func (k Kind) Supported() bool {
	switch k {
	case KindMySQL:
		return true
	case KindSQLServer, KindPostgreSQL, KindREST, KindUnknown:
		return false
	default:
		return false
	}
}

func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type DataSource struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title,omitempty"`
	Kind     Kind   `json:"type"`
	Host     string `json:"host,omitempty"`
	Database string `json:"database,omitempty"`
	Port     string `json:"port,omitempty"`
	Schema   string `json:"schema,omitempty"`
}

// IsMySQL is nil-safe.
func (ds *DataSource) IsMySQL() bool {
	return ds != nil && ds.Kind == KindMySQL
}

// DataItem is a table, view or stored procedure inside a data source.
type DataItem struct {
	ID         string      `json:"id"`
	Title      string      `json:"title,omitempty"`
	Kind       Kind        `json:"type,omitempty"`
	DataSource *DataSource `json:"data_source,omitempty"`
	Table      string      `json:"table,omitempty"`
	Procedure  string      `json:"procedure,omitempty"`

	// CustomQuery uses "?" placeholders; QueryArgs holds the bound values.
	CustomQuery     string         `json:"custom_query,omitempty"`
	QueryArgs       []any          `json:"query_args,omitempty"`
	ProcedureParams map[string]any `json:"procedure_parameters,omitempty"`
}

// EffectiveKind returns the item's own kind, or its data source's kind when
// the item does not carry one.
func (it *DataItem) EffectiveKind() Kind {
	if it == nil {
		return KindUnknown
	}
	if it.Kind != KindUnknown {
		return it.Kind
	}
	if it.DataSource != nil {
		return it.DataSource.Kind
	}
	return KindUnknown
}

func (it *DataItem) IsMySQL() bool {
	return it.EffectiveKind() == KindMySQL
}
