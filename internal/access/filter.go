// Package access decides which data sources and data items a user may see.
// Both predicates are pure: no I/O and no mutation of their inputs.
package access

import (
	"strings"

	"github.com/r9s-ai/dashgate/internal/datasource"
	"github.com/r9s-ai/dashgate/internal/userctx"
)

type Filter struct {
	databases map[string]struct{}
}

func NewFilter(allowedDatabases []string) *Filter {
	f := &Filter{databases: make(map[string]struct{}, len(allowedDatabases))}
	for _, db := range allowedDatabases {
		if db = strings.TrimSpace(db); db != "" {
			f.databases[db] = struct{}{}
		}
	}
	return f
}

// AllowSource admits only MySQL sources whose database is allow-listed.
func (f *Filter) AllowSource(_ *userctx.Context, ds *datasource.DataSource) bool {
	if ds == nil {
		return false
	}
	switch ds.Kind {
	case datasource.KindMySQL:
		_, ok := f.databases[strings.TrimSpace(ds.Database)]
		return ok
	case datasource.KindSQLServer, datasource.KindPostgreSQL, datasource.KindREST, datasource.KindUnknown:
		return false
	default:
		return false
	}
}

// AllowItem is default-allow. A MySQL item is restricted only when the user's
// table filter is non-empty; it is then denied when none of its present names
// (table or procedure) is in the filter. A deny-all filter rejects every
// MySQL item.
func (f *Filter) AllowItem(rc *userctx.Context, item *datasource.DataItem) bool {
	if rc == nil {
		return false
	}
	if item == nil {
		return true
	}
	switch item.EffectiveKind() {
	case datasource.KindMySQL:
	case datasource.KindSQLServer, datasource.KindPostgreSQL, datasource.KindREST, datasource.KindUnknown:
		return true
	default:
		return true
	}

	tables := rc.TableFilter()
	if tables.DeniesAll() {
		return false
	}
	if tables.Unrestricted() {
		return true
	}
	table := strings.TrimSpace(item.Table)
	proc := strings.TrimSpace(item.Procedure)
	if table == "" && proc == "" {
		return true
	}
	if table != "" && tableAllowed(tables, table) {
		return true
	}
	if proc != "" && tables.Allows(proc) {
		return true
	}
	return false
}

// tableAllowed also accepts schema-qualified names ("northwind.customers").
func tableAllowed(tables userctx.TableFilter, table string) bool {
	if tables.Allows(table) {
		return true
	}
	if i := strings.LastIndexByte(table, '.'); i >= 0 && i < len(table)-1 {
		return tables.Allows(table[i+1:])
	}
	return false
}
