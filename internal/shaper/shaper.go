// Package shaper rewrites data source connections and data item queries for
// the calling user.
package shaper

import (
	"fmt"

	"github.com/r9s-ai/dashgate/internal/config"
	"github.com/r9s-ai/dashgate/internal/datasource"
	"github.com/r9s-ai/dashgate/internal/logx"
	"github.com/r9s-ai/dashgate/internal/userctx"
)

// Shaper is immutable after New and safe for concurrent use.
type Shaper struct {
	rules map[string]Rule
	log   *logx.Logger
}

func New(rules map[string]Rule, logger *logx.Logger) (*Shaper, error) {
	copied := make(map[string]Rule, len(rules))
	for id, r := range rules {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rule %s: %w", id, err)
		}
		copied[id] = r
	}
	return &Shaper{rules: copied, log: logger}, nil
}

func FromConfig(cfg *config.Config, logger *logx.Logger) (*Shaper, error) {
	rules, err := RulesFromConfig(cfg.Items)
	if err != nil {
		return nil, err
	}
	return New(rules, logger)
}

// Rule returns the rule registered for an item id.
func (s *Shaper) Rule(id string) (Rule, bool) {
	r, ok := s.rules[id]
	return r, ok
}

// ShapeDataSource points a MySQL data source at the server-configured host and
// database. Other kinds are returned unchanged. Applying it twice is the same
// as applying it once.
func (s *Shaper) ShapeDataSource(rc *userctx.Context, ds *datasource.DataSource) *datasource.DataSource {
	if rc == nil || ds == nil {
		return ds
	}
	switch ds.Kind {
	case datasource.KindMySQL:
	case datasource.KindSQLServer, datasource.KindPostgreSQL, datasource.KindREST, datasource.KindUnknown:
		return ds
	default:
		return ds
	}
	conn := rc.Connection()
	ds.Host = conn.Host
	ds.Database = conn.Database
	if ds.Port == "" {
		ds.Port = conn.Port
	}
	if ds.Schema == "" {
		ds.Schema = conn.Schema
	}
	return ds
}

// ShapeDataItem resolves the item's data source and then rewrites the item
// according to the rule registered for its id. Items without a rule, and
// items of other kinds, come back unchanged.
func (s *Shaper) ShapeDataItem(rc *userctx.Context, dashboardID string, item *datasource.DataItem) *datasource.DataItem {
	if rc == nil || item == nil {
		return item
	}
	switch item.EffectiveKind() {
	case datasource.KindMySQL:
	case datasource.KindSQLServer, datasource.KindPostgreSQL, datasource.KindREST, datasource.KindUnknown:
		return item
	default:
		return item
	}

	s.ShapeDataSource(rc, item.DataSource)

	rule, ok := s.rules[item.ID]
	if !ok {
		return item
	}
	// A matched rule owns both the query and the procedure slot; whatever the
	// client sent in the slot the rule does not use is dropped.
	if rule.Query != "" {
		item.CustomQuery = rule.Query
		item.QueryArgs = bindArgs(rule.Args, rc, dashboardID)
		item.Procedure = ""
		item.ProcedureParams = nil
		s.log.Debug("item query", map[string]any{
			"item_id":      item.ID,
			"dashboard_id": dashboardID,
			"query":        rule.Query,
			"args":         len(item.QueryArgs),
		})
		return item
	}
	item.CustomQuery = ""
	item.QueryArgs = nil
	item.Procedure = rule.Procedure
	item.ProcedureParams = make(map[string]any, len(rule.Params))
	for name, b := range rule.Params {
		item.ProcedureParams[name] = b.value(rc, dashboardID)
	}
	s.log.Debug("item procedure", map[string]any{
		"item_id":      item.ID,
		"dashboard_id": dashboardID,
		"procedure":    rule.Procedure,
	})
	return item
}

// InterpolatedQuery renders item.CustomQuery with its bound args.
func InterpolatedQuery(item *datasource.DataItem) (string, error) {
	if item == nil || item.CustomQuery == "" {
		return "", nil
	}
	return Interpolate(item.CustomQuery, item.QueryArgs)
}

func bindArgs(bs []Binding, rc *userctx.Context, dashboardID string) []any {
	if len(bs) == 0 {
		return nil
	}
	out := make([]any, len(bs))
	for i, b := range bs {
		out[i] = b.value(rc, dashboardID)
	}
	return out
}
