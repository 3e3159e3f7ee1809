package shaper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/r9s-ai/dashgate/internal/config"
	"github.com/r9s-ai/dashgate/internal/userctx"
)

// Binding names a request-derived value that a rule binds into a query
// argument or procedure parameter.
type Binding string

const (
	BindUserID      Binding = "user_id"
	BindOrderID     Binding = "order_id"
	BindRole        Binding = "role"
	BindDashboardID Binding = "dashboard_id"
)

func (b Binding) valid() bool {
	switch b {
	case BindUserID, BindOrderID, BindRole, BindDashboardID:
		return true
	default:
		return false
	}
}

func (b Binding) value(rc *userctx.Context, dashboardID string) any {
	switch b {
	case BindUserID:
		return rc.UserID()
	case BindOrderID:
		return rc.OrderID()
	case BindRole:
		return string(rc.Role())
	case BindDashboardID:
		return dashboardID
	default:
		return nil
	}
}

// Rule rewrites one data item id into either a query or a procedure call.
type Rule struct {
	Query     string
	Args      []Binding
	Procedure string
	Params    map[string]Binding
}

func (r Rule) validate() error {
	hasQuery := strings.TrimSpace(r.Query) != ""
	hasProc := strings.TrimSpace(r.Procedure) != ""
	if hasQuery == hasProc {
		return fmt.Errorf("exactly one of query or procedure is required")
	}
	for _, b := range r.Args {
		if !b.valid() {
			return fmt.Errorf("unknown binding %q", b)
		}
	}
	for name, b := range r.Params {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("empty procedure parameter name")
		}
		if !b.valid() {
			return fmt.Errorf("parameter %s: unknown binding %q", name, b)
		}
	}
	if hasQuery {
		if n := countPlaceholders(r.Query); n != len(r.Args) {
			return fmt.Errorf("query has %d placeholders but %d args", n, len(r.Args))
		}
	} else if len(r.Args) > 0 {
		return fmt.Errorf("args are only valid with query")
	}
	if hasQuery && len(r.Params) > 0 {
		return fmt.Errorf("params are only valid with procedure")
	}
	return nil
}

// DefaultRules mirrors config.DefaultItems.
func DefaultRules() map[string]Rule {
	rules, err := RulesFromConfig(config.DefaultItems())
	if err != nil {
		panic(err)
	}
	return rules
}

func RulesFromConfig(items map[string]config.ItemRule) (map[string]Rule, error) {
	out := make(map[string]Rule, len(items))
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		item := items[id]
		r := Rule{
			Query:     strings.TrimSpace(item.Query),
			Procedure: strings.TrimSpace(item.Procedure),
		}
		for _, a := range item.Args {
			r.Args = append(r.Args, Binding(strings.ToLower(strings.TrimSpace(a))))
		}
		if len(item.Params) > 0 {
			r.Params = make(map[string]Binding, len(item.Params))
			for name, b := range item.Params {
				r.Params[strings.TrimSpace(name)] = Binding(strings.ToLower(strings.TrimSpace(b)))
			}
		}
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("items.%s: %w", id, err)
		}
		out[id] = r
	}
	return out, nil
}
