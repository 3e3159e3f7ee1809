// Package gate is the hook surface the dashboard host calls into. It composes
// context resolution, credential resolution, query shaping and access
// filtering behind one immutable value.
package gate

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/r9s-ai/dashgate/internal/access"
	"github.com/r9s-ai/dashgate/internal/config"
	"github.com/r9s-ai/dashgate/internal/credential"
	"github.com/r9s-ai/dashgate/internal/datasource"
	"github.com/r9s-ai/dashgate/internal/logx"
	"github.com/r9s-ai/dashgate/internal/shaper"
	"github.com/r9s-ai/dashgate/internal/userctx"
)

// ErrNoContext aborts a single request whose context could not be resolved.
var ErrNoContext = errors.New("request context is missing")

type Gate struct {
	contexts    *userctx.Resolver
	credentials *credential.Resolver
	shaper      *shaper.Shaper
	filter      *access.Filter
	log         *logx.Logger
}

func New(contexts *userctx.Resolver, credentials *credential.Resolver, sh *shaper.Shaper, filter *access.Filter, logger *logx.Logger) *Gate {
	return &Gate{
		contexts:    contexts,
		credentials: credentials,
		shaper:      sh,
		filter:      filter,
		log:         logger,
	}
}

func FromConfig(cfg *config.Config, logger *logx.Logger) (*Gate, error) {
	if cfg == nil {
		return nil, errors.New("gate: nil config")
	}
	sh, err := shaper.FromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("shaper: %w", err)
	}
	fallback := credential.Credential{
		Username: cfg.Policy.FallbackCredential.Username,
		Password: cfg.Policy.FallbackCredential.Password,
	}
	return New(
		userctx.FromConfig(cfg, logger),
		credential.NewResolver(fallback, logger),
		sh,
		access.NewFilter(cfg.Policy.AllowedDatabases),
		logger,
	), nil
}

// Header is the request header the context is read from.
func (g *Gate) Header() string { return g.contexts.Header() }

func (g *Gate) ResolveContext(h http.Header) *userctx.Context {
	return g.contexts.Resolve(h)
}

func (g *Gate) ResolveCredential(rc *userctx.Context, ds *datasource.DataSource) (credential.Credential, bool, error) {
	if rc == nil {
		return credential.Credential{}, false, ErrNoContext
	}
	cred, ok := g.credentials.Resolve(rc, ds)
	return cred, ok, nil
}

func (g *Gate) ShapeDataSource(rc *userctx.Context, ds *datasource.DataSource) (*datasource.DataSource, error) {
	if rc == nil {
		return ds, ErrNoContext
	}
	out := g.shaper.ShapeDataSource(rc, ds)
	if out != nil {
		g.log.Debug("data source shaped", map[string]any{
			"user_id":  rc.UserID(),
			"id":       out.ID,
			"kind":     out.Kind.String(),
			"host":     out.Host,
			"database": out.Database,
		})
	}
	return out, nil
}

func (g *Gate) ShapeDataItem(rc *userctx.Context, dashboardID string, item *datasource.DataItem) (*datasource.DataItem, error) {
	if rc == nil {
		return item, ErrNoContext
	}
	out := g.shaper.ShapeDataItem(rc, dashboardID, item)
	if out != nil {
		g.log.Debug("data item shaped", map[string]any{
			"user_id":      rc.UserID(),
			"dashboard_id": dashboardID,
			"id":           out.ID,
			"kind":         out.EffectiveKind().String(),
		})
	}
	return out, nil
}

// AllowSource does not depend on the caller, so a nil context is accepted.
func (g *Gate) AllowSource(rc *userctx.Context, ds *datasource.DataSource) bool {
	ok := g.filter.AllowSource(rc, ds)
	if ds != nil {
		fields := map[string]any{"database": ds.Database, "kind": ds.Kind.String(), "allowed": ok}
		if rc != nil {
			fields["user_id"] = rc.UserID()
		}
		g.log.Debug("data source filter", fields)
	}
	return ok
}

func (g *Gate) AllowItem(rc *userctx.Context, item *datasource.DataItem) (bool, error) {
	if rc == nil {
		return false, ErrNoContext
	}
	ok := g.filter.AllowItem(rc, item)
	if item != nil {
		g.log.Debug("data item filter", map[string]any{
			"user_id":   rc.UserID(),
			"role":      string(rc.Role()),
			"table":     item.Table,
			"procedure": item.Procedure,
			"allowed":   ok,
		})
	}
	return ok, nil
}
