package userctx

import (
	"net/http"
	"sort"
	"strings"

	"github.com/r9s-ai/dashgate/internal/config"
	"github.com/r9s-ai/dashgate/internal/logx"
)

const DefaultHeader = "x-header-one"

type Options struct {
	// Header is the request header carrying "key:value,key:value".
	Header     string
	Roles      RoleResolver
	Policy     Policy
	Connection ConnectionParams
	Logger     *logx.Logger
}

type Resolver struct {
	header string
	roles  RoleResolver
	policy Policy
	conn   ConnectionParams
	log    *logx.Logger
}

func NewResolver(opts Options) *Resolver {
	h := strings.TrimSpace(opts.Header)
	if h == "" {
		h = DefaultHeader
	}
	roles := opts.Roles
	if roles == nil {
		roles = NewSentinelRoles([]string{"11"}, RoleAdmin)
	}
	return &Resolver{
		header: h,
		roles:  roles,
		policy: opts.Policy,
		conn:   opts.Connection,
		log:    opts.Logger,
	}
}

// FromConfig builds the resolver with the sentinel role policy from cfg.
func FromConfig(cfg *config.Config, logger *logx.Logger) *Resolver {
	anon, ok := ParseRole(cfg.Policy.AnonymousRole)
	if !ok {
		anon = RoleAdmin
	}
	tables := make(map[Role][]string, len(cfg.Policy.Tables))
	for name, names := range cfg.Policy.Tables {
		if role, ok := ParseRole(name); ok {
			tables[role] = names
		}
	}
	return NewResolver(Options{
		Header: cfg.Context.Header,
		Roles:  NewSentinelRoles(cfg.Policy.AdminUserIDs, anon),
		Policy: NewPolicy(tables),
		Connection: ConnectionParams{
			Host:     cfg.MySQL.Host,
			Database: cfg.MySQL.Database,
			Username: cfg.MySQL.Username,
			Password: cfg.MySQL.Password,
			Schema:   cfg.MySQL.Schema,
			Port:     cfg.MySQL.Port,
		},
		Logger: logger,
	})
}

func (r *Resolver) Header() string { return r.header }

// Resolve builds the context for one request. It never fails: a missing or
// malformed header yields an anonymous identity.
func (r *Resolver) Resolve(h http.Header) *Context {
	if r.log.Enabled(logx.LevelDebug) {
		r.log.Debug("request headers", headerFields(h))
	}

	id := ParseHeader(headerValue(h, r.header))
	role := r.roles.ResolveRole(id)
	tables, ok := r.policy.TableFilter(role)
	if !ok {
		r.log.Warn("role has no table policy, denying all tables", map[string]any{
			"role":    string(role),
			"user_id": id.UserID,
		})
		tables = DenyAll()
	}
	rc := &Context{
		identity: id,
		role:     role,
		tables:   tables,
		conn:     r.conn,
	}
	r.log.Debug("context resolved", rc.LogFields())
	return rc
}

// ParseHeader reads userId and orderId out of a "key:value,key:value" list.
// Keys match case-insensitively, entries without ':' are skipped, unknown
// keys are ignored and the last occurrence of a key wins.
func ParseHeader(v string) Identity {
	var id Identity
	if strings.TrimSpace(v) == "" {
		return id
	}
	for _, pair := range strings.Split(v, ",") {
		key, val, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch {
		case strings.EqualFold(key, "userId"):
			id.UserID = val
		case strings.EqualFold(key, "orderId"):
			id.OrderID = val
		}
	}
	return id
}

func headerValue(h http.Header, name string) string {
	if len(h) == 0 {
		return ""
	}
	vals := h.Values(name)
	if len(vals) == 0 {
		// Tolerate maps built by hand with non-canonical keys.
		for k, vs := range h {
			if strings.EqualFold(k, name) {
				vals = vs
				break
			}
		}
	}
	return strings.Join(vals, ",")
}

func headerFields(h http.Header) map[string]any {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[strings.ToLower(k)] = logx.MaskHeader(k, strings.Join(h[k], ", "))
	}
	return out
}
