// Package userctx derives the per-request user context: who is calling, which
// role they hold, which tables they may see, and which connection parameters
// the server uses on their behalf.
package userctx

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

// ParseRole accepts the role names used in configuration ("admin", "user").
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, true
	case "user":
		return RoleUser, true
	default:
		return "", false
	}
}

// ConnectionParams are read from process configuration, never from the request.
type ConnectionParams struct {
	Host     string
	Database string
	Username string
	Password string
	Schema   string
	Port     string
}

// String never includes the password.
func (p ConnectionParams) String() string {
	return fmt.Sprintf("host=%s database=%s username=%s password=%s schema=%s port=%s",
		p.Host, p.Database, p.Username, passwordState(p.Password), p.Schema, p.Port)
}

func (p ConnectionParams) GoString() string { return p.String() }

func (p ConnectionParams) LogFields() map[string]any {
	return map[string]any{
		"host":     p.Host,
		"database": p.Database,
		"username": p.Username,
		"password": passwordState(p.Password),
		"schema":   p.Schema,
		"port":     p.Port,
	}
}

func passwordState(pw string) string {
	if pw == "" {
		return "<not set>"
	}
	return "********"
}

// TableFilter is a lowercase set of allowed table and procedure names.
// The empty filter means "no restriction"; DenyAll allows no name at all.
type TableFilter struct {
	names map[string]struct{}
	deny  bool
}

func NewTableFilter(names ...string) TableFilter {
	f := TableFilter{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n = normalizeName(n); n != "" {
			f.names[n] = struct{}{}
		}
	}
	return f
}

// DenyAll is the filter for roles the policy does not know.
func DenyAll() TableFilter { return TableFilter{deny: true} }

func (f TableFilter) Unrestricted() bool { return !f.deny && len(f.names) == 0 }

func (f TableFilter) DeniesAll() bool { return f.deny }

func (f TableFilter) clone() TableFilter {
	out := NewTableFilter(f.Names()...)
	out.deny = f.deny
	return out
}

// Allows reports whether name is in the set. It says nothing about the
// unrestricted case; callers check Unrestricted first.
func (f TableFilter) Allows(name string) bool {
	n := normalizeName(name)
	if n == "" || f.deny {
		return false
	}
	_, ok := f.names[n]
	return ok
}

// Names returns a sorted copy.
func (f TableFilter) Names() []string {
	out := make([]string, 0, len(f.names))
	for n := range f.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Identity is what the request itself claims.
type Identity struct {
	UserID  string
	OrderID string
}

func (id Identity) Anonymous() bool { return id.UserID == "" }

// Context is built once per request and never modified afterwards.
type Context struct {
	identity Identity
	role     Role
	tables   TableFilter
	conn     ConnectionParams
}

// New assembles a Context. Resolver.Resolve is the usual constructor; New is
// for identity providers that derive the parts elsewhere.
func New(identity Identity, role Role, tables TableFilter, conn ConnectionParams) *Context {
	return &Context{
		identity: identity,
		role:     role,
		tables:   tables.clone(),
		conn:     conn,
	}
}

func (c *Context) UserID() string               { return c.identity.UserID }
func (c *Context) OrderID() string              { return c.identity.OrderID }
func (c *Context) Anonymous() bool              { return c.identity.Anonymous() }
func (c *Context) Identity() Identity           { return c.identity }
func (c *Context) Role() Role                   { return c.role }
func (c *Context) TableFilter() TableFilter     { return c.tables }
func (c *Context) Connection() ConnectionParams { return c.conn }

// LogFields is the redacted diagnostic view.
func (c *Context) LogFields() map[string]any {
	fields := c.conn.LogFields()
	fields["user_id"] = c.identity.UserID
	fields["order_id"] = c.identity.OrderID
	fields["role"] = string(c.role)
	fields["filter_tables"] = c.tables.Names()
	if c.tables.deny {
		fields["filter_deny_all"] = true
	}
	return fields
}

type ctxKey struct{}

func WithContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the user context stored by WithContext, or nil.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(ctxKey{}).(*Context)
	return rc
}
