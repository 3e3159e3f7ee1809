package userctx

import (
	"strings"
)

// RoleResolver decides the role for a claimed identity. Swap it for a real
// identity provider without touching anything downstream.
type RoleResolver interface {
	ResolveRole(id Identity) Role
}

type RoleResolverFunc func(id Identity) Role

func (f RoleResolverFunc) ResolveRole(id Identity) Role { return f(id) }

// SentinelRoles grants Admin to a fixed list of user ids and User to everyone
// else. Requests without a user id get the anonymous role.
type SentinelRoles struct {
	admins    map[string]struct{}
	anonymous Role
}

func NewSentinelRoles(adminIDs []string, anonymous Role) *SentinelRoles {
	s := &SentinelRoles{admins: make(map[string]struct{}, len(adminIDs)), anonymous: anonymous}
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			s.admins[id] = struct{}{}
		}
	}
	if s.anonymous == "" {
		s.anonymous = RoleAdmin
	}
	return s
}

func (s *SentinelRoles) ResolveRole(id Identity) Role {
	if id.Anonymous() {
		return s.anonymous
	}
	if _, ok := s.admins[id.UserID]; ok {
		return RoleAdmin
	}
	return RoleUser
}

func (s *SentinelRoles) AnonymousRole() Role { return s.anonymous }

// Policy is the static role -> table filter table.
type Policy struct {
	filters map[Role]TableFilter
}

func NewPolicy(tables map[Role][]string) Policy {
	p := Policy{filters: make(map[Role]TableFilter, len(tables))}
	for role, names := range tables {
		p.filters[role] = NewTableFilter(names...)
	}
	return p
}

// DefaultPolicy leaves Admin unrestricted and limits User to the demo tables.
func DefaultPolicy() Policy {
	return NewPolicy(map[Role][]string{
		RoleAdmin: nil,
		RoleUser:  {"customers", "orders", "order_details"},
	})
}

// TableFilter reports ok=false for roles without an entry.
func (p Policy) TableFilter(role Role) (TableFilter, bool) {
	f, ok := p.filters[role]
	return f, ok
}
