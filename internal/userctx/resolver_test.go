package userctx

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r9s-ai/dashgate/internal/logx"
)

func newTestResolver(buf *bytes.Buffer) *Resolver {
	var lg *logx.Logger
	if buf != nil {
		lg = logx.New(buf, logx.LevelDebug)
	}
	return NewResolver(Options{
		Roles:  NewSentinelRoles([]string{"11"}, RoleAdmin),
		Policy: DefaultPolicy(),
		Connection: ConnectionParams{
			Host:     "db.local",
			Database: "northwind",
			Username: "reporter",
			Password: "hunter2",
			Schema:   "public",
			Port:     "3306",
		},
		Logger: lg,
	})
}

func headers(v string) http.Header {
	h := http.Header{}
	h.Set("x-header-one", v)
	return h
}

func TestResolve_AdminSentinel(t *testing.T) {
	rc := newTestResolver(nil).Resolve(headers("userId:11"))
	require.Equal(t, RoleAdmin, rc.Role())
	require.Equal(t, "11", rc.UserID())
	require.True(t, rc.TableFilter().Unrestricted())
	require.Empty(t, rc.TableFilter().Names())
}

func TestResolve_RegularUser(t *testing.T) {
	rc := newTestResolver(nil).Resolve(headers("userId:42"))
	require.Equal(t, RoleUser, rc.Role())
	require.Equal(t, []string{"customers", "order_details", "orders"}, rc.TableFilter().Names())
}

func TestResolve_MissingHeaderIsAnonymous(t *testing.T) {
	rc := newTestResolver(nil).Resolve(http.Header{})
	require.True(t, rc.Anonymous())
	require.Equal(t, RoleAdmin, rc.Role())

	rc = newTestResolver(nil).Resolve(nil)
	require.True(t, rc.Anonymous())
}

func TestResolve_AnonymousRoleConfigurable(t *testing.T) {
	r := NewResolver(Options{
		Roles:  NewSentinelRoles([]string{"11"}, RoleUser),
		Policy: DefaultPolicy(),
	})
	rc := r.Resolve(http.Header{})
	require.Equal(t, RoleUser, rc.Role())
	require.False(t, rc.TableFilter().Unrestricted())
}

func TestResolve_ConnectionParamsCopiedFromConfig(t *testing.T) {
	rc := newTestResolver(nil).Resolve(headers("userId:42"))
	conn := rc.Connection()
	require.Equal(t, "db.local", conn.Host)
	require.Equal(t, "northwind", conn.Database)
	require.Equal(t, "hunter2", conn.Password)
}

func TestResolve_RoleAndFilterInvariantAcrossIdentities(t *testing.T) {
	r := newTestResolver(nil)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("%d", i)
		rc := r.Resolve(headers("userId:" + id))
		if id == "11" {
			require.Equal(t, RoleAdmin, rc.Role(), id)
			require.True(t, rc.TableFilter().Unrestricted(), id)
			continue
		}
		require.Equal(t, RoleUser, rc.Role(), id)
		require.Equal(t, []string{"customers", "order_details", "orders"}, rc.TableFilter().Names(), id)
	}
}

func TestParseHeader(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Identity
	}{
		{name: "empty", in: "", want: Identity{}},
		{name: "user_only", in: "userId:42", want: Identity{UserID: "42"}},
		{name: "both", in: "userId:42,orderId:10248", want: Identity{UserID: "42", OrderID: "10248"}},
		{name: "case_and_space", in: "  USERID : 42 ,  OrderID:  7 ", want: Identity{UserID: "42", OrderID: "7"}},
		{name: "unknown_keys_ignored", in: "tenant:acme,userId:42", want: Identity{UserID: "42"}},
		{name: "malformed_skipped", in: "garbage,userId:42,also-bad", want: Identity{UserID: "42"}},
		{name: "value_with_colon", in: "userId:a:b", want: Identity{UserID: "a:b"}},
		{name: "empty_user_is_absent", in: "userId:,orderId:1", want: Identity{OrderID: "1"}},
		{name: "last_wins", in: "userId:1,userId:2", want: Identity{UserID: "2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ParseHeader(tc.in))
		})
	}
}

func TestResolve_MultipleHeaderValuesJoined(t *testing.T) {
	h := http.Header{}
	h.Add("X-Header-One", "userId:42")
	h.Add("X-Header-One", "orderId:9")
	rc := newTestResolver(nil).Resolve(h)
	require.Equal(t, "42", rc.UserID())
	require.Equal(t, "9", rc.OrderID())
}

func TestResolve_NonCanonicalHeaderMap(t *testing.T) {
	h := http.Header{"x-header-one": []string{"userId:42"}}
	rc := newTestResolver(nil).Resolve(h)
	require.Equal(t, "42", rc.UserID())
}

func TestResolve_LogsRedactPassword(t *testing.T) {
	var buf bytes.Buffer
	h := headers("userId:42")
	h.Set("Authorization", "Bearer very-secret")
	_ = newTestResolver(&buf).Resolve(h)

	out := buf.String()
	require.NotContains(t, out, "hunter2")
	require.NotContains(t, out, "very-secret")
	require.Contains(t, out, "context resolved")
	require.Contains(t, out, "user_id=42")
}

func TestConnectionParamsString_Redacts(t *testing.T) {
	p := ConnectionParams{Host: "h", Password: "hunter2"}
	require.NotContains(t, p.String(), "hunter2")
	require.NotContains(t, fmt.Sprintf("%v %#v %+v", p, p, p), "hunter2")
	require.Contains(t, ConnectionParams{}.String(), "<not set>")
}

func TestTableFilter(t *testing.T) {
	f := NewTableFilter("Customers", " orders ", "")
	require.False(t, f.Unrestricted())
	require.True(t, f.Allows("CUSTOMERS"))
	require.True(t, f.Allows("orders"))
	require.False(t, f.Allows(""))
	require.False(t, f.Allows("invoices"))
	require.True(t, NewTableFilter().Unrestricted())
}

func TestContextRoundTrip(t *testing.T) {
	rc := New(Identity{UserID: "7"}, RoleUser, NewTableFilter("a"), ConnectionParams{})
	ctx := WithContext(context.Background(), rc)
	require.Same(t, rc, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))
}

func TestRoleResolverFunc_Pluggable(t *testing.T) {
	r := NewResolver(Options{
		Roles: RoleResolverFunc(func(id Identity) Role {
			if strings.HasPrefix(id.UserID, "adm-") {
				return RoleAdmin
			}
			return RoleUser
		}),
		Policy: DefaultPolicy(),
	})
	require.Equal(t, RoleAdmin, r.Resolve(headers("userId:adm-1")).Role())
	require.Equal(t, RoleUser, r.Resolve(headers("userId:11")).Role())
	require.Equal(t, RoleUser, r.Resolve(http.Header{}).Role())
}

func TestResolve_UnmappedRoleFailsClosed(t *testing.T) {
	var buf bytes.Buffer
	r := NewResolver(Options{
		Roles:  RoleResolverFunc(func(Identity) Role { return Role("Guest") }),
		Policy: DefaultPolicy(),
		Logger: logx.New(&buf, logx.LevelWarn),
	})
	rc := r.Resolve(headers("userId:42"))
	require.Equal(t, Role("Guest"), rc.Role())
	require.False(t, rc.TableFilter().Unrestricted())
	require.True(t, rc.TableFilter().DeniesAll())
	require.False(t, rc.TableFilter().Allows("customers"))
	require.Contains(t, buf.String(), "no table policy")
	require.Equal(t, true, rc.LogFields()["filter_deny_all"])
}

func TestPolicy_TableFilterMiss(t *testing.T) {
	_, ok := DefaultPolicy().TableFilter(Role("Guest"))
	require.False(t, ok)
	f, ok := DefaultPolicy().TableFilter(RoleAdmin)
	require.True(t, ok)
	require.True(t, f.Unrestricted())
}

func TestNew_KeepsDenyAll(t *testing.T) {
	rc := New(Identity{UserID: "1"}, Role("Guest"), DenyAll(), ConnectionParams{})
	require.True(t, rc.TableFilter().DeniesAll())
}
