package datasource

import (
	"encoding/json"
	"testing"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"mysql":      KindMySQL,
		" MySQL ":    KindMySQL,
		"mssql":      KindSQLServer,
		"postgres":   KindPostgreSQL,
		"rest":       KindREST,
		"excel":      KindUnknown,
		"":           KindUnknown,
		"postgresql": KindPostgreSQL,
	}
	for in, want := range cases {
		if got := ParseKind(in); got != want {
			t.Fatalf("ParseKind(%q)=%q want %q", in, got, want)
		}
	}
}

func TestKindSupported(t *testing.T) {
	for _, k := range []Kind{KindSQLServer, KindPostgreSQL, KindREST, KindUnknown} {
		if k.Supported() {
			t.Fatalf("kind %s should not be supported", k)
		}
	}
	if !KindMySQL.Supported() {
		t.Fatalf("mysql should be supported")
	}
}

func TestDataItemJSON_InheritsSourceKind(t *testing.T) {
	var it DataItem
	raw := `{"id":"customer_orders","table":"Customers","data_source":{"type":"mysql","database":"northwind"}}`
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !it.IsMySQL() {
		t.Fatalf("expected item to inherit mysql kind, got %s", it.EffectiveKind())
	}
	if it.DataSource.Database != "northwind" {
		t.Fatalf("database=%q", it.DataSource.Database)
	}
}

func TestNilDescriptors(t *testing.T) {
	var ds *DataSource
	if ds.IsMySQL() {
		t.Fatalf("nil data source is not mysql")
	}
	var it *DataItem
	if it.EffectiveKind() != KindUnknown {
		t.Fatalf("nil item kind should be unknown")
	}
}
