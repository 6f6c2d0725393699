package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	for name, fsys := range map[string]fs.FS{"public": Public(), "tenant": Tenant()} {
		entries, err := fs.ReadDir(fsys, ".")
		if err != nil {
			t.Fatalf("%s: read dir: %v", name, err)
		}
		if len(entries) == 0 {
			t.Fatalf("%s: no migrations embedded", name)
		}
		for _, e := range entries {
			body, err := fs.ReadFile(fsys, e.Name())
			if err != nil {
				t.Fatalf("%s/%s: %v", name, e.Name(), err)
			}
			if !strings.Contains(string(body), "__SCHEMA__.") {
				t.Errorf("%s/%s: expected schema placeholder", name, e.Name())
			}
		}
	}
}

func TestTenantTemplateTables(t *testing.T) {
	body, err := fs.ReadFile(Tenant(), "001_tenant_schema.sql")
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	for _, table := range []string{"patients", "cases", "prescriptions", "prescription_items"} {
		if !strings.Contains(string(body), "__SCHEMA__."+table+" (") {
			t.Errorf("template missing table %s", table)
		}
	}
}
