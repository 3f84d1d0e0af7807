package database

import (
	"sort"
	"strings"
	"testing"
)

func TestMigrationFilesOrdered(t *testing.T) {
	files := migrationFiles()
	if len(files) == 0 {
		t.Fatal("no embedded migrations found")
	}
	if !sort.StringsAreSorted(files) {
		t.Errorf("migrations not in application order: %v", files)
	}
	seen := map[string]bool{}
	for _, f := range files {
		if !strings.HasSuffix(f, ".sql") {
			t.Errorf("unexpected migration file %q", f)
		}
		prefix := strings.SplitN(f, "_", 2)[0]
		if len(prefix) != 4 {
			t.Errorf("migration %q missing 4-digit version prefix", f)
		}
		if seen[prefix] {
			t.Errorf("duplicate migration version %q", prefix)
		}
		seen[prefix] = true
	}
}
