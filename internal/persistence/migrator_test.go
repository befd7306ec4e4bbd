package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_operations.up.sql":   "0001",
		"0002_indexes.down.sql":    "0002",
		"noversion.sql":            "noversion.sql",
		"0003_multi_word.up.sql":   "0003",
	}
	for filename, want := range cases {
		if got := migrationVersion(filename); got != want {
			t.Errorf("migrationVersion(%q) = %q, want %q", filename, got, want)
		}
	}
}

func TestMigrationFiles_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"0002_indexes.up.sql",
		"0001_operations.up.sql",
		"0001_operations.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- noop"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	m := NewMigrator(nil, dir, zerolog.Nop())
	files, err := m.migrationFiles(".up.sql")
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "0001_operations.up.sql" || files[1] != "0002_indexes.up.sql" {
		t.Errorf("got %v, want sorted up migrations only", files)
	}
}
