package postgres

import (
	"strings"
	"testing"
)

func TestMigrations_VersionsStrictlyIncreasing(t *testing.T) {
	if len(migrations) == 0 {
		t.Fatal("no migrations registered")
	}
	prev := 0
	for _, m := range migrations {
		if m.version <= prev {
			t.Fatalf("migration %q version %d not strictly increasing after %d", m.name, m.version, prev)
		}
		if m.name == "" {
			t.Fatalf("migration version %d has no name", m.version)
		}
		if len(m.stmts) == 0 {
			t.Fatalf("migration %q has no statements", m.name)
		}
		prev = m.version
	}
}

func TestMigrations_StatementsAreAdditive(t *testing.T) {
	for _, m := range migrations {
		for _, stmt := range m.stmts {
			up := strings.ToUpper(strings.TrimSpace(stmt))
			if strings.HasPrefix(up, "DROP ") || strings.HasPrefix(up, "TRUNCATE ") {
				t.Fatalf("migration %q contains destructive statement: %s", m.name, stmt)
			}
		}
	}
}

func TestMigrations_BaseSchemaTables(t *testing.T) {
	all := strings.Join(migrations[0].stmts, "\n")
	for _, table := range []string{
		"conversations", "messages", "daily_analyses",
		"jobs", "job_daily_analyses", "processed_chats", "metrics",
	} {
		if !strings.Contains(all, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("base schema missing table %s", table)
		}
	}
}
