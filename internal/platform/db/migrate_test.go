package db

import "testing"

func TestMigrationListIsWellFormed(t *testing.T) {
	seen := make(map[int]bool)
	prev := 0
	for _, m := range migrations {
		if m.Version <= 0 {
			t.Errorf("migration %q has non-positive version %d", m.Name, m.Version)
		}
		if seen[m.Version] {
			t.Errorf("duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true
		if m.Version <= prev {
			t.Errorf("migration %q out of order (version %d after %d)", m.Name, m.Version, prev)
		}
		prev = m.Version
		if m.Name == "" || m.SQL == "" {
			t.Errorf("migration %d missing name or SQL", m.Version)
		}
	}
}
