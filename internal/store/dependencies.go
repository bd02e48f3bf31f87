package store

import (
	"fmt"
)

type DependencyCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// RecordMissingDependencies bumps the occurrence counter of each module name.
func (s *Store) RecordMissingDependencies(names []string) error {
	if len(names) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, name := range names {
		_, err := tx.Exec(`
			INSERT INTO missing_dependencies (name, count) VALUES (?, 1)
			ON CONFLICT(name) DO UPDATE SET
				count = count + 1,
				last_seen = CURRENT_TIMESTAMP`, name)
		if err != nil {
			return fmt.Errorf("record missing dependency %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// MissingDependencies lists counters, most frequent first.
func (s *Store) MissingDependencies() ([]DependencyCount, error) {
	rows, err := s.db.Query(`SELECT name, count FROM missing_dependencies ORDER BY count DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list missing dependencies: %w", err)
	}
	defer rows.Close()

	var out []DependencyCount
	for rows.Next() {
		var d DependencyCount
		if err := rows.Scan(&d.Name, &d.Count); err != nil {
			return nil, fmt.Errorf("scan missing dependency: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
