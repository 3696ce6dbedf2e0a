package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"usbscope/internal/domain"

	_ "modernc.org/sqlite"
)

// Store implements repository.Store using SQLite
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite",
		dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS device_names (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS hub_labels (
		key TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS physical_groups (
		name TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		confirmed INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_name TEXT NOT NULL,
		address TEXT NOT NULL,
		PRIMARY KEY (group_name, address),
		FOREIGN KEY (group_name) REFERENCES physical_groups(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_group_members_address ON group_members(address);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// DeviceNames loads all custom device names
func (s *Store) DeviceNames(ctx context.Context) (map[string]string, error) {
	return s.loadKV(ctx, `SELECT key, name FROM device_names`)
}

// SetDeviceName upserts a custom name; an empty name deletes the entry
func (s *Store) SetDeviceName(ctx context.Context, key, name string) error {
	if name == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM device_names WHERE key = ?`, key)
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_names (key, name) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET name = excluded.name, updated_at = CURRENT_TIMESTAMP
	`, key, name)
	return err
}

// HubLabels loads all hub labels
func (s *Store) HubLabels(ctx context.Context) (map[string]string, error) {
	return s.loadKV(ctx, `SELECT key, label FROM hub_labels`)
}

// SetHubLabel upserts a hub label; an empty label deletes the entry
func (s *Store) SetHubLabel(ctx context.Context, key, label string) error {
	if label == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM hub_labels WHERE key = ?`, key)
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hub_labels (key, label) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET label = excluded.label, updated_at = CURRENT_TIMESTAMP
	`, key, label)
	return err
}

func (s *Store) loadKV(ctx context.Context, query string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out[k] = v
	}

	return out, rows.Err()
}

// PhysicalGroups loads all persisted groups with their members
func (s *Store) PhysicalGroups(ctx context.Context) ([]domain.PhysicalGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, label, confirmed FROM physical_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.PhysicalGroup
	index := make(map[string]int)
	for rows.Next() {
		var g domain.PhysicalGroup
		var confirmed int
		if err := rows.Scan(&g.Name, &g.Label, &confirmed); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.Confirmed = confirmed != 0
		index[g.Name] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}

	memberRows, err := s.db.QueryContext(ctx, `SELECT group_name, address FROM group_members`)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var group, addr string
		if err := memberRows.Scan(&group, &addr); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if i, ok := index[group]; ok {
			groups[i].Members = append(groups[i].Members, addr)
		}
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	for i := range groups {
		sort.Slice(groups[i].Members, func(a, b int) bool {
			return domain.CompareAddresses(groups[i].Members[a], groups[i].Members[b]) < 0
		})
	}

	return groups, nil
}

// AddPhysicalGroup saves a group, stealing its members from any existing
// group that holds them. Groups emptied by the steal are deleted. Saving
// over an existing name replaces it.
func (s *Store) AddPhysicalGroup(ctx context.Context, group domain.PhysicalGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, addr := range group.Members {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE address = ?`, addr); err != nil {
			return fmt.Errorf("failed to steal member %s: %w", addr, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO physical_groups (name, label, confirmed) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET label = excluded.label, confirmed = excluded.confirmed
	`, group.Name, group.Label, boolInt(group.Confirmed)); err != nil {
		return fmt.Errorf("failed to upsert group: %w", err)
	}

	// Replacing an existing name drops its previous membership too.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_name = ?`, group.Name); err != nil {
		return fmt.Errorf("failed to clear members: %w", err)
	}

	for _, addr := range group.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_name, address) VALUES (?, ?)`,
			group.Name, addr); err != nil {
			return fmt.Errorf("failed to insert member %s: %w", addr, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM physical_groups
		WHERE name != ? AND name NOT IN (SELECT DISTINCT group_name FROM group_members)
	`, group.Name); err != nil {
		return fmt.Errorf("failed to prune empty groups: %w", err)
	}

	return tx.Commit()
}

// UpdatePhysicalGroup changes an existing group's label and membership
func (s *Store) UpdatePhysicalGroup(ctx context.Context, group domain.PhysicalGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE physical_groups SET label = ?, confirmed = ? WHERE name = ?`,
		group.Label, boolInt(group.Confirmed), group.Name)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrNotFound
	}

	if group.Members != nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_name = ?`, group.Name); err != nil {
			return fmt.Errorf("failed to clear members: %w", err)
		}
		for _, addr := range group.Members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO group_members (group_name, address) VALUES (?, ?)
				ON CONFLICT(group_name, address) DO NOTHING
			`, group.Name, addr); err != nil {
				return fmt.Errorf("failed to insert member %s: %w", addr, err)
			}
		}
	}

	return tx.Commit()
}

// RemovePhysicalGroup deletes a group and its membership
func (s *Store) RemovePhysicalGroup(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM physical_groups WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
