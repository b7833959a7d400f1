package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrSnapshotExists is returned when a snapshot with the same tag exists.
var ErrSnapshotExists = errors.New("snapshot already exists")

// SnapshotInfo describes one database snapshot.
type SnapshotInfo struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	Tag           string         `json:"tag"`
	Path          string         `json:"path"`
	SchemaVersion int            `json:"schema_version"`
}

// snapshotTables are counted into each snapshot's metadata.
var snapshotTables = []string{
	"catalog_entries",
	"steering_rules",
	"batches",
	"classification_records",
	"correction_memory",
	"ledger_entries",
}

func (s *SQLiteStorage) snapshotDir() string {
	return filepath.Join(filepath.Dir(s.dbPath), "snapshots")
}

// Snapshot writes a consistent copy of the database next to it, under
// snapshots/<tag>.db, with a JSON metadata sidecar.
func (s *SQLiteStorage) Snapshot(ctx context.Context, tag string) (*SnapshotInfo, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if s.dbPath == ":memory:" {
		return nil, errors.New("cannot snapshot an in-memory database")
	}
	if tag == "" {
		tag = "snapshot-" + s.now().Format("20060102-150405")
	}
	if strings.ContainsAny(tag, `/\`) || strings.Contains(tag, "..") {
		return nil, errors.New("invalid snapshot tag: cannot contain path separators")
	}

	dir := s.snapshotDir()
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	path := filepath.Join(dir, tag+".db")
	if _, err := os.Stat(path); err == nil {
		return nil, ErrSnapshotExists
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(snapshotTables))
	for _, table := range snapshotTables {
		var n int
		// Tables from later schema versions may not exist yet.
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err == nil {
			counts[table] = n
		}
	}

	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO '"+quoted+"'"); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	info := &SnapshotInfo{
		CreatedAt:     s.now(),
		RowCounts:     counts,
		Tag:           tag,
		Path:          path,
		SchemaVersion: version,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, tag+".meta.json"), data, 0600); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write snapshot metadata: %w", err)
	}

	return info, nil
}

// ListSnapshots returns the database's snapshots, newest first. Snapshots
// with unreadable metadata are skipped.
func (s *SQLiteStorage) ListSnapshots(_ context.Context) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(s.snapshotDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var out []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.snapshotDir(), entry.Name()))
		if err != nil {
			continue
		}
		var info SnapshotInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
