// Package sqlite implements ports.PersistentStore over modernc.org/sqlite
// (pure Go, no cgo), grounded on the teacher's internal/adapter/sqlite.Store
// (internal/adapter/sqlite/store.go): same Open/openDB/WAL-pragma shape,
// retargeted from network specs to cached attribute reports and discovered-
// device TXT/SRV blobs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/defaults"
	"matterctl/internal/matter/ports"
)

var _ ports.PersistentStore = (*Store)(nil)

// Store is the production ports.PersistentStore.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path,
// creating its parent directory via defaults.EnsureDataRoot.
func Open(path string) (*Store, error) {
	if err := defaults.EnsureDataRoot(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS attributes (
	fabric_id   TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	endpoint    INTEGER NOT NULL,
	cluster     INTEGER NOT NULL,
	attribute   INTEGER NOT NULL,
	value_json  TEXT NOT NULL,
	data_version INTEGER NOT NULL,
	PRIMARY KEY (fabric_id, node_id, endpoint, cluster, attribute)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize attributes schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS discovery_records (
	instance_name TEXT PRIMARY KEY,
	data          BLOB NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize discovery records schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) LoadAttributes(ctx context.Context, target addr.PeerAddress) ([]ports.AttributeReport, error) {
	fabricID, nodeID := keyParts(target)
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, cluster, attribute, value_json, data_version
		 FROM attributes WHERE fabric_id = ? AND node_id = ?
		 ORDER BY endpoint, cluster, attribute`,
		fabricID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("load attributes for %s: %w", target, err)
	}
	defer rows.Close()

	var out []ports.AttributeReport
	for rows.Next() {
		var r ports.AttributeReport
		var valueJSON string
		if err := rows.Scan(&r.Endpoint, &r.Cluster, &r.Attribute, &valueJSON, &r.DataVersion); err != nil {
			return nil, fmt.Errorf("scan attribute row for %s: %w", target, err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &r.Value); err != nil {
			return nil, fmt.Errorf("unmarshal attribute value for %s: %w", target, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attribute rows for %s: %w", target, err)
	}
	return out, nil
}

// SaveAttributes replaces every cached attribute for target with reports,
// so a disconnect/reconnect cycle never leaves a stale attribute the
// device itself no longer reports.
func (s *Store) SaveAttributes(ctx context.Context, target addr.PeerAddress, reports []ports.AttributeReport) error {
	fabricID, nodeID := keyParts(target)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save attributes for %s: %w", target, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE fabric_id = ? AND node_id = ?`, fabricID, nodeID); err != nil {
		return fmt.Errorf("clear attributes for %s: %w", target, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attributes (fabric_id, node_id, endpoint, cluster, attribute, value_json, data_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert attributes for %s: %w", target, err)
	}
	defer stmt.Close()

	for _, r := range reports {
		payload, err := json.Marshal(r.Value)
		if err != nil {
			return fmt.Errorf("marshal attribute value for %s: %w", target, err)
		}
		if _, err := stmt.ExecContext(ctx, fabricID, nodeID, r.Endpoint, r.Cluster, r.Attribute, string(payload), r.DataVersion); err != nil {
			return fmt.Errorf("insert attribute for %s: %w", target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save attributes for %s: %w", target, err)
	}
	return nil
}

func (s *Store) LoadDiscoveryRecord(ctx context.Context, instanceName string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM discovery_records WHERE instance_name = ?`, instanceName).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load discovery record %q: %w", instanceName, err)
	}
	return data, nil
}

func (s *Store) SaveDiscoveryRecord(ctx context.Context, instanceName string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_records (instance_name, data) VALUES (?, ?)
		 ON CONFLICT(instance_name) DO UPDATE SET data = excluded.data`,
		instanceName, data)
	if err != nil {
		return fmt.Errorf("save discovery record %q: %w", instanceName, err)
	}
	return nil
}

// openDB opens a SQLite database with standard pragmas (WAL mode, busy
// timeout), the same pragma pair the teacher's openDB sets.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

func keyParts(target addr.PeerAddress) (fabricID, nodeID string) {
	return fmt.Sprintf("%016X", target.FabricID), fmt.Sprintf("%016X", target.NodeID)
}
