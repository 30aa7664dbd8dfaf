package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

// SnapshotStore persists serialized topology snapshots, one row per completed
// discovery pass.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a SnapshotStore backed by the given database.
// Migrate must have been run with Migrations() first.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Migrations returns the schema migrations for the snapshot component.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create topology_snapshots table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS topology_snapshots (
						id           TEXT     PRIMARY KEY,
						captured_at  DATETIME NOT NULL,
						device_count INTEGER  NOT NULL,
						link_count   INTEGER  NOT NULL,
						graph_json   TEXT     NOT NULL
					)
				`)
				if err != nil {
					return err
				}
				_, err = tx.Exec(`
					CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at
					ON topology_snapshots (captured_at)
				`)
				return err
			},
		},
	}
}

// Save appends a snapshot row. Implements the discovery engine's snapshot
// sink; errors are the caller's to log, the graph in memory is never rolled
// back on persistence failure.
func (s *SnapshotStore) Save(ctx context.Context, graph models.TopologyGraph) error {
	payload, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO topology_snapshots (id, captured_at, device_count, link_count, graph_json)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(),
		time.Now().UTC(),
		len(graph.Devices),
		len(graph.Links),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recently captured snapshot, or nil if none exists.
func (s *SnapshotStore) Latest(ctx context.Context) (*models.TopologyGraph, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT graph_json FROM topology_snapshots
		ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}

	var graph models.TopologyGraph
	if err := json.Unmarshal([]byte(payload), &graph); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &graph, nil
}

// Prune deletes snapshots older than the retention window, keeping at least
// the most recent one.
func (s *SnapshotStore) Prune(ctx context.Context, retain time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retain)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM topology_snapshots
		WHERE captured_at < ?
		  AND id != (SELECT id FROM topology_snapshots ORDER BY captured_at DESC LIMIT 1)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
