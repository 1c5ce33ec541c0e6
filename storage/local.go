package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/TBit-services/davsync/registry"
	"github.com/TBit-services/davsync/syncer"
)

var (
	_ registry.Store    = (*DB)(nil)
	_ syncer.LocalStore = (*DB)(nil)
)

// All lists every resource of a logical collection, including deleted-marked
// ones.
func (d *DB) All(scope syncer.Scope) ([]*syncer.LocalResource, error) {
	rows, err := d.conn.Query(
		`SELECT file_name, etag, data, dirty, deleted, flags
		 FROM resources WHERE collection_url = ? AND data_kind = ? ORDER BY file_name`,
		scope.CollectionURL, scope.Kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var resources []*syncer.LocalResource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, rows.Err()
}

// Find returns the resource with the given file name, or nil if absent.
func (d *DB) Find(scope syncer.Scope, fileName string) (*syncer.LocalResource, error) {
	rows, err := d.conn.Query(
		`SELECT file_name, etag, data, dirty, deleted, flags
		 FROM resources WHERE collection_url = ? AND data_kind = ? AND file_name = ?`,
		scope.CollectionURL, scope.Kind, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanResource(rows)
}

// Save upserts a resource keyed by its file name.
func (d *DB) Save(scope syncer.Scope, res *syncer.LocalResource) error {
	_, err := d.conn.Exec(
		`INSERT INTO resources (collection_url, data_kind, file_name, etag, data, dirty, deleted, flags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (collection_url, data_kind, file_name) DO UPDATE SET
		   etag = excluded.etag, data = excluded.data,
		   dirty = excluded.dirty, deleted = excluded.deleted, flags = excluded.flags`,
		scope.CollectionURL, scope.Kind, res.FileName, res.ETag, res.Data, res.Dirty, res.Deleted, int64(res.Flags))
	if err != nil {
		return fmt.Errorf("failed to save resource %s: %w", res.FileName, err)
	}
	return nil
}

// Delete removes a resource row.
func (d *DB) Delete(scope syncer.Scope, fileName string) error {
	_, err := d.conn.Exec(
		`DELETE FROM resources WHERE collection_url = ? AND data_kind = ? AND file_name = ?`,
		scope.CollectionURL, scope.Kind, fileName)
	if err != nil {
		return fmt.Errorf("failed to delete resource %s: %w", fileName, err)
	}
	return nil
}

// SyncState returns the persisted sync checkpoint, or nil if none.
func (d *DB) SyncState(scope syncer.Scope) (*registry.SyncState, error) {
	var kind, value string
	err := d.conn.QueryRow(
		`SELECT kind, value FROM sync_state WHERE collection_url = ? AND data_kind = ?`,
		scope.CollectionURL, scope.Kind).
		Scan(&kind, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync state: %w", err)
	}
	return &registry.SyncState{Kind: registry.SyncStateKind(kind), Value: value}, nil
}

// SetSyncState persists the checkpoint; a nil state clears it.
func (d *DB) SetSyncState(scope syncer.Scope, state *registry.SyncState) error {
	if state == nil {
		_, err := d.conn.Exec(
			`DELETE FROM sync_state WHERE collection_url = ? AND data_kind = ?`,
			scope.CollectionURL, scope.Kind)
		if err != nil {
			return fmt.Errorf("failed to clear sync state: %w", err)
		}
		return nil
	}
	_, err := d.conn.Exec(
		`INSERT INTO sync_state (collection_url, data_kind, kind, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection_url, data_kind) DO UPDATE SET kind = excluded.kind, value = excluded.value`,
		scope.CollectionURL, scope.Kind, string(state.Kind), state.Value)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

func scanResource(rows *sql.Rows) (*syncer.LocalResource, error) {
	var res syncer.LocalResource
	var flags int64
	if err := rows.Scan(&res.FileName, &res.ETag, &res.Data, &res.Dirty, &res.Deleted, &flags); err != nil {
		return nil, err
	}
	res.Flags = uint8(flags)
	return &res, nil
}
