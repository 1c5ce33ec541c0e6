package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/TBit-services/davsync/registry"
)

// InsertService inserts a service row and sets its ID.
func (d *DB) InsertService(s *registry.Service) error {
	res, err := d.conn.Exec(
		`INSERT INTO services (account_name, type, principal_url) VALUES (?, ?, ?)`,
		s.AccountName, string(s.Type), s.PrincipalURL)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func (d *DB) ServiceByID(id int64) (*registry.Service, error) {
	row := d.conn.QueryRow(
		`SELECT id, account_name, type, principal_url FROM services WHERE id = ?`, id)
	return scanService(row)
}

func (d *DB) ServiceByAccountAndType(account string, t registry.ServiceType) (*registry.Service, error) {
	row := d.conn.QueryRow(
		`SELECT id, account_name, type, principal_url FROM services WHERE account_name = ? AND type = ?`,
		account, string(t))
	return scanService(row)
}

func (d *DB) ServicesByAccount(account string) ([]*registry.Service, error) {
	rows, err := d.conn.Query(
		`SELECT id, account_name, type, principal_url FROM services WHERE account_name = ? ORDER BY id`,
		account)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []*registry.Service
	for rows.Next() {
		var s registry.Service
		var t string
		if err := rows.Scan(&s.ID, &s.AccountName, &t, &s.PrincipalURL); err != nil {
			return nil, err
		}
		s.Type = registry.ServiceType(t)
		services = append(services, &s)
	}
	return services, rows.Err()
}

func (d *DB) UpdateServicePrincipal(id int64, principalURL string) error {
	_, err := d.conn.Exec(`UPDATE services SET principal_url = ? WHERE id = ?`, principalURL, id)
	if err != nil {
		return fmt.Errorf("failed to update principal URL: %w", err)
	}
	return nil
}

func (d *DB) DeleteServicesByAccount(account string) error {
	_, err := d.conn.Exec(`DELETE FROM services WHERE account_name = ?`, account)
	if err != nil {
		return fmt.Errorf("failed to delete services: %w", err)
	}
	return nil
}

func scanService(row *sql.Row) (*registry.Service, error) {
	var s registry.Service
	var t string
	err := row.Scan(&s.ID, &s.AccountName, &t, &s.PrincipalURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Type = registry.ServiceType(t)
	return &s, nil
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func (d *DB) HomeSetsByService(serviceID int64) ([]*registry.HomeSet, error) {
	return queryHomeSets(d.conn, serviceID)
}

func queryHomeSets(q querier, serviceID int64) ([]*registry.HomeSet, error) {
	rows, err := q.Query(
		`SELECT id, service_id, url, personal, priv_bind, display_name
		 FROM homesets WHERE service_id = ? ORDER BY url`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query home sets: %w", err)
	}
	defer rows.Close()

	var homeSets []*registry.HomeSet
	for rows.Next() {
		var h registry.HomeSet
		if err := rows.Scan(&h.ID, &h.ServiceID, &h.URL, &h.Personal, &h.PrivBind, &h.DisplayName); err != nil {
			return nil, err
		}
		homeSets = append(homeSets, &h)
	}
	return homeSets, rows.Err()
}

func (d *DB) CollectionsByService(serviceID int64) ([]*registry.Collection, error) {
	return queryCollections(d.conn, serviceID)
}

func queryCollections(q querier, serviceID int64) ([]*registry.Collection, error) {
	rows, err := q.Query(
		`SELECT id, service_id, home_set_id, url, type, display_name, description, color,
		        supports_events, supports_tasks, source, owner, force_read_only, sync
		 FROM collections WHERE service_id = ? ORDER BY url`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var collections []*registry.Collection
	for rows.Next() {
		var c registry.Collection
		var homeSetID sql.NullInt64
		var events, tasks sql.NullBool
		var t string
		if err := rows.Scan(&c.ID, &c.ServiceID, &homeSetID, &c.URL, &t,
			&c.DisplayName, &c.Description, &c.Color,
			&events, &tasks, &c.Source, &c.Owner, &c.ForceReadOnly, &c.Sync); err != nil {
			return nil, err
		}
		c.Type = registry.CollectionType(t)
		if homeSetID.Valid {
			id := homeSetID.Int64
			c.HomeSetID = &id
		}
		if events.Valid {
			v := events.Bool
			c.SupportsEvents = &v
		}
		if tasks.Valid {
			v := tasks.Bool
			c.SupportsTasks = &v
		}
		collections = append(collections, &c)
	}
	return collections, rows.Err()
}

func (d *DB) SetCollectionSync(serviceID int64, url string, sync bool) error {
	res, err := d.conn.Exec(
		`UPDATE collections SET sync = ? WHERE service_id = ? AND url = ?`,
		sync, serviceID, url)
	if err != nil {
		return fmt.Errorf("failed to update sync flag: %w", err)
	}
	return requireRow(res)
}

func (d *DB) SetCollectionForceReadOnly(serviceID int64, url string, forceReadOnly bool) error {
	res, err := d.conn.Exec(
		`UPDATE collections SET force_read_only = ? WHERE service_id = ? AND url = ?`,
		forceReadOnly, serviceID, url)
	if err != nil {
		return fmt.Errorf("failed to update read-only flag: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// CommitRefresh diff-reconciles the persisted home sets and collections of
// one service against the working maps of a refresh pass, in a single
// transaction. Collection rows overwritten in place keep their
// force_read_only value from the old row.
func (d *DB) CommitRefresh(serviceID int64, homeSets map[string]*registry.HomeSet, collections map[string]*registry.Collection) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin refresh commit: %w", err)
	}
	defer tx.Rollback()

	// home sets first, so collections can reference their row IDs
	persistedHS, err := queryHomeSets(tx, serviceID)
	if err != nil {
		return err
	}
	hsDiff := registry.Diff(persistedHS, homeSets, func(old, updated *registry.HomeSet) {
		updated.ID = old.ID
	})
	for _, h := range hsDiff.Update {
		if _, err := tx.Exec(
			`UPDATE homesets SET url = ?, personal = ?, priv_bind = ?, display_name = ? WHERE id = ?`,
			h.URL, h.Personal, h.PrivBind, h.DisplayName, h.ID); err != nil {
			return fmt.Errorf("failed to update home set %s: %w", h.URL, err)
		}
	}
	for _, h := range hsDiff.Insert {
		h.ServiceID = serviceID
		res, err := tx.Exec(
			`INSERT INTO homesets (service_id, url, personal, priv_bind, display_name) VALUES (?, ?, ?, ?, ?)`,
			h.ServiceID, h.URL, h.Personal, h.PrivBind, h.DisplayName)
		if err != nil {
			return fmt.Errorf("failed to insert home set %s: %w", h.URL, err)
		}
		if h.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	for _, h := range hsDiff.Delete {
		if _, err := tx.Exec(`DELETE FROM homesets WHERE id = ?`, h.ID); err != nil {
			return fmt.Errorf("failed to delete home set %s: %w", h.URL, err)
		}
	}

	// resolve transient home set links now that every home set has an ID
	for _, c := range collections {
		c.ServiceID = serviceID
		if c.HomeSet != nil {
			id := c.HomeSet.ID
			c.HomeSetID = &id
		}
	}

	persistedColl, err := queryCollections(tx, serviceID)
	if err != nil {
		return err
	}
	collDiff := registry.Diff(persistedColl, collections, func(old, updated *registry.Collection) {
		updated.ID = old.ID
		updated.ForceReadOnly = old.ForceReadOnly
	})
	for _, c := range collDiff.Update {
		if _, err := tx.Exec(
			`UPDATE collections SET home_set_id = ?, type = ?, display_name = ?, description = ?,
			        color = ?, supports_events = ?, supports_tasks = ?, source = ?, owner = ?,
			        force_read_only = ?, sync = ?
			 WHERE id = ?`,
			nullableID(c.HomeSetID), string(c.Type), c.DisplayName, c.Description,
			c.Color, nullableBool(c.SupportsEvents), nullableBool(c.SupportsTasks),
			c.Source, c.Owner, c.ForceReadOnly, c.Sync, c.ID); err != nil {
			return fmt.Errorf("failed to update collection %s: %w", c.URL, err)
		}
	}
	for _, c := range collDiff.Insert {
		res, err := tx.Exec(
			`INSERT INTO collections (service_id, home_set_id, url, type, display_name, description,
			        color, supports_events, supports_tasks, source, owner, force_read_only, sync)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ServiceID, nullableID(c.HomeSetID), c.URL, string(c.Type), c.DisplayName, c.Description,
			c.Color, nullableBool(c.SupportsEvents), nullableBool(c.SupportsTasks),
			c.Source, c.Owner, c.ForceReadOnly, c.Sync)
		if err != nil {
			return fmt.Errorf("failed to insert collection %s: %w", c.URL, err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	for _, c := range collDiff.Delete {
		if _, err := tx.Exec(`DELETE FROM collections WHERE id = ?`, c.ID); err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", c.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refresh: %w", err)
	}
	return nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
