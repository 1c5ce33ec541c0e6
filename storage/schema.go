package storage

const schema = `
CREATE TABLE IF NOT EXISTS services (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	account_name  TEXT NOT NULL,
	type          TEXT NOT NULL,
	principal_url TEXT NOT NULL DEFAULT '',
	UNIQUE (account_name, type)
);

CREATE TABLE IF NOT EXISTS homesets (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	service_id   INTEGER NOT NULL REFERENCES services(id) ON DELETE CASCADE,
	url          TEXT NOT NULL,
	personal     INTEGER NOT NULL DEFAULT 1,
	priv_bind    INTEGER NOT NULL DEFAULT 1,
	display_name TEXT NOT NULL DEFAULT '',
	UNIQUE (service_id, url)
);

CREATE TABLE IF NOT EXISTS collections (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	service_id      INTEGER NOT NULL REFERENCES services(id) ON DELETE CASCADE,
	home_set_id     INTEGER REFERENCES homesets(id) ON DELETE SET NULL,
	url             TEXT NOT NULL,
	type            TEXT NOT NULL,
	display_name    TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	color           TEXT NOT NULL DEFAULT '',
	supports_events INTEGER,
	supports_tasks  INTEGER,
	source          TEXT NOT NULL DEFAULT '',
	owner           TEXT NOT NULL DEFAULT '',
	force_read_only INTEGER NOT NULL DEFAULT 0,
	sync            INTEGER NOT NULL DEFAULT 0,
	UNIQUE (service_id, url)
);

CREATE TABLE IF NOT EXISTS sync_state (
	collection_url TEXT NOT NULL,
	data_kind      TEXT NOT NULL,
	kind           TEXT NOT NULL,
	value          TEXT NOT NULL,
	PRIMARY KEY (collection_url, data_kind)
);

CREATE TABLE IF NOT EXISTS resources (
	collection_url TEXT NOT NULL,
	data_kind      TEXT NOT NULL,
	file_name      TEXT NOT NULL,
	etag           TEXT NOT NULL DEFAULT '',
	data           BLOB,
	dirty          INTEGER NOT NULL DEFAULT 0,
	deleted        INTEGER NOT NULL DEFAULT 0,
	flags          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (collection_url, data_kind, file_name)
);

CREATE INDEX IF NOT EXISTS idx_resources_dirty
	ON resources (collection_url, data_kind, dirty);
`
