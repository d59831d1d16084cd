package store

import "database/sql"

// schemaStatements creates every logical table named in the specification.
// Column order is non-normative; these match the spec's persisted-state
// section so the database remains easy to inspect with any sqlite client.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS notes(
		uuid TEXT PRIMARY KEY,
		title TEXT,
		contents TEXT,
		created_at DATETIME,
		last_updated DATETIME,
		embeddings BLOB,
		tags TEXT,
		deleted BOOLEAN DEFAULT 0,
		note_hash TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS change_log(
		op_id TEXT PRIMARY KEY,
		note_id TEXT,
		operation_type TEXT,
		timestamp DATETIME,
		device_id TEXT,
		payload TEXT,
		lamport_clock INTEGER,
		origin_device TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS lamport_clock(
		timestamp INTEGER PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS last_sync(
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_updated DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS last_lamport_sync(
		peer_device_id TEXT PRIMARY KEY,
		last_lamport INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS device_id(
		uuid TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS device_name(
		name TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS keys(
		name TEXT PRIMARY KEY,
		private_key BLOB,
		public_key BLOB
	)`,
	`CREATE TABLE IF NOT EXISTS tokens(
		id INTEGER PRIMARY KEY,
		note_id TEXT,
		token TEXT,
		count INTEGER,
		FOREIGN KEY (note_id) REFERENCES notes(uuid)
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS lexical USING fts5(note_id, title, contents)`,
	`CREATE TABLE IF NOT EXISTS vectors(
		note_id TEXT PRIMARY KEY,
		vector BLOB
	)`,
}

func applySchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
