package sqlite

// Schema creates all tables used by the SQLite store. Every statement is
// idempotent so it can run on each open.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	breed       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	media_ref   TEXT NOT NULL DEFAULT '',
	owner_id    TEXT NOT NULL DEFAULT '',
	subject_id  TEXT NOT NULL DEFAULT '',
	persona     TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_kind_created ON entities(kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_entities_subject ON entities(subject_id);

CREATE TABLE IF NOT EXISTS embeddings (
	entity_id  TEXT PRIMARY KEY REFERENCES entities(id) ON DELETE CASCADE,
	status     TEXT NOT NULL DEFAULT 'pending',
	vector     BLOB,
	dimension  INTEGER NOT NULL DEFAULT 0,
	model      TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_embeddings_status ON embeddings(status);

CREATE TABLE IF NOT EXISTS memories (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	subject_id TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_subject_seq ON memories(subject_id, seq DESC);

CREATE TABLE IF NOT EXISTS interactions (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	actor_id   TEXT NOT NULL DEFAULT '',
	subject_id TEXT NOT NULL,
	input      TEXT NOT NULL,
	output     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_subject_seq ON interactions(subject_id, seq DESC);
`
