package postgres

// Schema creates the base tables. All statements are idempotent.
// Vectors are always kept in the BYTEA column so the store works on servers
// without the pgvector extension.
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
	seq         BIGSERIAL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_kind_created ON entities(kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_entities_subject ON entities(subject_id);

CREATE TABLE IF NOT EXISTS embeddings (
	entity_id  TEXT PRIMARY KEY REFERENCES entities(id) ON DELETE CASCADE,
	status     TEXT NOT NULL DEFAULT 'pending',
	vector     BYTEA,
	dimension  INTEGER NOT NULL DEFAULT 0,
	model      TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_embeddings_status ON embeddings(status);

CREATE TABLE IF NOT EXISTS memories (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	subject_id TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_subject_seq ON memories(subject_id, seq DESC);

CREATE TABLE IF NOT EXISTS interactions (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	actor_id   TEXT NOT NULL DEFAULT '',
	subject_id TEXT NOT NULL,
	input      TEXT NOT NULL,
	output     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_subject_seq ON interactions(subject_id, seq DESC);
`

// MigrationPgvector adds the pgvector column used for in-database ranking.
// The column has no fixed dimension so models can change between deployments;
// rows with a different dimension than the query are filtered out at query
// time.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'embeddings' AND column_name = 'vector_vec'
    ) THEN
        ALTER TABLE embeddings ADD COLUMN vector_vec vector;
    END IF;
END
$$;
`
