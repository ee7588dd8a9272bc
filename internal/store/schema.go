package store

// SchemaSQL creates the tables used by Postgres. It is idempotent.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	pair_key      TEXT NOT NULL UNIQUE,
	participant_a TEXT NOT NULL,
	participant_b TEXT NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS conversations_participant_a_idx ON conversations (participant_a, updated_at DESC);
CREATE INDEX IF NOT EXISTS conversations_participant_b_idx ON conversations (participant_b, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations (id),
	seq             INTEGER NOT NULL,
	sender_id       TEXT NOT NULL,
	receiver_id     TEXT NOT NULL,
	text            TEXT NOT NULL DEFAULT '',
	image_url       TEXT NOT NULL DEFAULT '',
	audio_url       TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (conversation_id, seq)
);

CREATE TABLE IF NOT EXISTS notifications (
	seq          BIGSERIAL,
	id           TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	sender_id    TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL,
	content      TEXT NOT NULL,
	related_id   TEXT NOT NULL DEFAULT '',
	is_read      BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS notifications_recipient_idx ON notifications (recipient_id, seq DESC);
`

// tables in delete order, for Wipe.
var tables = []string{"messages", "conversations", "notifications"}
