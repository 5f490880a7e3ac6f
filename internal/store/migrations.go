package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
// Migrations are additive only; the schema_version table gates startup.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	address    TEXT NOT NULL,
	protocol   TEXT NOT NULL DEFAULT 'imap' CHECK(protocol IN ('imap', 'pop3')),
	incoming   TEXT NOT NULL DEFAULT '{}',
	outgoing   TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS folders (
	id            TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	server_path   TEXT NOT NULL,
	type          TEXT NOT NULL DEFAULT 'custom',
	missing_since DATETIME,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account_id, server_path)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	folder_id  TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	uid        INTEGER NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	from_addr  TEXT NOT NULL DEFAULT '{}',
	to_addrs   TEXT NOT NULL DEFAULT '[]',
	cc_addrs   TEXT NOT NULL DEFAULT '[]',
	date       TEXT NOT NULL DEFAULT '',
	body_text  TEXT NOT NULL DEFAULT '',
	body_html  TEXT NOT NULL DEFAULT '',
	read       INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	starred    INTEGER NOT NULL DEFAULT 0 CHECK(starred IN (0, 1)),
	deleted    INTEGER NOT NULL DEFAULT 0 CHECK(deleted IN (0, 1)),
	tags       TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(folder_id, uid)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_account_message_id
	ON messages(account_id, message_id) WHERE message_id != '';

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '{}',
	secondary  TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS contact_groups (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account_id, name)
);

CREATE TABLE IF NOT EXISTS contact_group_members (
	group_id   TEXT NOT NULL REFERENCES contact_groups(id) ON DELETE CASCADE,
	contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (group_id, contact_id)
);

CREATE TABLE IF NOT EXISTS filter_rules (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	field          TEXT NOT NULL CHECK(field IN ('subject', 'from', 'to', 'body')),
	match          TEXT NOT NULL CHECK(match IN ('contains', 'equals', 'startswith', 'endswith', 'regex')),
	pattern        TEXT NOT NULL,
	case_sensitive INTEGER NOT NULL DEFAULT 0 CHECK(case_sensitive IN (0, 1)),
	action_type    TEXT NOT NULL,
	action_arg     TEXT NOT NULL DEFAULT '',
	enabled        INTEGER NOT NULL DEFAULT 1 CHECK(enabled IN (0, 1)),
	position       INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS outbox (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	to_addrs   TEXT NOT NULL DEFAULT '[]',
	subject    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0 CHECK(attempts >= 0),
	last_error TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'sending', 'failed')),
	not_before DATETIME NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_messages_folder_id ON messages(folder_id);
CREATE INDEX IF NOT EXISTS idx_messages_account_id ON messages(account_id);
CREATE INDEX IF NOT EXISTS idx_messages_read ON messages(folder_id, read);
CREATE INDEX IF NOT EXISTS idx_folders_account_id ON folders(account_id);
CREATE INDEX IF NOT EXISTS idx_filter_rules_account ON filter_rules(account_id, position);
CREATE INDEX IF NOT EXISTS idx_outbox_account_status ON outbox(account_id, status, created_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
