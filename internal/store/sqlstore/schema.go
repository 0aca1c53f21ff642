package sqlstore

const schema = `
CREATE TABLE IF NOT EXISTS account (
	id     INTEGER PRIMARY KEY CHECK (id = 0),
	sealed BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS tracked_users (
	user_id        TEXT PRIMARY KEY,
	devices_stored INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS devices (
	user_id      TEXT NOT NULL,
	device_id    TEXT NOT NULL,
	identity_key TEXT NOT NULL,
	signing_key  TEXT NOT NULL,
	trust        INTEGER NOT NULL,
	name         TEXT NOT NULL,
	deleted      INTEGER NOT NULL,
	PRIMARY KEY (user_id, device_id)
);

CREATE TABLE IF NOT EXISTS outbound_sessions (
	room_id       TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	message_count INTEGER NOT NULL,
	shared        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS inbound_sessions (
	sender_key  TEXT NOT NULL,
	room_id     TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	signing_key TEXT NOT NULL,
	session_key TEXT NOT NULL,
	PRIMARY KEY (sender_key, room_id, session_id)
);
`
