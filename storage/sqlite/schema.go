package sqlite

const dropSchema = `
DROP VIEW IF EXISTS parent_summary;
DROP VIEW IF EXISTS obj_events;
DROP TABLE IF EXISTS impact;
DROP TABLE IF EXISTS event;
DROP TABLE IF EXISTS object;
DROP TABLE IF EXISTS session;
`

const schema = `
CREATE TABLE IF NOT EXISTS session (
	session_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid        TEXT NOT NULL UNIQUE,
	start_time  TEXT NOT NULL,
	datasource  TEXT,
	author      TEXT,
	title       TEXT,
	lat         REAL NOT NULL,
	lon         REAL NOT NULL,
	time_offset REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS object (
	id             INTEGER NOT NULL,
	session_id     INTEGER NOT NULL REFERENCES session(session_id) ON DELETE CASCADE,
	name           TEXT,
	color          TEXT,
	country        TEXT,
	grp            TEXT,
	pilot          TEXT,
	type           TEXT,
	platform       TEXT,
	coalition      TEXT,
	alive          INTEGER NOT NULL,
	first_seen     REAL NOT NULL,
	last_seen      REAL NOT NULL,
	lat            REAL NOT NULL,
	lon            REAL NOT NULL,
	alt            REAL NOT NULL DEFAULT 1.0,
	roll           REAL,
	pitch          REAL,
	yaw            REAL,
	u_coord        REAL,
	v_coord        REAL,
	heading        REAL,
	updates        INTEGER NOT NULL,
	secs_from_last REAL,
	velocity_kts   REAL,
	impacted       INTEGER,
	impacted_dist  REAL,
	parent         INTEGER,
	parent_dist    REAL,
	PRIMARY KEY (session_id, id)
);

CREATE TABLE IF NOT EXISTS event (
	id           INTEGER NOT NULL,
	session_id   INTEGER NOT NULL,
	last_seen    REAL NOT NULL,
	alive        INTEGER NOT NULL,
	lat          REAL NOT NULL,
	lon          REAL NOT NULL,
	alt          REAL NOT NULL,
	roll         REAL,
	pitch        REAL,
	yaw          REAL,
	u_coord      REAL,
	v_coord      REAL,
	heading      REAL,
	velocity_kts REAL,
	updates      INTEGER NOT NULL,
	FOREIGN KEY (session_id, id) REFERENCES object(session_id, id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_event_object ON event(session_id, id, updates);

CREATE TABLE IF NOT EXISTS impact (
	session_id  INTEGER NOT NULL REFERENCES session(session_id) ON DELETE CASCADE,
	killer      INTEGER,
	target      INTEGER NOT NULL,
	weapon      INTEGER NOT NULL,
	time_offset REAL NOT NULL,
	impact_dist REAL NOT NULL
);

CREATE VIEW IF NOT EXISTS obj_events AS
SELECT evt.*, obj.name, obj.color, obj.pilot, obj.first_seen, obj.type,
	obj.grp, obj.coalition, obj.impacted, obj.parent
FROM event evt
INNER JOIN object obj ON obj.id = evt.id AND obj.session_id = evt.session_id;

CREATE VIEW IF NOT EXISTS parent_summary AS
SELECT obj.session_id, pilots.pilot, obj.name, obj.type, obj.parent,
	count(*) AS total, count(obj.impacted) AS impacts
FROM object obj
INNER JOIN (
	SELECT id AS parent, pilot, session_id FROM object WHERE pilot IS NOT NULL
) pilots ON pilots.parent = obj.parent AND pilots.session_id = obj.session_id
WHERE obj.parent IS NOT NULL AND obj.name IS NOT NULL
GROUP BY obj.session_id, obj.name, obj.type, obj.parent, pilots.pilot;
`
