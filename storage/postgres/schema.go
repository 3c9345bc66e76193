package postgres

const dropSchema = `
DROP VIEW IF EXISTS parent_summary CASCADE;
DROP VIEW IF EXISTS obj_events CASCADE;
DROP TABLE IF EXISTS event_temp CASCADE;
DROP TABLE IF EXISTS object_temp CASCADE;
DROP TABLE IF EXISTS impact CASCADE;
DROP TABLE IF EXISTS event CASCADE;
DROP TABLE IF EXISTS object CASCADE;
DROP TABLE IF EXISTS session CASCADE;
`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS session (
		session_id  BIGSERIAL PRIMARY KEY,
		uuid        UUID NOT NULL UNIQUE,
		start_time  TIMESTAMPTZ NOT NULL,
		datasource  TEXT,
		author      TEXT,
		title       TEXT,
		lat         DOUBLE PRECISION NOT NULL,
		lon         DOUBLE PRECISION NOT NULL,
		time_offset DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS object (
		id             BIGINT NOT NULL,
		session_id     BIGINT NOT NULL REFERENCES session(session_id) ON DELETE CASCADE,
		name           TEXT,
		color          TEXT,
		country        TEXT,
		grp            TEXT,
		pilot          TEXT,
		type           TEXT,
		platform       TEXT,
		coalition      TEXT,
		alive          BOOLEAN NOT NULL,
		first_seen     DOUBLE PRECISION NOT NULL,
		last_seen      DOUBLE PRECISION NOT NULL,
		lat            DOUBLE PRECISION NOT NULL,
		lon            DOUBLE PRECISION NOT NULL,
		alt            DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		roll           DOUBLE PRECISION,
		pitch          DOUBLE PRECISION,
		yaw            DOUBLE PRECISION,
		u_coord        DOUBLE PRECISION,
		v_coord        DOUBLE PRECISION,
		heading        DOUBLE PRECISION,
		updates        INTEGER NOT NULL,
		secs_from_last DOUBLE PRECISION,
		velocity_kts   DOUBLE PRECISION,
		impacted       BIGINT,
		impacted_dist  DOUBLE PRECISION,
		parent         BIGINT,
		parent_dist    DOUBLE PRECISION,
		PRIMARY KEY (session_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS event (
		id           BIGINT NOT NULL,
		session_id   BIGINT NOT NULL,
		last_seen    DOUBLE PRECISION NOT NULL,
		alive        BOOLEAN NOT NULL,
		lat          DOUBLE PRECISION NOT NULL,
		lon          DOUBLE PRECISION NOT NULL,
		alt          DOUBLE PRECISION NOT NULL,
		roll         DOUBLE PRECISION,
		pitch        DOUBLE PRECISION,
		yaw          DOUBLE PRECISION,
		u_coord      DOUBLE PRECISION,
		v_coord      DOUBLE PRECISION,
		heading      DOUBLE PRECISION,
		velocity_kts DOUBLE PRECISION,
		updates      INTEGER NOT NULL,
		FOREIGN KEY (session_id, id) REFERENCES object(session_id, id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_object ON event(session_id, id, updates)`,
	`CREATE TABLE IF NOT EXISTS impact (
		session_id  BIGINT NOT NULL REFERENCES session(session_id) ON DELETE CASCADE,
		killer      BIGINT,
		target      BIGINT NOT NULL,
		weapon      BIGINT NOT NULL,
		time_offset DOUBLE PRECISION NOT NULL,
		impact_dist DOUBLE PRECISION NOT NULL
	)`,
	`CREATE UNLOGGED TABLE IF NOT EXISTS event_temp (LIKE event INCLUDING DEFAULTS)`,
	`CREATE UNLOGGED TABLE IF NOT EXISTS object_temp (LIKE object INCLUDING DEFAULTS)`,
	`CREATE OR REPLACE VIEW obj_events AS
		SELECT * FROM event evt
		INNER JOIN (
			SELECT id, session_id, name, color, pilot, first_seen, type, grp, coalition, impacted, parent
			FROM object
		) obj USING (id, session_id)`,
	`CREATE OR REPLACE VIEW parent_summary AS
		SELECT session_id, pilot, name, type, parent, count(*) AS total, count(impacted) AS impacts
		FROM (SELECT parent, name, type, impacted, session_id FROM object
			WHERE parent IS NOT NULL AND name IS NOT NULL) objs
		INNER JOIN (SELECT id AS parent, pilot, session_id FROM object WHERE pilot IS NOT NULL) pilots
		USING (parent, session_id)
		GROUP BY session_id, name, type, parent, pilot`,
}

var objectColumns = []string{
	"id", "session_id", "name", "color", "country", "grp", "pilot", "type", "platform", "coalition",
	"alive", "first_seen", "last_seen", "lat", "lon", "alt", "roll", "pitch", "yaw",
	"u_coord", "v_coord", "heading", "updates", "secs_from_last", "velocity_kts",
	"impacted", "impacted_dist", "parent", "parent_dist",
}

var eventColumns = []string{
	"id", "session_id", "last_seen", "alive", "lat", "lon", "alt", "roll", "pitch", "yaw",
	"u_coord", "v_coord", "heading", "velocity_kts", "updates",
}

const insertObject = `
INSERT INTO object (
	id, session_id, name, color, country, grp, pilot, type, platform, coalition,
	alive, first_seen, last_seen, lat, lon, alt, roll, pitch, yaw, u_coord, v_coord, heading,
	updates, secs_from_last, velocity_kts, impacted, impacted_dist, parent, parent_dist
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
	$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`

const updateObject = `
UPDATE object SET
	name = $3, color = $4, country = $5, grp = $6, pilot = $7, type = $8, platform = $9,
	coalition = $10, alive = $11, last_seen = $12, lat = $13, lon = $14, alt = $15,
	roll = $16, pitch = $17, yaw = $18, u_coord = $19, v_coord = $20, heading = $21,
	updates = $22, secs_from_last = $23, velocity_kts = $24, impacted = $25,
	impacted_dist = $26, parent = $27, parent_dist = $28
WHERE id = $1 AND session_id = $2`

const updateObjectFromTemp = `
UPDATE object o SET
	name = t.name, color = t.color, country = t.country, grp = t.grp, pilot = t.pilot,
	type = t.type, platform = t.platform, coalition = t.coalition, alive = t.alive,
	last_seen = t.last_seen, lat = t.lat, lon = t.lon, alt = t.alt, roll = t.roll,
	pitch = t.pitch, yaw = t.yaw, u_coord = t.u_coord, v_coord = t.v_coord,
	heading = t.heading, updates = t.updates, secs_from_last = t.secs_from_last,
	velocity_kts = t.velocity_kts, impacted = t.impacted, impacted_dist = t.impacted_dist,
	parent = t.parent, parent_dist = t.parent_dist
FROM object_temp t
WHERE o.session_id = t.session_id AND o.id = t.id`

const insertEvent = `
INSERT INTO event (
	id, session_id, last_seen, alive, lat, lon, alt, roll, pitch, yaw,
	u_coord, v_coord, heading, velocity_kts, updates
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const insertImpact = `
INSERT INTO impact (session_id, killer, target, weapon, time_offset, impact_dist)
VALUES ($1, $2, $3, $4, $5, $6)`
