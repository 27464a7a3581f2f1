package database

import "database/sql"

// GlobalSchema holds the tables shared by all churches: organizations,
// their users, webhook endpoints and the audit trail.
const GlobalSchema = `
CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	slug TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	db_file_path TEXT NOT NULL,
	plan_tier TEXT DEFAULT 'free',
	member_quota INTEGER DEFAULT 100,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	email TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	full_name TEXT NOT NULL,
	role TEXT DEFAULT 'volunteer',
	phone TEXT,
	last_login_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_users_org ON users(organization_id);

CREATE TABLE IF NOT EXISTS webhook_endpoints (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	events TEXT NOT NULL,
	secret TEXT NOT NULL,
	is_active INTEGER DEFAULT 1,
	success_count INTEGER DEFAULT 0,
	failure_count INTEGER DEFAULT 0,
	last_triggered_at INTEGER,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	user_id TEXT,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT,
	metadata TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_org_time ON audit_logs(organization_id, created_at);
`

// TenantSchema is applied to every church's own database file.
const TenantSchema = `
CREATE TABLE IF NOT EXISTS ministries (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	leader_id TEXT NOT NULL,
	status TEXT DEFAULT 'active',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	ministry_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	location TEXT,
	starts_at INTEGER NOT NULL,
	ends_at INTEGER NOT NULL,
	volunteers_needed INTEGER DEFAULT 0,
	status TEXT DEFAULT 'scheduled',
	created_by TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_starts ON events(starts_at);

CREATE TABLE IF NOT EXISTS assignments (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	volunteer_id TEXT NOT NULL,
	position TEXT NOT NULL,
	status TEXT DEFAULT 'pending',
	notes TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assignments_event ON assignments(event_id);
CREATE INDEX IF NOT EXISTS idx_assignments_volunteer ON assignments(volunteer_id);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	channel TEXT NOT NULL,
	subject TEXT,
	body TEXT,
	status TEXT DEFAULT 'queued',
	sent_at INTEGER,
	created_at INTEGER NOT NULL
);
`

func InitGlobalSchema(db *sql.DB) error {
	_, err := db.Exec(GlobalSchema)
	return err
}

func InitTenantSchema(db *sql.DB) error {
	_, err := db.Exec(TenantSchema)
	return err
}
