package migrations

// DialectTemplate supplies the SQL fragments that differ between the database
// dialects supported by the store, for use inside migration SQL templates
// (referenced as {{.Binary}} / {{.IntegerPrimaryKey}}).
type DialectTemplate struct {
	// Binary is the column type used to store raw bytes.
	Binary string
	// IntegerPrimaryKey is the column type and constraints used for an
	// auto-incrementing integer primary key.
	IntegerPrimaryKey string
}

// MigrationData describes a single up/down migration pair.
type MigrationData struct {
	// SequenceNumber orders migrations; golang-migrate uses this as the migration version.
	SequenceNumber int64
	// Name is a short human-readable identifier, used in the generated migration filename.
	Name string
	// UpSQL is a text/template string (executed against a *DialectTemplate) applying the migration.
	UpSQL string
	// DownSQL is a text/template string reverting the migration.
	DownSQL string
}

// MigrationSet is an ordered list of migrations to apply to a fresh or existing database.
type MigrationSet []MigrationData

// OrchestratorMigrations is the full set of migrations required to take a fresh database
// to the schema used by the job store: a schema_version marker table, and the single
// jobs table that holds both job and step state.
var OrchestratorMigrations = MigrationSet{
	{
		SequenceNumber: 1,
		Name:           "create_jobs",
		UpSQL: `
CREATE TABLE schema_version (
    version    integer NOT NULL,
    applied_at timestamp NOT NULL
);
INSERT INTO schema_version (version, applied_at) VALUES (1, CURRENT_TIMESTAMP);

CREATE TABLE jobs (
    job_id             text NOT NULL PRIMARY KEY,
    status             text NOT NULL,
    priority           integer NOT NULL DEFAULT 0,
    progress           real NOT NULL DEFAULT 0,
    error_code         text,
    error_message      text,
    cancel_requested   boolean NOT NULL DEFAULT false,
    config_json        text NOT NULL,
    steps_json         text NOT NULL,
    metadata_json      text,
    created_at         timestamp NOT NULL,
    updated_at         timestamp NOT NULL,
    started_at         timestamp,
    completed_at       timestamp
);

CREATE INDEX idx_jobs_status ON jobs (status);
CREATE INDEX idx_jobs_created_at ON jobs (created_at);
`,
		DownSQL: `
DROP INDEX IF EXISTS idx_jobs_created_at;
DROP INDEX IF EXISTS idx_jobs_status;
DROP TABLE IF EXISTS jobs;
DROP TABLE IF EXISTS schema_version;
`,
	},
}
