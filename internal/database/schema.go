package database

// complianceSchema backs the scraper dedup ledger and scheduler run history.
// Scraper output itself is an append-only JSON audit trail on disk; these
// tables exist so a republished feed entry is recognized across restarts and
// run reports can be queried without scanning the filesystem.
const complianceSchema = `
CREATE TABLE IF NOT EXISTS seen_updates (
    update_id   TEXT NOT NULL,
    source      TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    first_seen  TEXT NOT NULL,
    PRIMARY KEY (update_id, source)
);

CREATE INDEX IF NOT EXISTS idx_seen_updates_source ON seen_updates(source);

CREATE TABLE IF NOT EXISTS scheduler_runs (
    run_id           TEXT PRIMARY KEY,
    started_at       TEXT NOT NULL,
    completed_at     TEXT,
    total_updates    INTEGER NOT NULL DEFAULT 0,
    breaking_changes INTEGER NOT NULL DEFAULT 0,
    proposals        INTEGER NOT NULL DEFAULT 0,
    errors           INTEGER NOT NULL DEFAULT 0,
    report_path      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scheduler_runs_started ON scheduler_runs(started_at);
`
