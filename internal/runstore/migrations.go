package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    key TEXT NOT NULL,
    dir TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    deadline_ms INTEGER,
    status TEXT NOT NULL DEFAULT 'running',
    state TEXT,
    exit_code INTEGER DEFAULT 0,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);

CREATE TABLE IF NOT EXISTS phases (
    run_id TEXT NOT NULL REFERENCES runs(id),
    idx INTEGER NOT NULL,
    slug TEXT NOT NULL,
    title TEXT,
    file TEXT NOT NULL,
    ok BOOLEAN DEFAULT FALSE,
    written_at TIMESTAMP,
    PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS polls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    poll INTEGER NOT NULL,
    at TIMESTAMP NOT NULL,
    elapsed_ms INTEGER,
    label TEXT,
    state TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_polls_run_id ON polls(run_id);

CREATE TABLE IF NOT EXISTS telemetry (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    name TEXT NOT NULL,
    grp TEXT,
    lang TEXT NOT NULL,
    expr TEXT NOT NULL,
    value TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_telemetry_run_id ON telemetry(run_id);
`
