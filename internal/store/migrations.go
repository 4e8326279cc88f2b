package store

const schema = `
CREATE TABLE IF NOT EXISTS suites (
    suite_id TEXT PRIMARY KEY,
    task TEXT NOT NULL,
    task_fingerprint TEXT,
    harness TEXT NOT NULL,
    model TEXT,
    repeats INTEGER NOT NULL,
    scored INTEGER NOT NULL DEFAULT 0,
    void_count INTEGER NOT NULL DEFAULT 0,
    unresolved INTEGER NOT NULL DEFAULT 0,
    retries_used INTEGER NOT NULL DEFAULT 0,
    target_met BOOLEAN DEFAULT FALSE,
    cancelled BOOLEAN DEFAULT FALSE,
    mean_reward REAL,
    mean_quality REAL,
    validity_rate REAL,
    performance_pass_rate REAL,
    dir TEXT,
    created_at TEXT NOT NULL,
    completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_suites_task ON suites(task);
CREATE INDEX IF NOT EXISTS idx_suites_created_at ON suites(created_at);

CREATE TABLE IF NOT EXISTS runs (
    suite_id TEXT NOT NULL REFERENCES suites(suite_id) ON DELETE CASCADE,
    repeat_index INTEGER NOT NULL,
    run_id TEXT,
    attempt INTEGER NOT NULL,
    state TEXT NOT NULL,
    voided BOOLEAN DEFAULT FALSE,
    void_reasons TEXT,
    reward REAL,
    quality_score REAL,
    workspace TEXT,
    PRIMARY KEY (suite_id, repeat_index)
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
`
