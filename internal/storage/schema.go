package storage

// Timestamps are stored as unix milliseconds so they sort and aggregate
// without relying on the driver's datetime parsing.
const schema = `
-- 'sources' tracks where catalog items come from: a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned INTEGER
);

-- 'items' is the practice catalog. The id is the content hash.
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    prompt TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    unit TEXT NOT NULL DEFAULT '',
    topic TEXT NOT NULL DEFAULT '',
    tier INTEGER NOT NULL DEFAULT 2,
    estimated_seconds INTEGER NOT NULL DEFAULT 60,
    tool_required INTEGER NOT NULL DEFAULT 0
);

-- 'item_sources' records every source that lists an item. An item is
-- deleted once no source lists it any more.
CREATE TABLE IF NOT EXISTS item_sources (
    item_id TEXT NOT NULL,
    source_id INTEGER NOT NULL,

    PRIMARY KEY (item_id, source_id),
    FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE,
    FOREIGN KEY(source_id) REFERENCES sources(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_item_sources_source ON item_sources(source_id);

-- 'cards' holds one memory state per learner and item.
CREATE TABLE IF NOT EXISTS cards (
    user_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    ease_factor REAL NOT NULL,
    interval_days INTEGER NOT NULL DEFAULT 0,
    repetitions INTEGER NOT NULL DEFAULT 0,
    next_review INTEGER NOT NULL,
    last_reviewed INTEGER,
    consecutive_correct INTEGER NOT NULL DEFAULT 0,
    consecutive_incorrect INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (user_id, item_id),
    FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_cards_next_review ON cards(user_id, next_review);

-- 'attempts' is the append-only answer log.
CREATE TABLE IF NOT EXISTS attempts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    correct INTEGER NOT NULL,
    time_spent REAL NOT NULL,
    expected_time REAL NOT NULL,
    hints_used INTEGER NOT NULL,
    quality INTEGER NOT NULL,
    attempted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_user_item ON attempts(user_id, item_id, attempted_at);

-- 'sessions' records practice sittings for capacity estimates.
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    duration_seconds INTEGER NOT NULL,
    items_completed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON sessions(user_id, started_at);

-- 'unit_progress' caches per-unit mastery and weak topics.
CREATE TABLE IF NOT EXISTS unit_progress (
    user_id TEXT NOT NULL,
    unit TEXT NOT NULL,
    mastery REAL NOT NULL,
    weak_topics TEXT NOT NULL DEFAULT '[]',
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (user_id, unit)
);
`
