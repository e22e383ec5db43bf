package snapshot

// Schema contains the DDL for the snapshot store.
const Schema = `
-- Captured pages
CREATE TABLE IF NOT EXISTS pages (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

-- States of a page, in capture order
CREATE TABLE IF NOT EXISTS states (
    page_id     TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    state_id    TEXT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    position    INTEGER NOT NULL,
    PRIMARY KEY (page_id, state_id)
);

-- Per-platform capture of a state
CREATE TABLE IF NOT EXISTS versions (
    page_id     TEXT NOT NULL,
    state_id    TEXT NOT NULL,
    platform    TEXT NOT NULL,
    screenshot  TEXT NOT NULL DEFAULT '',
    page_source TEXT NOT NULL,
    PRIMARY KEY (page_id, state_id, platform),
    FOREIGN KEY (page_id, state_id) REFERENCES states(page_id, state_id) ON DELETE CASCADE
);

-- Locators recorded against a page, stored as JSON documents
CREATE TABLE IF NOT EXISTS locators (
    page_id     TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
    locator_id  TEXT NOT NULL,
    state_id    TEXT NOT NULL,
    platform    TEXT NOT NULL,
    position    INTEGER NOT NULL,
    body        TEXT NOT NULL,
    PRIMARY KEY (page_id, locator_id, state_id, platform)
);
CREATE INDEX IF NOT EXISTS idx_locators_state ON locators(page_id, state_id, platform);
`
