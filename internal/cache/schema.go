package cache

// migration is one forward-only schema step
type migration struct {
	version int
	sql     string
}

// migrations are applied in order on open. Times are unix milliseconds.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    imap_host TEXT NOT NULL,
    imap_port INTEGER NOT NULL,
    imap_username TEXT NOT NULL,
    prefix TEXT
);

CREATE TABLE IF NOT EXISTS identities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    email TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    plain_only INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE,
    UNIQUE(account_id, email)
);

CREATE TABLE IF NOT EXISTS folders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    display TEXT,
    type TEXT NOT NULL,
    level INTEGER NOT NULL DEFAULT 0,
    synchronize INTEGER NOT NULL DEFAULT 1,
    poll INTEGER NOT NULL DEFAULT 0,
    download INTEGER NOT NULL DEFAULT 1,
    sync_days INTEGER NOT NULL,
    keep_days INTEGER NOT NULL,
    sync_state TEXT,
    keywords TEXT NOT NULL DEFAULT '[]',
    tbc INTEGER NOT NULL DEFAULT 0,
    tbd INTEGER NOT NULL DEFAULT 0,
    initialized INTEGER NOT NULL DEFAULT 0,
    last_sync_at INTEGER,
    error TEXT,
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE,
    UNIQUE(account_id, name)
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    folder_id INTEGER NOT NULL,
    identity_id INTEGER,
    uid INTEGER,
    msgid TEXT NOT NULL,
    refs TEXT NOT NULL DEFAULT '',
    in_reply_to TEXT NOT NULL DEFAULT '',
    delivered_to TEXT NOT NULL DEFAULT '',
    thread_id TEXT NOT NULL,
    from_addrs TEXT NOT NULL DEFAULT '[]',
    to_addrs TEXT NOT NULL DEFAULT '[]',
    cc_addrs TEXT NOT NULL DEFAULT '[]',
    bcc_addrs TEXT NOT NULL DEFAULT '[]',
    reply_addrs TEXT NOT NULL DEFAULT '[]',
    subject TEXT NOT NULL DEFAULT '',
    size INTEGER,
    sent_at INTEGER,
    received_at INTEGER NOT NULL,
    seen INTEGER NOT NULL DEFAULT 0,
    answered INTEGER NOT NULL DEFAULT 0,
    flagged INTEGER NOT NULL DEFAULT 0,
    flags TEXT NOT NULL DEFAULT '',
    keywords TEXT NOT NULL DEFAULT '[]',
    headers TEXT,
    content INTEGER NOT NULL DEFAULT 0,
    raw INTEGER NOT NULL DEFAULT 0,
    preview TEXT,
    avatar TEXT,
    warning TEXT,
    error TEXT,
    ui_seen INTEGER NOT NULL DEFAULT 0,
    ui_answered INTEGER NOT NULL DEFAULT 0,
    ui_flagged INTEGER NOT NULL DEFAULT 0,
    ui_hide INTEGER NOT NULL DEFAULT 0,
    ui_found INTEGER NOT NULL DEFAULT 0,
    ui_ignored INTEGER NOT NULL DEFAULT 0,
    ui_browsed INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE,
    FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE CASCADE,
    FOREIGN KEY (identity_id) REFERENCES identities(id) ON DELETE SET NULL,
    UNIQUE(folder_id, uid)
);

CREATE TABLE IF NOT EXISTS attachments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id INTEGER NOT NULL,
    sequence INTEGER NOT NULL,
    name TEXT,
    type TEXT NOT NULL,
    cid TEXT,
    encryption INTEGER,
    size INTEGER,
    available INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE,
    UNIQUE(message_id, sequence)
);

-- message_id has no foreign key; operations that outlive their message are
-- discarded by the dispatcher.
CREATE TABLE IF NOT EXISTS operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    folder_id INTEGER NOT NULL,
    message_id INTEGER,
    kind TEXT NOT NULL,
    args TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    error TEXT,
    FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS contacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    email TEXT NOT NULL,
    name TEXT,
    UNIQUE(type, email)
);

CREATE TABLE IF NOT EXISTS rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    folder_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    stop INTEGER NOT NULL DEFAULT 0,
    condition TEXT NOT NULL,
    action TEXT NOT NULL,
    FOREIGN KEY (folder_id) REFERENCES folders(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_folder_id ON messages(folder_id);
CREATE INDEX IF NOT EXISTS idx_messages_msgid ON messages(account_id, msgid);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_operations_folder_id ON operations(folder_id);
CREATE INDEX IF NOT EXISTS idx_operations_message_id ON operations(message_id);
CREATE INDEX IF NOT EXISTS idx_rules_folder_id ON rules(folder_id);

-- Full-text search index
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    subject,
    preview,
    content='messages',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, subject, preview)
    VALUES (new.id, new.subject, COALESCE(new.preview, ''));
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE OF subject, preview ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, subject, preview)
    VALUES ('delete', old.id, old.subject, COALESCE(old.preview, ''));
    INSERT INTO messages_fts(rowid, subject, preview)
    VALUES (new.id, new.subject, COALESCE(new.preview, ''));
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, subject, preview)
    VALUES ('delete', old.id, old.subject, COALESCE(old.preview, ''));
END;

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
