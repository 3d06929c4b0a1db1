package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/polydrive/polydrive/internal/db"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS sync_journal (
    path TEXT PRIMARY KEY,
    remote_id TEXT NOT NULL,
    hash TEXT NOT NULL,
    size INTEGER NOT NULL,
    synced_at TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_journal_remote_id ON sync_journal(remote_id);
`

// JournalEntry is the last state of a path that is known to be on the remote
type JournalEntry struct {
	Path     string
	RemoteID string
	Hash     string
	Size     int64
	SyncedAt time.Time
}

func (e *JournalEntry) fingerprint() Fingerprint {
	return Fingerprint{Hash: e.Hash, Size: e.Size}
}

type dbJournalEntry struct {
	Path     string `db:"path"`
	RemoteID string `db:"remote_id"`
	Hash     string `db:"hash"`
	Size     int64  `db:"size"`
	SyncedAt string `db:"synced_at"`
}

func (r *dbJournalEntry) toEntry() (JournalEntry, error) {
	syncedAt, err := time.Parse(time.RFC3339, r.SyncedAt)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("parse synced_at for %s: %w", r.Path, err)
	}
	return JournalEntry{
		Path:     r.Path,
		RemoteID: r.RemoteID,
		Hash:     r.Hash,
		Size:     r.Size,
		SyncedAt: syncedAt,
	}, nil
}

// Journal persists the last successfully synced state per path. Bootstrap
// uses it to tell a file deleted locally while offline from one that is new
// on the remote.
type Journal struct {
	db *sqlx.DB
}

// OpenJournal opens or creates the journal at path. db.MemoryPath keeps it in memory.
func OpenJournal(path string) (*Journal, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := conn.Exec(journalSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &Journal{db: conn}, nil
}

func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		slog.Error("journal close", "error", err)
		return err
	}
	slog.Debug("journal closed")
	return nil
}

// Get returns nil, nil when path has no row
func (j *Journal) Get(ctx context.Context, path string) (*JournalEntry, error) {
	var row dbJournalEntry
	err := j.db.GetContext(ctx, &row, "SELECT path, remote_id, hash, size, synced_at FROM sync_journal WHERE path = ?", path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query journal %s: %w", path, err)
	}

	entry, err := row.toEntry()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (j *Journal) Set(ctx context.Context, entry *JournalEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot set nil journal entry")
	}

	row := dbJournalEntry{
		Path:     entry.Path,
		RemoteID: entry.RemoteID,
		Hash:     entry.Hash,
		Size:     entry.Size,
		SyncedAt: entry.SyncedAt.UTC().Format(time.RFC3339),
	}

	query := `INSERT OR REPLACE INTO sync_journal (path, remote_id, hash, size, synced_at)
	          VALUES (:path, :remote_id, :hash, :size, :synced_at)`
	if _, err := j.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("set journal %s: %w", entry.Path, err)
	}
	return nil
}

func (j *Journal) Delete(ctx context.Context, path string) error {
	if _, err := j.db.ExecContext(ctx, "DELETE FROM sync_journal WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete journal %s: %w", path, err)
	}
	return nil
}

// All returns every row keyed by path
func (j *Journal) All(ctx context.Context) (map[string]JournalEntry, error) {
	var rows []dbJournalEntry
	if err := j.db.SelectContext(ctx, &rows, "SELECT path, remote_id, hash, size, synced_at FROM sync_journal"); err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}

	entries := make(map[string]JournalEntry, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries[entry.Path] = entry
	}
	return entries, nil
}

func (j *Journal) Count(ctx context.Context) (int, error) {
	var count int
	if err := j.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM sync_journal"); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return count, nil
}
