package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	vaulterrors "github.com/pkm-agent/vaultd/internal/errors"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)
)

// Log is an append-only SQLite-backed audit journal. It is safe for
// concurrent use; every write and rollback is serialized by an internal
// mutex, matching the Structured Store's single-writer discipline.
type Log struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the audit database at path. An empty path opens
// an in-memory database, used by tests.
func Open(path string) (*Log, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit data dir: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		// Audit entries are the system's record of truth for rollback;
		// full fsync durability on every commit trades the write latency
		// structured.db and the BM25 index forgo for NORMAL.
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT UNIQUE NOT NULL,
		timestamp       TEXT NOT NULL,
		action          TEXT NOT NULL,
		target          TEXT,
		snapshot_before TEXT,
		snapshot_after  TEXT,
		checksum_before TEXT,
		checksum_after  TEXT,
		user_approved   INTEGER NOT NULL DEFAULT 0,
		reversible      INTEGER NOT NULL DEFAULT 1,
		metadata        TEXT,
		rolled_back     INTEGER NOT NULL DEFAULT 0,
		rollback_at     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target);
	`
	_, err := l.db.Exec(schema)
	return err
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Append inserts a new entry and returns its assigned ID. Timestamp, ID,
// and checksums are computed here; the caller supplies everything else.
// Metadata is redacted before persistence. If target is non-empty and
// the previous final entry for the same target has a ChecksumAfter that
// does not match this entry's ChecksumBefore, metadata["chain_break"]
// is set to true rather than rejecting the write.
func (l *Log) Append(ctx context.Context, e Entry) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.SnapshotBefore != "" {
		e.ChecksumBefore = sha256Hex(e.SnapshotBefore)
	}
	if e.SnapshotAfter != "" {
		e.ChecksumAfter = sha256Hex(e.SnapshotAfter)
	}

	meta := RedactMetadata(e.Metadata)
	if meta == nil {
		meta = make(map[string]any)
	}

	if e.Target != "" {
		var lastChecksumAfter sql.NullString
		err := l.db.QueryRowContext(ctx,
			`SELECT checksum_after FROM audit_log WHERE target = ? ORDER BY seq DESC LIMIT 1`,
			e.Target,
		).Scan(&lastChecksumAfter)
		if err != nil && err != sql.ErrNoRows {
			return "", fmt.Errorf("audit: check chain for target %s: %w", e.Target, err)
		}
		if lastChecksumAfter.Valid && lastChecksumAfter.String != "" &&
			e.ChecksumBefore != "" && lastChecksumAfter.String != e.ChecksumBefore {
			meta["chain_break"] = true
		}
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("audit: marshal metadata: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, timestamp, action, target,
			snapshot_before, snapshot_after,
			checksum_before, checksum_after,
			user_approved, reversible, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), e.Action, nullableString(e.Target),
		nullableString(e.SnapshotBefore), nullableString(e.SnapshotAfter),
		nullableString(e.ChecksumBefore), nullableString(e.ChecksumAfter),
		boolToInt(e.UserApproved), boolToInt(e.Reversible), string(metaJSON),
	)
	if err != nil {
		return "", fmt.Errorf("audit: insert entry: %w", err)
	}
	return e.ID, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Get retrieves an entry by ID. It returns a Caller error if no entry
// with that ID exists.
func (l *Log) Get(ctx context.Context, id string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, timestamp, action, target, snapshot_before, snapshot_after,
		       checksum_before, checksum_after, user_approved, reversible,
		       metadata, rolled_back, rollback_at
		FROM audit_log WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, vaulterrors.CallerError(fmt.Sprintf("audit entry not found: %s", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("audit: get entry %s: %w", id, err)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                                            Entry
		timestamp                                    string
		target, snapBefore, snapAfter                sql.NullString
		checksumBefore, checksumAfter                sql.NullString
		userApproved, reversible, rolledBack          int
		metaJSON                                      sql.NullString
		rollbackAt                                    sql.NullString
	)
	if err := row.Scan(&e.ID, &timestamp, &e.Action, &target, &snapBefore, &snapAfter,
		&checksumBefore, &checksumAfter, &userApproved, &reversible,
		&metaJSON, &rolledBack, &rollbackAt); err != nil {
		return nil, err
	}

	e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	e.Target = target.String
	e.SnapshotBefore = snapBefore.String
	e.SnapshotAfter = snapAfter.String
	e.ChecksumBefore = checksumBefore.String
	e.ChecksumAfter = checksumAfter.String
	e.UserApproved = userApproved != 0
	e.Reversible = reversible != 0
	e.RolledBack = rolledBack != 0
	if rollbackAt.Valid {
		e.RollbackAt, _ = time.Parse(time.RFC3339Nano, rollbackAt.String)
	}
	e.Metadata = make(map[string]any)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	return &e, nil
}

// History returns entries ordered by time descending, optionally
// filtered by action and/or target, capped at limit.
func (l *Log) History(ctx context.Context, action, target string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, timestamp, action, target, snapshot_before, snapshot_after,
		       checksum_before, checksum_after, user_approved, reversible,
		       metadata, rolled_back, rollback_at
		FROM audit_log WHERE 1=1`
	args := []any{}
	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}
	if target != "" {
		query += " AND target = ?"
		args = append(args, target)
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes the audit log.
func (l *Log) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	stats.ByAction = make(map[string]int)

	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&stats.Total); err != nil {
		return stats, fmt.Errorf("audit: count total: %w", err)
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE rolled_back = 1`).Scan(&stats.RolledBack); err != nil {
		return stats, fmt.Errorf("audit: count rolled back: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM audit_log GROUP BY action`)
	if err != nil {
		return stats, fmt.Errorf("audit: group by action: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return stats, fmt.Errorf("audit: scan action count: %w", err)
		}
		stats.ByAction[action] = count
	}
	return stats, rows.Err()
}

// Rollback reverses the operation recorded by the entry with the given
// id. It looks the entry up, validates it is reversible and not already
// rolled back, dispatches to the registered handler for its action, and
// on success marks the original entry rolled_back=true. The handler is
// responsible for writing its own compensating entry.
func (l *Log) Rollback(ctx context.Context, id string, registry HandlerRegistry) error {
	entry, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if !entry.Reversible {
		return vaulterrors.CallerError(fmt.Sprintf("audit entry %s is not reversible", id), nil)
	}
	if entry.RolledBack {
		return vaulterrors.CallerError(fmt.Sprintf("audit entry %s was already rolled back", id), nil)
	}

	handler, ok := registry[entry.Action]
	if !ok {
		return vaulterrors.CallerError(fmt.Sprintf("no rollback handler registered for action %q", entry.Action), nil)
	}

	if err := handler(ctx, l, entry); err != nil {
		return fmt.Errorf("audit: rollback handler for %s failed: %w", entry.Action, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.db.ExecContext(ctx,
		`UPDATE audit_log SET rolled_back = 1, rollback_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("audit: mark rolled back: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}
