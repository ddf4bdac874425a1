package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteNoteStore implements NoteStore against a single structured.db file:
// notes, tags, note_tags, links, conversations, and messages. It serializes
// all writes through a single connection (SetMaxOpenConns(1)) the same way
// the keyword index does, since SQLite only tolerates one writer at a time
// even under WAL.
type SQLiteNoteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

var _ NoteStore = (*SQLiteNoteStore)(nil)

// NewSQLiteNoteStore opens or creates the structured store at path. An
// empty path opens an in-memory database, useful for tests.
func NewSQLiteNoteStore(path string) (*SQLiteNoteStore, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open structured store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteNoteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteNoteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		rel_path TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		front_matter TEXT NOT NULL DEFAULT '{}',
		content_hash TEXT NOT NULL,
		word_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_rel_path ON notes(rel_path);
	CREATE INDEX IF NOT EXISTS idx_notes_modified_at ON notes(modified_at DESC);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT 'user'
	);
	CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name);

	CREATE TABLE IF NOT EXISTS note_tags (
		note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
		tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (note_id, tag_id)
	);
	CREATE INDEX IF NOT EXISTS idx_note_tags_tag_id ON note_tags(tag_id);

	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
		target_spec TEXT NOT NULL,
		kind TEXT NOT NULL,
		line INTEGER NOT NULL,
		column INTEGER NOT NULL,
		display_text TEXT NOT NULL DEFAULT '',
		resolved_target TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'broken'
	);
	CREATE INDEX IF NOT EXISTS idx_links_source_id ON links(source_id);
	CREATE INDEX IF NOT EXISTS idx_links_target_id ON links(resolved_target);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteNoteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// UpsertNote inserts or replaces a note by rel_path and replaces its tag
// associations, all within one transaction.
func (s *SQLiteNoteStore) UpsertNote(ctx context.Context, note *Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fm, err := json.Marshal(note.FrontMatter)
	if err != nil {
		return fmt.Errorf("marshal front matter: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, rel_path, title, body, front_matter, content_hash, word_count, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rel_path = excluded.rel_path,
			title = excluded.title,
			body = excluded.body,
			front_matter = excluded.front_matter,
			content_hash = excluded.content_hash,
			word_count = excluded.word_count,
			modified_at = excluded.modified_at
	`, note.ID, note.RelPath, note.Title, note.Body, string(fm), note.ContentHash,
		note.WordCount, note.CreatedAt.UTC().Format(time.RFC3339), note.ModifiedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert note: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id = ?`, note.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}

	for _, tag := range note.Tags {
		var tagID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, tag).Scan(&tagID)
		if err == sql.ErrNoRows {
			res, insErr := tx.ExecContext(ctx, `INSERT INTO tags (name, category) VALUES (?, 'user')`, tag)
			if insErr != nil {
				return fmt.Errorf("insert tag %q: %w", tag, insErr)
			}
			tagID, _ = res.LastInsertId()
		} else if err != nil {
			return fmt.Errorf("lookup tag %q: %w", tag, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO note_tags (note_id, tag_id) VALUES (?, ?)`, note.ID, tagID); err != nil {
			return fmt.Errorf("associate tag %q: %w", tag, err)
		}
	}

	return tx.Commit()
}

func scanNote(row interface{ Scan(...any) error }) (*Note, error) {
	var n Note
	var fm string
	var created, modified string
	if err := row.Scan(&n.ID, &n.RelPath, &n.Title, &n.Body, &fm, &n.ContentHash, &n.WordCount, &created, &modified); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fm), &n.FrontMatter); err != nil {
		n.FrontMatter = map[string]any{}
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339, created)
	n.ModifiedAt, _ = time.Parse(time.RFC3339, modified)
	return &n, nil
}

const noteColumns = `id, rel_path, title, body, front_matter, content_hash, word_count, created_at, modified_at`

func (s *SQLiteNoteStore) GetNote(ctx context.Context, id string) (*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	if err := s.attachTags(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *SQLiteNoteStore) GetNoteByPath(ctx context.Context, relPath string) (*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE rel_path = ?`, relPath)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note by path: %w", err)
	}
	if err := s.attachTags(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *SQLiteNoteStore) AllNotes(ctx context.Context, limit int) ([]*Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ` + noteColumns + ` FROM notes ORDER BY modified_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	for _, n := range notes {
		if err := s.attachTags(ctx, n); err != nil {
			return nil, err
		}
	}
	return notes, rows.Err()
}

func (s *SQLiteNoteStore) attachTags(ctx context.Context, n *Note) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name FROM tags t JOIN note_tags nt ON nt.tag_id = t.id WHERE nt.note_id = ?
	`, n.ID)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	n.Tags = nil
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return err
		}
		n.Tags = append(n.Tags, tag)
	}
	return rows.Err()
}

// DeleteNote cascades to note_tags and links via foreign keys.
func (s *SQLiteNoteStore) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// KeywordSearch performs a case-insensitive substring match against title
// and body, boosting title hits, and returns a snippet window around the
// first match in the body.
func (s *SQLiteNoteStore) KeywordSearch(ctx context.Context, query string, k int) ([]*SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE
		lower(title) LIKE '%' || lower(?) || '%' OR lower(body) LIKE '%' || lower(?) || '%'
	`, query, query)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	const titleBoost = 2.0
	lowerQuery := strings.ToLower(query)

	var hits []*SearchHit
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}

		score := 0.0
		titleHit := strings.Contains(strings.ToLower(n.Title), lowerQuery)
		bodyIdx := strings.Index(strings.ToLower(n.Body), lowerQuery)
		if titleHit {
			score += titleBoost
		}
		if bodyIdx >= 0 {
			score += 1.0
		}

		hits = append(hits, &SearchHit{
			NoteID:  n.ID,
			RelPath: n.RelPath,
			Title:   n.Title,
			Score:   score,
			Snippet: snippetAround(n.Body, bodyIdx, len(query)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// snippetAround returns up to ~160 characters of body text centered on the
// match at idx. If idx is negative (match was title-only), it returns the
// start of the body instead.
func snippetAround(body string, idx, matchLen int) string {
	const window = 80
	if idx < 0 {
		idx = 0
		matchLen = 0
	}
	start := idx - window
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + window
	if end > len(body) {
		end = len(body)
	}
	snippet := strings.TrimSpace(body[start:end])
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(body) {
		snippet = snippet + "…"
	}
	return snippet
}

// ReplaceLinks replaces all outgoing links for a note in one transaction.
func (s *SQLiteNoteStore) ReplaceLinks(ctx context.Context, noteID string, links []*Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE source_id = ?`, noteID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO links (source_id, target_spec, kind, line, column, display_text, resolved_target, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare link insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range links {
		if _, err := stmt.ExecContext(ctx, noteID, l.TargetSpec, string(l.Kind), l.Line, l.Column,
			l.DisplayText, l.ResolvedTarget, string(l.Status)); err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}

	return tx.Commit()
}

func scanLinks(rows *sql.Rows) ([]*Link, error) {
	var links []*Link
	for rows.Next() {
		var l Link
		var kind, status string
		if err := rows.Scan(&l.ID, &l.SourceNoteID, &l.TargetSpec, &kind, &l.Line, &l.Column,
			&l.DisplayText, &l.ResolvedTarget, &status); err != nil {
			return nil, err
		}
		l.Kind = LinkKind(kind)
		l.Status = LinkStatus(status)
		links = append(links, &l)
	}
	return links, rows.Err()
}

const linkColumns = `id, source_id, target_spec, kind, line, column, display_text, resolved_target, status`

func (s *SQLiteNoteStore) LinksFrom(ctx context.Context, noteID string) ([]*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM links WHERE source_id = ?`, noteID)
	if err != nil {
		return nil, fmt.Errorf("links from: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func (s *SQLiteNoteStore) LinksTo(ctx context.Context, noteID string) ([]*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM links WHERE resolved_target = ?`, noteID)
	if err != nil {
		return nil, fmt.Errorf("links to: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func (s *SQLiteNoteStore) AllLinks(ctx context.Context) ([]*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM links`)
	if err != nil {
		return nil, fmt.Errorf("all links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func (s *SQLiteNoteStore) AllTags(ctx context.Context) ([]*Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, t.category, COUNT(nt.note_id) FROM tags t
		LEFT JOIN note_tags nt ON nt.tag_id = t.id
		GROUP BY t.id ORDER BY t.name
	`)
	if err != nil {
		return nil, fmt.Errorf("all tags: %w", err)
	}
	defer rows.Close()

	var tags []*Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.Name, &t.Category, &t.UsageCount); err != nil {
			return nil, err
		}
		tags = append(tags, &t)
	}
	return tags, rows.Err()
}

// CreateConversation and the Message operations below persist state for an
// external chat collaborator; the core never reads message content.
func (s *SQLiteNoteStore) CreateConversation(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, title, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteNoteStore) AddMessage(ctx context.Context, conversationID, role, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)
	`, conversationID, role, content, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("add message: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteNoteStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteNoteStore) Stats(ctx context.Context) (NoteStoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats NoteStoreStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&stats.NoteCount); err != nil {
		return stats, fmt.Errorf("count notes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags`).Scan(&stats.TagCount); err != nil {
		return stats, fmt.Errorf("count tags: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&stats.LinkCount); err != nil {
		return stats, fmt.Errorf("count links: %w", err)
	}
	return stats, nil
}
