// Package memory provides the tiered long-term memory store.
//
// Memories are soft-deleted: normal use only ever flips the active flag,
// so retrieval and listing consider active rows unless explicitly told
// otherwise. Session-type memories decay after a period without access;
// persistent and archival memories are kept indefinitely.
package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Type classifies a memory's retention tier.
type Type string

const (
	// TypeSession is ephemeral context, subject to decay.
	TypeSession Type = "session"
	// TypePersistent is a durable cross-conversation fact.
	TypePersistent Type = "persistent"
	// TypeArchival is long-form reference material.
	TypeArchival Type = "archival"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	switch t {
	case TypeSession, TypePersistent, TypeArchival:
		return true
	}
	return false
}

// Memory is one remembered fact about a user.
type Memory struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Type           Type      `json:"type"`
	Category       string    `json:"category"`
	Content        string    `json:"content"`
	Importance     int       `json:"importance"` // 1-10
	Source         string    `json:"source,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	IsActive       bool      `json:"is_active"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Update carries the mutable fields for Store.Update. Nil fields are
// left untouched.
type Update struct {
	Content    *string
	Category   *string
	Importance *int
	Type       *Type
}

// ListOptions filter Store.List. The type filter takes precedence over
// the category filter when both are set.
type ListOptions struct {
	Type     Type
	Category string
	Limit    int  // default 50
	Inactive bool // include only inactive rows instead of active ones
}

// Store manages memory persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a memory store using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates a memory store using an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('session','persistent','archival')),
			category TEXT NOT NULL,
			content TEXT NOT NULL,
			importance INTEGER NOT NULL DEFAULT 5,
			source TEXT,
			conversation_id TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_accessed_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, is_active, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_memories_user_type ON memories(user_id, type, is_active);
		CREATE INDEX IF NOT EXISTS idx_memories_accessed ON memories(type, is_active, last_accessed_at);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save always creates a new memory — similar content is not merged.
func (s *Store) Save(userID string, typ Type, category, content string, importance int, source, conversationID string) (*Memory, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("invalid memory type: %s", typ)
	}
	if importance < 1 || importance > 10 {
		return nil, fmt.Errorf("importance %d out of range [1,10]", importance)
	}

	id, _ := uuid.NewV7()
	now := time.Now().UTC()

	m := &Memory{
		ID:             id.String(),
		UserID:         userID,
		Type:           typ,
		Category:       category,
		Content:        content,
		Importance:     importance,
		Source:         source,
		ConversationID: conversationID,
		IsActive:       true,
		LastAccessedAt: now,
		CreatedAt:      now,
	}

	_, err := s.db.Exec(`
		INSERT INTO memories (id, user_id, type, category, content, importance, source, conversation_id, is_active, last_accessed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, m.ID, m.UserID, m.Type, m.Category, m.Content, m.Importance,
		nullable(m.Source), nullable(m.ConversationID), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	return m, nil
}

// Get retrieves a memory by id regardless of its active flag.
func (s *Store) Get(id string) (*Memory, error) {
	rows, err := s.db.Query(selectCols+` FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("memory not found: %s", id)
	}
	return scanMemory(rows)
}

// Update patches only the supplied fields and refreshes last-accessed.
func (s *Store) Update(id string, upd Update) error {
	sets := []string{"last_accessed_at = ?"}
	args := []any{fmtTime(time.Now().UTC())}

	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *upd.Category)
	}
	if upd.Importance != nil {
		if *upd.Importance < 1 || *upd.Importance > 10 {
			return fmt.Errorf("importance %d out of range [1,10]", *upd.Importance)
		}
		sets = append(sets, "importance = ?")
		args = append(args, *upd.Importance)
	}
	if upd.Type != nil {
		if !upd.Type.Valid() {
			return fmt.Errorf("invalid memory type: %s", *upd.Type)
		}
		sets = append(sets, "type = ?")
		args = append(args, *upd.Type)
	}

	args = append(args, id)
	res, err := s.db.Exec(`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

// Remove deactivates a memory. The row is never deleted.
func (s *Store) Remove(id string) error {
	res, err := s.db.Exec(`UPDATE memories SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

// MarkAccessed refreshes last-accessed without changing content. Used by
// non-mutating reads that should still defer decay.
func (s *Store) MarkAccessed(id string) error {
	return s.SetAccessedAt(id, time.Now().UTC())
}

// SetAccessedAt overwrites a memory's last-accessed time.
func (s *Store) SetAccessedAt(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE memories SET last_accessed_at = ? WHERE id = ?`,
		fmtTime(at.UTC()), id)
	return err
}

// List returns a user's memories, most recently created first. By default
// only active memories are returned.
func (s *Store) List(userID string, opts ListOptions) ([]*Memory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	active := 1
	if opts.Inactive {
		active = 0
	}

	where := "user_id = ? AND is_active = ?"
	args := []any{userID, active}
	switch {
	case opts.Type != "":
		where += " AND type = ?"
		args = append(args, opts.Type)
	case opts.Category != "":
		where += " AND category = ?"
		args = append(args, opts.Category)
	}
	args = append(args, limit)

	rows, err := s.db.Query(selectCols+` FROM memories WHERE `+where+`
		ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// Search finds active memories whose content matches terms derived from
// the query text, scoped to the user and optionally a type. Results are
// ranked by importance, then recency of access.
func (s *Store) Search(userID, query string, typ Type, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 10
	}

	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	where := "user_id = ? AND is_active = 1"
	args := []any{userID}
	if typ != "" {
		where += " AND type = ?"
		args = append(args, typ)
	}

	var likes []string
	for _, term := range terms {
		likes = append(likes, "content LIKE ? COLLATE NOCASE")
		args = append(args, "%"+term+"%")
	}
	where += " AND (" + strings.Join(likes, " OR ") + ")"
	args = append(args, limit)

	rows, err := s.db.Query(selectCols+` FROM memories WHERE `+where+`
		ORDER BY importance DESC, last_accessed_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// DecayStale deactivates session memories that have not been accessed
// within maxIdle. Persistent and archival memories are never decayed.
// Returns the number of memories deactivated.
func (s *Store) DecayStale(maxIdle time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxIdle)

	res, err := s.db.Exec(`
		UPDATE memories SET is_active = 0
		WHERE type = ? AND is_active = 1 AND last_accessed_at < ?
	`, TypeSession, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("decay: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// searchTerms derives LIKE terms from free text: lowercase whitespace
// fields with punctuation trimmed, short stop-words dropped.
func searchTerms(query string) []string {
	const maxTerms = 8

	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, `.,;:!?"'()[]`)
		if len(f) < 3 {
			continue
		}
		terms = append(terms, f)
		if len(terms) == maxTerms {
			break
		}
	}
	return terms
}

const selectCols = `SELECT id, user_id, type, category, content, importance, source, conversation_id, is_active, last_accessed_at, created_at`

func collectMemories(rows *sql.Rows) ([]*Memory, error) {
	var result []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanMemory(rows *sql.Rows) (*Memory, error) {
	var m Memory
	var typStr, accessedStr, createdStr string
	var source, convID sql.NullString
	var active int

	err := rows.Scan(&m.ID, &m.UserID, &typStr, &m.Category, &m.Content,
		&m.Importance, &source, &convID, &active, &accessedStr, &createdStr)
	if err != nil {
		return nil, err
	}

	m.Type = Type(typStr)
	if source.Valid {
		m.Source = source.String
	}
	if convID.Valid {
		m.ConversationID = convID.String
	}
	m.IsActive = active != 0
	m.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, accessedStr)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &m, nil
}

func fmtTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
