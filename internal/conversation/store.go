// Package conversation provides conversation and message log storage.
package conversation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultTitle is the sentinel title a conversation carries until the
// title generator or the user renames it.
const DefaultTitle = "New conversation"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Conversation is a single chat thread owned by a user.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	SessionID     string    `json:"session_id,omitempty"` // Resumable agent runtime session
	LastMessageAt time.Time `json:"last_message_at"`
	IsArchived    bool      `json:"is_archived"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is one entry in a conversation's time-ordered log.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ToolName       string    `json:"tool_name,omitempty"`
	ToolInput      string    `json:"tool_input,omitempty"` // JSON-encoded arguments
	ToolResult     string    `json:"tool_result,omitempty"`
	IsStreaming    bool      `json:"is_streaming,omitempty"`
	CostUSD        float64   `json:"cost_usd,omitempty"`
	TokenCount     int       `json:"token_count,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToolFields carries the optional tool-role columns for Append.
type ToolFields struct {
	Name   string
	Input  string
	Result string
}

// StreamingUpdate carries the optional finalization fields for UpsertStreaming.
type StreamingUpdate struct {
	CostUSD    *float64
	TokenCount *int
}

// Store manages conversation and message persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation store using the given database path.
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

// NewStoreWithDB creates a conversation store using an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			session_id TEXT,
			last_message_at TEXT NOT NULL,
			is_archived INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, last_message_at DESC);
		CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user','assistant','system','tool')),
			content TEXT NOT NULL,
			tool_name TEXT,
			tool_input TEXT,
			tool_result TEXT,
			is_streaming INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL,
			token_count INTEGER,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new conversation. An empty title defaults to the
// "New conversation" sentinel.
func (s *Store) Create(userID, title string) (*Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}
	id, _ := uuid.NewV7()
	now := time.Now().UTC()

	c := &Conversation{
		ID:            id.String(),
		UserID:        userID,
		Title:         title,
		LastMessageAt: now,
		CreatedAt:     now,
	}

	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, title, last_message_at, is_archived, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, c.ID, c.UserID, c.Title, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	return c, nil
}

// Get retrieves a conversation by id.
func (s *Store) Get(id string) (*Conversation, error) {
	return scanConversation(s.db.QueryRow(`
		SELECT id, user_id, title, session_id, last_message_at, is_archived, created_at
		FROM conversations WHERE id = ?
	`, id))
}

// GetBySessionID retrieves the conversation bound to an agent runtime session.
func (s *Store) GetBySessionID(sessionID string) (*Conversation, error) {
	return scanConversation(s.db.QueryRow(`
		SELECT id, user_id, title, session_id, last_message_at, is_archived, created_at
		FROM conversations WHERE session_id = ?
	`, sessionID))
}

// List returns a user's unarchived conversations, most recently active first.
func (s *Store) List(userID string) ([]*Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, session_id, last_message_at, is_archived, created_at
		FROM conversations
		WHERE user_id = ? AND is_archived = 0
		ORDER BY last_message_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var result []*Conversation
	for rows.Next() {
		c, err := scanConversationRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// UpdateTitle sets a conversation's title unconditionally.
func (s *Store) UpdateTitle(id, title string) error {
	_, err := s.db.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, title, id)
	return err
}

// UpdateTitleIfDefault sets the title only when it is still the default
// sentinel. The conditional UPDATE makes the check-then-act atomic, so
// two concurrent runs on a new conversation cannot both rename it.
// Returns true when the title was changed.
func (s *Store) UpdateTitleIfDefault(id, title string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE conversations SET title = ? WHERE id = ? AND title = ?
	`, title, id, DefaultTitle)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateSessionID binds a resumable agent runtime session to the conversation.
func (s *Store) UpdateSessionID(id, sessionID string) error {
	_, err := s.db.Exec(`UPDATE conversations SET session_id = ? WHERE id = ?`, sessionID, id)
	return err
}

// Archive soft-deletes a conversation.
func (s *Store) Archive(id string) error {
	_, err := s.db.Exec(`UPDATE conversations SET is_archived = 1 WHERE id = ?`, id)
	return err
}

// Remove hard-deletes a conversation and its messages.
func (s *Store) Remove(id string) error {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Touch bumps a conversation's last-activity timestamp.
func (s *Store) Touch(id string) error {
	_, err := s.db.Exec(`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		fmtTime(time.Now().UTC()), id)
	return err
}

// Append inserts a new message and bumps the conversation's last-activity
// timestamp. Timestamps are assigned monotonically within a conversation:
// if the clock has not advanced past the latest message, the new message
// is stamped one millisecond later.
func (s *Store) Append(conversationID string, role Role, content string, tf *ToolFields) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	id, _ := uuid.NewV7()
	ts := s.nextTimestamp(conversationID)

	m := &Message{
		ID:             id.String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      ts,
	}
	if tf != nil {
		m.ToolName = tf.Name
		m.ToolInput = tf.Input
		m.ToolResult = tf.Result
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, tool_name, tool_input, tool_result, is_streaming, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, m.ID, m.ConversationID, m.Role, m.Content,
		nullable(m.ToolName), nullable(m.ToolInput), nullable(m.ToolResult), fmtTime(ts))
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	if err := s.Touch(conversationID); err != nil {
		return nil, fmt.Errorf("touch: %w", err)
	}
	return m, nil
}

// UpsertStreaming creates or patches the in-progress assistant message.
// With an empty messageID it inserts a new assistant message and returns
// its id; later calls pass that id back to patch content, the streaming
// flag, and (at finalization) cost and token count in place.
func (s *Store) UpsertStreaming(conversationID, messageID, content string, streaming bool, upd *StreamingUpdate) (string, error) {
	if messageID != "" {
		var cost any
		var tokens any
		if upd != nil && upd.CostUSD != nil {
			cost = *upd.CostUSD
		}
		if upd != nil && upd.TokenCount != nil {
			tokens = *upd.TokenCount
		}
		_, err := s.db.Exec(`
			UPDATE messages
			SET content = ?, is_streaming = ?,
				cost_usd = COALESCE(?, cost_usd),
				token_count = COALESCE(?, token_count)
			WHERE id = ?
		`, content, boolInt(streaming), cost, tokens, messageID)
		if err != nil {
			return "", fmt.Errorf("patch: %w", err)
		}
		return messageID, nil
	}

	id, _ := uuid.NewV7()
	ts := s.nextTimestamp(conversationID)

	var cost any
	var tokens any
	if upd != nil && upd.CostUSD != nil {
		cost = *upd.CostUSD
	}
	if upd != nil && upd.TokenCount != nil {
		tokens = *upd.TokenCount
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, is_streaming, cost_usd, token_count, created_at)
		VALUES (?, ?, 'assistant', ?, ?, ?, ?, ?)
	`, id.String(), conversationID, content, boolInt(streaming), cost, tokens, fmtTime(ts))
	if err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}

	if err := s.Touch(conversationID); err != nil {
		return "", fmt.Errorf("touch: %w", err)
	}
	return id.String(), nil
}

// Messages returns a conversation's full log, oldest first.
func (s *Store) Messages(conversationID string) ([]*Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, tool_name, tool_input, tool_result,
			is_streaming, cost_usd, token_count, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Latest returns the most recent message in a conversation, or nil when
// the log is empty.
func (s *Store) Latest(conversationID string) (*Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, tool_name, tool_input, tool_result,
			is_streaming, cost_usd, token_count, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at DESC LIMIT 1
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanMessageRow(rows)
}

// nextTimestamp returns a creation time strictly after the conversation's
// latest message, preserving total order even when the clock is coarse.
func (s *Store) nextTimestamp(conversationID string) time.Time {
	now := time.Now().UTC()

	var latest string
	err := s.db.QueryRow(`
		SELECT created_at FROM messages
		WHERE conversation_id = ? ORDER BY created_at DESC LIMIT 1
	`, conversationID).Scan(&latest)
	if err != nil {
		return now
	}

	prev, err := time.Parse(time.RFC3339Nano, latest)
	if err != nil || now.After(prev) {
		return now
	}
	return prev.Add(time.Millisecond)
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	return scanConversationFrom(row)
}

func scanConversationRow(rows *sql.Rows) (*Conversation, error) {
	return scanConversationFrom(rows)
}

func scanConversationFrom(r rowScanner) (*Conversation, error) {
	var c Conversation
	var sessionID sql.NullString
	var lastStr, createdStr string
	var archived int

	err := r.Scan(&c.ID, &c.UserID, &c.Title, &sessionID, &lastStr, &archived, &createdStr)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		c.SessionID = sessionID.String
	}
	c.IsArchived = archived != 0
	c.LastMessageAt, _ = time.Parse(time.RFC3339Nano, lastStr)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &c, nil
}

func scanMessageRow(r rowScanner) (*Message, error) {
	var m Message
	var roleStr, createdStr string
	var toolName, toolInput, toolResult sql.NullString
	var streaming int
	var cost sql.NullFloat64
	var tokens sql.NullInt64

	err := r.Scan(&m.ID, &m.ConversationID, &roleStr, &m.Content,
		&toolName, &toolInput, &toolResult, &streaming, &cost, &tokens, &createdStr)
	if err != nil {
		return nil, err
	}

	m.Role = Role(roleStr)
	if toolName.Valid {
		m.ToolName = toolName.String
	}
	if toolInput.Valid {
		m.ToolInput = toolInput.String
	}
	if toolResult.Valid {
		m.ToolResult = toolResult.String
	}
	m.IsStreaming = streaming != 0
	if cost.Valid {
		m.CostUSD = cost.Float64
	}
	if tokens.Valid {
		m.TokenCount = int(tokens.Int64)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return &m, nil
}
