// Package settings persists per-user preferences: display name,
// timezone, enabled tool capabilities, briefing opt-in, and preferred
// model. Records are created lazily on first write.
package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Defaults applied when a record is lazily created on first write.
const (
	DefaultTimezone = "America/New_York"
)

// DefaultEnabledTools returns the tool capabilities enabled for a new
// settings record.
func DefaultEnabledTools() []string {
	return []string{"memory", "web_search"}
}

// Settings holds one user's preferences.
type Settings struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name,omitempty"`
	Timezone        string    `json:"timezone"`
	EnabledTools    []string  `json:"enabled_tools"`
	BriefingEnabled bool      `json:"briefing_enabled"`
	PreferredModel  string    `json:"preferred_model,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Update is a partial settings change. Nil fields are untouched.
type Update struct {
	DisplayName     *string
	Timezone        *string
	EnabledTools    *[]string
	BriefingEnabled *bool
	PreferredModel  *string
}

// Resolved are the effective settings for a turn: persisted values when
// a record exists, otherwise neutral defaults.
type Resolved struct {
	DisplayName     string
	Timezone        string
	EnabledTools    []string
	BriefingEnabled bool
	PreferredModel  string
}

// Store persists user settings in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the settings store at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return NewStoreWithDB(db)
}

// NewStoreWithDB wraps an existing database handle.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS user_settings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL,
			enabled_tools TEXT NOT NULL,
			briefing_enabled INTEGER NOT NULL DEFAULT 0,
			preferred_model TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_settings_briefing ON user_settings(briefing_enabled);
	`)
	if err != nil {
		return fmt.Errorf("migrating settings schema: %w", err)
	}
	return nil
}

// Get returns the settings for a user, or nil when no record exists.
func (s *Store) Get(userID string) (*Settings, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, display_name, timezone, enabled_tools,
		       briefing_enabled, preferred_model, updated_at
		FROM user_settings WHERE user_id = ?`, userID)

	set, err := scanSettings(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading settings for %s: %w", userID, err)
	}
	return set, nil
}

// Upsert applies a partial update, creating a record with defaults
// first if the user has none. Only non-nil fields of upd are written.
func (s *Store) Upsert(userID string, upd Update) (*Settings, error) {
	cur, err := s.Get(userID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		cur = &Settings{
			ID:           uuid.Must(uuid.NewV7()).String(),
			UserID:       userID,
			Timezone:     DefaultTimezone,
			EnabledTools: DefaultEnabledTools(),
		}
	}

	if upd.DisplayName != nil {
		cur.DisplayName = *upd.DisplayName
	}
	if upd.Timezone != nil {
		cur.Timezone = *upd.Timezone
	}
	if upd.EnabledTools != nil {
		cur.EnabledTools = *upd.EnabledTools
	}
	if upd.BriefingEnabled != nil {
		cur.BriefingEnabled = *upd.BriefingEnabled
	}
	if upd.PreferredModel != nil {
		cur.PreferredModel = *upd.PreferredModel
	}
	cur.UpdatedAt = time.Now().UTC()

	toolsJSON, err := json.Marshal(cur.EnabledTools)
	if err != nil {
		return nil, fmt.Errorf("encoding enabled tools: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO user_settings (id, user_id, display_name, timezone, enabled_tools,
		                           briefing_enabled, preferred_model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			timezone = excluded.timezone,
			enabled_tools = excluded.enabled_tools,
			briefing_enabled = excluded.briefing_enabled,
			preferred_model = excluded.preferred_model,
			updated_at = excluded.updated_at`,
		cur.ID, cur.UserID, cur.DisplayName, cur.Timezone, string(toolsJSON),
		boolInt(cur.BriefingEnabled), cur.PreferredModel,
		cur.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("saving settings for %s: %w", userID, err)
	}
	return cur, nil
}

// Resolve returns the effective settings for a turn. A user with no
// record gets neutral defaults: no display name, UTC, no tools,
// briefing off.
func (s *Store) Resolve(userID string) (Resolved, error) {
	set, err := s.Get(userID)
	if err != nil {
		return Resolved{}, err
	}
	if set == nil {
		return Resolved{Timezone: "UTC"}, nil
	}
	return Resolved{
		DisplayName:     set.DisplayName,
		Timezone:        set.Timezone,
		EnabledTools:    set.EnabledTools,
		BriefingEnabled: set.BriefingEnabled,
		PreferredModel:  set.PreferredModel,
	}, nil
}

// ListBriefingEnabled returns the user ids that opted in to the morning
// briefing, in stable order.
func (s *Store) ListBriefingEnabled() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT user_id FROM user_settings
		WHERE briefing_enabled = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing briefing users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettings(row rowScanner) (*Settings, error) {
	var set Settings
	var toolsJSON, updatedAt string
	var briefing int

	err := row.Scan(&set.ID, &set.UserID, &set.DisplayName, &set.Timezone,
		&toolsJSON, &briefing, &set.PreferredModel, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(toolsJSON), &set.EnabledTools); err != nil {
		return nil, fmt.Errorf("decoding enabled tools: %w", err)
	}
	set.BriefingEnabled = briefing != 0
	set.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &set, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
