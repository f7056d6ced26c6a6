package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists ScheduledTask records.
type Store struct {
	db *sql.DB
}

// NewStore creates a scheduler store using the given database path.
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

// NewStoreWithDB creates a scheduler store using an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			task_type TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending','running','completed','failed')),
			scheduled_at TEXT NOT NULL,
			result TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_user ON scheduled_tasks(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_status ON scheduled_tasks(status);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// InsertTask logs a new task attempt in pending state.
func (s *Store) InsertTask(userID string, typ TaskType, scheduledAt time.Time) (*Task, error) {
	t := &Task{
		ID:          newID(),
		UserID:      userID,
		Type:        typ,
		Status:      StatusPending,
		ScheduledAt: scheduledAt.UTC(),
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.Exec(`
		INSERT INTO scheduled_tasks (id, user_id, task_type, status, scheduled_at, result, created_at)
		VALUES (?, ?, ?, ?, ?, '', ?)
	`, t.ID, t.UserID, string(t.Type), string(t.Status),
		t.ScheduledAt.Format(time.RFC3339Nano), t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// UpdateTaskStatus advances a task through its lifecycle. result may be
// empty for the running transition.
func (s *Store) UpdateTaskStatus(id string, status TaskStatus, result string) error {
	res, err := s.db.Exec(`
		UPDATE scheduled_tasks SET status = ?, result = ? WHERE id = ?
	`, string(status), result, id)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

// ListTasks returns a user's task records, newest first. An empty
// userID returns records not tied to any user (the decay sweeps).
func (s *Store) ListTasks(userID string) ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, task_type, status, scheduled_at, result, created_at
		FROM scheduled_tasks
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(rows *sql.Rows) (*Task, error) {
	var t Task
	var typ, status, scheduledAt, createdAt string
	var result sql.NullString
	if err := rows.Scan(&t.ID, &t.UserID, &typ, &status, &scheduledAt, &result, &createdAt); err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Type = TaskType(typ)
	t.Status = TaskStatus(status)
	t.Result = result.String

	var err error
	if t.ScheduledAt, err = time.Parse(time.RFC3339Nano, scheduledAt); err != nil {
		return nil, fmt.Errorf("parse scheduled_at: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &t, nil
}
