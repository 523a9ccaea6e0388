package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"tms/internal/models"
	"tms/internal/storage"
)

// Store wraps access to the SQLite database and exposes high level helpers.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open initializes a new SQLite store and runs the required migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("empty database path")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=ON", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{db: conn, logger: logger}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Debug("sqlite store ready", slog.String("path", dbPath))
	return s, nil
}

// Close releases the database resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'User' CHECK (role IN ('User', 'Admin')),
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS tasks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            description TEXT NOT NULL,
            due_date DATETIME NOT NULL,
            priority TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'Pending' CHECK (status IN ('Pending', 'InProgress', 'Completed')),
            created_by_id INTEGER NOT NULL,
            assigned_to_id INTEGER,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(created_by_id) REFERENCES users(id) ON DELETE RESTRICT,
            FOREIGN KEY(assigned_to_id) REFERENCES users(id) ON DELETE RESTRICT
        );`,
		`CREATE TABLE IF NOT EXISTS revoked_tokens (
            jti TEXT PRIMARY KEY,
            expires_at DATETIME NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_by ON tasks(created_by_id);`,
		`CREATE TRIGGER IF NOT EXISTS trg_tasks_updated
            AFTER UPDATE ON tasks
            FOR EACH ROW BEGIN
                UPDATE tasks SET updated_at = CURRENT_TIMESTAMP WHERE id = OLD.id;
            END;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// classify maps driver constraint errors onto the storage sentinels.
func classify(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w: %v", op, storage.ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w: %v", op, storage.ErrConstraint, err)
		case sqlite3.ErrConstraintTrigger:
			// ON DELETE RESTRICT is enforced through an internal trigger.
			if strings.Contains(se.Error(), "FOREIGN KEY") {
				return fmt.Errorf("%s: %w: %v", op, storage.ErrConstraint, err)
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

const userColumns = `id, username, password_hash, role, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		u    models.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
		return models.User{}, err
	}
	r, err := models.ParseRole(role)
	if err != nil {
		return models.User{}, err
	}
	u.Role = r
	return u, nil
}

// CreateUser inserts a user; a taken username yields storage.ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if strings.TrimSpace(u.Username) == "" {
		return models.User{}, fmt.Errorf("username must not be empty")
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO users(username, password_hash, role) VALUES(?, ?, ?)`, u.Username, u.PasswordHash, string(u.Role))
	if err != nil {
		return models.User{}, classify("insert user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, fmt.Errorf("user id: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID fetches a single user by id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername fetches a single user by exact username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %q: %w", username, storage.ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// AdminExists reports whether at least one admin account exists.
func (s *Store) AdminExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE role = ?)`, string(models.RoleAdmin)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("admin exists: %w", err)
	}
	return exists, nil
}

// ListNonAdminUsers returns every account whose role is not Admin.
func (s *Store) ListNonAdminUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE role <> ? ORDER BY id`, string(models.RoleAdmin))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user after deleting the tasks assigned to them, and,
// when withCreated is set, the tasks they created. Everything happens in one
// transaction.
func (s *Store) DeleteUser(ctx context.Context, id int64, withCreated bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE assigned_to_id = ?`, id); err != nil {
		return classify("delete assigned tasks", err)
	}
	if withCreated {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE created_by_id = ?`, id); err != nil {
			return classify("delete created tasks", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return classify("delete user", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return classify("commit delete user", err)
	}
	return nil
}

const taskSelect = `SELECT t.id, t.title, t.description, t.due_date, t.priority, t.status,
        t.created_by_id, t.assigned_to_id, t.created_at, t.updated_at,
        c.id, c.username, c.role, a.id, a.username, a.role
    FROM tasks t
    JOIN users c ON c.id = t.created_by_id
    LEFT JOIN users a ON a.id = t.assigned_to_id`

func scanTask(row rowScanner) (models.Task, error) {
	var (
		t          models.Task
		status     string
		assignedTo sql.NullInt64
		creator    models.UserRef
		aID        sql.NullInt64
		aName      sql.NullString
		aRole      sql.NullString
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.DueDate, &t.Priority, &status,
		&t.CreatedByID, &assignedTo, &t.CreatedAt, &t.UpdatedAt,
		&creator.ID, &creator.Username, &creator.Role, &aID, &aName, &aRole)
	if err != nil {
		return models.Task{}, err
	}

	t.Status = models.TaskStatus(status)
	t.CreatedBy = &creator
	if assignedTo.Valid {
		id := assignedTo.Int64
		t.AssignedToID = &id
	}
	if aID.Valid {
		t.AssignedTo = &models.UserRef{ID: aID.Int64, Username: aName.String, Role: models.Role(aRole.String)}
	}
	return t, nil
}

// CreateTask inserts a new task and returns it with relations expanded.
func (s *Store) CreateTask(ctx context.Context, t models.Task) (models.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return models.Task{}, fmt.Errorf("task title must not be empty")
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO tasks(title, description, due_date, priority, status, created_by_id, assigned_to_id)
        VALUES(?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(t.Title), strings.TrimSpace(t.Description), t.DueDate.UTC(), t.Priority, string(t.Status), t.CreatedByID, nullableID(t.AssignedToID))
	if err != nil {
		return models.Task{}, classify("insert task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Task{}, fmt.Errorf("task id: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, taskSelect+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTaskStatus overwrites the status of a task.
func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status models.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return classify("update task status", err)
	}
	return expectOne(res, "task", id)
}

// UpdateTaskAssignee points a task at a different user.
func (s *Store) UpdateTaskAssignee(ctx context.Context, id, assigneeID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET assigned_to_id = ? WHERE id = ?`, assigneeID, id)
	if err != nil {
		return classify("update task assignee", err)
	}
	return expectOne(res, "task", id)
}

// DeleteTask removes a task by id.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectOne(res, "task", id)
}

// ListTasks returns tasks matching filter ordered by id.
func (s *Store) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	where, args := buildWhere(filter)
	rows, err := s.db.QueryContext(ctx, taskSelect+where+` ORDER BY t.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountTasksByStatus groups the tasks matching filter by status.
func (s *Store) CountTasksByStatus(ctx context.Context, filter models.TaskFilter) ([]models.StatusCount, error) {
	where, args := buildWhere(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT t.status, COUNT(*) FROM tasks t`+where+` GROUP BY t.status ORDER BY t.status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := []models.StatusCount{}
	for rows.Next() {
		var (
			c      models.StatusCount
			status string
		)
		if err := rows.Scan(&status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		c.Status = models.TaskStatus(status)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// RevokeToken records a token id as no longer valid until expiresAt.
// Entries that have already expired are pruned on the way.
func (s *Store) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now().UTC()); err != nil {
		return fmt.Errorf("prune revoked tokens: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO revoked_tokens(jti, expires_at) VALUES(?, ?)`, jti, expiresAt.UTC()); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether jti was revoked.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = ?)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func buildWhere(f models.TaskFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.AssignedToID != nil {
		clauses = append(clauses, "t.assigned_to_id = ?")
		args = append(args, *f.AssignedToID)
	}
	if f.CreatedByID != nil {
		clauses = append(clauses, "t.created_by_id = ?")
		args = append(args, *f.CreatedByID)
	}
	if f.TitleContains != "" {
		// instr is case-sensitive, unlike LIKE.
		clauses = append(clauses, "instr(t.title, ?) > 0")
		args = append(args, f.TitleContains)
	}
	if f.Status != nil {
		clauses = append(clauses, "t.status = ?")
		args = append(args, string(*f.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func expectOne(res sql.Result, what string, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %d: %w", what, id, storage.ErrNotFound)
	}
	return nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
