package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/0neda/trackify/internal/access"
	"github.com/0neda/trackify/internal/apperr"
	"github.com/0neda/trackify/internal/graph"
)

// querier is satisfied by both *sql.DB and *sql.Tx so hydration can run
// inside the create transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toNull(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func timeToNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func unixToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

// --- Users ---

func (s *sqliteStore) CreateUser(ctx context.Context, username, passwordHash string, email *string) (User, error) {
	if username == "" {
		return User{}, apperr.Validationf("username required")
	}
	if passwordHash == "" {
		return User{}, apperr.Validationf("password hash required")
	}
	now := time.Now().UTC().Unix()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO users(username, email, password_hash, created_at) VALUES(?, ?, ?, ?)`,
		username, toNull(email), passwordHash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, apperr.Conflictf("username or email already in use")
		}
		return User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Username: username, Email: email, PasswordHash: passwordHash, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func scanUser(row interface{ Scan(dest ...any) error }) (*User, error) {
	var (
		u         User
		email     sql.NullString
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

func (s *sqliteStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.stmtGetUserByID.QueryRowContext(ctx, id))
}

func (s *sqliteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.stmtGetUserByUsername.QueryRowContext(ctx, username))
}

func (s *sqliteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.DB.QueryRowContext(ctx, `SELECT user_id, username, email, password_hash, created_at FROM users WHERE email = ?`, email))
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT user_id, username, email, password_hash, created_at FROM users ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// --- Tasks ---

func scanTaskRow(row interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		t            Task
		description  sql.NullString
		observations sql.NullString
		startDate    sql.NullInt64
		dueDate      sql.NullInt64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&t.ID, &t.Title, &description, &observations, &t.Status, &t.Priority,
		&startDate, &dueDate, &t.CreatorID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if description.Valid {
		t.Description = &description.String
	}
	if observations.Valid {
		t.Observations = &observations.String
	}
	t.StartDate = unixToTime(startDate)
	t.DueDate = unixToTime(dueDate)
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

const taskColumns = `task_id, title, description, observations, status, priority, start_date, due_date, creator_id, created_at, updated_at`

// CreateTask inserts the task and hydrates it in the same transaction so a
// reader never observes a task without its creator reference.
func (s *sqliteStore) CreateTask(ctx context.Context, creatorID int64, d TaskDraft) (*TaskDetail, error) {
	if d.Title == "" {
		return nil, apperr.Validationf("title required")
	}
	if d.Status == "" {
		d.Status = StatusTodo
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	now := time.Now().UTC().Unix()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO tasks(title, description, observations, status, priority, start_date, due_date, creator_id, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Title, toNull(d.Description), toNull(d.Observations), string(d.Status), string(d.Priority),
		timeToNull(d.StartDate), timeToNull(d.DueDate), creatorID, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	detail, err := getTaskDetail(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, taskID int64) (*Task, error) {
	return scanTaskRow(s.stmtGetTask.QueryRowContext(ctx, taskID))
}

func (s *sqliteStore) GetTaskDetail(ctx context.Context, taskID int64) (*TaskDetail, error) {
	return getTaskDetail(ctx, s.DB, taskID)
}

func getTaskDetail(ctx context.Context, q querier, taskID int64) (*TaskDetail, error) {
	task, err := scanTaskRow(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID))
	if err != nil || task == nil {
		return nil, err
	}
	d := &TaskDetail{Task: *task}

	err = q.QueryRowContext(ctx, `SELECT user_id, username FROM users WHERE user_id = ?`, task.CreatorID).
		Scan(&d.Creator.ID, &d.Creator.Username)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
SELECT a.access_id, a.task_id, a.user_id, a.access_level, u.username
FROM task_access a
JOIN users u ON u.user_id = a.user_id
WHERE a.task_id = ?
ORDER BY a.access_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			a     TaskAccess
			level string
		)
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UserID, &level, &a.User.Username); err != nil {
			return nil, err
		}
		a.Level = access.Level(level)
		a.User.ID = a.UserID
		d.Access = append(d.Access, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	d.Dependencies, err = taskRefs(ctx, q, `
SELECT t.task_id, t.title, t.status
FROM task_dependencies dep
JOIN tasks t ON t.task_id = dep.depends_on_id
WHERE dep.task_id = ?
ORDER BY t.task_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	d.DependedBy, err = taskRefs(ctx, q, `
SELECT t.task_id, t.title, t.status
FROM task_dependencies dep
JOIN tasks t ON t.task_id = dep.task_id
WHERE dep.depends_on_id = ?
ORDER BY t.task_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func taskRefs(ctx context.Context, q querier, query string, args ...any) ([]TaskRef, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []TaskRef
	for rows.Next() {
		var r TaskRef
		if err := rows.Scan(&r.ID, &r.Title, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTasksForUser returns every task the user created or was granted
// access to, ordered by start date, priority, due date, then recency.
// Null start and due dates sort last on their ascending keys.
func (s *sqliteStore) ListTasksForUser(ctx context.Context, userID int64) ([]TaskDetail, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT t.task_id
FROM tasks t
WHERE t.creator_id = ?
   OR EXISTS (SELECT 1 FROM task_access a WHERE a.task_id = t.task_id AND a.user_id = ?)
ORDER BY
  (t.start_date IS NULL) ASC, t.start_date ASC,
  CASE t.priority WHEN 'URGENT' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'MEDIUM' THEN 1 ELSE 0 END DESC,
  (t.due_date IS NULL) ASC, t.due_date ASC,
  t.updated_at DESC,
  t.task_id ASC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]TaskDetail, 0, len(ids))
	for _, id := range ids {
		d, err := getTaskDetail(ctx, s.DB, id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

// observationsSeparator joins appended observation entries.
const observationsSeparator = "\n\n"

// UpdateTask applies only the fields the patch sets. Observations append
// to the existing log; date fields clear to NULL when explicitly nulled.
func (s *sqliteStore) UpdateTask(ctx context.Context, taskID int64, p TaskPatch) error {
	now := time.Now().UTC().Unix()
	sets := []string{"updated_at = ?"}
	args := []any{now}

	if p.Title.Set {
		if !p.Title.Valid || p.Title.Value == "" {
			return apperr.Validationf("title cannot be cleared")
		}
		sets = append(sets, "title = ?")
		args = append(args, p.Title.Value)
	}
	if p.Description.Set {
		sets = append(sets, "description = ?")
		if p.Description.Valid {
			args = append(args, p.Description.Value)
		} else {
			args = append(args, nil)
		}
	}
	if p.Observations.Set {
		if p.Observations.Valid {
			sets = append(sets, "observations = CASE WHEN observations IS NULL OR observations = '' THEN ? ELSE observations || ? END")
			args = append(args, p.Observations.Value, observationsSeparator+p.Observations.Value)
		} else {
			sets = append(sets, "observations = NULL")
		}
	}
	if p.Status.Set {
		if !p.Status.Valid {
			return apperr.Validationf("status cannot be cleared")
		}
		sets = append(sets, "status = ?")
		args = append(args, string(p.Status.Value))
	}
	if p.Priority.Set {
		if !p.Priority.Valid {
			return apperr.Validationf("priority cannot be cleared")
		}
		sets = append(sets, "priority = ?")
		args = append(args, string(p.Priority.Value))
	}
	if p.StartDate.Set {
		sets = append(sets, "start_date = ?")
		if p.StartDate.Valid {
			args = append(args, p.StartDate.Value.UTC().Unix())
		} else {
			args = append(args, nil)
		}
	}
	if p.DueDate.Set {
		sets = append(sets, "due_date = ?")
		if p.DueDate.Valid {
			args = append(args, p.DueDate.Value.UTC().Unix())
		} else {
			args = append(args, nil)
		}
	}

	args = append(args, taskID)
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE task_id = ?`, args...)
	return err
}

// DeleteTask removes the task; access grants and dependency edges in both
// directions go with it via the foreign-key cascades.
func (s *sqliteStore) DeleteTask(ctx context.Context, taskID int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	return err
}

// --- Access grants ---

func (s *sqliteStore) GetTaskGrant(ctx context.Context, taskID, userID int64) (*access.Level, error) {
	var level string
	err := s.stmtGetGrant.QueryRowContext(ctx, taskID, userID).Scan(&level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	l := access.Level(level)
	return &l, nil
}

func (s *sqliteStore) UpsertTaskAccess(ctx context.Context, taskID, userID int64, level access.Level) (TaskAccess, error) {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO task_access(task_id, user_id, access_level) VALUES(?, ?, ?)
ON CONFLICT(task_id, user_id) DO UPDATE SET access_level = excluded.access_level`,
		taskID, userID, string(level))
	if err != nil {
		return TaskAccess{}, err
	}
	var a TaskAccess
	var lvl string
	err = s.DB.QueryRowContext(ctx, `
SELECT a.access_id, a.task_id, a.user_id, a.access_level, u.username
FROM task_access a JOIN users u ON u.user_id = a.user_id
WHERE a.task_id = ? AND a.user_id = ?`, taskID, userID).
		Scan(&a.ID, &a.TaskID, &a.UserID, &lvl, &a.User.Username)
	if err != nil {
		return TaskAccess{}, err
	}
	a.Level = access.Level(lvl)
	a.User.ID = a.UserID
	return a, nil
}

func (s *sqliteStore) DeleteTaskAccess(ctx context.Context, taskID, userID int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM task_access WHERE task_id = ? AND user_id = ?`, taskID, userID)
	return err
}

// --- Dependency edges ---

// AddTaskDependencies verifies that every target exists and that no edge
// closes a cycle, then writes the edges, all inside one transaction (the
// DSN sets _txlock=immediate, so the write lock is taken up front and the
// check-then-write sequence is serialized against other writers).
func (s *sqliteStore) AddTaskDependencies(ctx context.Context, taskID int64, dependsOnIDs []int64) error {
	if len(dependsOnIDs) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	missing, err := missingTaskIDs(ctx, tx, dependsOnIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperr.Validationf("dependency tasks not found: %v", missing)
	}

	adj, err := dependencyAdjacency(ctx, tx)
	if err != nil {
		return err
	}
	ids, err := graph.Validate(adj, taskID, dependsOnIDs)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO task_dependencies(task_id, depends_on_id) VALUES(?, ?)
ON CONFLICT(task_id, depends_on_id) DO NOTHING`, taskID, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func missingTaskIDs(ctx context.Context, q querier, ids []int64) ([]int64, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT task_id FROM tasks WHERE task_id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func dependencyAdjacency(ctx context.Context, q querier) (graph.Adjacency, error) {
	rows, err := q.QueryContext(ctx, `SELECT task_id, depends_on_id FROM task_dependencies`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	adj := make(graph.Adjacency)
	for rows.Next() {
		var from, to int64
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		adj[from] = append(adj[from], to)
	}
	return adj, rows.Err()
}

func (s *sqliteStore) DeleteTaskDependency(ctx context.Context, taskID, dependsOnID int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?`, taskID, dependsOnID)
	return err
}

// --- Metrics support ---

func (s *sqliteStore) CountTasksByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}
