package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/0neda/trackify/internal/access"
	"github.com/0neda/trackify/internal/apperr"
	"github.com/0neda/trackify/internal/graph"
	"github.com/0neda/trackify/internal/store"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func unixPtrToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

func timePtrToUnix(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UTC().Unix()
	return &v
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, email *string) (store.User, error) {
	if username == "" {
		return store.User{}, apperr.Validationf("username required")
	}
	if passwordHash == "" {
		return store.User{}, apperr.Validationf("password hash required")
	}
	now := time.Now().UTC().Unix()
	var id int64
	err := s.Pool.QueryRow(ctx, `
INSERT INTO users(username, email, password_hash, created_at)
VALUES($1, $2, $3, $4) RETURNING user_id`, username, email, passwordHash, now).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return store.User{}, apperr.Conflictf("username or email already in use")
		}
		return store.User{}, err
	}
	return store.User{ID: id, Username: username, Email: email, PasswordHash: passwordHash, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func scanUser(row pgx.Row) (*store.User, error) {
	var (
		u         store.User
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

const userColumns = `user_id, username, email, password_hash, created_at`

func (s *Store) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	return scanUser(s.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return scanUser(s.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return scanUser(s.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.User
	for rows.Next() {
		var (
			u         store.User
			createdAt int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Tasks ---

const taskColumns = `task_id, title, description, observations, status, priority, start_date, due_date, creator_id, created_at, updated_at`

func scanTask(row pgx.Row) (*store.Task, error) {
	var (
		t         store.Task
		startDate *int64
		dueDate   *int64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Observations, &t.Status, &t.Priority,
		&startDate, &dueDate, &t.CreatorID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.StartDate = unixPtrToTime(startDate)
	t.DueDate = unixPtrToTime(dueDate)
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, creatorID int64, d store.TaskDraft) (*store.TaskDetail, error) {
	if d.Title == "" {
		return nil, apperr.Validationf("title required")
	}
	if d.Status == "" {
		d.Status = store.StatusTodo
	}
	if d.Priority == "" {
		d.Priority = store.PriorityMedium
	}
	now := time.Now().UTC().Unix()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
INSERT INTO tasks(title, description, observations, status, priority, start_date, due_date, creator_id, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING task_id`,
		d.Title, d.Description, d.Observations, string(d.Status), string(d.Priority),
		timePtrToUnix(d.StartDate), timePtrToUnix(d.DueDate), creatorID, now, now).Scan(&id)
	if err != nil {
		return nil, err
	}
	detail, err := getTaskDetail(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (*store.Task, error) {
	return scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID))
}

func (s *Store) GetTaskDetail(ctx context.Context, taskID int64) (*store.TaskDetail, error) {
	return getTaskDetail(ctx, s.Pool, taskID)
}

func getTaskDetail(ctx context.Context, q querier, taskID int64) (*store.TaskDetail, error) {
	task, err := scanTask(q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID))
	if err != nil || task == nil {
		return nil, err
	}
	d := &store.TaskDetail{Task: *task}

	err = q.QueryRow(ctx, `SELECT user_id, username FROM users WHERE user_id = $1`, task.CreatorID).
		Scan(&d.Creator.ID, &d.Creator.Username)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
SELECT a.access_id, a.task_id, a.user_id, a.access_level, u.username
FROM task_access a
JOIN users u ON u.user_id = a.user_id
WHERE a.task_id = $1
ORDER BY a.access_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a     store.TaskAccess
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
WHERE dep.task_id = $1
ORDER BY t.task_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	d.DependedBy, err = taskRefs(ctx, q, `
SELECT t.task_id, t.title, t.status
FROM task_dependencies dep
JOIN tasks t ON t.task_id = dep.task_id
WHERE dep.depends_on_id = $1
ORDER BY t.task_id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func taskRefs(ctx context.Context, q querier, sql string, args ...any) ([]store.TaskRef, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.TaskRef
	for rows.Next() {
		var r store.TaskRef
		if err := rows.Scan(&r.ID, &r.Title, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListTasksForUser(ctx context.Context, userID int64) ([]store.TaskDetail, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT t.task_id
FROM tasks t
WHERE t.creator_id = $1
   OR EXISTS (SELECT 1 FROM task_access a WHERE a.task_id = t.task_id AND a.user_id = $1)
ORDER BY
  t.start_date ASC NULLS LAST,
  CASE t.priority WHEN 'URGENT' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'MEDIUM' THEN 1 ELSE 0 END DESC,
  t.due_date ASC NULLS LAST,
  t.updated_at DESC,
  t.task_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

	out := make([]store.TaskDetail, 0, len(ids))
	for _, id := range ids {
		d, err := getTaskDetail(ctx, s.Pool, id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

const observationsSeparator = "\n\n"

func (s *Store) UpdateTask(ctx context.Context, taskID int64, p store.TaskPatch) error {
	now := time.Now().UTC().Unix()
	sets := []string{"updated_at = $1"}
	args := []any{now}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if p.Title.Set {
		if !p.Title.Valid || p.Title.Value == "" {
			return apperr.Validationf("title cannot be cleared")
		}
		sets = append(sets, "title = "+arg(p.Title.Value))
	}
	if p.Description.Set {
		if p.Description.Valid {
			sets = append(sets, "description = "+arg(p.Description.Value))
		} else {
			sets = append(sets, "description = NULL")
		}
	}
	if p.Observations.Set {
		if p.Observations.Valid {
			sets = append(sets, "observations = CASE WHEN observations IS NULL OR observations = '' THEN "+
				arg(p.Observations.Value)+" ELSE observations || "+arg(observationsSeparator+p.Observations.Value)+" END")
		} else {
			sets = append(sets, "observations = NULL")
		}
	}
	if p.Status.Set {
		if !p.Status.Valid {
			return apperr.Validationf("status cannot be cleared")
		}
		sets = append(sets, "status = "+arg(string(p.Status.Value)))
	}
	if p.Priority.Set {
		if !p.Priority.Valid {
			return apperr.Validationf("priority cannot be cleared")
		}
		sets = append(sets, "priority = "+arg(string(p.Priority.Value)))
	}
	if p.StartDate.Set {
		if p.StartDate.Valid {
			sets = append(sets, "start_date = "+arg(p.StartDate.Value.UTC().Unix()))
		} else {
			sets = append(sets, "start_date = NULL")
		}
	}
	if p.DueDate.Set {
		if p.DueDate.Valid {
			sets = append(sets, "due_date = "+arg(p.DueDate.Value.UTC().Unix()))
		} else {
			sets = append(sets, "due_date = NULL")
		}
	}

	where := arg(taskID)
	_, err := s.Pool.Exec(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE task_id = `+where, args...)
	return err
}

func (s *Store) DeleteTask(ctx context.Context, taskID int64) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID)
	return err
}

// --- Access grants ---

func (s *Store) GetTaskGrant(ctx context.Context, taskID, userID int64) (*access.Level, error) {
	var level string
	err := s.Pool.QueryRow(ctx, `SELECT access_level FROM task_access WHERE task_id = $1 AND user_id = $2`, taskID, userID).Scan(&level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	l := access.Level(level)
	return &l, nil
}

func (s *Store) UpsertTaskAccess(ctx context.Context, taskID, userID int64, level access.Level) (store.TaskAccess, error) {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO task_access(task_id, user_id, access_level) VALUES($1, $2, $3)
ON CONFLICT (task_id, user_id) DO UPDATE SET access_level = excluded.access_level`,
		taskID, userID, string(level))
	if err != nil {
		return store.TaskAccess{}, err
	}
	var a store.TaskAccess
	var lvl string
	err = s.Pool.QueryRow(ctx, `
SELECT a.access_id, a.task_id, a.user_id, a.access_level, u.username
FROM task_access a JOIN users u ON u.user_id = a.user_id
WHERE a.task_id = $1 AND a.user_id = $2`, taskID, userID).
		Scan(&a.ID, &a.TaskID, &a.UserID, &lvl, &a.User.Username)
	if err != nil {
		return store.TaskAccess{}, err
	}
	a.Level = access.Level(lvl)
	a.User.ID = a.UserID
	return a, nil
}

func (s *Store) DeleteTaskAccess(ctx context.Context, taskID, userID int64) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM task_access WHERE task_id = $1 AND user_id = $2`, taskID, userID)
	return err
}

// --- Dependency edges ---

// AddTaskDependencies runs its existence and cycle checks and the edge
// writes in one serializable transaction so two concurrent batches cannot
// jointly close a cycle.
func (s *Store) AddTaskDependencies(ctx context.Context, taskID int64, dependsOnIDs []int64) error {
	if len(dependsOnIDs) == 0 {
		return nil
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT task_id FROM tasks WHERE task_id = ANY($1)`, dependsOnIDs)
	if err != nil {
		return err
	}
	found := make(map[int64]bool, len(dependsOnIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		found[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	var missing []int64
	for _, id := range dependsOnIDs {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return apperr.Validationf("dependency tasks not found: %v", missing)
	}

	rows, err = tx.Query(ctx, `SELECT task_id, depends_on_id FROM task_dependencies`)
	if err != nil {
		return err
	}
	adj := make(graph.Adjacency)
	for rows.Next() {
		var from, to int64
		if err := rows.Scan(&from, &to); err != nil {
			rows.Close()
			return err
		}
		adj[from] = append(adj[from], to)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	ids, err := graph.Validate(adj, taskID, dependsOnIDs)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.Exec(ctx, `
INSERT INTO task_dependencies(task_id, depends_on_id) VALUES($1, $2)
ON CONFLICT (task_id, depends_on_id) DO NOTHING`, taskID, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) DeleteTaskDependency(ctx context.Context, taskID, dependsOnID int64) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM task_dependencies WHERE task_id = $1 AND depends_on_id = $2`, taskID, dependsOnID)
	return err
}

// --- Metrics support ---

func (s *Store) CountTasksByStatus(ctx context.Context) (map[store.Status]int64, error) {
	rows, err := s.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[store.Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[store.Status(status)] = n
	}
	return out, rows.Err()
}
