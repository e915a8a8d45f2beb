package store

import (
	"context"

	"github.com/0neda/trackify/internal/access"
)

// Store is the persistence interface for users, tasks, access grants, and
// dependency edges. Implementations: the SQLite store returned by Open and
// *postgres.Store (PostgreSQL).
//
// Lookups return (nil, nil) when the row does not exist; domain NotFound
// wrapping is the service layer's job. Mutations that hit unique
// constraints return apperr.ErrConflict; dependency writes that would
// break acyclicity return apperr.ErrValidation with nothing applied.
type Store interface {
	// Users
	CreateUser(ctx context.Context, username, passwordHash string, email *string) (User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Tasks
	CreateTask(ctx context.Context, creatorID int64, d TaskDraft) (*TaskDetail, error)
	GetTask(ctx context.Context, taskID int64) (*Task, error)
	GetTaskDetail(ctx context.Context, taskID int64) (*TaskDetail, error)
	ListTasksForUser(ctx context.Context, userID int64) ([]TaskDetail, error)
	UpdateTask(ctx context.Context, taskID int64, p TaskPatch) error
	DeleteTask(ctx context.Context, taskID int64) error

	// Access grants
	GetTaskGrant(ctx context.Context, taskID, userID int64) (*access.Level, error)
	UpsertTaskAccess(ctx context.Context, taskID, userID int64, level access.Level) (TaskAccess, error)
	DeleteTaskAccess(ctx context.Context, taskID, userID int64) error

	// Dependency edges. AddTaskDependencies verifies target existence and
	// acyclicity and writes the edges inside one transaction; it is
	// all-or-nothing and idempotent per edge.
	AddTaskDependencies(ctx context.Context, taskID int64, dependsOnIDs []int64) error
	DeleteTaskDependency(ctx context.Context, taskID, dependsOnID int64) error

	// CountTasksByStatus supports the task gauge on /metrics.
	CountTasksByStatus(ctx context.Context) (map[Status]int64, error)

	Close() error
}
