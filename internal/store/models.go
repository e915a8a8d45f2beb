// Package store defines the persistence interface and shared models for
// users, tasks, access grants, and dependency edges.
package store

import (
	"time"

	"github.com/0neda/trackify/internal/access"
	"github.com/0neda/trackify/internal/apperr"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReview     Status = "REVIEW"
	StatusBlocked    Status = "BLOCKED"
	StatusDone       Status = "DONE"
	StatusCancelled  Status = "CANCELLED"
)

// Statuses lists every valid status, in lifecycle order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusReview, StatusBlocked, StatusDone, StatusCancelled}

// ParseStatus validates a wire-format status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if Status(s) == st {
			return st, nil
		}
	}
	return "", apperr.Validationf("unknown status %q", s)
}

// Priority is a task priority level.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Priorities lists every valid priority, weakest first.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// ParsePriority validates a wire-format priority.
func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if Priority(s) == p {
			return p, nil
		}
	}
	return "", apperr.Validationf("unknown priority %q", s)
}

// User is a registered account. PasswordHash is opaque to everything but
// the auth service.
type User struct {
	ID           int64
	Username     string
	Email        *string
	PasswordHash string
	CreatedAt    time.Time
}

// UserSummary is the public projection of a user (creator and grantee lists).
type UserSummary struct {
	ID       int64
	Username string
}

// Task is a work item. CreatorID is set at creation and never reassigned.
type Task struct {
	ID           int64
	Title        string
	Description  *string
	Observations *string
	Status       Status
	Priority     Priority
	StartDate    *time.Time
	DueDate      *time.Time
	CreatorID    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TaskAccess is a grant giving a non-creator user view or edit rights.
type TaskAccess struct {
	ID     int64
	TaskID int64
	UserID int64
	Level  access.Level
	User   UserSummary
}

// TaskRef is the short projection used in dependency lists.
type TaskRef struct {
	ID     int64
	Title  string
	Status Status
}

// TaskDetail is a task joined with its creator summary, access grants, and
// dependency edges in both directions.
type TaskDetail struct {
	Task
	Creator      UserSummary
	Access       []TaskAccess
	Dependencies []TaskRef // tasks this task depends on
	DependedBy   []TaskRef // tasks that depend on this task
}

// TaskDraft is the input for creating a task. Zero-value Status and
// Priority get the TODO / MEDIUM defaults.
type TaskDraft struct {
	Title        string
	Description  *string
	Observations *string
	Status       Status
	Priority     Priority
	StartDate    *time.Time
	DueDate      *time.Time
}

// Field is a three-state patch value: absent (leave the column untouched),
// explicitly null (clear it), or set. Plain pointers cannot distinguish
// "don't touch" from "clear", which update semantics here require.
type Field[T any] struct {
	Set   bool
	Valid bool // false when the field was explicitly cleared
	Value T
}

// FieldOf returns a set Field holding v.
func FieldOf[T any](v T) Field[T] {
	return Field[T]{Set: true, Valid: true, Value: v}
}

// FieldNull returns a Field that clears the column.
func FieldNull[T any]() Field[T] {
	return Field[T]{Set: true}
}

// TaskPatch is a partial update. Observations append to the existing log
// rather than replacing it; clearing them resets the log.
type TaskPatch struct {
	Title        Field[string]
	Description  Field[string]
	Observations Field[string]
	Status       Field[Status]
	Priority     Field[Priority]
	StartDate    Field[time.Time]
	DueDate      Field[time.Time]
}

// Empty reports whether the patch touches nothing.
func (p TaskPatch) Empty() bool {
	return !p.Title.Set && !p.Description.Set && !p.Observations.Set &&
		!p.Status.Set && !p.Priority.Set && !p.StartDate.Set && !p.DueDate.Set
}
