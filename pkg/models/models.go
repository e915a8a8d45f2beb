// Package models provides shared types for the Trackify HTTP API and
// external tools. These types mirror the API JSON and are stable for use
// by pkg/client and other consumers.
package models

import (
	"encoding/json"
	"time"
)

// User is a registered account. The password hash never leaves the server.
type User struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// UserSummary identifies a user inside task payloads.
type UserSummary struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// TaskAccess is a view or edit grant on a task.
type TaskAccess struct {
	AccessID int64       `json:"access_id"`
	TaskID   int64       `json:"task_id"`
	Level    string      `json:"access_level"`
	User     UserSummary `json:"user"`
}

// TaskRef is a shallow reference to a related task.
type TaskRef struct {
	TaskID int64  `json:"task_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Task is a work item with status, priority, scheduling dates, grants,
// and dependency edges in both directions.
type Task struct {
	TaskID       int64        `json:"task_id"`
	Title        string       `json:"title"`
	Description  *string      `json:"description,omitempty"`
	Observations *string      `json:"observations,omitempty"`
	Status       string       `json:"status"`
	Priority     string       `json:"priority"`
	StartDate    *time.Time   `json:"start_date,omitempty"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	Creator      UserSummary  `json:"creator"`
	Access       []TaskAccess `json:"access,omitempty"`
	Dependencies []TaskRef    `json:"dependencies,omitempty"`
	DependedBy   []TaskRef    `json:"depended_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at,omitempty"`
}

// RegisterRequest creates an account. Email is optional.
type RegisterRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Email    *string `json:"email,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse carries the bearer token for subsequent requests.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// CreateTaskRequest creates a task. Dates accept "2006-01-02" or RFC 3339.
type CreateTaskRequest struct {
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	Observations *string `json:"observations,omitempty"`
	Status       string  `json:"status,omitempty"`
	Priority     string  `json:"priority,omitempty"`
	StartDate    *string `json:"start_date,omitempty"`
	DueDate      *string `json:"due_date,omitempty"`
}

// Optional distinguishes an absent JSON field from an explicit null:
// absent leaves the field alone, null clears it, a value replaces it.
type Optional[T any] struct {
	Set   bool
	Valid bool
	Value T
}

// UnmarshalJSON only runs for keys present in the payload, which is what
// makes the absent/null distinction observable.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Valid = false
		return nil
	}
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Some returns a present, non-null Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Valid: true, Value: v}
}

// Null returns a present, explicitly null Optional.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// UpdateTaskRequest is a partial update. Omitted fields keep their
// value; Observations appends to the existing log rather than replacing
// it. Dates accept "2006-01-02" or RFC 3339.
type UpdateTaskRequest struct {
	Title        Optional[string] `json:"title"`
	Description  Optional[string] `json:"description"`
	Observations Optional[string] `json:"observations"`
	Status       Optional[string] `json:"status"`
	Priority     Optional[string] `json:"priority"`
	StartDate    Optional[string] `json:"start_date"`
	DueDate      Optional[string] `json:"due_date"`
}

// MarshalJSON emits only the fields that are set, so an untouched field
// never appears in the payload. Encoding the struct directly would send
// every key, turning absent fields into explicit nulls on the server.
func (r UpdateTaskRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, 7)
	fields := []struct {
		key string
		val Optional[string]
	}{
		{"title", r.Title},
		{"description", r.Description},
		{"observations", r.Observations},
		{"status", r.Status},
		{"priority", r.Priority},
		{"start_date", r.StartDate},
		{"due_date", r.DueDate},
	}
	for _, f := range fields {
		if !f.val.Set {
			continue
		}
		b, err := json.Marshal(f.val)
		if err != nil {
			return nil, err
		}
		out[f.key] = b
	}
	return json.Marshal(out)
}

// GrantAccessRequest grants view or edit on a task. The target may be
// named by id or username.
type GrantAccessRequest struct {
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Level    string `json:"access_level"`
}

// AddDependenciesRequest marks the task as depending on each listed
// task. The batch is all-or-nothing.
type AddDependenciesRequest struct {
	DependsOn []int64 `json:"depends_on"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
