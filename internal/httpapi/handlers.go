package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/0neda/trackify/internal/access"
	"github.com/0neda/trackify/internal/apperr"
	"github.com/0neda/trackify/internal/otel"
	"github.com/0neda/trackify/internal/store"
	"github.com/0neda/trackify/pkg/models"
)

func contextWithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// userFrom returns the authenticated user placed in the context by
// requireAuth. Handlers behind requireAuth can rely on it being set.
func userFrom(ctx context.Context) *store.User {
	u, _ := ctx.Value(userKey{}).(*store.User)
	return u
}

func apiUser(u store.User) models.User {
	return models.User{
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

func apiTask(d store.TaskDetail) models.Task {
	t := models.Task{
		TaskID:       d.ID,
		Title:        d.Title,
		Description:  d.Description,
		Observations: d.Observations,
		Status:       string(d.Status),
		Priority:     string(d.Priority),
		StartDate:    d.StartDate,
		DueDate:      d.DueDate,
		Creator:      models.UserSummary{UserID: d.Creator.ID, Username: d.Creator.Username},
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	for _, a := range d.Access {
		t.Access = append(t.Access, apiAccess(a))
	}
	for _, r := range d.Dependencies {
		t.Dependencies = append(t.Dependencies, models.TaskRef{TaskID: r.ID, Title: r.Title, Status: string(r.Status)})
	}
	for _, r := range d.DependedBy {
		t.DependedBy = append(t.DependedBy, models.TaskRef{TaskID: r.ID, Title: r.Title, Status: string(r.Status)})
	}
	return t
}

func apiAccess(a store.TaskAccess) models.TaskAccess {
	return models.TaskAccess{
		AccessID: a.ID,
		TaskID:   a.TaskID,
		Level:    string(a.Level),
		User:     models.UserSummary{UserID: a.User.ID, Username: a.User.Username},
	}
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Validationf("invalid date %q (want YYYY-MM-DD or RFC 3339)", s)
	}
	return t.UTC(), nil
}

// --- Auth handlers ---

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, token, err := a.Auth.Register(r.Context(), body.Username, body.Password, body.Email)
	if err != nil {
		otel.RecordAuthAttempt(r.Context(), "register", "error")
		writeError(w, err)
		return
	}
	otel.RecordAuthAttempt(r.Context(), "register", "ok")
	writeJSONStatus(w, http.StatusCreated, models.AuthResponse{Token: token, User: apiUser(u)})
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, token, err := a.Auth.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		otel.RecordAuthAttempt(r.Context(), "login", "error")
		writeError(w, err)
		return
	}
	otel.RecordAuthAttempt(r.Context(), "login", "ok")
	writeJSON(w, models.AuthResponse{Token: token, User: apiUser(u)})
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, apiUser(*userFrom(r.Context())))
}

func (a *App) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	users, err := a.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		out = append(out, apiUser(u))
	}
	writeJSON(w, out)
}

// --- Task handlers ---

func (a *App) handleTasks(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	switch r.Method {
	case http.MethodGet:
		list, err := a.Tasks.List(r.Context(), user.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]models.Task, 0, len(list))
		for _, d := range list {
			out = append(out, apiTask(d))
		}
		writeJSON(w, out)
	case http.MethodPost:
		var body models.CreateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		draft, err := draftFromRequest(body)
		if err != nil {
			writeError(w, err)
			return
		}
		d, err := a.Tasks.Create(r.Context(), user.ID, draft)
		if err != nil {
			writeError(w, err)
			return
		}
		otel.RecordTaskOp(r.Context(), "create", string(d.Status))
		a.Hub.Publish(taskUpdate("created", d.ID))
		writeJSONStatus(w, http.StatusCreated, apiTask(*d))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func draftFromRequest(body models.CreateTaskRequest) (store.TaskDraft, error) {
	draft := store.TaskDraft{
		Title:        body.Title,
		Description:  body.Description,
		Observations: body.Observations,
	}
	if body.Status != "" {
		st, err := store.ParseStatus(body.Status)
		if err != nil {
			return store.TaskDraft{}, err
		}
		draft.Status = st
	}
	if body.Priority != "" {
		p, err := store.ParsePriority(body.Priority)
		if err != nil {
			return store.TaskDraft{}, err
		}
		draft.Priority = p
	}
	if body.StartDate != nil {
		t, err := parseDate(*body.StartDate)
		if err != nil {
			return store.TaskDraft{}, err
		}
		draft.StartDate = &t
	}
	if body.DueDate != nil {
		t, err := parseDate(*body.DueDate)
		if err != nil {
			return store.TaskDraft{}, err
		}
		draft.DueDate = &t
	}
	return draft, nil
}

func (a *App) handleTask(w http.ResponseWriter, r *http.Request, taskID int64) {
	user := userFrom(r.Context())
	switch r.Method {
	case http.MethodGet:
		d, err := a.Tasks.Get(r.Context(), user.ID, taskID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, apiTask(*d))
	case http.MethodPatch, http.MethodPut:
		var body models.UpdateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		patch, err := patchFromRequest(body)
		if err != nil {
			writeError(w, err)
			return
		}
		d, err := a.Tasks.Update(r.Context(), user.ID, taskID, patch)
		if err != nil {
			writeError(w, err)
			return
		}
		otel.RecordTaskOp(r.Context(), "update", string(d.Status))
		a.Hub.Publish(taskUpdate("updated", d.ID))
		writeJSON(w, apiTask(*d))
	case http.MethodDelete:
		if err := a.Tasks.Remove(r.Context(), user.ID, taskID); err != nil {
			writeError(w, err)
			return
		}
		otel.RecordTaskOp(r.Context(), "delete", "")
		a.Hub.Publish(taskUpdate("deleted", taskID))
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// patchFromRequest converts the wire-level partial update, where absent
// and null mean different things, into the store patch.
func patchFromRequest(body models.UpdateTaskRequest) (store.TaskPatch, error) {
	var p store.TaskPatch

	if body.Title.Set {
		if !body.Title.Valid {
			return store.TaskPatch{}, apperr.Validationf("title cannot be null")
		}
		p.Title = store.FieldOf(body.Title.Value)
	}
	if body.Description.Set {
		if body.Description.Valid {
			p.Description = store.FieldOf(body.Description.Value)
		} else {
			p.Description = store.FieldNull[string]()
		}
	}
	if body.Observations.Set {
		if body.Observations.Valid {
			p.Observations = store.FieldOf(body.Observations.Value)
		} else {
			p.Observations = store.FieldNull[string]()
		}
	}
	if body.Status.Set {
		if !body.Status.Valid {
			return store.TaskPatch{}, apperr.Validationf("status cannot be null")
		}
		st, err := store.ParseStatus(body.Status.Value)
		if err != nil {
			return store.TaskPatch{}, err
		}
		p.Status = store.FieldOf(st)
	}
	if body.Priority.Set {
		if !body.Priority.Valid {
			return store.TaskPatch{}, apperr.Validationf("priority cannot be null")
		}
		pr, err := store.ParsePriority(body.Priority.Value)
		if err != nil {
			return store.TaskPatch{}, err
		}
		p.Priority = store.FieldOf(pr)
	}
	if body.StartDate.Set {
		if body.StartDate.Valid {
			t, err := parseDate(body.StartDate.Value)
			if err != nil {
				return store.TaskPatch{}, err
			}
			p.StartDate = store.FieldOf(t)
		} else {
			p.StartDate = store.FieldNull[time.Time]()
		}
	}
	if body.DueDate.Set {
		if body.DueDate.Valid {
			t, err := parseDate(body.DueDate.Value)
			if err != nil {
				return store.TaskPatch{}, err
			}
			p.DueDate = store.FieldOf(t)
		} else {
			p.DueDate = store.FieldNull[time.Time]()
		}
	}
	return p, nil
}

// --- Access handlers ---

func (a *App) handleTaskAccess(w http.ResponseWriter, r *http.Request, taskID int64) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())
	var body models.GrantAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	level, err := access.ParseLevel(body.Level)
	if err != nil {
		writeError(w, err)
		return
	}
	targetID := body.UserID
	if targetID == 0 && body.Username != "" {
		target, err := a.Store.GetUserByUsername(r.Context(), body.Username)
		if err != nil {
			writeError(w, err)
			return
		}
		if target == nil {
			writeError(w, apperr.NotFoundf("user %q", body.Username))
			return
		}
		targetID = target.ID
	}
	if targetID == 0 {
		writeJSONError(w, http.StatusBadRequest, "user_id or username required")
		return
	}
	grant, err := a.Tasks.GrantAccess(r.Context(), user.ID, taskID, targetID, level)
	if err != nil {
		writeError(w, err)
		return
	}
	otel.RecordTaskOp(r.Context(), "grant", "")
	a.Hub.Publish(taskUpdate("access_granted", taskID))
	writeJSONStatus(w, http.StatusCreated, apiAccess(grant))
}

func (a *App) handleTaskAccessItem(w http.ResponseWriter, r *http.Request, taskID, userID int64) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())
	if err := a.Tasks.RevokeAccess(r.Context(), user.ID, taskID, userID); err != nil {
		writeError(w, err)
		return
	}
	otel.RecordTaskOp(r.Context(), "revoke", "")
	a.Hub.Publish(taskUpdate("access_revoked", taskID))
	w.WriteHeader(http.StatusNoContent)
}

// --- Dependency handlers ---

func (a *App) handleTaskDependencies(w http.ResponseWriter, r *http.Request, taskID int64) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())
	var body models.AddDependenciesRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := a.Tasks.AddDependencies(r.Context(), user.ID, taskID, body.DependsOn)
	if err != nil {
		writeError(w, err)
		return
	}
	otel.RecordTaskOp(r.Context(), "dependency_add", "")
	a.Hub.Publish(taskUpdate("dependencies_added", taskID))
	writeJSONStatus(w, http.StatusCreated, apiTask(*d))
}

func (a *App) handleTaskDependencyItem(w http.ResponseWriter, r *http.Request, taskID, depID int64) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userFrom(r.Context())
	if err := a.Tasks.RemoveDependency(r.Context(), user.ID, taskID, depID); err != nil {
		writeError(w, err)
		return
	}
	otel.RecordTaskOp(r.Context(), "dependency_remove", "")
	a.Hub.Publish(taskUpdate("dependency_removed", taskID))
	w.WriteHeader(http.StatusNoContent)
}
