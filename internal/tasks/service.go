// Package tasks implements the task operations on top of the store:
// CRUD, sharing through access grants, and dependency edges. Every
// operation takes the acting user and enforces access before touching
// the store.
package tasks

import (
	"context"
	"strings"

	"github.com/0neda/trackify/internal/access"
	"github.com/0neda/trackify/internal/apperr"
	"github.com/0neda/trackify/internal/store"
)

type Service struct {
	store store.Store
}

func New(st store.Store) *Service {
	return &Service{store: st}
}

// authorize loads the task and checks that the user holds the required
// level on it. The creator always passes.
func (s *Service) authorize(ctx context.Context, userID, taskID int64, required access.Level) (*store.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.NotFoundf("task %d", taskID)
	}
	if t.CreatorID == userID {
		return t, nil
	}
	grant, err := s.store.GetTaskGrant(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(t.CreatorID, userID, grant, required); err != nil {
		return nil, err
	}
	return t, nil
}

// requireCreator is for the operations only the task's creator may do:
// deleting the task and managing its grants.
func (s *Service) requireCreator(ctx context.Context, userID, taskID int64) (*store.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperr.NotFoundf("task %d", taskID)
	}
	if t.CreatorID != userID {
		return nil, apperr.Forbiddenf("only the creator of task %d may do this", taskID)
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, userID int64, d store.TaskDraft) (*store.TaskDetail, error) {
	d.Title = strings.TrimSpace(d.Title)
	return s.store.CreateTask(ctx, userID, d)
}

func (s *Service) List(ctx context.Context, userID int64) ([]store.TaskDetail, error) {
	return s.store.ListTasksForUser(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID, taskID int64) (*store.TaskDetail, error) {
	if _, err := s.authorize(ctx, userID, taskID, access.LevelView); err != nil {
		return nil, err
	}
	d, err := s.store.GetTaskDetail(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apperr.NotFoundf("task %d", taskID)
	}
	return d, nil
}

func (s *Service) Update(ctx context.Context, userID, taskID int64, p store.TaskPatch) (*store.TaskDetail, error) {
	if p.Empty() {
		return nil, apperr.Validationf("no fields to update")
	}
	if p.Title.Set && p.Title.Valid {
		p.Title.Value = strings.TrimSpace(p.Title.Value)
		if p.Title.Value == "" {
			return nil, apperr.Validationf("title required")
		}
	}
	if _, err := s.authorize(ctx, userID, taskID, access.LevelEdit); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTask(ctx, taskID, p); err != nil {
		return nil, err
	}
	return s.store.GetTaskDetail(ctx, taskID)
}

func (s *Service) Remove(ctx context.Context, userID, taskID int64) error {
	if _, err := s.requireCreator(ctx, userID, taskID); err != nil {
		return err
	}
	return s.store.DeleteTask(ctx, taskID)
}

// GrantAccess gives targetUserID the level on the task, replacing any
// existing grant. Granting to the creator is rejected since ownership
// already covers everything.
func (s *Service) GrantAccess(ctx context.Context, userID, taskID, targetUserID int64, level access.Level) (store.TaskAccess, error) {
	t, err := s.requireCreator(ctx, userID, taskID)
	if err != nil {
		return store.TaskAccess{}, err
	}
	if targetUserID == t.CreatorID {
		return store.TaskAccess{}, apperr.Validationf("task creator already has full access")
	}
	target, err := s.store.GetUserByID(ctx, targetUserID)
	if err != nil {
		return store.TaskAccess{}, err
	}
	if target == nil {
		return store.TaskAccess{}, apperr.NotFoundf("user %d", targetUserID)
	}
	return s.store.UpsertTaskAccess(ctx, taskID, targetUserID, level)
}

// RevokeAccess removes the grant. Revoking a grant that does not exist
// is a no-op.
func (s *Service) RevokeAccess(ctx context.Context, userID, taskID, targetUserID int64) error {
	if _, err := s.requireCreator(ctx, userID, taskID); err != nil {
		return err
	}
	return s.store.DeleteTaskAccess(ctx, taskID, targetUserID)
}

// AddDependencies marks the task as depending on each listed task. The
// store validates target existence and acyclicity in one transaction, so
// either every edge lands or none do.
func (s *Service) AddDependencies(ctx context.Context, userID, taskID int64, dependsOnIDs []int64) (*store.TaskDetail, error) {
	if len(dependsOnIDs) == 0 {
		return nil, apperr.Validationf("no dependencies given")
	}
	if _, err := s.authorize(ctx, userID, taskID, access.LevelEdit); err != nil {
		return nil, err
	}
	if err := s.store.AddTaskDependencies(ctx, taskID, dependsOnIDs); err != nil {
		return nil, err
	}
	return s.store.GetTaskDetail(ctx, taskID)
}

func (s *Service) RemoveDependency(ctx context.Context, userID, taskID, dependsOnID int64) error {
	if _, err := s.authorize(ctx, userID, taskID, access.LevelEdit); err != nil {
		return err
	}
	return s.store.DeleteTaskDependency(ctx, taskID, dependsOnID)
}
