package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/0neda/trackify/internal/access"
	"github.com/0neda/trackify/internal/apperr"
	"github.com/0neda/trackify/internal/store"
)

type fixture struct {
	svc   *Service
	store store.Store
	alice store.User
	bob   store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	alice, err := st.CreateUser(ctx, "alice", "hash", nil)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := st.CreateUser(ctx, "bob", "hash", nil)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: New(st), store: st, alice: alice, bob: bob}
}

func (f *fixture) createTask(t *testing.T, creator store.User, title string) *store.TaskDetail {
	t.Helper()
	d, err := f.svc.Create(context.Background(), creator.ID, store.TaskDraft{Title: title})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return d
}

func TestGetRequiresViewAccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, f.alice, "private")

	// Creator sees it.
	if _, err := f.svc.Get(ctx, f.alice.ID, task.ID); err != nil {
		t.Fatalf("creator get: %v", err)
	}
	// Bob has no grant.
	if _, err := f.svc.Get(ctx, f.bob.ID, task.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("stranger get err = %v, want ErrForbidden", err)
	}
	// A view grant opens it up.
	if _, err := f.svc.GrantAccess(ctx, f.alice.ID, task.ID, f.bob.ID, access.LevelView); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.bob.ID, task.ID); err != nil {
		t.Fatalf("granted get: %v", err)
	}
	// Missing task is NotFound, not Forbidden.
	if _, err := f.svc.Get(ctx, f.alice.ID, 9999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing task err = %v, want ErrNotFound", err)
	}
}

func TestUpdateRequiresEditAccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, f.alice, "shared")
	patch := store.TaskPatch{Status: store.FieldOf(store.StatusDone)}

	if _, err := f.svc.Update(ctx, f.bob.ID, task.ID, patch); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("no grant update err = %v, want ErrForbidden", err)
	}

	// View is not enough to edit.
	if _, err := f.svc.GrantAccess(ctx, f.alice.ID, task.ID, f.bob.ID, access.LevelView); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Update(ctx, f.bob.ID, task.ID, patch); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("view grant update err = %v, want ErrForbidden", err)
	}

	// Edit is.
	if _, err := f.svc.GrantAccess(ctx, f.alice.ID, task.ID, f.bob.ID, access.LevelEdit); err != nil {
		t.Fatal(err)
	}
	d, err := f.svc.Update(ctx, f.bob.ID, task.ID, patch)
	if err != nil {
		t.Fatalf("edit grant update: %v", err)
	}
	if d.Status != store.StatusDone {
		t.Fatalf("status = %s, want DONE", d.Status)
	}

	// Empty patches are rejected before any access check.
	if _, err := f.svc.Update(ctx, f.alice.ID, task.ID, store.TaskPatch{}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty patch err = %v, want ErrValidation", err)
	}
}

func TestRemoveIsCreatorOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, f.alice, "doomed")

	// Even an edit grant does not allow deletion.
	if _, err := f.svc.GrantAccess(ctx, f.alice.ID, task.ID, f.bob.ID, access.LevelEdit); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Remove(ctx, f.bob.ID, task.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("editor remove err = %v, want ErrForbidden", err)
	}

	if err := f.svc.Remove(ctx, f.alice.ID, task.ID); err != nil {
		t.Fatalf("creator remove: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.alice.ID, task.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("get after remove err = %v, want ErrNotFound", err)
	}
}

func TestGrantAccessRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, f.alice, "t")

	// Only the creator may grant, even with an edit grant.
	if _, err := f.svc.GrantAccess(ctx, f.bob.ID, task.ID, f.bob.ID, access.LevelView); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("non-creator grant err = %v, want ErrForbidden", err)
	}
	// Granting to the creator themselves is rejected.
	if _, err := f.svc.GrantAccess(ctx, f.alice.ID, task.ID, f.alice.ID, access.LevelView); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("grant to creator err = %v, want ErrValidation", err)
	}
	// Target must exist.
	if _, err := f.svc.GrantAccess(ctx, f.alice.ID, task.ID, 9999, access.LevelView); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("grant to missing user err = %v, want ErrNotFound", err)
	}

	a, err := f.svc.GrantAccess(ctx, f.alice.ID, task.ID, f.bob.ID, access.LevelView)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if a.Level != access.LevelView || a.User.Username != "bob" {
		t.Fatalf("grant = %+v", a)
	}

	// Revoking is creator-only and idempotent.
	if err := f.svc.RevokeAccess(ctx, f.bob.ID, task.ID, f.bob.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("non-creator revoke err = %v, want ErrForbidden", err)
	}
	if err := f.svc.RevokeAccess(ctx, f.alice.ID, task.ID, f.bob.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := f.svc.RevokeAccess(ctx, f.alice.ID, task.ID, f.bob.ID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.bob.ID, task.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("get after revoke err = %v, want ErrForbidden", err)
	}
}

func TestAddDependencies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	t1 := f.createTask(t, f.alice, "t1")
	t2 := f.createTask(t, f.alice, "t2")

	d, err := f.svc.AddDependencies(ctx, f.alice.ID, t1.ID, []int64{t2.ID})
	if err != nil {
		t.Fatalf("add dep: %v", err)
	}
	if len(d.Dependencies) != 1 || d.Dependencies[0].ID != t2.ID {
		t.Fatalf("dependencies = %+v", d.Dependencies)
	}

	// The reverse edge would close a cycle.
	if _, err := f.svc.AddDependencies(ctx, f.alice.ID, t2.ID, []int64{t1.ID}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("cycle err = %v, want ErrValidation", err)
	}

	// Editing the dependency list needs edit access.
	if _, err := f.svc.AddDependencies(ctx, f.bob.ID, t1.ID, []int64{t2.ID}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("stranger add dep err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.AddDependencies(ctx, f.alice.ID, t1.ID, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty dep list err = %v, want ErrValidation", err)
	}

	if err := f.svc.RemoveDependency(ctx, f.alice.ID, t1.ID, t2.ID); err != nil {
		t.Fatalf("remove dep: %v", err)
	}
	d, err = f.svc.Get(ctx, f.alice.ID, t1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Dependencies) != 0 {
		t.Fatalf("dependencies after remove = %+v", d.Dependencies)
	}
	// Removing a missing edge is a no-op.
	if err := f.svc.RemoveDependency(ctx, f.alice.ID, t1.ID, t2.ID); err != nil {
		t.Fatalf("second remove dep: %v", err)
	}
}
