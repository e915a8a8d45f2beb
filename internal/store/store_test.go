package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/0neda/trackify/internal/access"
	"github.com/0neda/trackify/internal/apperr"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func mustCreateUser(t *testing.T, s Store, username string) User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), username, "hash-"+username, nil)
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func mustCreateTask(t *testing.T, s Store, creatorID int64, title string) *TaskDetail {
	t.Helper()
	d, err := s.CreateTask(context.Background(), creatorID, TaskDraft{Title: title})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return d
}

func strPtr(s string) *string { return &s }

func TestCreateUserAndLookup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	email := "alice@example.com"
	u, err := s.CreateUser(ctx, "alice", "hash", &email)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("expected non-zero user id")
	}
	if u.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if byName == nil || byName.ID != u.ID {
		t.Fatalf("get by username = %+v, want id %d", byName, u.ID)
	}
	if byName.Email == nil || *byName.Email != email {
		t.Fatalf("email = %v, want %q", byName.Email, email)
	}

	byEmail, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail == nil || byEmail.ID != u.ID {
		t.Fatalf("get by email = %+v, want id %d", byEmail, u.ID)
	}

	missing, err := s.GetUserByID(ctx, 9999)
	if err != nil {
		t.Fatalf("get missing user: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing user, got %+v", missing)
	}
}

func TestCreateUserConflicts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	email := "bob@example.com"
	if _, err := s.CreateUser(ctx, "bob", "hash", &email); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := s.CreateUser(ctx, "bob", "hash2", nil); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate username err = %v, want ErrConflict", err)
	}
	if _, err := s.CreateUser(ctx, "bob2", "hash2", &email); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate email err = %v, want ErrConflict", err)
	}
}

func TestCreateTaskDefaults(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")

	d, err := s.CreateTask(ctx, alice.ID, TaskDraft{Title: "ship it"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if d.Status != StatusTodo {
		t.Errorf("status = %s, want %s", d.Status, StatusTodo)
	}
	if d.Priority != PriorityMedium {
		t.Errorf("priority = %s, want %s", d.Priority, PriorityMedium)
	}
	if d.Creator.ID != alice.ID || d.Creator.Username != "alice" {
		t.Errorf("creator = %+v, want alice (%d)", d.Creator, alice.ID)
	}
	if d.StartDate != nil || d.DueDate != nil {
		t.Errorf("expected nil dates, got start=%v due=%v", d.StartDate, d.DueDate)
	}

	if _, err := s.CreateTask(ctx, alice.ID, TaskDraft{}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty title err = %v, want ErrValidation", err)
	}
}

func TestUpdateTaskPatchSemantics(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")

	d, err := s.CreateTask(ctx, alice.ID, TaskDraft{Title: "t", Description: strPtr("original")})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	// Absent fields stay untouched.
	if err := s.UpdateTask(ctx, d.ID, TaskPatch{Status: FieldOf(StatusInProgress)}); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := s.GetTask(ctx, d.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("status = %s, want %s", got.Status, StatusInProgress)
	}
	if got.Description == nil || *got.Description != "original" {
		t.Errorf("description = %v, want original", got.Description)
	}

	// Explicit null clears the field.
	if err := s.UpdateTask(ctx, d.ID, TaskPatch{Description: FieldNull[string]()}); err != nil {
		t.Fatalf("clear description: %v", err)
	}
	got, _ = s.GetTask(ctx, d.ID)
	if got.Description != nil {
		t.Errorf("description = %v, want nil", got.Description)
	}

	// Title cannot be cleared.
	err = s.UpdateTask(ctx, d.ID, TaskPatch{Title: FieldNull[string]()})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("clear title err = %v, want ErrValidation", err)
	}

	// Dates round-trip through epoch seconds and clear to null.
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := s.UpdateTask(ctx, d.ID, TaskPatch{DueDate: FieldOf(due)}); err != nil {
		t.Fatalf("set due date: %v", err)
	}
	got, _ = s.GetTask(ctx, d.ID)
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due date = %v, want %v", got.DueDate, due)
	}
	if err := s.UpdateTask(ctx, d.ID, TaskPatch{DueDate: FieldNull[time.Time]()}); err != nil {
		t.Fatalf("clear due date: %v", err)
	}
	got, _ = s.GetTask(ctx, d.ID)
	if got.DueDate != nil {
		t.Errorf("due date = %v, want nil", got.DueDate)
	}
}

func TestUpdateTaskObservationsAppend(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	d := mustCreateTask(t, s, alice.ID, "t")

	if err := s.UpdateTask(ctx, d.ID, TaskPatch{Observations: FieldOf("first note")}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.UpdateTask(ctx, d.ID, TaskPatch{Observations: FieldOf("second note")}); err != nil {
		t.Fatalf("second append: %v", err)
	}
	got, err := s.GetTask(ctx, d.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	want := "first note\n\nsecond note"
	if got.Observations == nil || *got.Observations != want {
		t.Errorf("observations = %v, want %q", got.Observations, want)
	}

	if err := s.UpdateTask(ctx, d.ID, TaskPatch{Observations: FieldNull[string]()}); err != nil {
		t.Fatalf("clear observations: %v", err)
	}
	got, _ = s.GetTask(ctx, d.ID)
	if got.Observations != nil {
		t.Errorf("observations = %v, want nil", got.Observations)
	}
}

func TestListTasksForUserVisibilityAndOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")

	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	noDate, err := s.CreateTask(ctx, alice.ID, TaskDraft{Title: "no date", Priority: PriorityUrgent})
	if err != nil {
		t.Fatal(err)
	}
	lateTask, err := s.CreateTask(ctx, alice.ID, TaskDraft{Title: "late", StartDate: &late})
	if err != nil {
		t.Fatal(err)
	}
	earlyLow, err := s.CreateTask(ctx, alice.ID, TaskDraft{Title: "early low", StartDate: &early, Priority: PriorityLow})
	if err != nil {
		t.Fatal(err)
	}
	earlyHigh, err := s.CreateTask(ctx, alice.ID, TaskDraft{Title: "early high", StartDate: &early, Priority: PriorityHigh})
	if err != nil {
		t.Fatal(err)
	}
	hidden, err := s.CreateTask(ctx, bob.ID, TaskDraft{Title: "bobs own"})
	if err != nil {
		t.Fatal(err)
	}
	shared, err := s.CreateTask(ctx, bob.ID, TaskDraft{Title: "shared", StartDate: &early, Priority: PriorityUrgent})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertTaskAccess(ctx, shared.ID, alice.ID, access.LevelView); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListTasksForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	var ids []int64
	for _, d := range list {
		if d.ID == hidden.ID {
			t.Fatal("list includes a task the user has no access to")
		}
		ids = append(ids, d.ID)
	}
	// Dated tasks first ordered by start then priority, undated last.
	want := []int64{shared.ID, earlyHigh.ID, earlyLow.ID, lateTask.ID, noDate.ID}
	if len(ids) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestUpsertAndRevokeAccess(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")
	d := mustCreateTask(t, s, alice.ID, "t")

	a, err := s.UpsertTaskAccess(ctx, d.ID, bob.ID, access.LevelView)
	if err != nil {
		t.Fatalf("grant view: %v", err)
	}
	if a.Level != access.LevelView || a.User.Username != "bob" {
		t.Fatalf("grant = %+v", a)
	}

	// Upsert replaces the level without growing the grant list.
	a2, err := s.UpsertTaskAccess(ctx, d.ID, bob.ID, access.LevelEdit)
	if err != nil {
		t.Fatalf("grant edit: %v", err)
	}
	if a2.Level != access.LevelEdit {
		t.Fatalf("level = %s, want edit", a2.Level)
	}
	detail, err := s.GetTaskDetail(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Access) != 1 {
		t.Fatalf("access rows = %d, want 1", len(detail.Access))
	}

	lvl, err := s.GetTaskGrant(ctx, d.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if lvl == nil || *lvl != access.LevelEdit {
		t.Fatalf("grant = %v, want edit", lvl)
	}

	if err := s.DeleteTaskAccess(ctx, d.ID, bob.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	lvl, err = s.GetTaskGrant(ctx, d.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if lvl != nil {
		t.Fatalf("grant after revoke = %v, want nil", lvl)
	}
	// Revoking again is a no-op.
	if err := s.DeleteTaskAccess(ctx, d.ID, bob.ID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestAddTaskDependencies(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	t1 := mustCreateTask(t, s, alice.ID, "t1")
	t2 := mustCreateTask(t, s, alice.ID, "t2")
	t3 := mustCreateTask(t, s, alice.ID, "t3")

	if err := s.AddTaskDependencies(ctx, t1.ID, []int64{t2.ID, t3.ID}); err != nil {
		t.Fatalf("add deps: %v", err)
	}
	d, err := s.GetTaskDetail(ctx, t1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Dependencies) != 2 {
		t.Fatalf("dependencies = %d, want 2", len(d.Dependencies))
	}
	d2, err := s.GetTaskDetail(ctx, t2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d2.DependedBy) != 1 || d2.DependedBy[0].ID != t1.ID {
		t.Fatalf("depended by = %+v, want [t1]", d2.DependedBy)
	}

	// Re-adding an existing edge is idempotent.
	if err := s.AddTaskDependencies(ctx, t1.ID, []int64{t2.ID}); err != nil {
		t.Fatalf("re-add dep: %v", err)
	}
	d, _ = s.GetTaskDetail(ctx, t1.ID)
	if len(d.Dependencies) != 2 {
		t.Fatalf("dependencies after re-add = %d, want 2", len(d.Dependencies))
	}
}

func TestAddTaskDependenciesRejectsCycleAtomically(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	t1 := mustCreateTask(t, s, alice.ID, "t1")
	t2 := mustCreateTask(t, s, alice.ID, "t2")
	t3 := mustCreateTask(t, s, alice.ID, "t3")

	if err := s.AddTaskDependencies(ctx, t1.ID, []int64{t2.ID}); err != nil {
		t.Fatal(err)
	}

	// t2 -> t1 closes the cycle; t2 -> t3 is fine on its own, but the
	// whole request must be rejected and nothing written.
	err := s.AddTaskDependencies(ctx, t2.ID, []int64{t3.ID, t1.ID})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("cycle err = %v, want ErrValidation", err)
	}
	d, err := s.GetTaskDetail(ctx, t2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Dependencies) != 0 {
		t.Fatalf("dependencies persisted after rejected batch: %+v", d.Dependencies)
	}

	// Self dependency is rejected too.
	if err := s.AddTaskDependencies(ctx, t1.ID, []int64{t1.ID}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("self dep err = %v, want ErrValidation", err)
	}
}

func TestAddTaskDependenciesMissingTarget(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	t1 := mustCreateTask(t, s, alice.ID, "t1")
	t2 := mustCreateTask(t, s, alice.ID, "t2")

	err := s.AddTaskDependencies(ctx, t1.ID, []int64{t2.ID, 9999})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("missing target err = %v, want ErrValidation", err)
	}
	d, _ := s.GetTaskDetail(ctx, t1.ID)
	if len(d.Dependencies) != 0 {
		t.Fatalf("edges written despite missing target: %+v", d.Dependencies)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	bob := mustCreateUser(t, s, "bob")
	t1 := mustCreateTask(t, s, alice.ID, "t1")
	t2 := mustCreateTask(t, s, alice.ID, "t2")

	if _, err := s.UpsertTaskAccess(ctx, t1.ID, bob.ID, access.LevelEdit); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTaskDependencies(ctx, t1.ID, []int64{t2.ID}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTaskDependencies(ctx, t2.ID, []int64{}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTask(ctx, t1.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.GetTask(ctx, t1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("task still present after delete")
	}
	// Edges referencing the deleted task are gone in both directions.
	d2, err := s.GetTaskDetail(ctx, t2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d2.DependedBy) != 0 {
		t.Fatalf("stale reverse edge after delete: %+v", d2.DependedBy)
	}
}

func TestCountTasksByStatus(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	alice := mustCreateUser(t, s, "alice")
	t1 := mustCreateTask(t, s, alice.ID, "t1")
	mustCreateTask(t, s, alice.ID, "t2")
	if err := s.UpdateTask(ctx, t1.ID, TaskPatch{Status: FieldOf(StatusDone)}); err != nil {
		t.Fatal(err)
	}

	counts, err := s.CountTasksByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[StatusTodo] != 1 || counts[StatusDone] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func BenchmarkGetTask(b *testing.B) {
	s, err := Open(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	u, err := s.CreateUser(ctx, "bench", "hash", nil)
	if err != nil {
		b.Fatal(err)
	}
	d, err := s.CreateTask(ctx, u.ID, TaskDraft{Title: "bench"})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.GetTask(ctx, d.ID); err != nil {
			b.Fatal(err)
		}
	}
}
