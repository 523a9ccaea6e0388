package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tms/internal/apperr"
	"tms/internal/auth"
	"tms/internal/models"
	"tms/internal/storage/sqlite"
)

var _ Repository = (*sqlite.Store)(nil)

type harness struct {
	repo     *sqlite.Store
	identity *Identity
	tasks    *Tasks
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "tms.db"), nil)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	return &harness{
		repo:     repo,
		identity: NewIdentity(repo, auth.NewBcryptHasher(4), auth.NewTokenIssuer("test-secret", time.Hour), nil),
		tasks:    NewTasks(repo, nil),
	}
}

func (h *harness) user(t *testing.T, name string) models.User {
	t.Helper()
	u, err := h.repo.GetUserByUsername(context.Background(), name)
	if err != nil {
		t.Fatalf("GetUserByUsername(%s): %v", name, err)
	}
	return u
}

// seed creates admin "root"/"pw1" and users alice/"pw2", bob/"pw3".
func (h *harness) seed(t *testing.T) (root, alice, bob models.User) {
	t.Helper()
	ctx := context.Background()
	if err := h.identity.RegisterInitialAdmin(ctx, Credentials{Username: "root", Password: "pw1"}); err != nil {
		t.Fatalf("RegisterInitialAdmin: %v", err)
	}
	if err := h.identity.Register(ctx, Credentials{Username: "alice", Password: "pw2"}); err != nil {
		t.Fatalf("Register alice: %v", err)
	}
	if err := h.identity.Register(ctx, Credentials{Username: "bob", Password: "pw3"}); err != nil {
		t.Fatalf("Register bob: %v", err)
	}
	return h.user(t, "root"), h.user(t, "alice"), h.user(t, "bob")
}

func (h *harness) assign(t *testing.T, title, to string) models.Task {
	t.Helper()
	task, err := h.tasks.AssignTask(context.Background(), AssignTaskInput{
		Title:       title,
		Description: "Description",
		DueDate:     time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		Priority:    "High",
		AssignedTo:  to,
		CreatedBy:   "root",
	})
	if err != nil {
		t.Fatalf("AssignTask(%s): %v", title, err)
	}
	return task
}

func expectKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func TestRegister_DuplicateUsernameConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.identity.Register(ctx, Credentials{Username: "alice", Password: "pw"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := h.identity.Register(ctx, Credentials{Username: "alice", Password: "other"})
	expectKind(t, err, apperr.ErrConflict)

	alice := h.user(t, "alice")
	if alice.Role != models.RoleUser {
		t.Fatalf("expected User role, got %q", alice.Role)
	}
	if alice.PasswordHash == "pw" {
		t.Fatalf("password stored in plaintext")
	}
}

func TestRegister_RequiresCredentials(t *testing.T) {
	h := newHarness(t)
	err := h.identity.Register(context.Background(), Credentials{Username: "  ", Password: "pw"})
	expectKind(t, err, apperr.ErrBadRequest)
}

func TestRegister_RejectsOverlongPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	long := strings.Repeat("x", auth.MaxPasswordBytes+1)

	err := h.identity.Register(ctx, Credentials{Username: "carol", Password: long})
	expectKind(t, err, apperr.ErrBadRequest)
	if got := apperr.StatusCode(err); got != 400 {
		t.Fatalf("expected 400, got %d", got)
	}
	err = h.identity.RegisterInitialAdmin(ctx, Credentials{Username: "root", Password: long})
	expectKind(t, err, apperr.ErrBadRequest)

	if _, err := h.repo.GetUserByUsername(ctx, "carol"); err == nil {
		t.Fatalf("account must not be created")
	}
	if err := h.identity.Register(ctx, Credentials{Username: "carol", Password: long[:auth.MaxPasswordBytes]}); err != nil {
		t.Fatalf("Register at the limit: %v", err)
	}
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	_, err := h.identity.Login(ctx, Credentials{Username: "alice", Password: "wrong"})
	expectKind(t, err, apperr.ErrUnauthorized)

	_, err = h.identity.Login(ctx, Credentials{Username: "nobody", Password: "pw2"})
	expectKind(t, err, apperr.ErrUnauthorized)

	res, err := h.identity.Login(ctx, Credentials{Username: "alice", Password: "pw2"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Role != models.RoleUser || res.Token == "" {
		t.Fatalf("unexpected login result: %+v", res)
	}

	user, _, err := h.identity.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("expected alice, got %q", user.Username)
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	res, err := h.identity.Login(ctx, Credentials{Username: "alice", Password: "pw2"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	_, claims, err := h.identity.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := h.identity.Logout(ctx, claims); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := h.identity.Logout(ctx, claims); err != nil {
		t.Fatalf("second Logout: %v", err)
	}

	_, _, err = h.identity.Authenticate(ctx, res.Token)
	expectKind(t, err, apperr.ErrUnauthorized)
}

func TestRegisterInitialAdmin_ExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.identity.RegisterInitialAdmin(ctx, Credentials{Username: "root", Password: "pw1"}); err != nil {
		t.Fatalf("RegisterInitialAdmin: %v", err)
	}
	if h.user(t, "root").Role != models.RoleAdmin {
		t.Fatalf("expected root to be admin")
	}

	err := h.identity.RegisterInitialAdmin(ctx, Credentials{Username: "root2", Password: "pw"})
	expectKind(t, err, apperr.ErrConflict)
}

func TestRegisterAdmin_RequiresVerifiedAdmin(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	newAdmin := Credentials{Username: "ops", Password: "pw4"}

	expectKind(t, h.identity.RegisterAdmin(ctx, newAdmin, "root", "wrong"), apperr.ErrUnauthorized)
	expectKind(t, h.identity.RegisterAdmin(ctx, newAdmin, "alice", "pw2"), apperr.ErrUnauthorized)
	expectKind(t, h.identity.RegisterAdmin(ctx, newAdmin, "ghost", "pw"), apperr.ErrUnauthorized)

	if err := h.identity.RegisterAdmin(ctx, newAdmin, "root", "pw1"); err != nil {
		t.Fatalf("RegisterAdmin: %v", err)
	}
	if h.user(t, "ops").Role != models.RoleAdmin {
		t.Fatalf("expected ops to be admin")
	}

	expectKind(t, h.identity.RegisterAdmin(ctx, newAdmin, "root", "pw1"), apperr.ErrConflict)
}

func TestDeleteUser(t *testing.T) {
	h := newHarness(t)
	root, alice, bob := h.seed(t)
	ctx := context.Background()
	h.assign(t, "A1", "alice")
	h.assign(t, "B1", "bob")

	expectKind(t, h.identity.DeleteUser(ctx, bob, alice.ID), apperr.ErrUnauthorized)
	expectKind(t, h.identity.DeleteUser(ctx, root, 999), apperr.ErrNotFound)

	if err := h.identity.RegisterAdmin(ctx, Credentials{Username: "ops", Password: "pw"}, "root", "pw1"); err != nil {
		t.Fatalf("RegisterAdmin: %v", err)
	}
	ops := h.user(t, "ops")
	expectKind(t, h.identity.DeleteUser(ctx, root, ops.ID), apperr.ErrUnauthorized)

	if err := h.identity.DeleteUser(ctx, root, alice.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := h.repo.GetUserByID(ctx, alice.ID); err == nil {
		t.Fatalf("alice should be gone")
	}
	tasks, err := h.tasks.GetUserTasks(ctx, root)
	if err != nil {
		t.Fatalf("GetUserTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "B1" {
		t.Fatalf("expected only B1 to remain, got %+v", tasks)
	}
}

func TestDeleteOwnAccount(t *testing.T) {
	h := newHarness(t)
	root, alice, bob := h.seed(t)
	ctx := context.Background()
	h.assign(t, "A1", "alice")
	h.assign(t, "B1", "bob")

	expectKind(t, h.identity.DeleteOwnAccount(ctx, alice, "ghost"), apperr.ErrNotFound)
	expectKind(t, h.identity.DeleteOwnAccount(ctx, alice, "bob"), apperr.ErrUnauthorized)

	if err := h.identity.DeleteOwnAccount(ctx, alice, "alice"); err != nil {
		t.Fatalf("DeleteOwnAccount alice: %v", err)
	}

	// The creator's account takes its created tasks with it.
	if err := h.identity.DeleteOwnAccount(ctx, root, "root"); err != nil {
		t.Fatalf("DeleteOwnAccount root: %v", err)
	}
	tasks, err := h.tasks.GetUserTasks(ctx, bob)
	if err != nil {
		t.Fatalf("GetUserTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected bob's task removed with its creator, got %+v", tasks)
	}
}

func TestDeleteOwnAccount_PersistenceFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	_, alice, _ := h.seed(t)
	ctx := context.Background()

	failing := &failingDeleteRepo{Repository: h.repo}
	identity := NewIdentity(failing, auth.NewBcryptHasher(4), auth.NewTokenIssuer("test-secret", time.Hour), nil)

	err := identity.DeleteOwnAccount(ctx, alice, "alice")
	expectKind(t, err, apperr.ErrInternal)
	if apperr.Message(err) != "An error occurred while deleting the account" {
		t.Fatalf("unexpected message %q", apperr.Message(err))
	}
}

type failingDeleteRepo struct {
	Repository
}

func (failingDeleteRepo) DeleteUser(context.Context, int64, bool) error {
	return errors.New("disk I/O error")
}

func TestGetProfile(t *testing.T) {
	h := newHarness(t)
	root, alice, bob := h.seed(t)
	ctx := context.Background()
	h.assign(t, "A1", "alice")

	_, err := h.identity.GetProfile(ctx, root, "ghost")
	expectKind(t, err, apperr.ErrNotFound)

	_, err = h.identity.GetProfile(ctx, bob, "alice")
	expectKind(t, err, apperr.ErrUnauthorized)

	p, err := h.identity.GetProfile(ctx, alice, "alice")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if len(p.AssignedTasks) != 1 || p.AssignedTasks[0].Title != "A1" || len(p.CreatedTasks) != 0 {
		t.Fatalf("unexpected alice profile: %+v", p)
	}

	p, err = h.identity.GetProfile(ctx, root, "root")
	if err != nil {
		t.Fatalf("GetProfile root: %v", err)
	}
	if len(p.CreatedTasks) != 1 || len(p.AssignedTasks) != 0 {
		t.Fatalf("unexpected root profile: %+v", p)
	}
}

func TestListNonAdminUsers(t *testing.T) {
	h := newHarness(t)
	root, alice, _ := h.seed(t)
	ctx := context.Background()

	_, err := h.identity.ListNonAdminUsers(ctx, alice)
	expectKind(t, err, apperr.ErrUnauthorized)

	users, err := h.identity.ListNonAdminUsers(ctx, root)
	if err != nil {
		t.Fatalf("ListNonAdminUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %+v", users)
	}
	for _, u := range users {
		if u.Role == models.RoleAdmin {
			t.Fatalf("admin leaked into listing: %+v", u)
		}
	}
}

func TestAssignTask_Resolution(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	base := AssignTaskInput{Title: "New Task", Description: "Description", DueDate: time.Now(), Priority: "High"}

	in := base
	in.AssignedTo, in.CreatedBy = "invaliduser", "root"
	_, err := h.tasks.AssignTask(ctx, in)
	expectKind(t, err, apperr.ErrBadRequest)
	if apperr.Message(err) != "User not found" {
		t.Fatalf("unexpected message %q", apperr.Message(err))
	}

	in = base
	in.AssignedTo, in.CreatedBy = "alice", "bob"
	_, err = h.tasks.AssignTask(ctx, in)
	expectKind(t, err, apperr.ErrBadRequest)
	if apperr.Message(err) != "Admin not found" {
		t.Fatalf("unexpected message %q", apperr.Message(err))
	}

	in = base
	in.AssignedTo, in.CreatedBy = "alice", "root"
	task, err := h.tasks.AssignTask(ctx, in)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if task.Status != models.StatusPending {
		t.Fatalf("expected Pending, got %q", task.Status)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	h := newHarness(t)
	root, alice, bob := h.seed(t)
	ctx := context.Background()
	task := h.assign(t, "A1", "alice")

	_, err := h.tasks.UpdateTaskStatus(ctx, alice, 999, "InProgress")
	expectKind(t, err, apperr.ErrNotFound)

	_, err = h.tasks.UpdateTaskStatus(ctx, alice, task.ID, "Done")
	expectKind(t, err, apperr.ErrBadRequest)

	_, err = h.tasks.UpdateTaskStatus(ctx, bob, task.ID, "InProgress")
	expectKind(t, err, apperr.ErrUnauthorized)

	updated, err := h.tasks.UpdateTaskStatus(ctx, alice, task.ID, "InProgress")
	if err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if updated.Status != models.StatusInProgress {
		t.Fatalf("expected InProgress, got %q", updated.Status)
	}

	if _, err := h.tasks.UpdateTaskStatus(ctx, root, task.ID, "Completed"); err != nil {
		t.Fatalf("admin UpdateTaskStatus: %v", err)
	}
}

func TestReassignTask(t *testing.T) {
	h := newHarness(t)
	root, alice, bob := h.seed(t)
	ctx := context.Background()
	task := h.assign(t, "A1", "alice")

	_, err := h.tasks.ReassignTask(ctx, alice, task.ID, "bob")
	expectKind(t, err, apperr.ErrUnauthorized)

	_, err = h.tasks.ReassignTask(ctx, root, 999, "bob")
	expectKind(t, err, apperr.ErrNotFound)

	_, err = h.tasks.ReassignTask(ctx, root, task.ID, "ghost")
	expectKind(t, err, apperr.ErrBadRequest)

	moved, err := h.tasks.ReassignTask(ctx, root, task.ID, "bob")
	if err != nil {
		t.Fatalf("ReassignTask: %v", err)
	}
	if !moved.IsAssignedTo(bob.ID) || moved.AssignedTo == nil || moved.AssignedTo.Username != "bob" {
		t.Fatalf("expected task moved to bob, got %+v", moved)
	}
}

func TestDeleteTask(t *testing.T) {
	h := newHarness(t)
	root, alice, _ := h.seed(t)
	ctx := context.Background()
	task := h.assign(t, "A1", "alice")

	expectKind(t, h.tasks.DeleteTask(ctx, alice, task.ID), apperr.ErrUnauthorized)
	expectKind(t, h.tasks.DeleteTask(ctx, root, 999), apperr.ErrNotFound)

	if err := h.tasks.DeleteTask(ctx, root, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	_, err := h.tasks.GetTaskDetail(ctx, root, task.ID)
	expectKind(t, err, apperr.ErrNotFound)
}

func TestGetTaskCounts_ScopedByRole(t *testing.T) {
	h := newHarness(t)
	root, alice, _ := h.seed(t)
	ctx := context.Background()
	a1 := h.assign(t, "A1", "alice")
	h.assign(t, "A2", "alice")
	h.assign(t, "B1", "bob")
	if _, err := h.tasks.UpdateTaskStatus(ctx, alice, a1.ID, "Completed"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	asMap := func(counts []models.StatusCount) map[models.TaskStatus]int64 {
		m := map[models.TaskStatus]int64{}
		for _, c := range counts {
			m[c.Status] = c.Count
		}
		return m
	}

	counts, err := h.tasks.GetTaskCounts(ctx, alice)
	if err != nil {
		t.Fatalf("GetTaskCounts alice: %v", err)
	}
	if m := asMap(counts); m[models.StatusCompleted] != 1 || m[models.StatusPending] != 1 {
		t.Fatalf("unexpected alice counts: %+v", counts)
	}

	counts, err = h.tasks.GetTaskCounts(ctx, root)
	if err != nil {
		t.Fatalf("GetTaskCounts root: %v", err)
	}
	if m := asMap(counts); m[models.StatusCompleted] != 1 || m[models.StatusPending] != 2 {
		t.Fatalf("unexpected global counts: %+v", counts)
	}
}

func TestGetTaskDetail_Scoping(t *testing.T) {
	h := newHarness(t)
	root, alice, bob := h.seed(t)
	ctx := context.Background()
	task := h.assign(t, "A1", "alice")

	_, err := h.tasks.GetTaskDetail(ctx, bob, task.ID)
	expectKind(t, err, apperr.ErrNotFound)

	for _, caller := range []models.User{alice, root} {
		got, err := h.tasks.GetTaskDetail(ctx, caller, task.ID)
		if err != nil {
			t.Fatalf("GetTaskDetail as %s: %v", caller.Username, err)
		}
		if got.ID != task.ID {
			t.Fatalf("wrong task: %+v", got)
		}
	}
}

func TestSearchTasks(t *testing.T) {
	h := newHarness(t)
	root, alice, _ := h.seed(t)
	ctx := context.Background()
	a1 := h.assign(t, "Write report", "alice")
	h.assign(t, "write tests", "alice")
	h.assign(t, "Write docs", "bob")
	if _, err := h.tasks.UpdateTaskStatus(ctx, alice, a1.ID, "InProgress"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	tasks, err := h.tasks.SearchTasks(ctx, alice, "", "All")
	if err != nil {
		t.Fatalf("SearchTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks for alice with All, got %d", len(tasks))
	}

	tasks, err = h.tasks.SearchTasks(ctx, alice, "Write", "All")
	if err != nil {
		t.Fatalf("SearchTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != a1.ID {
		t.Fatalf("expected case-sensitive match on a1, got %+v", tasks)
	}

	tasks, err = h.tasks.SearchTasks(ctx, alice, "", "Pending")
	if err != nil {
		t.Fatalf("SearchTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "write tests" {
		t.Fatalf("expected only the pending task, got %+v", tasks)
	}

	tasks, err = h.tasks.SearchTasks(ctx, root, "Write", "")
	if err != nil {
		t.Fatalf("SearchTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected admin to see 2 matches, got %d", len(tasks))
	}

	_, err = h.tasks.SearchTasks(ctx, alice, "", "Archived")
	expectKind(t, err, apperr.ErrBadRequest)
}

func TestEndToEnd_AssignAndProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.identity.RegisterInitialAdmin(ctx, Credentials{Username: "root", Password: "pw1"}); err != nil {
		t.Fatalf("RegisterInitialAdmin: %v", err)
	}
	if err := h.identity.Register(ctx, Credentials{Username: "alice", Password: "pw2"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	task, err := h.tasks.AssignTask(ctx, AssignTaskInput{
		Title: "T1", Description: "first", DueDate: time.Now().Add(24 * time.Hour), Priority: "High",
		AssignedTo: "alice", CreatedBy: "root",
	})
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}

	alice := h.user(t, "alice")
	tasks, err := h.tasks.GetUserTasks(ctx, alice)
	if err != nil {
		t.Fatalf("GetUserTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != models.StatusPending {
		t.Fatalf("expected one Pending task, got %+v", tasks)
	}

	if _, err := h.tasks.UpdateTaskStatus(ctx, alice, task.ID, "InProgress"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	detail, err := h.tasks.GetTaskDetail(ctx, alice, task.ID)
	if err != nil {
		t.Fatalf("GetTaskDetail: %v", err)
	}
	if detail.Status != models.StatusInProgress {
		t.Fatalf("expected InProgress, got %q", detail.Status)
	}
}
