package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"tms/internal/apperr"
	"tms/internal/auth"
	"tms/internal/models"
	"tms/internal/storage"
)

// AssignTaskInput describes a new task. CreatedBy must name an admin.
type AssignTaskInput struct {
	Title       string
	Description string
	DueDate     time.Time
	Priority    string
	AssignedTo  string
	CreatedBy   string
}

// Tasks implements task assignment, status changes and role-scoped queries.
type Tasks struct {
	repo   Repository
	logger *slog.Logger
}

// NewTasks wires the task service.
func NewTasks(repo Repository, logger *slog.Logger) *Tasks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tasks{repo: repo, logger: logger}
}

// AssignTask creates a Pending task from an admin to an existing user.
func (s *Tasks) AssignTask(ctx context.Context, in AssignTaskInput) (models.Task, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" {
		return models.Task{}, apperr.BadRequest("Title and description are required")
	}

	assignee, err := s.repo.GetUserByUsername(ctx, in.AssignedTo)
	if isNotFound(err) {
		return models.Task{}, apperr.BadRequest("User not found")
	}
	if err != nil {
		return models.Task{}, internal("load assignee", err)
	}

	creator, err := s.repo.GetUserByUsername(ctx, in.CreatedBy)
	if err != nil && !isNotFound(err) {
		return models.Task{}, internal("load creator", err)
	}
	if err != nil || !creator.IsAdmin() {
		return models.Task{}, apperr.BadRequest("Admin not found")
	}
	if err := auth.Authorize(creator, auth.ActionCreateTask, auth.Resource{}); err != nil {
		return models.Task{}, err
	}

	task, err := s.repo.CreateTask(ctx, models.Task{
		Title:        in.Title,
		Description:  in.Description,
		DueDate:      in.DueDate,
		Priority:     in.Priority,
		Status:       models.StatusPending,
		CreatedByID:  creator.ID,
		AssignedToID: &assignee.ID,
	})
	if err != nil {
		return models.Task{}, internal("create task", err)
	}
	s.logger.Info("task assigned", slog.Int64("task_id", task.ID), slog.String("assignee", assignee.Username), slog.String("by", creator.Username))
	return task, nil
}

// ReassignTask moves an existing task to another user.
func (s *Tasks) ReassignTask(ctx context.Context, caller models.User, taskID int64, assignedTo string) (models.Task, error) {
	if err := auth.Authorize(caller, auth.ActionReassignTask, auth.Resource{}); err != nil {
		return models.Task{}, err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	assignee, err := s.repo.GetUserByUsername(ctx, assignedTo)
	if isNotFound(err) {
		return models.Task{}, apperr.BadRequest("User not found")
	}
	if err != nil {
		return models.Task{}, internal("load assignee", err)
	}

	if err := s.repo.UpdateTaskAssignee(ctx, task.ID, assignee.ID); err != nil {
		return models.Task{}, s.mutationErr("reassign task", err)
	}
	return s.loadTask(ctx, task.ID)
}

// UpdateTaskStatus moves a task to status. Only the assignee or an admin may do so.
func (s *Tasks) UpdateTaskStatus(ctx context.Context, caller models.User, taskID int64, status string) (models.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	next, err := models.ParseTaskStatus(status)
	if err != nil {
		return models.Task{}, apperr.BadRequest("Invalid status %q", status)
	}
	if err := auth.Authorize(caller, auth.ActionUpdateTaskStatus, auth.Resource{Task: &task}); err != nil {
		return models.Task{}, err
	}

	if err := s.repo.UpdateTaskStatus(ctx, task.ID, next); err != nil {
		return models.Task{}, s.mutationErr("update task status", err)
	}
	task.Status = next
	return task, nil
}

// DeleteTask removes a task. Admin only.
func (s *Tasks) DeleteTask(ctx context.Context, caller models.User, taskID int64) error {
	if err := auth.Authorize(caller, auth.ActionDeleteTask, auth.Resource{}); err != nil {
		return err
	}
	if err := s.repo.DeleteTask(ctx, taskID); err != nil {
		return s.mutationErr("delete task", err)
	}
	return nil
}

// GetTaskCounts groups the tasks visible to caller by status.
func (s *Tasks) GetTaskCounts(ctx context.Context, caller models.User) ([]models.StatusCount, error) {
	counts, err := s.repo.CountTasksByStatus(ctx, auth.TaskScope(caller))
	if err != nil {
		return nil, internal("count tasks", err)
	}
	return counts, nil
}

// GetUserTasks lists the tasks visible to caller.
func (s *Tasks) GetUserTasks(ctx context.Context, caller models.User) ([]models.Task, error) {
	tasks, err := s.repo.ListTasks(ctx, auth.TaskScope(caller))
	if err != nil {
		return nil, internal("list tasks", err)
	}
	return tasks, nil
}

// GetTaskDetail returns one task if caller may see it.
func (s *Tasks) GetTaskDetail(ctx context.Context, caller models.User, taskID int64) (models.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if err := auth.Authorize(caller, auth.ActionViewTask, auth.Resource{Task: &task}); err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// SearchTasks narrows the caller's visible tasks by a case-sensitive title
// substring and an exact status. Empty term or status "All" disables that filter.
func (s *Tasks) SearchTasks(ctx context.Context, caller models.User, term, status string) ([]models.Task, error) {
	filter := auth.TaskScope(caller)
	filter.TitleContains = term
	if status != "" && status != models.StatusFilterAll {
		st, err := models.ParseTaskStatus(status)
		if err != nil {
			return nil, apperr.BadRequest("Invalid status %q", status)
		}
		filter.Status = &st
	}

	tasks, err := s.repo.ListTasks(ctx, filter)
	if err != nil {
		return nil, internal("search tasks", err)
	}
	return tasks, nil
}

func (s *Tasks) loadTask(ctx context.Context, id int64) (models.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if isNotFound(err) {
		return models.Task{}, apperr.NotFound("Task not found")
	}
	if err != nil {
		return models.Task{}, internal("load task", err)
	}
	return task, nil
}

func (s *Tasks) mutationErr(op string, err error) error {
	switch {
	case isNotFound(err):
		return apperr.NotFound("Task not found")
	case errors.Is(err, storage.ErrConstraint):
		return apperr.BadRequest("User not found")
	default:
		return internal(op, err)
	}
}
