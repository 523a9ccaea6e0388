package models

import (
	"fmt"
	"time"
)

// Role is the access level of an account.
type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// ParseRole converts a stored or submitted value into a Role.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleUser, RoleAdmin:
		return Role(raw), nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "Pending"
	StatusInProgress TaskStatus = "InProgress"
	StatusCompleted  TaskStatus = "Completed"
)

// StatusFilterAll disables status filtering in searches.
const StatusFilterAll = "All"

// TaskStatuses lists the statuses in board order.
var TaskStatuses = []TaskStatus{StatusPending, StatusInProgress, StatusCompleted}

// ParseTaskStatus converts a submitted value into a TaskStatus.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	switch TaskStatus(raw) {
	case StatusPending, StatusInProgress, StatusCompleted:
		return TaskStatus(raw), nil
	default:
		return "", fmt.Errorf("invalid status %q", raw)
	}
}

// User is an account. PasswordHash never leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsAdmin reports whether the user holds the Admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserRef is the projection used for listings and expanded task relations.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Ref returns the public projection of the user.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username, Role: u.Role}
}

// Task is a unit of work created by an admin and assigned to a user.
type Task struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	DueDate      time.Time  `json:"dueDate"`
	Priority     string     `json:"priority"`
	Status       TaskStatus `json:"status"`
	CreatedByID  int64      `json:"createdById"`
	AssignedToID *int64     `json:"assignedToId"`
	CreatedBy    *UserRef   `json:"createdBy,omitempty"`
	AssignedTo   *UserRef   `json:"assignedTo,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsAssignedTo reports whether userID is the task's assignee.
func (t Task) IsAssignedTo(userID int64) bool {
	return t.AssignedToID != nil && *t.AssignedToID == userID
}

// TaskSummary carries the fields safe to embed in a profile.
type TaskSummary struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     time.Time  `json:"dueDate"`
	Priority    string     `json:"priority"`
	Status      TaskStatus `json:"status"`
}

// Summary strips relations and bookkeeping from the task.
func (t Task) Summary() TaskSummary {
	return TaskSummary{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		Priority:    t.Priority,
		Status:      t.Status,
	}
}

// UserProfile is a user together with the tasks they are involved in.
type UserProfile struct {
	ID            int64         `json:"id"`
	Username      string        `json:"username"`
	Role          Role          `json:"role"`
	AssignedTasks []TaskSummary `json:"assignedTasks"`
	CreatedTasks  []TaskSummary `json:"createdTasks"`
}

// StatusCount is one bucket of a tasks-per-status aggregation.
type StatusCount struct {
	Status TaskStatus `json:"status"`
	Count  int64      `json:"count"`
}

// TaskFilter narrows task queries. Zero values mean "no constraint".
type TaskFilter struct {
	AssignedToID  *int64
	CreatedByID   *int64
	TitleContains string
	Status        *TaskStatus
}
