package auth

import (
	"tms/internal/apperr"
	"tms/internal/models"
)

// Action identifies a guarded operation.
type Action int

const (
	ActionViewProfile Action = iota
	ActionListUsers
	ActionDeleteUser
	ActionDeleteOwnAccount
	ActionCreateTask
	ActionReassignTask
	ActionUpdateTaskStatus
	ActionDeleteTask
	ActionViewTask
)

func (a Action) String() string {
	switch a {
	case ActionViewProfile:
		return "view-profile"
	case ActionListUsers:
		return "list-users"
	case ActionDeleteUser:
		return "delete-user"
	case ActionDeleteOwnAccount:
		return "delete-own-account"
	case ActionCreateTask:
		return "create-task"
	case ActionReassignTask:
		return "reassign-task"
	case ActionUpdateTaskStatus:
		return "update-task-status"
	case ActionDeleteTask:
		return "delete-task"
	case ActionViewTask:
		return "view-task"
	default:
		return "unknown"
	}
}

// Resource is the object an action applies to. Either field may be nil
// when the action has no target or the target is not loaded yet.
type Resource struct {
	User *models.User
	Task *models.Task
}

// Authorize decides whether caller may perform action on res.
// A nil error means allowed; otherwise the error carries the kind to report.
func Authorize(caller models.User, action Action, res Resource) error {
	switch caller.Role {
	case models.RoleAdmin:
		return authorizeAdmin(caller, action, res)
	case models.RoleUser:
		return authorizeUser(caller, action, res)
	default:
		return apperr.Unauthorized("Unknown role")
	}
}

func authorizeAdmin(caller models.User, action Action, res Resource) error {
	switch action {
	case ActionDeleteUser:
		if res.User != nil && res.User.IsAdmin() {
			return apperr.Unauthorized("Admins cannot delete other admins")
		}
		return nil
	case ActionDeleteOwnAccount:
		return requireSelf(caller, res)
	case ActionViewProfile, ActionListUsers, ActionCreateTask, ActionReassignTask,
		ActionUpdateTaskStatus, ActionDeleteTask, ActionViewTask:
		return nil
	default:
		return apperr.Unauthorized("Unknown action")
	}
}

func authorizeUser(caller models.User, action Action, res Resource) error {
	switch action {
	case ActionViewProfile, ActionDeleteOwnAccount:
		return requireSelf(caller, res)
	case ActionUpdateTaskStatus:
		if res.Task != nil && !res.Task.IsAssignedTo(caller.ID) {
			return apperr.Unauthorized("Only the assignee can update this task")
		}
		return nil
	case ActionViewTask:
		if res.Task != nil && !res.Task.IsAssignedTo(caller.ID) {
			return apperr.NotFound("Task not found")
		}
		return nil
	case ActionListUsers, ActionDeleteUser, ActionCreateTask, ActionReassignTask, ActionDeleteTask:
		return apperr.Unauthorized("Admin privileges required")
	default:
		return apperr.Unauthorized("Unknown action")
	}
}

func requireSelf(caller models.User, res Resource) error {
	if res.User != nil && res.User.ID != caller.ID {
		return apperr.Unauthorized("Not allowed to act on another account")
	}
	return nil
}

// TaskScope returns the filter restricting task queries to what caller may see.
func TaskScope(caller models.User) models.TaskFilter {
	switch caller.Role {
	case models.RoleAdmin:
		return models.TaskFilter{}
	default:
		id := caller.ID
		return models.TaskFilter{AssignedToID: &id}
	}
}
