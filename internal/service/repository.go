// Package service implements the identity and task rules on top of a Repository.
package service

import (
	"context"
	"errors"
	"time"

	"tms/internal/apperr"
	"tms/internal/models"
	"tms/internal/storage"
)

// Repository is the persistence gateway shared by both services. Lookups
// return storage.ErrNotFound, uniqueness violations storage.ErrDuplicate and
// referential violations storage.ErrConstraint.
type Repository interface {
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUserByID(ctx context.Context, id int64) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	AdminExists(ctx context.Context) (bool, error)
	ListNonAdminUsers(ctx context.Context) ([]models.User, error)
	DeleteUser(ctx context.Context, id int64, withCreated bool) error

	CreateTask(ctx context.Context, t models.Task) (models.Task, error)
	GetTask(ctx context.Context, id int64) (models.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status models.TaskStatus) error
	UpdateTaskAssignee(ctx context.Context, id, assigneeID int64) error
	DeleteTask(ctx context.Context, id int64) error
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	CountTasksByStatus(ctx context.Context, filter models.TaskFilter) ([]models.StatusCount, error)

	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// internal hides a storage failure from the caller.
func internal(op string, err error) error {
	return apperr.Internal("failed to "+op, err)
}
