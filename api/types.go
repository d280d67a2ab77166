package api

import (
	"context"

	"taskboard-api/domain"
)

// Tasks is the task board surface used by the task handlers.
type Tasks interface {
	Board(ctx context.Context, userID string) ([]domain.BoardColumn, error)
	AddTask(ctx context.Context, userID string, in domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, userID string, in domain.TaskChanges) (domain.Task, error)
	ReorderTask(ctx context.Context, userID string, in domain.Reorder) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, listID, taskID string) error
}

// Accounts is the sign-up and login surface used by the auth handlers.
type Accounts interface {
	Register(ctx context.Context, r domain.Registration) (domain.User, error)
	Login(ctx context.Context, token string) (domain.Principal, error)
	FederatedLogin(ctx context.Context, token string) (domain.User, bool, error)
}

// Deduper prevents processing of duplicate add-task requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the add fails.
	Remove(ctx context.Context, userID, key string) error
}
