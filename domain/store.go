package domain

import "context"

// Store is the document store used by the services. Every call is scoped to
// a single user's documents.
type Store interface {
	// GetUser returns ErrNotFound when no profile exists.
	GetUser(ctx context.Context, userID string) (User, error)
	ListTaskLists(ctx context.Context, userID string) ([]TaskList, error)
	GetTaskList(ctx context.Context, userID, listID string) (TaskList, error)
	// ListTasks returns the tasks of a list with Order >= minOrder, sorted by
	// Order ascending.
	ListTasks(ctx context.Context, userID, listID string, minOrder int) ([]Task, error)
	GetTask(ctx context.Context, userID, listID, taskID string) (Task, error)
	// Commit applies the batch atomically. A stale ETag or an existing
	// document for a create yields ErrConcurrencyConflict.
	Commit(ctx context.Context, userID string, b *Batch) error
}

// BoardSnapshot is implemented by stores that can serve board reads from a
// cache. Only Board reads through it; mutations always read the Store.
type BoardSnapshot interface {
	SnapshotTaskLists(ctx context.Context, userID string) ([]TaskList, error)
	SnapshotTasks(ctx context.Context, userID, listID string) ([]Task, error)
}

// TokenVerifier validates identity provider tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (Principal, error)
}

// IdentityAdmin manages identity provider users.
type IdentityAdmin interface {
	CreateUser(ctx context.Context, in NewIdentity) (IdentityRecord, error)
	DeleteUser(ctx context.Context, uid string) error
}

// Publisher receives activity events after successful commits. Publishing
// never fails the calling operation.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) {}
