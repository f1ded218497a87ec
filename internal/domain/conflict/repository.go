package conflict

import "context"

// Repository хранит конфликты построчно, чтобы несколько процессов на одном
// хранилище не затирали изменения друг друга.
type Repository interface {
	LoadConflicts(ctx context.Context) ([]SyncConflict, error)
	LoadHistory(ctx context.Context) ([]ResolutionResult, error)
	// InsertConflict добавляет конфликт, если конфликта с таким id еще нет
	InsertConflict(ctx context.Context, c SyncConflict) (bool, error)
	DeleteConflict(ctx context.Context, id string) (bool, error)
	DeleteAllConflicts(ctx context.Context) error
	// ResolveConflict атомарно удаляет конфликт, дописывает результат в
	// историю и оставляет в ней последние historyLimit записей. false,
	// если конфликта уже нет.
	ResolveConflict(ctx context.Context, id string, result ResolutionResult, historyLimit int) (bool, error)
}
