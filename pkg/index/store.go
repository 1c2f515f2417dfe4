package index

import "context"

// Store is the persistence contract §4.F describes. sqliteStore is the
// only implementation this module ships, but callers depend on the
// interface so the embedded engine can be swapped without touching them.
type Store interface {
	UpsertProject(ctx context.Context, p Project) error
	UpsertSession(ctx context.Context, s Session) error
	UpsertLogFile(ctx context.Context, f LogFile) error
	ListSessions(ctx context.Context, projectHash *ProjectHash, limit int) ([]Session, error)
	FindSessionByPrefix(ctx context.Context, prefix string) (Session, error)
	GetSessionFiles(ctx context.Context, sessionID string) ([]LogFile, error)
	SoftDeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
