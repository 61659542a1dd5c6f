package history

import "context"

// Backend is the persistence surface the store writes through. Implementations
// signal a missing resource with backenderr.ErrNotFound; the store treats that
// as "already consistent" on deletes and as "deleted elsewhere" on reads.
type Backend interface {
	// CreateSession persists a new session and returns the server-confirmed
	// copy (the backend may rewrite the id or timestamps).
	CreateSession(ctx context.Context, s *ChatSession) (*ChatSession, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteAllSessions(ctx context.Context) error
	// UpdateSession persists session-level properties (title, model, settings).
	UpdateSession(ctx context.Context, s *ChatSession) error
	// GetSession returns the fully hydrated session including messages.
	GetSession(ctx context.Context, id string) (*ChatSession, error)
	// ListSessions returns summaries: Messages is nil on every result.
	ListSessions(ctx context.Context) ([]*ChatSession, error)
	// SaveMessages replaces the stored message list for a session.
	SaveMessages(ctx context.Context, id string, msgs []*Message) error
}
