package history

import (
	"context"
	"sync"

	"github.com/huandu/go-clone"

	"github.com/go-go-golems/marionette/pkg/backenderr"
)

// MemoryBackend is a Backend living entirely in memory. It backs transcript
// replay and tests; stored values are deep-cloned on the way in and out so a
// caller can never alias backend state.
type MemoryBackend struct {
	mu       sync.Mutex
	sessions map[string]*ChatSession
	order    []string
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: make(map[string]*ChatSession),
	}
}

func (b *MemoryBackend) CreateSession(ctx context.Context, s *ChatSession) (*ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := clone.Clone(s).(*ChatSession)
	b.sessions[s.ID] = stored
	b.order = append(b.order, s.ID)
	return clone.Clone(stored).(*ChatSession), nil
}

func (b *MemoryBackend) DeleteSession(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		return backenderr.ErrNotFound
	}
	delete(b.sessions, id)
	for i, sid := range b.order {
		if sid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

func (b *MemoryBackend) DeleteAllSessions(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]*ChatSession)
	b.order = nil
	return nil
}

func (b *MemoryBackend) UpdateSession(ctx context.Context, s *ChatSession) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.sessions[s.ID]
	if !ok {
		return backenderr.ErrNotFound
	}
	updated := clone.Clone(s).(*ChatSession)
	updated.Messages = stored.Messages
	b.sessions[s.ID] = updated
	return nil
}

func (b *MemoryBackend) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.sessions[id]
	if !ok {
		return nil, backenderr.ErrNotFound
	}
	out := clone.Clone(stored).(*ChatSession)
	if out.Messages == nil {
		out.Messages = []*Message{}
	}
	return out, nil
}

func (b *MemoryBackend) ListSessions(ctx context.Context) ([]*ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ChatSession, 0, len(b.order))
	for _, id := range b.order {
		summary := clone.Clone(b.sessions[id]).(*ChatSession)
		summary.Messages = nil
		out = append(out, summary)
	}
	return out, nil
}

func (b *MemoryBackend) SaveMessages(ctx context.Context, id string, msgs []*Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.sessions[id]
	if !ok {
		return backenderr.ErrNotFound
	}
	stored.Messages = clone.Clone(msgs).([]*Message)
	return nil
}
