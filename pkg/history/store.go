package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/backenderr"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStoreBackendNil = errors.New("store backend is nil")
)

const DefaultDebounceInterval = time.Second

// Store owns the canonical in-memory session list. Every mutation follows the
// same shape: take a deep pre-mutation snapshot, apply the change locally,
// await the backend, and restore the snapshot if the backend rejects it. The
// in-memory list is therefore always ahead of the backend by at most one
// in-flight write.
type Store struct {
	mu         sync.Mutex
	backend    Backend
	sessions   []*ChatSession
	selectedID string
	debounce   *debouncer
}

type StoreOption func(*Store)

// WithDebounceInterval overrides the trailing interval used for branch-switch
// persistence. Tests use a short interval.
func WithDebounceInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		s.debounce = newDebouncer(d)
	}
}

func NewStore(backend Backend, options ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, ErrStoreBackendNil
	}
	ret := &Store{
		backend:  backend,
		debounce: newDebouncer(DefaultDebounceInterval),
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

// LoadSessions replaces the in-memory list with the backend's summary list.
// Sessions arrive unhydrated (Messages == nil) and hydrate on selection.
func (s *Store) LoadSessions(ctx context.Context) error {
	sessions, err := s.backend.ListSessions(ctx)
	if err != nil {
		return errors.Wrap(err, "list sessions")
	}
	s.mu.Lock()
	s.sessions = sessions
	s.mu.Unlock()
	return nil
}

// StartNewChat inserts a session optimistically, then creates it on the
// backend. On failure the insertion is rolled back, selection is cleared if it
// pointed at the new session, and nil is returned: callers must treat nil as
// "abort the pending action".
func (s *Store) StartNewChat(ctx context.Context, model string, settings GenerationSettings, optimisticID string) (*ChatSession, error) {
	if optimisticID == "" {
		optimisticID = uuid.NewString()
	}
	sess := &ChatSession{
		ID:        optimisticID,
		Title:     "New Chat",
		Model:     model,
		Settings:  settings,
		CreatedAt: time.Now(),
		Messages:  []*Message{},
	}

	s.mu.Lock()
	s.sessions = append([]*ChatSession{sess}, s.sessions...)
	s.selectedID = sess.ID
	s.mu.Unlock()

	confirmed, err := s.backend.CreateSession(ctx, sess)
	if err != nil {
		if backenderr.IsVersionMismatch(err) {
			return nil, err
		}
		log.Warn().Err(err).Str("session_id", optimisticID).Msg("session create failed, rolling back")
		s.mu.Lock()
		s.removeLocked(optimisticID)
		if s.selectedID == optimisticID {
			s.selectedID = ""
		}
		s.mu.Unlock()
		return nil, errors.Wrap(err, "create session")
	}

	s.mu.Lock()
	for i, existing := range s.sessions {
		if existing.ID == optimisticID {
			s.sessions[i] = confirmed
			break
		}
	}
	if s.selectedID == optimisticID {
		s.selectedID = confirmed.ID
	}
	s.mu.Unlock()
	return confirmed, nil
}

// DeleteChat removes a session optimistically. A backend 404 means the session
// is already gone and counts as success; any other failure restores the
// pre-mutation list and selection.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	snapshot := clone.Clone(s.sessions).([]*ChatSession)
	prevSelected := s.selectedID
	if !s.removeLocked(id) {
		s.mu.Unlock()
		return errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	if s.selectedID == id {
		s.selectedID = ""
	}
	s.mu.Unlock()
	s.debounce.Cancel(id)

	err := s.backend.DeleteSession(ctx, id)
	if err != nil && !backenderr.IsNotFound(err) {
		if backenderr.IsVersionMismatch(err) {
			return err
		}
		s.mu.Lock()
		s.sessions = snapshot
		s.selectedID = prevSelected
		s.mu.Unlock()
		return errors.Wrap(err, "delete session")
	}
	return nil
}

// ClearAllChats removes every session, with the same rollback contract as
// DeleteChat.
func (s *Store) ClearAllChats(ctx context.Context) error {
	s.mu.Lock()
	snapshot := s.sessions
	prevSelected := s.selectedID
	s.sessions = nil
	s.selectedID = ""
	s.mu.Unlock()

	err := s.backend.DeleteAllSessions(ctx)
	if err != nil && !backenderr.IsNotFound(err) {
		if backenderr.IsVersionMismatch(err) {
			return err
		}
		s.mu.Lock()
		s.sessions = snapshot
		s.selectedID = prevSelected
		s.mu.Unlock()
		return errors.Wrap(err, "clear sessions")
	}
	return nil
}

// SessionPatch holds the session-level properties UpdateChatProperty can
// change. Nil fields are left untouched.
type SessionPatch struct {
	Title    *string
	Model    *string
	Settings *GenerationSettings
}

// UpdateChatProperty applies a patch optimistically and persists it. On
// failure the exact pre-mutation session object is restored, not a merge, so
// a partial rollback can never leave mixed state behind.
func (s *Store) UpdateChatProperty(ctx context.Context, id string, patch SessionPatch) error {
	s.mu.Lock()
	_, sess := s.findLocked(id)
	if sess == nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	snapshot := clone.Clone(sess).(*ChatSession)
	if patch.Title != nil {
		sess.Title = *patch.Title
	}
	if patch.Model != nil {
		sess.Model = *patch.Model
	}
	if patch.Settings != nil {
		sess.Settings = *patch.Settings
	}
	s.mu.Unlock()

	if err := s.backend.UpdateSession(ctx, sess); err != nil {
		if backenderr.IsVersionMismatch(err) {
			return err
		}
		s.mu.Lock()
		if i, cur := s.findLocked(id); cur != nil {
			s.sessions[i] = snapshot
		}
		s.mu.Unlock()
		return errors.Wrap(err, "update session")
	}
	return nil
}

// AddMessagesToChat appends messages to the live list and persists the whole
// list atomically, rolling back the append on failure.
func (s *Store) AddMessagesToChat(ctx context.Context, id string, msgs ...*Message) error {
	s.mu.Lock()
	_, sess := s.findLocked(id)
	if sess == nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	snapshot := sess.Messages
	next := make([]*Message, 0, len(sess.Messages)+len(msgs))
	next = append(next, sess.Messages...)
	next = append(next, msgs...)
	sess.Messages = next
	s.mu.Unlock()

	if err := s.backend.SaveMessages(ctx, id, next); err != nil {
		if backenderr.IsVersionMismatch(err) {
			return err
		}
		s.mu.Lock()
		if _, cur := s.findLocked(id); cur != nil {
			cur.Messages = snapshot
		}
		s.mu.Unlock()
		return errors.Wrap(err, "save messages")
	}
	return nil
}

// ReplaceMessages swaps the live list wholesale and persists it, rolling back
// on failure. Used by branch forks, where truncation and persistence must be
// atomic.
func (s *Store) ReplaceMessages(ctx context.Context, id string, msgs []*Message) error {
	s.mu.Lock()
	_, sess := s.findLocked(id)
	if sess == nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	snapshot := sess.Messages
	sess.Messages = msgs
	s.mu.Unlock()

	if err := s.backend.SaveMessages(ctx, id, msgs); err != nil {
		if backenderr.IsVersionMismatch(err) {
			return err
		}
		s.mu.Lock()
		if _, cur := s.findLocked(id); cur != nil {
			cur.Messages = snapshot
		}
		s.mu.Unlock()
		return errors.Wrap(err, "save messages")
	}
	return nil
}

// UpdateMessage applies fn to the message with messageID. Local-only: callers
// on the streaming hot path persist separately (typically once, at stream
// end).
func (s *Store) UpdateMessage(id, messageID string, fn func(*Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, sess := s.findLocked(id)
	if sess == nil {
		return errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	for _, m := range sess.Messages {
		if m.ID == messageID {
			fn(m)
			return nil
		}
	}
	return errors.Wrapf(ErrMessageNotFound, "id %s", messageID)
}

// UpdateActiveResponse applies fn to the currently active response of the
// model message messageID, resolved by index at application time. Meant for
// caller-driven mutations (plan approval, UI edits) that target whatever the
// user is looking at; stream writers use UpdateResponseAt instead. Returns
// false without error if the message has no active response.
func (s *Store) UpdateActiveResponse(id, messageID string, fn func(*ModelResponse)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, sess := s.findLocked(id)
	if sess == nil {
		return false, errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	for _, m := range sess.Messages {
		if m.ID != messageID {
			continue
		}
		resp := m.ActiveResponse()
		if resp == nil {
			return false, nil
		}
		fn(resp)
		return true, nil
	}
	return false, errors.Wrapf(ErrMessageNotFound, "id %s", messageID)
}

// UpdateResponseAt applies fn to response index of the model message
// messageID, but only while that index is still the active one. Stream
// writers pin the index their generation targets when the stream starts, so
// after a mid-stream branch switch their in-flight patches become silent
// no-ops instead of landing on the newly active response. Returns false
// without error when the write was skipped.
func (s *Store) UpdateResponseAt(id, messageID string, index int, fn func(*ModelResponse)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, sess := s.findLocked(id)
	if sess == nil {
		return false, errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	for _, m := range sess.Messages {
		if m.ID != messageID {
			continue
		}
		if m.ActiveResponseIndex != index {
			return false, nil
		}
		resp := m.ActiveResponse()
		if resp == nil {
			return false, nil
		}
		fn(resp)
		return true, nil
	}
	return false, errors.Wrapf(ErrMessageNotFound, "id %s", messageID)
}

// SwitchVersion activates a different version of a user message and schedules
// a debounced persist so rapid navigation does not flood the backend.
func (s *Store) SwitchVersion(id, messageID string, newIndex int) error {
	return s.switchBranch(id, func(msgs []*Message) ([]*Message, error) {
		return SwitchVersion(msgs, messageID, newIndex)
	})
}

// SwitchResponse activates a different response of a model message, with the
// same debounced persistence.
func (s *Store) SwitchResponse(id, messageID string, newIndex int) error {
	return s.switchBranch(id, func(msgs []*Message) ([]*Message, error) {
		return SwitchResponse(msgs, messageID, newIndex)
	})
}

func (s *Store) switchBranch(id string, mutate func([]*Message) ([]*Message, error)) error {
	s.mu.Lock()
	_, sess := s.findLocked(id)
	if sess == nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	next, err := mutate(sess.Messages)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	sess.Messages = next
	s.mu.Unlock()

	s.debounce.Schedule(id, func() {
		s.mu.Lock()
		_, cur := s.findLocked(id)
		if cur == nil {
			s.mu.Unlock()
			return
		}
		msgs := cur.Messages
		s.mu.Unlock()
		if err := s.backend.SaveMessages(context.Background(), id, msgs); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("debounced branch persist failed")
		}
	})
	return nil
}

// Select makes a session current, hydrating it from the backend if only its
// summary is loaded. A 404 during hydration means the session was deleted
// elsewhere: the local copy is removed and the selection cleared.
func (s *Store) Select(ctx context.Context, id string) (*ChatSession, error) {
	s.mu.Lock()
	_, sess := s.findLocked(id)
	if sess == nil {
		s.mu.Unlock()
		return nil, errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	s.selectedID = id
	if sess.Messages != nil {
		s.mu.Unlock()
		return sess, nil
	}
	sess.IsLoading = true
	s.mu.Unlock()

	full, err := s.backend.GetSession(ctx, id)
	if err != nil {
		s.mu.Lock()
		if backenderr.IsNotFound(err) {
			s.removeLocked(id)
			if s.selectedID == id {
				s.selectedID = ""
			}
			s.mu.Unlock()
			return nil, errors.Wrap(err, "session deleted elsewhere")
		}
		if _, cur := s.findLocked(id); cur != nil {
			cur.IsLoading = false
		}
		s.mu.Unlock()
		return nil, errors.Wrap(err, "hydrate session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, cur := s.findLocked(id)
	if cur == nil {
		// deleted while hydrating
		return nil, errors.Wrapf(ErrSessionNotFound, "id %s", id)
	}
	full.IsLoading = false
	if full.Messages == nil {
		full.Messages = []*Message{}
	}
	s.sessions[idx] = full
	return full, nil
}

// Flush drains all pending debounced writes. Called on shutdown and before
// export.
func (s *Store) Flush() {
	s.debounce.Flush()
}

// Sessions returns a copy of the session list in display order.
func (s *Store) Sessions() []*ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ChatSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Get returns the session with the given id, or nil.
func (s *Store) Get(id string) *ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, sess := s.findLocked(id)
	return sess
}

// SelectedID returns the id of the current session, or "".
func (s *Store) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// Messages returns the live message list of a session. The slice is shared;
// treat it as read-only.
func (s *Store) Messages(id string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, sess := s.findLocked(id)
	if sess == nil {
		return nil
	}
	return sess.Messages
}

func (s *Store) findLocked(id string) (int, *ChatSession) {
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i, sess
		}
	}
	return -1, nil
}

func (s *Store) removeLocked(id string) bool {
	for i, sess := range s.sessions {
		if sess.ID == id {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return true
		}
	}
	return false
}
