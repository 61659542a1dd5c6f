package orchestrator

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/backenderr"
	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/go-go-golems/marionette/pkg/history"
	"github.com/go-go-golems/marionette/pkg/toolbridge"
	"github.com/go-go-golems/marionette/pkg/workflow"
)

var (
	ErrGenerationActive = errors.New("session already has an active generation")
	ErrNoGeneration     = errors.New("session has no active generation")
	ErrNoSession        = errors.New("no session selected")
)

// DefaultThinkingClearDelay is the safety-net delay after which a completed
// generation force-clears the thinking flag in case the primary completion
// path missed it.
const DefaultThinkingClearDelay = 500 * time.Millisecond

// Orchestrator is the top-level session driver: it turns user actions into
// stream requests, routes incoming events into the history store, recomputes
// the workflow view on every displayable change, and runs post-stream side
// effects.
type Orchestrator struct {
	store   *history.Store
	stream  StreamService
	bridge  *toolbridge.Bridge
	effects SideEffectService

	// optional fan-out of decoded events to in-process subscribers
	publisher *events.PublisherManager

	thinkingClearDelay time.Duration

	mu     sync.Mutex
	active map[string]*Generation
	titled map[string]struct{}
	bgSeq  map[string]uint64
}

type Option func(*Orchestrator)

func WithPublisher(pm *events.PublisherManager) Option {
	return func(o *Orchestrator) {
		o.publisher = pm
	}
}

func WithThinkingClearDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.thinkingClearDelay = d
	}
}

func New(store *history.Store, stream StreamService, bridge *toolbridge.Bridge, effects SideEffectService, options ...Option) *Orchestrator {
	ret := &Orchestrator{
		store:              store,
		stream:             stream,
		bridge:             bridge,
		effects:            effects,
		thinkingClearDelay: DefaultThinkingClearDelay,
		active:             make(map[string]*Generation),
		titled:             make(map[string]struct{}),
		bgSeq:              make(map[string]uint64),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// SendMessage appends a user message plus a model placeholder and opens a
// stream for it. With an empty sessionID a new session is created first; the
// backend creation is awaited before the stream request is issued so the
// stream cannot arrive before the session exists server-side. Returns the
// generation handle and the session id.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, text string, files []File) (*Generation, string, error) {
	var sess *history.ChatSession
	if sessionID == "" {
		created, err := o.store.StartNewChat(ctx, "", history.GenerationSettings{}, "")
		if err != nil {
			return nil, "", errors.Wrap(err, "create session")
		}
		sess = created
		sessionID = created.ID
	} else {
		sess = o.store.Get(sessionID)
		if sess == nil {
			return nil, "", errors.Wrapf(history.ErrSessionNotFound, "id %s", sessionID)
		}
	}

	o.mu.Lock()
	if g, ok := o.active[sessionID]; ok && g.IsRunning() {
		o.mu.Unlock()
		return nil, sessionID, ErrGenerationActive
	}
	o.mu.Unlock()

	attachments := encodeFiles(files)
	userMsg := history.NewUserMessage(text, attachments)
	modelMsg := history.NewModelPlaceholder()
	if err := o.store.AddMessagesToChat(ctx, sessionID, userMsg, modelMsg); err != nil {
		return nil, sessionID, err
	}

	req := Request{
		ChatID:    sessionID,
		MessageID: modelMsg.ID,
		Model:     sess.Model,
		Task:      TaskChat,
		NewMessage: &NewMessage{
			Text:        text,
			Attachments: attachments,
		},
		Settings: sess.Settings,
	}
	gen, err := o.startGeneration(sessionID, modelMsg.ID, req)
	return gen, sessionID, err
}

// EditMessage cancels any active stream, forks a new version of the user
// message (the discarded continuation is snapshotted into the version being
// left), persists the truncated list atomically, and starts a regenerate
// stream rooted at the edited message.
func (o *Orchestrator) EditMessage(ctx context.Context, sessionID, messageID, newText string) (*Generation, error) {
	o.forceCancel(sessionID)

	sess := o.store.Get(sessionID)
	if sess == nil {
		return nil, errors.Wrapf(history.ErrSessionNotFound, "id %s", sessionID)
	}

	msgs, err := history.ForkVersion(o.store.Messages(sessionID), messageID, newText, nil)
	if err != nil {
		return nil, err
	}
	modelMsg := history.NewModelPlaceholder()
	msgs = append(msgs, modelMsg)
	if err := o.store.ReplaceMessages(ctx, sessionID, msgs); err != nil {
		return nil, err
	}

	req := Request{
		ChatID:    sessionID,
		MessageID: modelMsg.ID,
		Model:     sess.Model,
		Task:      TaskRegenerate,
		Settings:  sess.Settings,
	}
	return o.startGeneration(sessionID, modelMsg.ID, req)
}

// RegenerateResponse forks a fresh response branch on a model message and
// re-runs the generation rooted there.
func (o *Orchestrator) RegenerateResponse(ctx context.Context, sessionID, messageID string) (*Generation, error) {
	o.forceCancel(sessionID)

	sess := o.store.Get(sessionID)
	if sess == nil {
		return nil, errors.Wrapf(history.ErrSessionNotFound, "id %s", sessionID)
	}

	msgs, err := history.ForkResponse(o.store.Messages(sessionID), messageID)
	if err != nil {
		return nil, err
	}
	if err := o.store.ReplaceMessages(ctx, sessionID, msgs); err != nil {
		return nil, err
	}

	req := Request{
		ChatID:    sessionID,
		MessageID: messageID,
		Model:     sess.Model,
		Task:      TaskRegenerate,
		Settings:  sess.Settings,
	}
	return o.startGeneration(sessionID, messageID, req)
}

// NavigateVersion switches a user message to another version. Restore-only:
// no stream is started.
func (o *Orchestrator) NavigateVersion(sessionID, messageID string, index int) error {
	return o.store.SwitchVersion(sessionID, messageID, index)
}

// NavigateResponse switches a model message to another response.
func (o *Orchestrator) NavigateResponse(sessionID, messageID string, index int) error {
	return o.store.SwitchResponse(sessionID, messageID, index)
}

// CancelGeneration aborts the active stream immediately for UI responsiveness,
// fires a best-effort cancel notice to the backend keyed by the server-issued
// request id, and synchronously marks the active response stopped-by-user.
// Partial text and tool events are preserved.
func (o *Orchestrator) CancelGeneration(sessionID string) error {
	o.mu.Lock()
	gen, ok := o.active[sessionID]
	o.mu.Unlock()
	if !ok || !gen.IsRunning() {
		return ErrNoGeneration
	}

	gen.Abort()

	if requestID := gen.RequestID(); requestID != "" {
		go func() {
			if err := o.stream.CancelStream(context.Background(), requestID); err != nil {
				log.Debug().Err(err).Str("request_id", requestID).Msg("backend cancel notice failed")
			}
		}()
	}

	o.markStopped(gen)
	return nil
}

// ApprovePlan releases a pending-approval response for execution by invoking
// the built-in approval pseudo-tool.
func (o *Orchestrator) ApprovePlan(ctx context.Context, sessionID, messageID, callID string) error {
	_, err := o.store.UpdateActiveResponse(sessionID, messageID, func(r *history.ModelResponse) {
		r.ExecutionState = history.ExecutionStateRunning
	})
	if err != nil {
		return err
	}
	o.bridge.ExecuteFrontendTool(ctx, callID, toolbridge.ToolApproveExecution, map[string]any{"approved": true})
	return nil
}

// DenyPlan rejects a pending-approval plan.
func (o *Orchestrator) DenyPlan(ctx context.Context, sessionID, messageID, callID string) error {
	_, err := o.store.UpdateActiveResponse(sessionID, messageID, func(r *history.ModelResponse) {
		r.ExecutionState = history.ExecutionStateNone
	})
	if err != nil {
		return err
	}
	o.bridge.ExecuteFrontendTool(ctx, callID, toolbridge.ToolDenyExecution, map[string]any{"approved": false})
	return nil
}

// Generation returns the active generation for a session, or nil.
func (o *Orchestrator) Generation(sessionID string) *Generation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[sessionID]
}

// forceCancel aborts any running stream for the session without treating the
// absence of one as an error. Edit and regenerate call this before forking.
func (o *Orchestrator) forceCancel(sessionID string) {
	if err := o.CancelGeneration(sessionID); err != nil && !errors.Is(err, ErrNoGeneration) {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("force cancel failed")
	}
}

// markStopped attaches the stopped-by-user sentinel to the generation's
// pinned response and reparses its workflow so node statuses settle.
func (o *Orchestrator) markStopped(gen *Generation) {
	_, err := o.store.UpdateResponseAt(gen.SessionID, gen.MessageID, gen.ResponseIndex, func(r *history.ModelResponse) {
		now := time.Now()
		r.Err = &history.ResponseError{
			Code:    "STOPPED_BY_USER",
			Message: backenderr.ErrStoppedByUser.Error(),
		}
		r.EndTime = &now
		r.Workflow = workflow.Parse(r.Text, r.ToolCallEvents, false, r.Err)
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", gen.SessionID).Msg("failed to mark response stopped")
	}
	if err := o.store.UpdateMessage(gen.SessionID, gen.MessageID, func(m *history.Message) {
		m.IsThinking = false
	}); err != nil {
		log.Warn().Err(err).Str("session_id", gen.SessionID).Msg("failed to clear thinking flag")
	}
}

func encodeFiles(files []File) []history.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]history.Attachment, 0, len(files))
	for _, f := range files {
		out = append(out, history.Attachment{
			Name:     f.Name,
			MimeType: f.MimeType,
			Data:     base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	return out
}
