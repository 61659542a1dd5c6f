package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/marionette/pkg/history"
)

// runSideEffects runs the post-completion bookkeeping for a cleanly finished
// stream: final persistence, title generation, follow-up suggestions, and a
// delayed forced thinking-flag clear as a safety net. All of it is best
// effort; nothing here is allowed to surface an error to the user.
func (o *Orchestrator) runSideEffects(gen *Generation) {
	ctx := context.Background()

	msgs := o.store.Messages(gen.SessionID)
	if msgs == nil {
		return
	}
	if err := o.store.ReplaceMessages(ctx, gen.SessionID, msgs); err != nil {
		log.Warn().Err(err).Str("session_id", gen.SessionID).Msg("final persistence failed")
	}

	seq := o.nextBackgroundSeq(gen.SessionID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.maybeGenerateTitle(gctx, gen.SessionID, msgs, seq)
		return nil
	})
	g.Go(func() error {
		o.generateSuggestions(gctx, gen, msgs, seq)
		return nil
	})
	_ = g.Wait()

	// Safety net: the completion path already cleared the flag, but a race
	// with a late mutation can resurrect it.
	time.AfterFunc(o.thinkingClearDelay, func() {
		if err := o.store.UpdateMessage(gen.SessionID, gen.MessageID, func(m *history.Message) {
			m.IsThinking = false
		}); err != nil {
			log.Debug().Err(err).Str("session_id", gen.SessionID).Msg("forced thinking clear skipped")
		}
	})
}

// maybeGenerateTitle generates a session title at most once per session, and
// only once at least two messages exist. The attempted set guards against
// retries re-triggering it.
func (o *Orchestrator) maybeGenerateTitle(ctx context.Context, sessionID string, msgs []*history.Message, seq uint64) {
	if o.effects == nil || len(msgs) < 2 {
		return
	}
	o.mu.Lock()
	if _, done := o.titled[sessionID]; done {
		o.mu.Unlock()
		return
	}
	o.titled[sessionID] = struct{}{}
	o.mu.Unlock()

	title, err := o.effects.GenerateTitle(ctx, msgs)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("title generation failed")
		return
	}
	if title == "" || !o.isLatestBackgroundSeq(sessionID, seq) {
		return
	}
	if err := o.store.UpdateChatProperty(ctx, sessionID, history.SessionPatch{Title: &title}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("title persist failed")
	}
}

func (o *Orchestrator) generateSuggestions(ctx context.Context, gen *Generation, msgs []*history.Message, seq uint64) {
	if o.effects == nil {
		return
	}
	actions, err := o.effects.SuggestActions(ctx, msgs)
	if err != nil {
		log.Warn().Err(err).Str("session_id", gen.SessionID).Msg("suggestion generation failed")
		return
	}
	if len(actions) == 0 || !o.isLatestBackgroundSeq(gen.SessionID, seq) {
		return
	}
	if _, err := o.store.UpdateResponseAt(gen.SessionID, gen.MessageID, gen.ResponseIndex, func(r *history.ModelResponse) {
		r.SuggestedActions = actions
	}); err != nil {
		log.Debug().Err(err).Str("session_id", gen.SessionID).Msg("suggestion attach failed")
	}
}

// nextBackgroundSeq advances the per-session background-request counter.
// Results are only applied when their seq is still the latest, so a response
// to a superseded request is discarded instead of clobbering newer state.
func (o *Orchestrator) nextBackgroundSeq(sessionID string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bgSeq[sessionID]++
	return o.bgSeq[sessionID]
}

func (o *Orchestrator) isLatestBackgroundSeq(sessionID string, seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bgSeq[sessionID] == seq
}
