package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/go-go-golems/marionette/pkg/history"
	"github.com/go-go-golems/marionette/pkg/workflow"
)

// startGeneration registers a generation for the session, opens the stream,
// and consumes it on a goroutine. The stream and all downstream processing
// share one cancelable context.
func (o *Orchestrator) startGeneration(sessionID, messageID string, req Request) (*Generation, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	gen := newGeneration(sessionID, messageID, o.responseIndexOf(sessionID, messageID), cancel)

	o.mu.Lock()
	if g, ok := o.active[sessionID]; ok && g.IsRunning() {
		o.mu.Unlock()
		cancel()
		return nil, ErrGenerationActive
	}
	o.active[sessionID] = gen
	o.mu.Unlock()

	ch, err := o.stream.StartStream(runCtx, req)
	if err != nil {
		o.mu.Lock()
		delete(o.active, sessionID)
		o.mu.Unlock()
		cancel()
		o.attachStreamError(gen, err)
		return nil, err
	}

	go o.consume(runCtx, gen, ch)
	return gen, nil
}

// consume drains the event stream in arrival order. The finally path
// distinguishes an aborted stream (skip side effects, still clear the
// thinking flag) from a clean completion (run side effects).
func (o *Orchestrator) consume(ctx context.Context, gen *Generation, ch <-chan events.Event) {
	defer func() {
		aborted := gen.Aborted()
		failed := gen.Failed()

		if err := o.store.UpdateMessage(gen.SessionID, gen.MessageID, func(m *history.Message) {
			m.IsThinking = false
		}); err != nil {
			log.Debug().Err(err).Str("session_id", gen.SessionID).Msg("thinking clear on stream end failed")
		}

		o.mu.Lock()
		if o.active[gen.SessionID] == gen {
			delete(o.active, gen.SessionID)
		}
		o.mu.Unlock()
		gen.finish()

		if !aborted && !failed {
			o.runSideEffects(gen)
		}
	}()

	for ev := range ch {
		if gen.Aborted() {
			// keep draining so the producer can shut down; events after an
			// abort are dropped
			continue
		}
		o.applyEvent(ctx, gen, ev)
	}
}

// applyEvent maps each event type to exactly one store mutation, reparsing
// the workflow whenever the event changed displayable text or tool state.
// The reparse-per-event design keeps workflow consistent with
// (text, toolCallEvents) without any dirty tracking.
func (o *Orchestrator) applyEvent(ctx context.Context, gen *Generation, ev events.Event) {
	if o.publisher != nil {
		o.publisher.PublishBlind(ev)
	}

	switch e := ev.(type) {
	case *events.EventStart:
		gen.setRequestID(e.RequestID)

	case *events.EventTextChunk:
		o.patchResponse(gen, false, func(r *history.ModelResponse) {
			r.Text += e.Delta
		})

	case *events.EventToolCallStart:
		o.patchResponse(gen, false, func(r *history.ModelResponse) {
			for _, tc := range e.Events {
				if tc.StartTime.IsZero() {
					tc.StartTime = time.Now()
				}
				r.ToolCallEvents = append(r.ToolCallEvents, tc)
			}
		})

	case *events.EventToolUpdate:
		o.patchResponse(gen, false, func(r *history.ModelResponse) {
			tc := r.FindToolCallEvent(e.Update.ID)
			if tc == nil {
				log.Debug().Str("tool_call_id", e.Update.ID).Msg("tool update for unknown call")
				return
			}
			if tc.BrowserSession == nil {
				tc.BrowserSession = &history.BrowserSession{}
			}
			bs := tc.BrowserSession
			if e.Update.Log != "" {
				bs.Logs = append(bs.Logs, e.Update.Log)
			}
			if e.Update.Screenshot != "" {
				bs.Screenshot = e.Update.Screenshot
			}
			if e.Update.Title != "" {
				bs.Title = e.Update.Title
			}
			if e.Update.URL != "" {
				bs.URL = e.Update.URL
			}
			if e.Update.Status != "" {
				bs.Status = e.Update.Status
			}
		})

	case *events.EventToolCallEnd:
		o.patchResponse(gen, false, func(r *history.ModelResponse) {
			tc := r.FindToolCallEvent(e.ID)
			if tc == nil {
				log.Debug().Str("tool_call_id", e.ID).Msg("tool end for unknown call")
				return
			}
			now := time.Now()
			tc.Result = e.Result
			tc.EndTime = &now
		})

	case *events.EventPlanReady:
		plan := e.Plan
		_, err := o.store.UpdateResponseAt(gen.SessionID, gen.MessageID, gen.ResponseIndex, func(r *history.ModelResponse) {
			r.Plan = &plan
			r.ExecutionState = history.ExecutionStatePendingApproval
		})
		if err != nil {
			log.Warn().Err(err).Str("session_id", gen.SessionID).Msg("plan ready update failed")
		}

	case *events.EventFrontendToolRequest:
		go o.bridge.ExecuteFrontendTool(ctx, e.CallID, e.Name, e.Args)

	case *events.EventComplete:
		o.patchResponse(gen, true, func(r *history.ModelResponse) {
			// The completion event carries the authoritative text, even when
			// empty: accumulated chunks are only an approximation of it.
			r.Text = e.FinalText
			now := time.Now()
			r.EndTime = &now
		})

	case *events.EventError:
		gen.markFailed()
		errCopy := e.Err
		o.patchResponse(gen, false, func(r *history.ModelResponse) {
			r.Err = &history.ResponseError{
				Code:       errCopy.Code,
				Message:    errCopy.Message,
				Details:    errCopy.Details,
				Suggestion: errCopy.Suggestion,
			}
			now := time.Now()
			r.EndTime = &now
		})

	case *events.EventCancel:
		gen.Abort()
		o.markStopped(gen)

	default:
		log.Debug().Str("type", string(ev.Type())).Msg("unhandled stream event")
	}
}

// patchResponse applies fn to the generation's pinned response branch and
// reparses its workflow in the same critical section so the derived view can
// never lag the raw fields. If the user has navigated to another branch the
// patch is dropped: in-flight events must not touch the newly active
// response.
func (o *Orchestrator) patchResponse(gen *Generation, complete bool, fn func(*history.ModelResponse)) {
	applied, err := o.store.UpdateResponseAt(gen.SessionID, gen.MessageID, gen.ResponseIndex, func(r *history.ModelResponse) {
		fn(r)
		r.Workflow = workflow.Parse(r.Text, r.ToolCallEvents, complete, r.Err)
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", gen.SessionID).Str("message_id", gen.MessageID).
			Msg("response patch failed")
		return
	}
	if !applied {
		log.Debug().Str("message_id", gen.MessageID).Int("response_index", gen.ResponseIndex).
			Msg("response patch dropped, branch no longer active")
	}
}

// responseIndexOf reads the active response index of a model message at
// stream-start time. Callers invoke it right after the store mutation that
// set up the branch, before any event can arrive.
func (o *Orchestrator) responseIndexOf(sessionID, messageID string) int {
	for _, m := range o.store.Messages(sessionID) {
		if m.ID == messageID {
			return m.ActiveResponseIndex
		}
	}
	return 0
}

// attachStreamError records a failure to even open the stream.
func (o *Orchestrator) attachStreamError(gen *Generation, err error) {
	o.patchResponse(gen, false, func(r *history.ModelResponse) {
		r.Err = &history.ResponseError{
			Code:    "STREAM_OPEN_FAILED",
			Message: err.Error(),
		}
	})
	if uerr := o.store.UpdateMessage(gen.SessionID, gen.MessageID, func(m *history.Message) {
		m.IsThinking = false
	}); uerr != nil {
		log.Debug().Err(uerr).Msg("thinking clear after open failure failed")
	}
}
