package toolbridge

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/backenderr"
)

// FrontendTool is a tool that must run in the client's execution context
// (anything needing local browser or device capabilities). It returns the
// payload reported back to the backend.
type FrontendTool func(ctx context.Context, args map[string]any) (any, error)

// ToolResponder posts a tool outcome back to the backend.
type ToolResponder interface {
	SendToolResponse(ctx context.Context, callID string, payload any, toolErr error) error
}

const (
	maxResponseAttempts = 4
	baseBackoff         = time.Second
	maxJitter           = 500 * time.Millisecond
)

// Built-in pseudo-tools used for human-in-the-loop gating: they pass their
// argument straight through as the result.
const (
	ToolApproveExecution = "approveExecution"
	ToolDenyExecution    = "denyExecution"
)

// Bridge executes frontend tools and reports their results with bounded
// retry. A reporting failure is logged and swallowed: it must never crash the
// surrounding session.
type Bridge struct {
	mu        sync.RWMutex
	registry  map[string]FrontendTool
	responder ToolResponder

	// sleep is swapped out in tests
	sleep func(time.Duration)
}

type BridgeOption func(*Bridge)

func WithSleepFunc(f func(time.Duration)) BridgeOption {
	return func(b *Bridge) {
		b.sleep = f
	}
}

func NewBridge(responder ToolResponder, options ...BridgeOption) *Bridge {
	ret := &Bridge{
		registry:  make(map[string]FrontendTool),
		responder: responder,
		sleep:     time.Sleep,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// RegisterTool adds a named frontend tool implementation.
func (b *Bridge) RegisterTool(name string, tool FrontendTool) error {
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.registry[name]; exists {
		return errors.Errorf("tool %s already registered", name)
	}
	b.registry[name] = tool
	return nil
}

// ExecuteFrontendTool looks up and runs the named tool, then reports the
// outcome. The two built-in pseudo-tools pass their argument through without
// a registered implementation.
func (b *Bridge) ExecuteFrontendTool(ctx context.Context, callID, name string, args map[string]any) {
	result, err := b.run(ctx, name, args)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Str("call_id", callID).Msg("frontend tool failed")
	}
	b.SendToolResponse(ctx, callID, result, err)
}

func (b *Bridge) run(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolApproveExecution, ToolDenyExecution:
		return args, nil
	}

	b.mu.RLock()
	tool, ok := b.registry[name]
	b.mu.RUnlock()
	if !ok {
		return nil, backenderr.NewToolError(name, errors.New("no frontend implementation registered"))
	}

	result, err := tool(ctx, args)
	if err != nil {
		return nil, backenderr.NewToolError(name, err)
	}
	return result, nil
}

// SendToolResponse posts the result or error to the backend with up to four
// attempts and exponential backoff plus jitter. A 404 means the session is
// gone and retrying cannot help; exhausting the attempts logs and gives up.
func (b *Bridge) SendToolResponse(ctx context.Context, callID string, payload any, toolErr error) {
	backoff := baseBackoff
	var lastErr error
	for attempt := 1; attempt <= maxResponseAttempts; attempt++ {
		lastErr = b.responder.SendToolResponse(ctx, callID, payload, toolErr)
		if lastErr == nil {
			return
		}
		if backenderr.IsNotFound(lastErr) {
			log.Warn().Str("call_id", callID).Msg("session gone, dropping tool response")
			return
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if attempt < maxResponseAttempts {
			jitter := time.Duration(rand.Int63n(int64(maxJitter)))
			b.sleep(backoff + jitter)
			backoff *= 2
		}
	}
	log.Error().Err(lastErr).Str("call_id", callID).Int("attempts", maxResponseAttempts).
		Msg("giving up on tool response")
}
