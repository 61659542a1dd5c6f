package toolbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/backenderr"
)

type fakeResponder struct {
	mu       sync.Mutex
	calls    []fakeResponse
	failures int
	err      error
}

type fakeResponse struct {
	callID  string
	payload any
	toolErr error
}

func (r *fakeResponder) SendToolResponse(ctx context.Context, callID string, payload any, toolErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fakeResponse{callID: callID, payload: payload, toolErr: toolErr})
	if r.failures > 0 {
		r.failures--
		return r.err
	}
	return nil
}

func (r *fakeResponder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeResponder) lastCall() fakeResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func newTestBridge(responder *fakeResponder) (*Bridge, *[]time.Duration) {
	var sleeps []time.Duration
	bridge := NewBridge(responder, WithSleepFunc(func(d time.Duration) {
		sleeps = append(sleeps, d)
	}))
	return bridge, &sleeps
}

func TestExecuteFrontendTool_ReportsResult(t *testing.T) {
	responder := &fakeResponder{}
	bridge, _ := newTestBridge(responder)

	require.NoError(t, bridge.RegisterTool("screenshot", func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"image": "data"}, nil
	}))

	bridge.ExecuteFrontendTool(context.Background(), "call-1", "screenshot", nil)

	require.Equal(t, 1, responder.callCount())
	call := responder.lastCall()
	require.Equal(t, "call-1", call.callID)
	require.NoError(t, call.toolErr)
	require.Equal(t, map[string]any{"image": "data"}, call.payload)
}

func TestExecuteFrontendTool_UnknownToolReportsError(t *testing.T) {
	responder := &fakeResponder{}
	bridge, _ := newTestBridge(responder)

	bridge.ExecuteFrontendTool(context.Background(), "call-1", "nonexistent", nil)

	require.Equal(t, 1, responder.callCount())
	call := responder.lastCall()
	var toolErr *backenderr.ToolError
	require.ErrorAs(t, call.toolErr, &toolErr)
	require.Equal(t, "nonexistent", toolErr.Tool)
}

func TestExecuteFrontendTool_BuiltinsPassArgsThrough(t *testing.T) {
	responder := &fakeResponder{}
	bridge, _ := newTestBridge(responder)

	args := map[string]any{"approved": true}
	bridge.ExecuteFrontendTool(context.Background(), "call-1", ToolApproveExecution, args)

	require.Equal(t, 1, responder.callCount())
	require.Equal(t, args, responder.lastCall().payload)
}

func TestSendToolResponse_RetriesWithExponentialBackoff(t *testing.T) {
	responder := &fakeResponder{failures: 2, err: errors.New("flaky")}
	bridge, sleeps := newTestBridge(responder)

	bridge.SendToolResponse(context.Background(), "call-1", "payload", nil)

	require.Equal(t, 3, responder.callCount())
	require.Len(t, *sleeps, 2)
	require.GreaterOrEqual(t, (*sleeps)[0], time.Second)
	require.Less(t, (*sleeps)[0], time.Second+600*time.Millisecond)
	require.GreaterOrEqual(t, (*sleeps)[1], 2*time.Second)
	require.Less(t, (*sleeps)[1], 2*time.Second+600*time.Millisecond)
}

func TestSendToolResponse_GivesUpAfterFourAttempts(t *testing.T) {
	responder := &fakeResponder{failures: 10, err: errors.New("down")}
	bridge, sleeps := newTestBridge(responder)

	bridge.SendToolResponse(context.Background(), "call-1", "payload", nil)

	// never throws past its boundary; just logs and stops
	require.Equal(t, 4, responder.callCount())
	require.Len(t, *sleeps, 3)
}

func TestSendToolResponse_NotFoundAbortsRetrying(t *testing.T) {
	responder := &fakeResponder{failures: 10, err: backenderr.ErrNotFound}
	bridge, sleeps := newTestBridge(responder)

	bridge.SendToolResponse(context.Background(), "call-1", "payload", nil)

	require.Equal(t, 1, responder.callCount())
	require.Empty(t, *sleeps)
}

func TestRegisterTool_RejectsDuplicates(t *testing.T) {
	bridge, _ := newTestBridge(&fakeResponder{})
	tool := func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }

	require.NoError(t, bridge.RegisterTool("a", tool))
	require.Error(t, bridge.RegisterTool("a", tool))
	require.Error(t, bridge.RegisterTool("", tool))
}
