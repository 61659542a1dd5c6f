package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/history"
)

func toolEvent(id, name string, result any) history.ToolCallEvent {
	return history.ToolCallEvent{
		ID:        id,
		Call:      history.ToolCall{Name: name},
		Result:    result,
		StartTime: time.Now(),
	}
}

func TestParse_PlainChatMode(t *testing.T) {
	parsed := Parse("just a normal answer", nil, true, nil)
	require.Equal(t, "just a normal answer", parsed.FinalAnswer)
	require.Empty(t, parsed.Plan)
	require.Empty(t, parsed.ExecutionLog)
	require.Len(t, parsed.FinalAnswerSegments, 1)
	require.Equal(t, SegmentMarkdown, parsed.FinalAnswerSegments[0].Type)
}

func TestParse_PlanActFinalScenario(t *testing.T) {
	raw := "[STEP] Strategic Plan: Do X\n[STEP] Act:\n[STEP] Final Answer: Done."
	events := []history.ToolCallEvent{toolEvent("t1", "search", "ok")}

	parsed := Parse(raw, events, true, nil)

	require.Equal(t, "Do X", parsed.Plan)
	require.Equal(t, "Done.", parsed.FinalAnswer)
	require.Len(t, parsed.ExecutionLog, 1)
	node := parsed.ExecutionLog[0]
	require.Equal(t, NodeTypeTool, node.Type)
	require.NotNil(t, node.ToolEvent)
	require.Equal(t, "t1", node.ToolEvent.ID)
	require.Equal(t, StatusDone, node.Status)
}

func TestParse_LastFinalAnswerMarkerWins(t *testing.T) {
	raw := "[STEP] Think: first try\n[STEP] Final Answer: draft\n[STEP] Think: retry\n[STEP] Final Answer: real answer"
	parsed := Parse(raw, nil, true, nil)
	require.Equal(t, "real answer", parsed.FinalAnswer)
	// the first final answer section becomes part of the execution text
	require.GreaterOrEqual(t, len(parsed.ExecutionLog), 2)
}

func TestParse_NodeClassification(t *testing.T) {
	raw := "[STEP] Think: weigh options\n" +
		"[STEP] Observe: the page loaded\n" +
		"[STEP] Validate result: looks right\n" +
		"[STEP] Corrective Action: retry the click\n" +
		"[STEP] Research notes: free-form step\n" +
		"[STEP] Final Answer: done"
	parsed := Parse(raw, nil, true, nil)

	require.Len(t, parsed.ExecutionLog, 5)
	assert.Equal(t, NodeTypeThought, parsed.ExecutionLog[0].Type)
	assert.Equal(t, NodeTypeObservation, parsed.ExecutionLog[1].Type)
	assert.Equal(t, NodeTypeValidation, parsed.ExecutionLog[2].Type)
	assert.Equal(t, NodeTypeCorrection, parsed.ExecutionLog[3].Type)
	assert.Equal(t, NodeTypePlan, parsed.ExecutionLog[4].Type)
	assert.Equal(t, "Research notes", parsed.ExecutionLog[4].Title)
}

func TestParse_HandoffAndAgentTags(t *testing.T) {
	raw := "[STEP] Handoff: Researcher -> Writer\n" +
		"[STEP] Think: [AGENT: Writer] drafting now\n" +
		"[STEP] Final Answer: [AGENT: Writer] the draft"
	parsed := Parse(raw, nil, true, nil)

	require.Len(t, parsed.ExecutionLog, 2)
	handoff := parsed.ExecutionLog[0]
	require.Equal(t, NodeTypeHandoff, handoff.Type)
	require.NotNil(t, handoff.Handoff)
	assert.Equal(t, "Researcher", handoff.Handoff.From)
	assert.Equal(t, "Writer", handoff.Handoff.To)

	thought := parsed.ExecutionLog[1]
	assert.Equal(t, "Writer", thought.AgentName)
	assert.Equal(t, "drafting now", thought.Details)

	assert.Equal(t, "the draft", parsed.FinalAnswer)
}

func TestParse_ContinuationAnnotationsStripped(t *testing.T) {
	raw := "[STEP] Act:\n[STEP] Final Answer: all finished [CONTINUE]"
	parsed := Parse(raw, []history.ToolCallEvent{toolEvent("t1", "search", "ok")}, true, nil)
	require.Equal(t, "all finished", parsed.FinalAnswer)
}

func TestParse_ToolInterleaveDeterminism(t *testing.T) {
	// two act markers, three events: markers consume in arrival order,
	// leftover appends at the end
	raw := "[STEP] Act:\n[STEP] Think: between\n[STEP] Act:\n[STEP] Final Answer: done"
	events := []history.ToolCallEvent{
		toolEvent("t1", "search", "r1"),
		toolEvent("t2", "browse", "r2"),
		toolEvent("t3", "duckduckgoSearch", "r3"),
	}

	parsed := Parse(raw, events, true, nil)

	require.Len(t, parsed.ExecutionLog, 4)
	require.Equal(t, "t1", parsed.ExecutionLog[0].ToolEvent.ID)
	require.Equal(t, NodeTypeThought, parsed.ExecutionLog[1].Type)
	require.Equal(t, "t2", parsed.ExecutionLog[2].ToolEvent.ID)
	require.Equal(t, "t3", parsed.ExecutionLog[3].ToolEvent.ID)
	require.Equal(t, NodeTypeDuckDuckGoSearch, parsed.ExecutionLog[3].Type)

	// the merge depends only on order, not on how text and events raced in
	parsedAgain := Parse(raw, events, true, nil)
	require.Equal(t, parsed.ExecutionLog, parsedAgain.ExecutionLog)
}

func TestParse_ActMarkerWithoutEventStaysPlaceholder(t *testing.T) {
	raw := "[STEP] Act:\n[STEP] Final Answer: done"
	parsed := Parse(raw, nil, false, nil)
	require.Len(t, parsed.ExecutionLog, 1)
	require.Equal(t, NodeTypeActMarker, parsed.ExecutionLog[0].Type)
}

func TestParse_StatusMidStream(t *testing.T) {
	raw := "[STEP] Think: first\n[STEP] Observe: second\n[STEP] Think: third"
	parsed := Parse(raw, nil, false, nil)

	require.Len(t, parsed.ExecutionLog, 3)
	active := 0
	for _, node := range parsed.ExecutionLog {
		if node.Status == StatusActive {
			active++
		}
	}
	require.Equal(t, 1, active)
	require.Equal(t, StatusActive, parsed.ExecutionLog[2].Status)
}

func TestParse_StatusMidStreamDowngradesEarlierActive(t *testing.T) {
	// a tool event without result parses as active; a later text node
	// supersedes it
	raw := "[STEP] Act:\n[STEP] Think: after the tool"
	events := []history.ToolCallEvent{toolEvent("t1", "browse", nil)}
	parsed := Parse(raw, events, false, nil)

	require.Len(t, parsed.ExecutionLog, 2)
	require.Equal(t, StatusDone, parsed.ExecutionLog[0].Status)
	require.Equal(t, StatusActive, parsed.ExecutionLog[1].Status)
}

func TestParse_StatusOnCompletion(t *testing.T) {
	raw := "[STEP] Think: a\n[STEP] Observe: b\n[STEP] Final Answer: done"
	parsed := Parse(raw, nil, true, nil)
	for _, node := range parsed.ExecutionLog {
		require.Equal(t, StatusDone, node.Status)
	}
}

func TestParse_StatusOnError(t *testing.T) {
	raw := "[STEP] Think: a\n[STEP] Observe: b\n[STEP] Think: c"
	streamErr := &history.ResponseError{Code: "BACKEND", Message: "engine exploded"}
	parsed := Parse(raw, nil, false, streamErr)

	require.Len(t, parsed.ExecutionLog, 3)
	require.Equal(t, StatusDone, parsed.ExecutionLog[0].Status)
	require.Equal(t, StatusDone, parsed.ExecutionLog[1].Status)
	require.Equal(t, StatusFailed, parsed.ExecutionLog[2].Status)
	require.Equal(t, "engine exploded", parsed.ExecutionLog[2].Details)
}

func TestParse_StatusNeverRegresses(t *testing.T) {
	// growing prefixes of the same stream: once a node is done in one parse,
	// it is never pending or active again in a later parse
	full := "[STEP] Think: a\n[STEP] Observe: b\n[STEP] Think: c\n[STEP] Final Answer: done"
	prefixes := []int{30, 50, len(full)}

	var prev []Node
	for _, end := range prefixes {
		if end > len(full) {
			end = len(full)
		}
		parsed := Parse(full[:end], nil, end == len(full), nil)
		for i := range prev {
			if i >= len(parsed.ExecutionLog) {
				break
			}
			if prev[i].Status == StatusDone {
				require.Equal(t, StatusDone, parsed.ExecutionLog[i].Status,
					"node %d regressed from done", i)
			}
		}
		prev = parsed.ExecutionLog
	}
}

func TestParse_PureFunction(t *testing.T) {
	raw := "[STEP] Strategic Plan: P\n[STEP] Act:\n[STEP] Final Answer: A"
	events := []history.ToolCallEvent{toolEvent("t1", "search", "ok")}

	a := Parse(raw, events, false, nil)
	b := Parse(raw, events, false, nil)
	require.Equal(t, a, b)
	// the input slice must not have been consumed
	require.Len(t, events, 1)
}
