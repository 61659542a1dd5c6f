package workflow

import (
	"time"

	"github.com/go-go-golems/marionette/pkg/history"
)

type NodeType string

const (
	NodeTypePlan             NodeType = "plan"
	NodeTypeThought          NodeType = "thought"
	NodeTypeObservation      NodeType = "observation"
	NodeTypeValidation       NodeType = "validation"
	NodeTypeCorrection       NodeType = "correction"
	NodeTypeHandoff          NodeType = "handoff"
	NodeTypeTool             NodeType = "tool"
	NodeTypeDuckDuckGoSearch NodeType = "duckduckgoSearch"
	// NodeTypeActMarker is a placeholder meaning "a tool call belongs here".
	// Markers are consumed during tool-event interleaving; one only survives
	// into the log when its tool event has not arrived yet.
	NodeTypeActMarker NodeType = "act_marker"
)

type NodeStatus string

const (
	StatusPending NodeStatus = "pending"
	StatusActive  NodeStatus = "active"
	StatusDone    NodeStatus = "done"
	StatusFailed  NodeStatus = "failed"
)

// Handoff records a transfer of control between named agents.
type Handoff struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Node is one entry of the execution log. Details carries step text (or the
// error message on a failed node); ToolEvent is set instead of Details on
// tool-typed nodes.
type Node struct {
	ID        string                 `json:"id"`
	Type      NodeType               `json:"type"`
	Title     string                 `json:"title"`
	Status    NodeStatus             `json:"status"`
	Details   string                 `json:"details,omitempty"`
	ToolEvent *history.ToolCallEvent `json:"toolEvent,omitempty"`
	AgentName string                 `json:"agentName,omitempty"`
	Handoff   *Handoff               `json:"handoff,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
}

// Parsed is the derived workflow view of a response: a pure projection of
// (text, tool events, completion flag, error), never mutated independently.
type Parsed struct {
	Plan                string          `json:"plan"`
	ExecutionLog        []Node          `json:"executionLog"`
	FinalAnswer         string          `json:"finalAnswer"`
	FinalAnswerSegments []RenderSegment `json:"finalAnswerSegments"`
}
