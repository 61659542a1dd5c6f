package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-go-golems/marionette/pkg/history"
)

// Wire-format markers used by the backend agent to demarcate reasoning phases
// in the raw text stream.
const (
	StepMarker        = "[STEP] "
	PlanTitle         = "Strategic Plan"
	FinalAnswerTitle  = "Final Answer"
	DefaultAgentLabel = "System"
)

var (
	agentTagRe     = regexp.MustCompile(`\[AGENT:\s*([^\]]+)\]`)
	handoffRe      = regexp.MustCompile(`^\s*(.+?)\s*->\s*(.+?)\s*$`)
	continuationRe = regexp.MustCompile(`\[(CONTINUE|AWAIT_USER)\]`)
)

// Parse turns a raw, incrementally growing text stream plus out-of-band tool
// events into the plan / execution-log / final-answer view. It is a pure
// function: calling it again with the same inputs yields the same result.
//
// Tool events are merged positionally: the backend does not link a tool event
// to a specific step marker, so arrival order is the only signal. Each act
// marker consumes one event from the front of the unassigned queue; leftovers
// append at the end. This ordering must not change, existing transcripts
// depend on it.
func Parse(rawText string, toolEvents []history.ToolCallEvent, isThinkingComplete bool, streamErr *history.ResponseError) Parsed {
	if !strings.Contains(rawText, StepMarker) {
		// Plain chat mode: the whole text is the answer.
		answer := strings.TrimSpace(rawText)
		return Parsed{
			FinalAnswer:         answer,
			FinalAnswerSegments: Segment(answer),
			ExecutionLog:        interleave(nil, toolEvents, DefaultAgentLabel, isThinkingComplete, streamErr),
		}
	}

	plan, executionText, finalAnswer := splitSections(rawText)

	nodes, lastAgent := classifySteps(executionText)
	nodes = interleave(nodes, toolEvents, lastAgent, isThinkingComplete, streamErr)

	finalAnswer = cleanAnswer(finalAnswer)
	return Parsed{
		Plan:                plan,
		ExecutionLog:        nodes,
		FinalAnswer:         finalAnswer,
		FinalAnswerSegments: Segment(finalAnswer),
	}
}

// splitSections carves the raw text into plan, execution text, and final
// answer. The final-answer marker is matched on its last occurrence; text
// before the plan marker (or, absent one, before the first step marker) is
// ignored.
func splitSections(rawText string) (plan, executionText, finalAnswer string) {
	finalMarker := StepMarker + FinalAnswerTitle + ":"
	pre := rawText
	if idx := strings.LastIndex(rawText, finalMarker); idx >= 0 {
		pre = rawText[:idx]
		finalAnswer = rawText[idx+len(finalMarker):]
	}

	planMarker := StepMarker + PlanTitle + ":"
	if idx := strings.Index(pre, planMarker); idx >= 0 {
		rest := pre[idx+len(planMarker):]
		if next := strings.Index(rest, StepMarker); next >= 0 {
			plan = strings.TrimSpace(rest[:next])
			executionText = rest[next:]
		} else {
			plan = strings.TrimSpace(rest)
		}
		return plan, executionText, finalAnswer
	}

	if idx := strings.Index(pre, StepMarker); idx >= 0 {
		executionText = pre[idx:]
	}
	return plan, executionText, finalAnswer
}

// genericTitles fold their title into the details and render untitled.
var genericTitles = map[string]struct{}{
	"note":   {},
	"update": {},
	"info":   {},
}

var actTitles = map[string]struct{}{
	"act":            {},
	"action":         {},
	"execute action": {},
}

// classifySteps splits the execution text on step markers and classifies each
// (title, details) pair into a typed node. It returns the nodes and the last
// agent name seen, which tags trailing tool events.
func classifySteps(executionText string) ([]Node, string) {
	lastAgent := DefaultAgentLabel
	if executionText == "" {
		return nil, lastAgent
	}

	var nodes []Node
	parts := strings.Split(executionText, StepMarker)
	seq := 0
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		title, details := splitStep(part)
		if name, stripped := extractAgentTag(details); name != "" {
			lastAgent = name
			details = stripped
		}

		node := Node{
			ID:        fmt.Sprintf("step-%d", seq),
			Status:    StatusPending,
			Title:     title,
			Details:   details,
			AgentName: lastAgent,
		}
		seq++

		lower := strings.ToLower(title)
		switch {
		case strings.HasPrefix(lower, "handoff"):
			node.Type = NodeTypeHandoff
			target := details
			if lower != "handoff" {
				target = strings.TrimSpace(strings.TrimPrefix(title, "Handoff:"))
			}
			if m := handoffRe.FindStringSubmatch(target); m != nil {
				node.Handoff = &Handoff{From: m[1], To: m[2]}
				lastAgent = m[2]
				node.AgentName = m[2]
			}
		case strings.HasPrefix(lower, "validate"):
			node.Type = NodeTypeValidation
		case strings.HasPrefix(lower, "corrective action"):
			node.Type = NodeTypeCorrection
		case strings.HasPrefix(lower, "think"), strings.HasPrefix(lower, "adapt"):
			node.Type = NodeTypeThought
		case strings.HasPrefix(lower, "observe"):
			node.Type = NodeTypeObservation
		case isActTitle(lower):
			node.Type = NodeTypeActMarker
			node.Title = ""
		default:
			if _, ok := genericTitles[lower]; ok {
				node.Type = NodeTypePlan
				node.Title = ""
				if node.Details == "" {
					node.Details = title
				}
			} else {
				node.Type = NodeTypePlan
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, lastAgent
}

func isActTitle(lower string) bool {
	_, ok := actTitles[lower]
	return ok
}

// splitStep separates "Title: details" at the first colon.
func splitStep(part string) (title, details string) {
	// Keep "Handoff: A -> B" intact as a title so the classifier sees the
	// arrow pattern.
	if strings.HasPrefix(part, "Handoff:") {
		line, rest, _ := strings.Cut(part, "\n")
		return strings.TrimSpace(line), strings.TrimSpace(rest)
	}
	idx := strings.Index(part, ":")
	if idx < 0 {
		return strings.TrimSpace(part), ""
	}
	return strings.TrimSpace(part[:idx]), strings.TrimSpace(part[idx+1:])
}

// extractAgentTag pulls the first [AGENT: name] annotation out of text.
func extractAgentTag(text string) (name, stripped string) {
	m := agentTagRe.FindStringSubmatch(text)
	if m == nil {
		return "", text
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(agentTagRe.ReplaceAllString(text, ""))
}

// interleave merges tool events into the classified nodes: markers consume
// events front-to-back, leftovers append at the end. It then runs status
// propagation over the merged log.
func interleave(nodes []Node, toolEvents []history.ToolCallEvent, lastAgent string, isThinkingComplete bool, streamErr *history.ResponseError) []Node {
	queue := make([]history.ToolCallEvent, len(toolEvents))
	copy(queue, toolEvents)

	merged := make([]Node, 0, len(nodes)+len(queue))
	agent := DefaultAgentLabel
	for _, node := range nodes {
		if node.AgentName != "" {
			agent = node.AgentName
		}
		if node.Type == NodeTypeActMarker && len(queue) > 0 {
			ev := queue[0]
			queue = queue[1:]
			merged = append(merged, toolNode(ev, agent))
			continue
		}
		merged = append(merged, node)
	}
	for _, ev := range queue {
		a := lastAgent
		if a == "" {
			a = DefaultAgentLabel
		}
		merged = append(merged, toolNode(ev, a))
	}

	propagateStatus(merged, isThinkingComplete, streamErr)
	return merged
}

func toolNode(ev history.ToolCallEvent, agent string) Node {
	evCopy := ev
	node := Node{
		ID:        ev.ID,
		Type:      NodeTypeTool,
		Title:     ev.Call.Name,
		ToolEvent: &evCopy,
		AgentName: agent,
	}
	if ev.Call.Name == "duckduckgoSearch" {
		node.Type = NodeTypeDuckDuckGoSearch
	}
	if ev.EndTime != nil {
		node.Status = StatusDone
		node.Duration = ev.EndTime.Sub(ev.StartTime)
	} else if ev.Result != nil {
		node.Status = StatusDone
	} else {
		node.Status = StatusActive
	}
	return node
}

// propagateStatus applies the terminal-state rules: on error the most recent
// unfinished node fails and everything before it is done; on completion every
// non-failed node is done; mid-stream exactly the last unfinished node is
// active and earlier actives are downgraded, earlier pendings left alone.
func propagateStatus(nodes []Node, isThinkingComplete bool, streamErr *history.ResponseError) {
	if streamErr != nil {
		failed := -1
		for i := len(nodes) - 1; i >= 0; i-- {
			if nodes[i].Status == StatusActive || nodes[i].Status == StatusPending {
				failed = i
				break
			}
		}
		if failed >= 0 {
			nodes[failed].Status = StatusFailed
			nodes[failed].Details = streamErr.Message
			for i := 0; i < failed; i++ {
				if nodes[i].Status != StatusFailed {
					nodes[i].Status = StatusDone
				}
			}
		}
		return
	}

	if isThinkingComplete {
		for i := range nodes {
			if nodes[i].Status != StatusFailed {
				nodes[i].Status = StatusDone
			}
		}
		return
	}

	activeFound := false
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].Status == StatusDone || nodes[i].Status == StatusFailed {
			continue
		}
		if !activeFound {
			nodes[i].Status = StatusActive
			activeFound = true
			continue
		}
		if nodes[i].Status == StatusActive {
			nodes[i].Status = StatusDone
		}
	}
}

// cleanAnswer strips agent tags and continuation-control annotations from the
// final answer text.
func cleanAnswer(text string) string {
	text = agentTagRe.ReplaceAllString(text, "")
	text = continuationRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
