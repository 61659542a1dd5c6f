package history

import (
	"time"

	"github.com/google/uuid"
)

// Package history owns the branching conversation data model: sessions hold
// messages, messages hold alternative versions (user edits) or alternative
// responses (regenerations), and each inactive branch carries a snapshot of
// the continuation that followed it so switching branches is lossless.

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// GenerationSettings are the per-session knobs forwarded to the backend agent
// verbatim on every stream request.
type GenerationSettings struct {
	AgentMode       bool    `json:"isAgentMode"`
	SystemPrompt    string  `json:"systemPrompt,omitempty"`
	AboutUser       string  `json:"aboutUser,omitempty"`
	AboutResponse   string  `json:"aboutResponse,omitempty"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	ImageModel      string  `json:"imageModel,omitempty"`
	VideoModel      string  `json:"videoModel,omitempty"`
	MemoryContent   string  `json:"memoryContent,omitempty"`
}

// Attachment is a user-supplied file, already base64-encoded for transmission.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// ToolCall identifies the backend-announced invocation of a named tool.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// BrowserSession is live metadata for a tool driving a browser: updated in
// place as toolUpdate events arrive (logs append, the rest replace).
type BrowserSession struct {
	URL        string   `json:"url,omitempty"`
	Title      string   `json:"title,omitempty"`
	Screenshot string   `json:"screenshot,omitempty"`
	Logs       []string `json:"logs,omitempty"`
	Status     string   `json:"status,omitempty"`
}

// ToolCallEvent tracks one tool invocation from announcement to result. Events
// are only ever appended to a response's list and mutated in place; they are
// never removed.
type ToolCallEvent struct {
	ID             string          `json:"id"`
	Call           ToolCall        `json:"call"`
	Result         any             `json:"result,omitempty"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        *time.Time      `json:"endTime,omitempty"`
	BrowserSession *BrowserSession `json:"browserSession,omitempty"`
}

// ResponseError is the serializable error recorded on a response when a
// generation terminates abnormally.
type ResponseError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Plan is the structured plan delivered by a planReady event, gating execution
// behind user approval when the execution state is pending-approval.
type Plan struct {
	Goal  string   `json:"goal,omitempty"`
	Steps []string `json:"steps,omitempty"`
}

type ExecutionState string

const (
	ExecutionStateNone            ExecutionState = ""
	ExecutionStatePendingApproval ExecutionState = "pending_approval"
	ExecutionStateRunning         ExecutionState = "running"
)

// MessageVersion is one edit-branch of a user message. HistoryPayload holds
// the messages that followed this version when it was deactivated; it is nil
// on the active version because its continuation lives in the live list.
type MessageVersion struct {
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	HistoryPayload []*Message   `json:"historyPayload,omitempty"`
}

// ModelResponse is one regeneration-branch of a model message.
type ModelResponse struct {
	Text             string          `json:"text"`
	ToolCallEvents   []ToolCallEvent `json:"toolCallEvents,omitempty"`
	Workflow         any             `json:"workflow,omitempty"`
	Err              *ResponseError  `json:"error,omitempty"`
	StartTime        time.Time       `json:"startTime"`
	EndTime          *time.Time      `json:"endTime,omitempty"`
	HistoryPayload   []*Message      `json:"historyPayload,omitempty"`
	SuggestedActions []string        `json:"suggestedActions,omitempty"`
	Plan             *Plan           `json:"plan,omitempty"`
	ExecutionState   ExecutionState  `json:"executionState,omitempty"`
}

// Message is one node of the live conversation list. Exactly one version (for
// user messages) or one response (for model messages) is active at any
// instant; the concatenation of active branches is what gets persisted and
// rendered.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`

	// user messages
	ActiveVersionIndex int              `json:"activeVersionIndex,omitempty"`
	Versions           []MessageVersion `json:"versions,omitempty"`

	// model messages
	IsThinking          bool            `json:"isThinking,omitempty"`
	ActiveResponseIndex int             `json:"activeResponseIndex,omitempty"`
	Responses           []ModelResponse `json:"responses,omitempty"`
}

// ChatSession is the unit of persistence. Messages == nil means the session
// was loaded from a summary endpoint and has not been hydrated yet.
type ChatSession struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Model     string             `json:"model"`
	Settings  GenerationSettings `json:"settings"`
	CreatedAt time.Time          `json:"createdAt"`
	Messages  []*Message         `json:"messages,omitempty"`
	IsLoading bool               `json:"-"`
}

func NewUserMessage(text string, attachments []Attachment) *Message {
	return &Message{
		ID:   uuid.NewString(),
		Role: RoleUser,
		Versions: []MessageVersion{{
			Text:        text,
			Attachments: attachments,
			CreatedAt:   time.Now(),
		}},
	}
}

// NewModelPlaceholder creates the thinking model message inserted optimistically
// when a generation starts.
func NewModelPlaceholder() *Message {
	return &Message{
		ID:         uuid.NewString(),
		Role:       RoleModel,
		IsThinking: true,
		Responses: []ModelResponse{{
			StartTime: time.Now(),
		}},
	}
}

// ActiveText returns the text of the currently active branch of m.
func (m *Message) ActiveText() string {
	switch m.Role {
	case RoleUser:
		if v := m.ActiveVersion(); v != nil {
			return v.Text
		}
	case RoleModel:
		if r := m.ActiveResponse(); r != nil {
			return r.Text
		}
	}
	return ""
}

// ActiveVersion returns the active version of a user message, or nil.
func (m *Message) ActiveVersion() *MessageVersion {
	if m.Role != RoleUser || m.ActiveVersionIndex < 0 || m.ActiveVersionIndex >= len(m.Versions) {
		return nil
	}
	return &m.Versions[m.ActiveVersionIndex]
}

// ActiveResponse returns the active response of a model message, or nil.
func (m *Message) ActiveResponse() *ModelResponse {
	if m.Role != RoleModel || m.ActiveResponseIndex < 0 || m.ActiveResponseIndex >= len(m.Responses) {
		return nil
	}
	return &m.Responses[m.ActiveResponseIndex]
}

// FindToolCallEvent returns a pointer into the response's event list for the
// event with the given id, or nil.
func (r *ModelResponse) FindToolCallEvent(id string) *ToolCallEvent {
	for i := range r.ToolCallEvents {
		if r.ToolCallEvents[i].ID == id {
			return &r.ToolCallEvents[i]
		}
	}
	return nil
}
