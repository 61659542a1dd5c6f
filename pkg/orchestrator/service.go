package orchestrator

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/go-go-golems/marionette/pkg/history"
)

type TaskType string

const (
	TaskChat       TaskType = "chat"
	TaskRegenerate TaskType = "regenerate"
)

// NewMessage is the user content of a chat request. Attachments are already
// base64-encoded.
type NewMessage struct {
	Text        string               `json:"text"`
	Attachments []history.Attachment `json:"attachments,omitempty"`
}

// Request is the conceptual shape of one stream request. NewMessage is nil on
// regenerate tasks, which re-run the generation rooted at MessageID.
type Request struct {
	ChatID     string                     `json:"chatId"`
	MessageID  string                     `json:"messageId"`
	Model      string                     `json:"model"`
	NewMessage *NewMessage                `json:"newMessage"`
	Task       TaskType                   `json:"task"`
	Settings   history.GenerationSettings `json:"settings"`
}

// StreamService opens one event stream per generation against the backend
// agent. The returned channel closes when the stream ends, whatever the
// reason; the terminal condition travels as a complete, error, or cancel
// event.
type StreamService interface {
	StartStream(ctx context.Context, req Request) (<-chan events.Event, error)
	// CancelStream notifies the backend that the generation identified by the
	// server-issued request id should stop. Best effort.
	CancelStream(ctx context.Context, requestID string) error
}

// SideEffectService runs the best-effort post-stream generations. Failures
// are logged and never surfaced.
type SideEffectService interface {
	GenerateTitle(ctx context.Context, messages []*history.Message) (string, error)
	SuggestActions(ctx context.Context, messages []*history.Message) ([]string, error)
}

// File is a user-supplied attachment before encoding.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}
