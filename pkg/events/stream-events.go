package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/marionette/pkg/backenderr"
	"github.com/go-go-golems/marionette/pkg/history"
)

type EventType string

const (
	// EventTypeStart carries the server-issued request id used for cancel
	// requests.
	EventTypeStart EventType = "start"
	// EventTypeTextChunk appends a delta to the active response text.
	EventTypeTextChunk EventType = "text-chunk"

	EventTypeToolCallStart EventType = "tool-call-start"
	EventTypeToolUpdate    EventType = "tool-update"
	EventTypeToolCallEnd   EventType = "tool-call-end"

	// EventTypePlanReady delivers a structured plan and gates execution behind
	// user approval.
	EventTypePlanReady EventType = "plan-ready"
	// EventTypeFrontendToolRequest asks the client to run a tool in its own
	// execution context.
	EventTypeFrontendToolRequest EventType = "frontend-tool-request"

	EventTypeComplete EventType = "complete"
	EventTypeError    EventType = "error"
	EventTypeCancel   EventType = "cancel"
)

// EventMetadata contains the correlation identifiers passed along with every
// stream event.
type EventMetadata struct {
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	if em.RequestID != "" {
		e.Str("request_id", em.RequestID)
	}
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.MessageID != "" {
		e.Str("message_id", em.MessageID)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw JSON if the event was deserialized (see NewEventFromJSON)
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
	RequestID string `json:"requestId"`
}

func NewStartEvent(metadata EventMetadata, requestID string) *EventStart {
	metadata.RequestID = requestID
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
		RequestID: requestID,
	}
}

type EventTextChunk struct {
	EventImpl
	Delta string `json:"delta"`
}

func NewTextChunkEvent(metadata EventMetadata, delta string) *EventTextChunk {
	return &EventTextChunk{
		EventImpl: EventImpl{Type_: EventTypeTextChunk, Metadata_: metadata},
		Delta:     delta,
	}
}

type EventToolCallStart struct {
	EventImpl
	Events []history.ToolCallEvent `json:"events"`
}

func NewToolCallStartEvent(metadata EventMetadata, events []history.ToolCallEvent) *EventToolCallStart {
	return &EventToolCallStart{
		EventImpl: EventImpl{Type_: EventTypeToolCallStart, Metadata_: metadata},
		Events:    events,
	}
}

// ToolUpdatePayload carries the incremental browser-session fields for one
// in-flight tool call: Log appends, the rest replace when non-empty.
type ToolUpdatePayload struct {
	ID         string `json:"id"`
	Log        string `json:"log,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Status     string `json:"status,omitempty"`
}

type EventToolUpdate struct {
	EventImpl
	Update ToolUpdatePayload `json:"update"`
}

func NewToolUpdateEvent(metadata EventMetadata, update ToolUpdatePayload) *EventToolUpdate {
	return &EventToolUpdate{
		EventImpl: EventImpl{Type_: EventTypeToolUpdate, Metadata_: metadata},
		Update:    update,
	}
}

type EventToolCallEnd struct {
	EventImpl
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
}

func NewToolCallEndEvent(metadata EventMetadata, id string, result any) *EventToolCallEnd {
	return &EventToolCallEnd{
		EventImpl: EventImpl{Type_: EventTypeToolCallEnd, Metadata_: metadata},
		ID:        id,
		Result:    result,
	}
}

type EventPlanReady struct {
	EventImpl
	Plan history.Plan `json:"plan"`
}

func NewPlanReadyEvent(metadata EventMetadata, plan history.Plan) *EventPlanReady {
	return &EventPlanReady{
		EventImpl: EventImpl{Type_: EventTypePlanReady, Metadata_: metadata},
		Plan:      plan,
	}
}

type EventFrontendToolRequest struct {
	EventImpl
	CallID string         `json:"callId"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
}

func NewFrontendToolRequestEvent(metadata EventMetadata, callID, name string, args map[string]any) *EventFrontendToolRequest {
	return &EventFrontendToolRequest{
		EventImpl: EventImpl{Type_: EventTypeFrontendToolRequest, Metadata_: metadata},
		CallID:    callID,
		Name:      name,
		Args:      args,
	}
}

type EventComplete struct {
	EventImpl
	// FinalText is authoritative and supersedes the accumulated chunks.
	FinalText         string         `json:"finalText"`
	GroundingMetadata map[string]any `json:"groundingMetadata,omitempty"`
}

func NewCompleteEvent(metadata EventMetadata, finalText string, grounding map[string]any) *EventComplete {
	return &EventComplete{
		EventImpl:         EventImpl{Type_: EventTypeComplete, Metadata_: metadata},
		FinalText:         finalText,
		GroundingMetadata: grounding,
	}
}

type EventError struct {
	EventImpl
	Err backenderr.BackendError `json:"error"`
}

func NewErrorEvent(metadata EventMetadata, err backenderr.BackendError) *EventError {
	return &EventError{
		EventImpl: EventImpl{Type_: EventTypeError, Metadata_: metadata},
		Err:       err,
	}
}

type EventCancel struct {
	EventImpl
}

func NewCancelEvent(metadata EventMetadata) *EventCancel {
	return &EventCancel{
		EventImpl: EventImpl{Type_: EventTypeCancel, Metadata_: metadata},
	}
}

// NewEventFromJSON decodes a serialized stream event by its type
// discriminator. Used by transcript replay and by transports that carry
// events as JSON.
func NewEventFromJSON(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	decode := func(ev Event, setPayload func([]byte)) (Event, error) {
		if err := json.Unmarshal(b, ev); err != nil {
			return nil, err
		}
		setPayload(b)
		return ev, nil
	}

	switch hdr.Type {
	case EventTypeStart:
		ev := &EventStart{}
		return decode(ev, func(b []byte) { ev.payload = b })
	case EventTypeTextChunk:
		ev := &EventTextChunk{}
		return decode(ev, func(b []byte) { ev.payload = b })
	case EventTypeToolCallStart:
		ev := &EventToolCallStart{}
		return decode(ev, func(b []byte) { ev.payload = b })
	case EventTypeToolUpdate:
		ev := &EventToolUpdate{}
		return decode(ev, func(b []byte) { ev.payload = b })
	case EventTypeToolCallEnd:
		ev := &EventToolCallEnd{}
		return decode(ev, func(b []byte) { ev.payload = b })
	case EventTypePlanReady:
		ev := &EventPlanReady{}
		return decode(ev, func(b []byte) { ev.payload = b })
	case EventTypeFrontendToolRequest:
		ev := &EventFrontendToolRequest{}
		return decode(ev, func(b []byte) { ev.payload = b })
	case EventTypeComplete:
		ev := &EventComplete{}
		return decode(ev, func(b []byte) { ev.payload = b })
	case EventTypeError:
		ev := &EventError{}
		return decode(ev, func(b []byte) { ev.payload = b })
	case EventTypeCancel:
		ev := &EventCancel{}
		return decode(ev, func(b []byte) { ev.payload = b })
	default:
		return nil, fmt.Errorf("unknown event type %q", hdr.Type)
	}
}
