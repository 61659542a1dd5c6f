package history

import (
	"time"

	"github.com/pkg/errors"
)

// Branch mutations never modify the incoming slice or its messages in place.
// Each returns a fresh message list sharing every untouched message pointer
// with the input (structural sharing), so a caller holding the old list keeps
// a consistent snapshot.

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrBranchIndex     = errors.New("branch index out of range")
	ErrWrongRole       = errors.New("operation does not apply to this message role")
)

func findMessage(messages []*Message, messageID string) (int, error) {
	for i, m := range messages {
		if m.ID == messageID {
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrMessageNotFound, "id %s", messageID)
}

// SwitchVersion activates version newIndex of the user message messageID. The
// live continuation after the message is snapshotted into the version being
// left, and the continuation stored on the version being entered replaces it
// in the live list.
func SwitchVersion(messages []*Message, messageID string, newIndex int) ([]*Message, error) {
	i, err := findMessage(messages, messageID)
	if err != nil {
		return nil, err
	}
	msg := messages[i]
	if msg.Role != RoleUser {
		return nil, errors.Wrapf(ErrWrongRole, "message %s is not a user message", messageID)
	}
	if newIndex < 0 || newIndex >= len(msg.Versions) {
		return nil, errors.Wrapf(ErrBranchIndex, "version %d of %d", newIndex, len(msg.Versions))
	}
	cur := msg.ActiveVersionIndex
	if cur == newIndex {
		return messages, nil
	}

	versions := make([]MessageVersion, len(msg.Versions))
	copy(versions, msg.Versions)
	versions[cur].HistoryPayload = continuationOf(messages, i)
	restored := versions[newIndex].HistoryPayload
	versions[newIndex].HistoryPayload = nil

	switched := *msg
	switched.Versions = versions
	switched.ActiveVersionIndex = newIndex

	return rebuild(messages, i, &switched, restored), nil
}

// SwitchResponse activates response newIndex of the model message messageID,
// with the same snapshot/restore semantics as SwitchVersion.
func SwitchResponse(messages []*Message, messageID string, newIndex int) ([]*Message, error) {
	i, err := findMessage(messages, messageID)
	if err != nil {
		return nil, err
	}
	msg := messages[i]
	if msg.Role != RoleModel {
		return nil, errors.Wrapf(ErrWrongRole, "message %s is not a model message", messageID)
	}
	if newIndex < 0 || newIndex >= len(msg.Responses) {
		return nil, errors.Wrapf(ErrBranchIndex, "response %d of %d", newIndex, len(msg.Responses))
	}
	cur := msg.ActiveResponseIndex
	if cur == newIndex {
		return messages, nil
	}

	responses := make([]ModelResponse, len(msg.Responses))
	copy(responses, msg.Responses)
	responses[cur].HistoryPayload = continuationOf(messages, i)
	restored := responses[newIndex].HistoryPayload
	responses[newIndex].HistoryPayload = nil

	switched := *msg
	switched.Responses = responses
	switched.ActiveResponseIndex = newIndex

	return rebuild(messages, i, &switched, restored), nil
}

// ForkVersion appends a new version carrying newText to the user message
// messageID and activates it. The continuation that followed the message is
// snapshotted into the version being left, and the live list is truncated at
// the forked message: the caller is expected to start a fresh generation.
func ForkVersion(messages []*Message, messageID string, newText string, attachments []Attachment) ([]*Message, error) {
	i, err := findMessage(messages, messageID)
	if err != nil {
		return nil, err
	}
	msg := messages[i]
	if msg.Role != RoleUser {
		return nil, errors.Wrapf(ErrWrongRole, "message %s is not a user message", messageID)
	}

	versions := make([]MessageVersion, len(msg.Versions), len(msg.Versions)+1)
	copy(versions, msg.Versions)
	versions[msg.ActiveVersionIndex].HistoryPayload = continuationOf(messages, i)
	versions = append(versions, MessageVersion{
		Text:        newText,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	})

	forked := *msg
	forked.Versions = versions
	forked.ActiveVersionIndex = len(versions) - 1

	return rebuild(messages, i, &forked, nil), nil
}

// ForkResponse appends a fresh placeholder response to the model message
// messageID and activates it, snapshotting the old continuation. The live
// list is truncated at the forked message.
func ForkResponse(messages []*Message, messageID string) ([]*Message, error) {
	i, err := findMessage(messages, messageID)
	if err != nil {
		return nil, err
	}
	msg := messages[i]
	if msg.Role != RoleModel {
		return nil, errors.Wrapf(ErrWrongRole, "message %s is not a model message", messageID)
	}

	responses := make([]ModelResponse, len(msg.Responses), len(msg.Responses)+1)
	copy(responses, msg.Responses)
	responses[msg.ActiveResponseIndex].HistoryPayload = continuationOf(messages, i)
	responses = append(responses, ModelResponse{StartTime: time.Now()})

	forked := *msg
	forked.Responses = responses
	forked.ActiveResponseIndex = len(responses) - 1
	forked.IsThinking = true

	return rebuild(messages, i, &forked, nil), nil
}

// continuationOf returns the messages following index i as an owned slice.
func continuationOf(messages []*Message, i int) []*Message {
	if i+1 >= len(messages) {
		return nil
	}
	cont := make([]*Message, len(messages)-i-1)
	copy(cont, messages[i+1:])
	return cont
}

// rebuild assembles prefix + replacement + tail into a new list.
func rebuild(messages []*Message, i int, replacement *Message, tail []*Message) []*Message {
	out := make([]*Message, 0, i+1+len(tail))
	out = append(out, messages[:i]...)
	out = append(out, replacement)
	out = append(out, tail...)
	return out
}
