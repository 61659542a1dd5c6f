package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func userMsg(id, text string) *Message {
	return &Message{
		ID:       id,
		Role:     RoleUser,
		Versions: []MessageVersion{{Text: text}},
	}
}

func modelMsg(id, text string) *Message {
	return &Message{
		ID:        id,
		Role:      RoleModel,
		Responses: []ModelResponse{{Text: text}},
	}
}

func liveTexts(msgs []*Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ActiveText())
	}
	return out
}

func TestForkVersion_SnapshotsContinuation(t *testing.T) {
	msgs := []*Message{
		userMsg("u1", "original"),
		modelMsg("m1", "answer"),
		userMsg("u2", "follow-up"),
		modelMsg("m2", "second answer"),
	}

	forked, err := ForkVersion(msgs, "u1", "edited", nil)
	require.NoError(t, err)

	// live list contains only the edited message
	require.Len(t, forked, 1)
	u1 := forked[0]
	require.Len(t, u1.Versions, 2)
	require.Equal(t, 1, u1.ActiveVersionIndex)
	require.Equal(t, "edited", u1.Versions[1].Text)
	require.Empty(t, u1.Versions[1].HistoryPayload)

	// the old version holds exactly the removed continuation
	payload := u1.Versions[0].HistoryPayload
	require.Len(t, payload, 3)
	require.Equal(t, []string{"answer", "follow-up", "second answer"}, liveTexts(payload))

	// the input list was not mutated
	require.Len(t, msgs, 4)
	require.Len(t, msgs[0].Versions, 1)
	require.Empty(t, msgs[0].Versions[0].HistoryPayload)
}

func TestSwitchVersion_RoundTripRestoresExactList(t *testing.T) {
	msgs := []*Message{
		userMsg("u1", "original"),
		modelMsg("m1", "answer"),
		userMsg("u2", "follow-up"),
	}

	forked, err := ForkVersion(msgs, "u1", "edited", nil)
	require.NoError(t, err)
	forked = append(forked, modelMsg("m2", "edited answer"))

	// switch back to version 0: the original continuation returns
	back, err := SwitchVersion(forked, "u1", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"original", "answer", "follow-up"}, liveTexts(back))
	require.Empty(t, back[0].Versions[0].HistoryPayload)
	require.Equal(t, []string{"edited answer"}, liveTexts(back[0].Versions[1].HistoryPayload))

	// and forward again: the edited branch returns intact
	forward, err := SwitchVersion(back, "u1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"edited", "edited answer"}, liveTexts(forward))
	require.Empty(t, forward[0].Versions[1].HistoryPayload)
	require.Equal(t, []string{"answer", "follow-up"}, liveTexts(forward[0].Versions[0].HistoryPayload))
}

func TestSwitchVersion_SameIndexIsNoop(t *testing.T) {
	msgs := []*Message{userMsg("u1", "hello")}
	out, err := SwitchVersion(msgs, "u1", 0)
	require.NoError(t, err)
	require.Equal(t, msgs, out)
}

func TestSwitchResponse_RoundTrip(t *testing.T) {
	msgs := []*Message{
		userMsg("u1", "question"),
		modelMsg("m1", "first answer"),
		userMsg("u2", "reply to first"),
	}

	forked, err := ForkResponse(msgs, "m1")
	require.NoError(t, err)
	require.Len(t, forked, 2)
	m1 := forked[1]
	require.Equal(t, 1, m1.ActiveResponseIndex)
	require.True(t, m1.IsThinking)
	require.Equal(t, []string{"reply to first"}, liveTexts(m1.Responses[0].HistoryPayload))

	// pretend the regeneration streamed in
	m1.Responses[1].Text = "second answer"
	m1.IsThinking = false

	back, err := SwitchResponse(forked, "m1", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"question", "first answer", "reply to first"}, liveTexts(back))

	forward, err := SwitchResponse(back, "m1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"question", "second answer"}, liveTexts(forward))
}

func TestBranching_SingleActiveInvariant(t *testing.T) {
	msgs := []*Message{
		userMsg("u1", "v0"),
		modelMsg("m1", "r0"),
	}

	var err error
	msgs, err = ForkVersion(msgs, "u1", "v1", nil)
	require.NoError(t, err)
	msgs = append(msgs, modelMsg("m2", "r-v1"))
	msgs, err = SwitchVersion(msgs, "u1", 0)
	require.NoError(t, err)
	msgs, err = ForkResponse(msgs, "m1")
	require.NoError(t, err)
	msgs, err = SwitchResponse(msgs, "m1", 0)
	require.NoError(t, err)

	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			require.GreaterOrEqual(t, m.ActiveVersionIndex, 0)
			require.Less(t, m.ActiveVersionIndex, len(m.Versions))
			require.Empty(t, m.Versions[m.ActiveVersionIndex].HistoryPayload,
				"active version must not carry a stored continuation")
		case RoleModel:
			require.GreaterOrEqual(t, m.ActiveResponseIndex, 0)
			require.Less(t, m.ActiveResponseIndex, len(m.Responses))
			require.Empty(t, m.Responses[m.ActiveResponseIndex].HistoryPayload,
				"active response must not carry a stored continuation")
		}
	}
}

func TestSwitchVersion_Errors(t *testing.T) {
	msgs := []*Message{userMsg("u1", "a"), modelMsg("m1", "b")}

	_, err := SwitchVersion(msgs, "missing", 0)
	require.ErrorIs(t, err, ErrMessageNotFound)

	_, err = SwitchVersion(msgs, "u1", 3)
	require.ErrorIs(t, err, ErrBranchIndex)

	_, err = SwitchVersion(msgs, "m1", 0)
	require.ErrorIs(t, err, ErrWrongRole)
}
