package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/backenderr"
	"github.com/go-go-golems/marionette/pkg/history"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSessionRoundTripPreservesBranching(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	user := history.NewUserMessage("original", nil)
	model := history.NewModelPlaceholder()
	model.IsThinking = false
	model.Responses[0].Text = "first answer"

	// a second user version with the old continuation snapshotted away
	user.Versions = append(user.Versions, history.MessageVersion{
		Text:      "edited",
		CreatedAt: time.Now(),
	})
	user.Versions[0].HistoryPayload = []*history.Message{model}
	user.ActiveVersionIndex = 1

	sess := &history.ChatSession{
		ID:        "s1",
		Title:     "Branchy",
		Model:     "default",
		Settings:  history.GenerationSettings{AgentMode: true, Temperature: 0.7},
		CreatedAt: time.Now(),
		Messages:  []*history.Message{user},
	}
	_, err := s.CreateSession(ctx, sess)
	require.NoError(t, err)

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Branchy", got.Title)
	assert.True(t, got.Settings.AgentMode)
	require.Len(t, got.Messages, 1)

	m := got.Messages[0]
	require.Len(t, m.Versions, 2)
	assert.Equal(t, 1, m.ActiveVersionIndex)
	assert.Equal(t, "edited", m.ActiveText())
	require.Len(t, m.Versions[0].HistoryPayload, 1)
	assert.Equal(t, "first answer", m.Versions[0].HistoryPayload[0].ActiveText())
}

func TestSaveMessagesReplacesTree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, &history.ChatSession{ID: "s1", CreatedAt: time.Now()})
	require.NoError(t, err)

	first := []*history.Message{history.NewUserMessage("one", nil)}
	require.NoError(t, s.SaveMessages(ctx, "s1", first))

	second := append(first, history.NewUserMessage("two", nil))
	require.NoError(t, s.SaveMessages(ctx, "s1", second))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "two", got.Messages[1].ActiveText())

	err = s.SaveMessages(ctx, "missing", first)
	require.ErrorIs(t, err, backenderr.ErrNotFound)
}

func TestListSessionsReturnsSummariesNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := &history.ChatSession{
		ID:        "old",
		Title:     "Old",
		CreatedAt: time.Now().Add(-time.Hour),
		Messages:  []*history.Message{history.NewUserMessage("hi", nil)},
	}
	newer := &history.ChatSession{ID: "new", Title: "New", CreatedAt: time.Now()}
	_, err := s.CreateSession(ctx, older)
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, newer)
	require.NoError(t, err)

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
	// summaries carry no message tree until hydration
	assert.Nil(t, list[0].Messages)
	assert.Nil(t, list[1].Messages)
}

func TestMissingSessionsReportNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx, "ghost")
	require.ErrorIs(t, err, backenderr.ErrNotFound)

	require.ErrorIs(t, s.DeleteSession(ctx, "ghost"), backenderr.ErrNotFound)
	require.ErrorIs(t, s.UpdateSession(ctx, &history.ChatSession{ID: "ghost"}), backenderr.ErrNotFound)
}

func TestUpdateSessionPersistsProperties(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := &history.ChatSession{ID: "s1", Title: "Untitled", CreatedAt: time.Now()}
	_, err := s.CreateSession(ctx, sess)
	require.NoError(t, err)

	sess.Title = "Renamed"
	sess.Model = "fast"
	sess.Settings.Temperature = 1.2
	require.NoError(t, s.UpdateSession(ctx, sess))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "fast", got.Model)
	assert.InDelta(t, 1.2, got.Settings.Temperature, 1e-9)
}
