package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoChat/core"
)

func newSessionStore(t *testing.T) *FileSessionStore {
	s, err := NewFileSessionStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func msg(role, content string) core.Message {
	return core.Message{ID: core.NewID(), Role: role, Content: content, Timestamp: time.Now()}
}

func TestSessionStoreGetMissingIsEmpty(t *testing.T) {
	s := newSessionStore(t)
	sess, err := s.Get("vid1", "default")
	require.NoError(t, err)
	assert.Equal(t, "vid1", sess.VideoID)
	assert.Equal(t, "default", sess.SessionID)
	assert.Empty(t, sess.Messages)
	assert.Zero(t, sess.LastReferenced)
}

func TestSessionStoreAppendPreservesOrder(t *testing.T) {
	s := newSessionStore(t)
	_, err := s.Append("vid1", "default", 12.5,
		msg(core.RoleUser, "what happens at the start?"),
		msg(core.RoleAssistant, "A person opens a door [00:12]."))
	require.NoError(t, err)
	_, err = s.Append("vid1", "default", 42.0,
		msg(core.RoleUser, "and later?"),
		msg(core.RoleAssistant, "They walk outside [00:42]."))
	require.NoError(t, err)

	sess, err := s.Get("vid1", "default")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, core.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "what happens at the start?", sess.Messages[0].Content)
	assert.Equal(t, "They walk outside [00:42].", sess.Messages[3].Content)
	assert.Equal(t, 42.0, sess.LastReferenced)
}

func TestSessionStoreSessionsAreIsolated(t *testing.T) {
	s := newSessionStore(t)
	_, err := s.Append("vid1", "alpha", 0, msg(core.RoleUser, "hi"))
	require.NoError(t, err)
	_, err = s.Append("vid1", "beta", 0, msg(core.RoleUser, "hello"))
	require.NoError(t, err)

	a, err := s.Get("vid1", "alpha")
	require.NoError(t, err)
	b, err := s.Get("vid1", "beta")
	require.NoError(t, err)
	require.Len(t, a.Messages, 1)
	require.Len(t, b.Messages, 1)
	assert.Equal(t, "hi", a.Messages[0].Content)
	assert.Equal(t, "hello", b.Messages[0].Content)
}

func TestSessionStoreClear(t *testing.T) {
	s := newSessionStore(t)
	_, err := s.Append("vid1", "default", 0, msg(core.RoleUser, "hi"))
	require.NoError(t, err)

	require.NoError(t, s.Clear("vid1", "default"))
	require.NoError(t, s.Clear("vid1", "default"))

	sess, err := s.Get("vid1", "default")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
}

func TestSessionStoreDeleteVideoRemovesAllSessions(t *testing.T) {
	s := newSessionStore(t)
	_, err := s.Append("vid1", "alpha", 0, msg(core.RoleUser, "hi"))
	require.NoError(t, err)
	_, err = s.Append("vid1", "beta", 0, msg(core.RoleUser, "hello"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteVideo("vid1"))

	a, err := s.Get("vid1", "alpha")
	require.NoError(t, err)
	b, err := s.Get("vid1", "beta")
	require.NoError(t, err)
	assert.Empty(t, a.Messages)
	assert.Empty(t, b.Messages)
}
