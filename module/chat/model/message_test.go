package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestHideKeepsOrderingMetadata(t *testing.T) {
	media := uuid.New()
	m := &Message{
		ID:             uuid.New(),
		Name:           "Alice",
		Text:           "secret",
		MediaID:        &media,
		WhisperToUsers: []uuid.UUID{uuid.New()},
		Pos:            12.5,
	}
	cp := m.Clone()
	cp.Hide()

	assert.Empty(t, cp.Text)
	assert.Nil(t, cp.MediaID)
	assert.Equal(t, 12.5, cp.Pos)
	assert.Equal(t, m.ID, cp.ID)

	assert.Equal(t, "secret", m.Text, "clone must not alias the original")
	assert.NotNil(t, m.MediaID)
}

func TestIsWhisper(t *testing.T) {
	assert.False(t, (&Message{}).IsWhisper())
	assert.True(t, (&Message{WhisperToUsers: []uuid.UUID{}}).IsWhisper())
}
