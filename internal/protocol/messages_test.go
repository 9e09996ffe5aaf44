package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","text":"hi","first_name":"Ann"}`)
	msg, err := ParseClientMessage(raw)
	require.NoError(t, err)

	um, ok := msg.(UserMessage)
	require.True(t, ok, "message type = %T", msg)
	assert.Equal(t, "hi", um.Text)
	assert.Equal(t, "Ann", um.FirstName)
}

func TestParseClientMessageRejectsEmptyText(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"user_message","text":""}`))
	assert.Error(t, err)
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ParseClientMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseClientMessageClear(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"clear_context"}`))
	require.NoError(t, err)
	typ, ok := TypeOf(msg)
	require.True(t, ok)
	assert.Equal(t, TypeClearContext, typ)
}

func TestTypeOfUnknown(t *testing.T) {
	_, ok := TypeOf(42)
	assert.False(t, ok)
}
