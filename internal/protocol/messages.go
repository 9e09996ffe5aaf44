// Package protocol defines the JSON frames exchanged on the chat websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage    MessageType = "user_message"
	TypeClearContext   MessageType = "clear_context"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// UserMessage carries one user turn plus the optional display fields.
type UserMessage struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	Username  string      `json:"username,omitempty"`
	FirstName string      `json:"first_name,omitempty"`
	LastName  string      `json:"last_name,omitempty"`
}

type ClearContext struct {
	Type MessageType `json:"type"`
}

type AssistantReply struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connection_id"`
	Text         string      `json:"text"`
	Command      string      `json:"command,omitempty"`
}

type SystemEvent struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connection_id"`
	Code         string      `json:"code"`
	Detail       string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connection_id"`
	Code         string      `json:"code"`
	Retryable    bool        `json:"retryable"`
	Detail       string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid user_message: text is required")
		}
		return msg, nil
	case TypeClearContext:
		return ClearContext{Type: TypeClearContext}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the frame type of a known message value.
func TypeOf(msg any) (MessageType, bool) {
	switch m := msg.(type) {
	case UserMessage:
		return m.Type, true
	case ClearContext:
		return m.Type, true
	case AssistantReply:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
