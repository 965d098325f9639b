// Package protocol describes what travels over a relay WebSocket.
//
// Binary messages carry raw audio: client chunks inbound, reply frames
// outbound. Text messages are optional JSON control envelopes from the client.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies text payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
)

// Control actions a client may send as text.
const (
	// ActionCommit ends the current utterance now instead of waiting for silence.
	ActionCommit = "commit"
	// ActionCancel discards the utterance being recorded.
	ActionCancel = "cancel"
)

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrUnsupportedAction = errors.New("unsupported control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// Inbound is one message handed from the transport to a session. Exactly one
// of Chunk or Control is set.
type Inbound struct {
	Chunk   []byte
	Control string
}

// ChunkMessage wraps a binary audio message.
func ChunkMessage(b []byte) Inbound { return Inbound{Chunk: b} }

// ControlMessage wraps a validated control action.
func ControlMessage(action string) Inbound { return Inbound{Control: action} }

func (m Inbound) IsControl() bool { return m.Control != "" }

// ParseClientMessage decodes a text message into a ClientControl.
func ParseClientMessage(raw []byte) (ClientControl, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientControl{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ClientControl{}, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		switch msg.Action {
		case ActionCommit, ActionCancel:
			return msg, nil
		case "":
			return ClientControl{}, errors.New("invalid client_control: missing action")
		default:
			return ClientControl{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, msg.Action)
		}
	default:
		return ClientControl{}, ErrUnsupportedType
	}
}
