package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","action":" Commit "}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if msg.Action != ActionCommit {
		t.Fatalf("Action = %q, want %q", msg.Action, ActionCommit)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsUnknownAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_control","action":"barge_in"}`))
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("error = %v, want ErrUnsupportedAction", err)
	}
}

func TestParseClientMessageRejectsMissingActionAndGarbage(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_control"}`)); err == nil {
		t.Fatalf("missing action error = nil, want error")
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("garbage error = nil, want error")
	}
}

func TestInboundHelpers(t *testing.T) {
	if ChunkMessage([]byte{1}).IsControl() {
		t.Fatalf("chunk message reported as control")
	}
	if !ControlMessage(ActionCancel).IsControl() {
		t.Fatalf("control message not reported as control")
	}
}
