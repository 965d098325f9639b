package memory

import (
	"context"
	"time"

	"github.com/ent0n29/voicerelay/internal/pipeline"
)

// Recorder writes each completed pipeline turn to a Store as a user record
// followed by an assistant record.
type Recorder struct {
	store  Store
	redact bool
}

// NewRecorder returns a Recorder. With redact set, PII is masked before the
// text reaches the store.
func NewRecorder(store Store, redact bool) *Recorder {
	return &Recorder{store: store, redact: redact}
}

func (r *Recorder) RecordTurn(ctx context.Context, turn pipeline.Turn) error {
	now := time.Now().UTC()
	if err := r.store.SaveTurn(ctx, r.record(turn, RoleUser, turn.UserText, now)); err != nil {
		return err
	}
	return r.store.SaveTurn(ctx, r.record(turn, RoleAssistant, turn.ReplyText, now.Add(time.Microsecond)))
}

func (r *Recorder) record(turn pipeline.Turn, role, content string, at time.Time) TurnRecord {
	rec := TurnRecord{
		SessionID: turn.SessionID,
		Utterance: turn.Utterance,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
	if r.redact {
		rec.Content, rec.Redacted = Redact(content)
	}
	return rec
}
