package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("127.0.0.1:5000")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RemoteAddr != "127.0.0.1:5000" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndedAt.IsZero() {
		t.Fatalf("ended session = %+v", ended)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerCountersAndUnknownSession(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("")
	_ = m.SetRecording(s.ID, true)
	_ = m.RecordUtterance(s.ID)
	_ = m.RecordUtterance(s.ID)
	_ = m.RecordReply(s.ID)

	got, _ := m.Get(s.ID)
	if !got.Recording || got.Utterances != 2 || got.Replies != 1 {
		t.Fatalf("unexpected counters: %+v", got)
	}

	if err := m.Touch("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Touch(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := m.End("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("End(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerListNewestFirst(t *testing.T) {
	m := NewManager(time.Minute)
	first := m.Create("a")
	time.Sleep(2 * time.Millisecond)
	second := m.Create("b")

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("List() order = %s,%s", list[0].ID, list[1].ID)
	}
}

func TestManagerJanitorPurgesEnded(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	var purged atomic.Int32
	m.SetExpireHook(func(*Session) { purged.Add(1) })

	live := m.Create("live")
	gone := m.Create("gone")
	if _, err := m.End(gone.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	if _, err := m.Get(gone.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(ended) error = %v, want ErrNotFound", err)
	}
	if _, err := m.Get(live.ID); err != nil {
		t.Fatalf("Get(live) error = %v", err)
	}
	if purged.Load() != 1 {
		t.Fatalf("purged = %d, want 1", purged.Load())
	}
}
