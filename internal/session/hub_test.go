package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/pipeline"
	"github.com/ent0n29/voicerelay/internal/playback"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteBinary(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) payload() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.frames, nil)
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type processCall struct {
	sessionID string
	path      string
	size      int64
}

// fakeProcessor answers every recording with a reply whose PCM is the
// recording's PCM, unless fail returns an error for that call.
type fakeProcessor struct {
	dir     string
	mu      sync.Mutex
	calls   []processCall
	fail    func(call int) error
	block   chan struct{}
	started chan string
}

func (p *fakeProcessor) Process(ctx context.Context, sessionID, recordingPath string) (string, error) {
	info, err := os.Stat(recordingPath)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.calls = append(p.calls, processCall{sessionID: sessionID, path: recordingPath, size: info.Size()})
	n := len(p.calls)
	p.mu.Unlock()

	if p.started != nil {
		p.started <- recordingPath
	}
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.fail != nil {
		if err := p.fail(n); err != nil {
			return "", err
		}
	}

	_, pcm, err := audio.ReadWAVFile(recordingPath)
	if err != nil {
		return "", err
	}
	out := filepath.Join(p.dir, fmt.Sprintf("reply-%d.wav", n))
	if err := audio.WriteWAVPCM16LEFile(out, pcm, 44100); err != nil {
		return "", err
	}
	return out, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProcessor) call(i int) processCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[i]
}

type harness struct {
	hub      *Hub
	sessions *Manager
	proc     *fakeProcessor
	conn     *fakeConn
	sess     *Session
	inbound  chan protocol.Inbound
	runErr   chan error
	recDir   string
}

func newHarness(t *testing.T, idle time.Duration) *harness {
	t.Helper()
	recDir := t.TempDir()
	metrics := observability.NewMetrics(fmt.Sprintf("test_session_%d", time.Now().UnixNano()))
	sessions := NewManager(time.Minute)
	proc := &fakeProcessor{dir: t.TempDir()}
	hub := NewHub(Config{
		IdleTimeout:     idle,
		RecordingsDir:   recDir,
		PipelineTimeout: 5 * time.Second,
	}, sessions, proc, playback.NewStreamer(playback.DefaultFrameSize), metrics)

	h := &harness{
		hub:      hub,
		sessions: sessions,
		proc:     proc,
		conn:     &fakeConn{},
		sess:     sessions.Create("test"),
		inbound:  make(chan protocol.Inbound),
		runErr:   make(chan error, 1),
		recDir:   recDir,
	}
	go func() {
		h.runErr <- hub.RunConnection(context.Background(), h.sess, h.inbound, h.conn)
	}()
	t.Cleanup(func() {
		hub.Close()
		hub.Wait()
	})
	return h
}

func (h *harness) send(chunk []byte) {
	h.inbound <- protocol.ChunkMessage(chunk)
}

func (h *harness) control(action string) {
	h.inbound <- protocol.ControlMessage(action)
}

// hangUp closes inbound and waits for the loop and every worker to exit.
func (h *harness) hangUp(t *testing.T) {
	t.Helper()
	close(h.inbound)
	select {
	case err := <-h.runErr:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunConnection did not return")
	}
	h.hub.Wait()
}

func (h *harness) recordings(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.recDir, "recording-*.wav"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	return matches
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func chunk(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%31)
	}
	return b
}

func TestHubFinalizesAfterQuietInterval(t *testing.T) {
	h := newHarness(t, 500*time.Millisecond)

	var want []byte
	for i := 0; i < 3; i++ {
		c := chunk(512, byte(i*40))
		want = append(want, c...)
		h.send(c)
		time.Sleep(100 * time.Millisecond)
	}

	if h.proc.callCount() != 0 {
		t.Fatalf("pipeline ran before the quiet interval elapsed")
	}

	waitFor(t, 2*time.Second, "reply frames", func() bool {
		return len(h.conn.payload()) == len(want)
	})

	if got := h.proc.callCount(); got != 1 {
		t.Fatalf("pipeline calls = %d, want 1", got)
	}
	call := h.proc.call(0)
	if call.size != int64(1536+audio.WAVHeaderSize) {
		t.Fatalf("recording size = %d, want %d", call.size, 1536+audio.WAVHeaderSize)
	}
	if call.sessionID != h.sess.ID {
		t.Fatalf("session id = %q, want %q", call.sessionID, h.sess.ID)
	}
	if !bytes.Equal(h.conn.payload(), want) {
		t.Fatalf("streamed payload does not match recorded chunks")
	}
	if got := h.conn.frameCount(); got != 2 {
		t.Fatalf("frames = %d, want 2", got)
	}
	if recs := h.recordings(t); len(recs) != 1 {
		t.Fatalf("recordings = %v, want exactly one", recs)
	}

	sess, _ := h.sessions.Get(h.sess.ID)
	if sess.Utterances != 1 || sess.Replies != 1 || sess.Recording {
		t.Fatalf("session counters = %+v", sess)
	}

	h.hangUp(t)
}

func TestHubChunksInsideQuietIntervalExtendUtterance(t *testing.T) {
	h := newHarness(t, 120*time.Millisecond)

	for i := 0; i < 6; i++ {
		h.send(chunk(256, byte(i)))
		time.Sleep(40 * time.Millisecond)
	}
	waitFor(t, 2*time.Second, "one pipeline call", func() bool {
		return h.proc.callCount() == 1
	})
	time.Sleep(200 * time.Millisecond)
	if got := h.proc.callCount(); got != 1 {
		t.Fatalf("pipeline calls = %d, want 1", got)
	}
	if size := h.proc.call(0).size; size != int64(6*256+audio.WAVHeaderSize) {
		t.Fatalf("recording size = %d", size)
	}
	h.hangUp(t)
}

func TestHubDisconnectBeforeQuietIntervalFinalizesFile(t *testing.T) {
	h := newHarness(t, 500*time.Millisecond)

	h.send(chunk(512, 1))
	h.send(chunk(512, 2))
	h.hangUp(t)

	time.Sleep(600 * time.Millisecond)
	if got := h.proc.callCount(); got != 0 {
		t.Fatalf("pipeline calls = %d, want 0", got)
	}

	recs := h.recordings(t)
	if len(recs) != 1 {
		t.Fatalf("recordings = %v, want one", recs)
	}
	_, pcm, err := audio.ReadWAVFile(recs[0])
	if err != nil {
		t.Fatalf("ReadWAVFile() error = %v", err)
	}
	if len(pcm) != 1024 {
		t.Fatalf("data len = %d, want 1024", len(pcm))
	}
	info, _ := os.Stat(recs[0])
	if info.Size() != 1024+audio.WAVHeaderSize {
		t.Fatalf("file size = %d", info.Size())
	}
}

func TestHubSynthesisFailureSendsNothingAndAllowsNextUtterance(t *testing.T) {
	h := newHarness(t, 80*time.Millisecond)
	h.proc.fail = func(call int) error {
		if call == 1 {
			return &pipeline.Failure{Kind: pipeline.KindSynthesis, Stage: pipeline.StageSynthesize, Cause: errors.New("tts down")}
		}
		return nil
	}

	h.send(chunk(700, 3))
	waitFor(t, 2*time.Second, "first pipeline call", func() bool {
		return h.proc.callCount() == 1
	})
	time.Sleep(50 * time.Millisecond)
	if got := h.conn.frameCount(); got != 0 {
		t.Fatalf("frames after failure = %d, want 0", got)
	}

	second := chunk(300, 9)
	h.send(second)
	waitFor(t, 2*time.Second, "second reply", func() bool {
		return len(h.conn.payload()) == len(second)
	})
	if h.proc.call(0).path == h.proc.call(1).path {
		t.Fatalf("second utterance reused the first recording")
	}
	if !bytes.Equal(h.conn.payload(), second) {
		t.Fatalf("unexpected payload after recovery")
	}
	h.hangUp(t)
}

func TestHubRepliesInUtteranceOrder(t *testing.T) {
	h := newHarness(t, 60*time.Millisecond)
	h.proc.block = make(chan struct{})
	h.proc.started = make(chan string, 4)

	first := chunk(100, 10)
	second := chunk(200, 20)

	h.send(first)
	<-h.proc.started
	h.send(second)
	time.Sleep(150 * time.Millisecond)

	if got := h.proc.callCount(); got != 1 {
		t.Fatalf("second utterance started while first was in flight: calls=%d", got)
	}

	close(h.proc.block)
	waitFor(t, 2*time.Second, "both replies", func() bool {
		return len(h.conn.payload()) == len(first)+len(second)
	})
	want := append(append([]byte{}, first...), second...)
	if !bytes.Equal(h.conn.payload(), want) {
		t.Fatalf("replies arrived out of order")
	}
	h.hangUp(t)
}

func TestHubCommitFinalizesImmediately(t *testing.T) {
	h := newHarness(t, 10*time.Second)

	h.send(chunk(400, 5))
	h.control(protocol.ActionCommit)
	waitFor(t, time.Second, "committed reply", func() bool {
		return len(h.conn.payload()) == 400
	})
	if got := h.proc.callCount(); got != 1 {
		t.Fatalf("pipeline calls = %d, want 1", got)
	}

	// A commit with nothing recorded is a no-op.
	h.control(protocol.ActionCommit)
	time.Sleep(30 * time.Millisecond)
	if got := h.proc.callCount(); got != 1 {
		t.Fatalf("pipeline calls after empty commit = %d, want 1", got)
	}
	h.hangUp(t)
}

func TestHubCancelDiscardsRecording(t *testing.T) {
	h := newHarness(t, 80*time.Millisecond)

	h.send(chunk(400, 5))
	h.control(protocol.ActionCancel)
	time.Sleep(200 * time.Millisecond)

	if got := h.proc.callCount(); got != 0 {
		t.Fatalf("pipeline calls = %d, want 0", got)
	}
	if recs := h.recordings(t); len(recs) != 0 {
		t.Fatalf("recordings after cancel = %v", recs)
	}

	h.send(chunk(128, 7))
	waitFor(t, 2*time.Second, "reply after cancel", func() bool {
		return len(h.conn.payload()) == 128
	})
	h.hangUp(t)
}

func TestHubSkipsStreamingWhenClientGone(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.proc.block = make(chan struct{})
	h.proc.started = make(chan string, 1)

	h.send(chunk(2048, 1))
	<-h.proc.started
	h.conn.close()
	close(h.inbound)
	if err := <-h.runErr; err != nil {
		t.Fatalf("RunConnection() error = %v", err)
	}
	close(h.proc.block)

	h.hub.Wait()
	if got := h.conn.frameCount(); got != 0 {
		t.Fatalf("frames sent to closed client = %d", got)
	}
}

func TestHubCloseEndsConnectionAndKeepsRecording(t *testing.T) {
	h := newHarness(t, 10*time.Second)
	h.send(chunk(2048, 1))

	h.hub.Close()
	select {
	case err := <-h.runErr:
		if !errors.Is(err, ErrHubClosed) {
			t.Fatalf("RunConnection() error = %v, want ErrHubClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunConnection did not return after Close")
	}
	h.hub.Wait()

	recs := h.recordings(t)
	if len(recs) != 1 {
		t.Fatalf("recordings = %v", recs)
	}
	info, err := os.Stat(recs[0])
	if err != nil || info.Size() != int64(2048+audio.WAVHeaderSize) {
		t.Fatalf("recording stat = %v, %v", info, err)
	}
	if h.proc.callCount() != 0 {
		t.Fatalf("processor calls = %d, want 0", h.proc.callCount())
	}
}
