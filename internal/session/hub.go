package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/endpoint"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/playback"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/google/uuid"
)

// ErrHubClosed is returned by RunConnection once Close has been called.
var ErrHubClosed = errors.New("relay hub closed")

// Processor turns a finalized recording into a streamable reply file.
type Processor interface {
	Process(ctx context.Context, sessionID, recordingPath string) (string, error)
}

// Streamer delivers a reply file to a connection.
type Streamer interface {
	Stream(ctx context.Context, dst playback.FrameSink, path string) (playback.Stats, error)
}

// Conn is the outbound half of a client connection.
type Conn interface {
	playback.FrameSink
}

type Config struct {
	IdleTimeout     time.Duration
	RecordingsDir   string
	Format          audio.Format
	PipelineTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = endpoint.DefaultQuietInterval
	}
	if c.RecordingsDir == "" {
		c.RecordingsDir = "recordings"
	}
	if c.Format == (audio.Format{}) {
		c.Format = audio.CanonicalFormat
	}
	if c.PipelineTimeout <= 0 {
		c.PipelineTimeout = 2 * time.Minute
	}
	return c
}

// Hub runs the audio lifecycle of every connection: recording, idle
// detection, the reply pipeline and playback.
type Hub struct {
	cfg       Config
	sessions  *Manager
	processor Processor
	streamer  Streamer
	metrics   *observability.Metrics

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	newRecordingName func() string
}

func NewHub(cfg Config, sessions *Manager, processor Processor, streamer Streamer, metrics *observability.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:              cfg.withDefaults(),
		sessions:         sessions,
		processor:        processor,
		streamer:         streamer,
		metrics:          metrics,
		baseCtx:          ctx,
		cancel:           cancel,
		newRecordingName: recordingName,
	}
}

// RunConnection drives one connection until inbound is closed or ctx is done.
// Replies that are still being generated when the connection goes away are
// finished in the background and dropped; use Wait to join them.
func (h *Hub) RunConnection(ctx context.Context, sess *Session, inbound <-chan protocol.Inbound, conn Conn) error {
	c := newConnection(h, sess, conn)
	h.wg.Add(1)
	go c.work()
	defer c.disconnect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.baseCtx.Done():
			return ErrHubClosed
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if msg.IsControl() {
				c.handleControl(msg.Control)
				continue
			}
			c.handleChunk(msg.Chunk)
		case seq := <-c.idle:
			c.handleIdle(seq)
		}
	}
}

// Wait blocks until every reply worker has exited.
func (h *Hub) Wait() {
	h.wg.Wait()
}

// Close aborts in-flight pipeline runs and ends every RunConnection call.
func (h *Hub) Close() {
	h.cancel()
}

func recordingName() string {
	return fmt.Sprintf("recording-%d-%s.wav", time.Now().UnixMilli(), uuid.NewString()[:8])
}
