package session

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/endpoint"
	"github.com/ent0n29/voicerelay/internal/pipeline"
	"github.com/ent0n29/voicerelay/internal/playback"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

const (
	triggerSilence    = "silence"
	triggerCommit     = "commit"
	triggerDisconnect = "disconnect"
)

// connection holds the recording state of one client. Everything except the
// queue is owned by the RunConnection loop.
type connection struct {
	hub  *Hub
	sess *Session
	conn Conn

	sink    *audio.Sink
	timer   endpoint.Timer
	idleSeq uint64
	idle    chan uint64
	done    chan struct{}
	queue   *utteranceQueue
}

func newConnection(h *Hub, sess *Session, conn Conn) *connection {
	return &connection{
		hub:   h,
		sess:  sess,
		conn:  conn,
		idle:  make(chan uint64),
		done:  make(chan struct{}),
		queue: newUtteranceQueue(),
	}
}

func (c *connection) handleChunk(chunk []byte) {
	h := c.hub
	if c.sink == nil {
		sink, err := audio.OpenSink(h.cfg.RecordingsDir, h.newRecordingName(), h.cfg.Format)
		if err != nil {
			log.Printf("session=%s open recording failed: %v", c.sess.ID, err)
			return
		}
		c.sink = sink
		_ = h.sessions.SetRecording(c.sess.ID, true)
		log.Printf("session=%s recording started path=%s", c.sess.ID, sink.Path())
	}

	if err := c.sink.Append(chunk); err != nil {
		log.Printf("session=%s append chunk failed: %v", c.sess.ID, err)
	} else {
		h.metrics.ChunkBytes.Add(float64(len(chunk)))
	}
	_ = h.sessions.Touch(c.sess.ID)
	c.armIdle()
}

func (c *connection) armIdle() {
	c.idleSeq++
	seq := c.idleSeq
	done := c.done
	idle := c.idle
	c.timer.Arm(c.hub.cfg.IdleTimeout, func() {
		select {
		case idle <- seq:
		case <-done:
		}
	})
}

// disarmIdle stops the timer and invalidates any fire already in flight.
func (c *connection) disarmIdle() {
	c.timer.Stop()
	c.idleSeq++
}

func (c *connection) handleIdle(seq uint64) {
	if seq != c.idleSeq {
		return
	}
	c.finalize(triggerSilence)
}

func (c *connection) handleControl(action string) {
	switch action {
	case protocol.ActionCommit:
		c.disarmIdle()
		c.finalize(triggerCommit)
	case protocol.ActionCancel:
		c.disarmIdle()
		c.discard()
	default:
		log.Printf("session=%s ignoring control action %q", c.sess.ID, action)
	}
}

// finalize closes the current recording and queues it for a reply.
func (c *connection) finalize(trigger string) {
	path, ok := c.closeSink(trigger)
	if !ok {
		return
	}
	if !c.queue.push(path) {
		return
	}
	_ = c.hub.sessions.RecordUtterance(c.sess.ID)
	log.Printf("session=%s utterance finalized trigger=%s path=%s pending=%d", c.sess.ID, trigger, path, c.queue.len())
}

func (c *connection) discard() {
	if c.sink == nil {
		return
	}
	path, err := c.sink.Close()
	c.sink = nil
	_ = c.hub.sessions.SetRecording(c.sess.ID, false)
	if err != nil {
		log.Printf("session=%s close canceled recording failed: %v", c.sess.ID, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("session=%s remove canceled recording failed: %v", c.sess.ID, err)
	}
	log.Printf("session=%s recording canceled", c.sess.ID)
}

func (c *connection) closeSink(trigger string) (string, bool) {
	if c.sink == nil {
		return "", false
	}
	path, err := c.sink.Close()
	c.sink = nil
	_ = c.hub.sessions.SetRecording(c.sess.ID, false)
	if err != nil {
		log.Printf("session=%s finalize recording failed: %v", c.sess.ID, err)
		return "", false
	}
	c.hub.metrics.UtterancesFinalized.WithLabelValues(trigger).Inc()
	return path, true
}

func (c *connection) disconnect() {
	close(c.done)
	c.disarmIdle()
	if path, ok := c.closeSink(triggerDisconnect); ok {
		log.Printf("session=%s recording closed on disconnect path=%s", c.sess.ID, path)
	}
	if dropped := c.queue.close(); dropped > 0 {
		log.Printf("session=%s dropped %d pending utterances on disconnect", c.sess.ID, dropped)
	}
}

// work processes finalized recordings one at a time, so replies reach the
// client in the order the utterances ended.
func (c *connection) work() {
	defer c.hub.wg.Done()
	for {
		path, ok := c.queue.next()
		if !ok {
			return
		}
		c.reply(path)
	}
}

func (c *connection) reply(recordingPath string) {
	h := c.hub
	ctx, cancel := context.WithTimeout(h.baseCtx, h.cfg.PipelineTimeout)
	defer cancel()

	started := time.Now()
	replyPath, err := h.processor.Process(ctx, c.sess.ID, recordingPath)
	if err != nil {
		kind := "unknown"
		if k, ok := pipeline.KindOf(err); ok {
			kind = string(k)
		}
		h.metrics.ObserveFailure(kind)
		log.Printf("session=%s pipeline failed kind=%s: %v", c.sess.ID, kind, err)
		return
	}
	h.metrics.ObserveUtterance(time.Since(started))

	if c.conn.Closed() {
		h.metrics.StreamOutcomes.WithLabelValues("skipped").Inc()
		log.Printf("session=%s client gone, reply not sent path=%s", c.sess.ID, replyPath)
		return
	}

	stats, err := h.streamer.Stream(ctx, c.conn, replyPath)
	h.metrics.FramesStreamed.Add(float64(stats.Frames))
	switch {
	case err == nil:
		h.metrics.StreamOutcomes.WithLabelValues("completed").Inc()
		_ = h.sessions.RecordReply(c.sess.ID)
		log.Printf("session=%s reply streamed frames=%d bytes=%d", c.sess.ID, stats.Frames, stats.Bytes)
	case errors.Is(err, playback.ErrSinkGone):
		h.metrics.StreamOutcomes.WithLabelValues("client_gone").Inc()
		log.Printf("session=%s client left during playback frames=%d", c.sess.ID, stats.Frames)
	default:
		h.metrics.StreamOutcomes.WithLabelValues("failed").Inc()
		log.Printf("session=%s reply stream failed after %d frames: %v", c.sess.ID, stats.Frames, err)
	}
}
