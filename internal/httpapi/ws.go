package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

var ErrConnClosed = errors.New("websocket connection closed")

// wsConn is the write side of an upgraded connection. gorilla allows one
// concurrent writer, so data frames are serialized under mu. Control frames
// go through WriteControl, which is safe alongside them.
type wsConn struct {
	conn         *websocket.Conn
	metrics      *observability.Metrics
	writeTimeout time.Duration

	mu     sync.Mutex
	closed atomic.Bool
}

func (c *wsConn) WriteBinary(frame []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.closed.Store(true)
		c.metrics.WSWriteErrors.WithLabelValues("write").Inc()
		return err
	}
	c.metrics.WSMessages.WithLabelValues("outbound", "frame").Inc()
	return nil
}

func (c *wsConn) Closed() bool {
	return c.closed.Load()
}

// shutdown tells the client the server is going away and closes the socket,
// which ends the read loop of its handler.
func (c *wsConn) shutdown() {
	c.closed.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	_ = c.conn.Close()
}

func (c *wsConn) ping() error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
	if err != nil {
		c.closed.Store(true)
		c.metrics.WSWriteErrors.WithLabelValues("ping").Inc()
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.metrics.WSWriteErrors.WithLabelValues("upgrade").Inc()
		log.Printf("websocket upgrade failed remote=%s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	wc := &wsConn{conn: conn, metrics: s.metrics, writeTimeout: s.writeTimeout()}
	if !s.track(wc) {
		log.Printf("websocket refused remote=%s: server shutting down", r.RemoteAddr)
		wc.shutdown()
		return
	}
	defer s.untrack(wc)

	sess := s.sessions.Create(r.RemoteAddr)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("connected").Inc()
	log.Printf("session=%s connected remote=%s", sess.ID, r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.Inbound, 64)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		// A relay that stops on its own ends the read loop at its next message.
		defer cancel()
		if err := s.relay.RunConnection(ctx, sess, inbound, wc); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("session=%s relay stopped: %v", sess.ID, err)
		}
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		s.pingLoop(ctx, wc, cancel)
	}()

	readTimeout := s.readTimeout()
	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !wc.Closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.metrics.WSWriteErrors.WithLabelValues("read").Inc()
				log.Printf("session=%s websocket read ended: %v", sess.ID, err)
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg protocol.Inbound
		switch msgType {
		case websocket.BinaryMessage:
			s.metrics.WSMessages.WithLabelValues("inbound", "chunk").Inc()
			msg = protocol.ChunkMessage(data)
		case websocket.TextMessage:
			ctrl, err := protocol.ParseClientMessage(data)
			if err != nil {
				s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
				log.Printf("session=%s ignoring text message: %v", sess.ID, err)
				continue
			}
			s.metrics.WSMessages.WithLabelValues("inbound", "control").Inc()
			msg = protocol.ControlMessage(ctrl.Action)
		default:
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- msg:
		}
	}

	// Mark closed first so replies still in flight are dropped, not written.
	wc.closed.Store(true)
	cancel()
	close(inbound)
	<-runDone
	<-pingDone

	if _, err := s.sessions.End(sess.ID); err != nil {
		log.Printf("session=%s end failed: %v", sess.ID, err)
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	log.Printf("session=%s disconnected", sess.ID)
}

func (s *Server) track(wc *wsConn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.draining {
		return false
	}
	s.conns[wc] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(wc *wsConn) {
	s.connMu.Lock()
	delete(s.conns, wc)
	s.connMu.Unlock()
	s.handlers.Done()
}

// CloseConnections closes every live websocket with a going-away frame and
// waits for their handlers to finish. http.Server.Shutdown does not see
// hijacked connections, so call this after it. Later upgrades are refused.
func (s *Server) CloseConnections() {
	s.connMu.Lock()
	s.draining = true
	live := make([]*wsConn, 0, len(s.conns))
	for wc := range s.conns {
		live = append(live, wc)
	}
	s.connMu.Unlock()

	for _, wc := range live {
		wc.shutdown()
	}
	s.handlers.Wait()
}

func (s *Server) pingLoop(ctx context.Context, wc *wsConn, cancel context.CancelFunc) {
	interval := s.cfg.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				cancel()
				// Unblock the read loop.
				_ = wc.conn.Close()
				return
			}
		}
	}
}

func (s *Server) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return 10 * time.Second
}

func (s *Server) readTimeout() time.Duration {
	if s.cfg.PingInterval > 0 {
		return 3 * s.cfg.PingInterval
	}
	return 120 * time.Second
}
