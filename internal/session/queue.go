package session

import "sync"

// utteranceQueue is an unbounded FIFO of finalized recording paths shared by
// the connection loop and its reply worker.
type utteranceQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	wake   chan struct{}
}

func newUtteranceQueue() *utteranceQueue {
	return &utteranceQueue{wake: make(chan struct{}, 1)}
}

func (q *utteranceQueue) push(path string) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, path)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *utteranceQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// next blocks until an item is available or the queue is closed.
func (q *utteranceQueue) next() (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			path := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return path, true
		}
		if q.closed {
			q.mu.Unlock()
			return "", false
		}
		q.mu.Unlock()
		<-q.wake
	}
}

// close stops the queue and drops items nobody has started on.
func (q *utteranceQueue) close() int {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	q.closed = true
	q.mu.Unlock()
	q.signal()
	return dropped
}

func (q *utteranceQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
