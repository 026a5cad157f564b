package piping

import (
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// verdict tells a participant's blocked handler goroutine how to end.
type verdict int

const (
	// verdictFinish ends the response cleanly.
	verdictFinish = verdict(0)
	// verdictAbort destroys the underlying connection.
	verdictAbort = verdict(1)
)

// participant wraps one side of a rendezvous: the live request/response pair
// of a sender or receiver, a revocable close-watcher and the channel its
// handler goroutine blocks on until the rendezvous or transfer releases it.
type participant struct {
	w        http.ResponseWriter
	req      *http.Request
	flusher  http.Flusher  // nil if the ResponseWriter can't flush
	lines    *lineWriter   // progress line writer, senders only
	released chan verdict  // buffered; receives the final verdict exactly once
	revokeCh chan struct{} // closed by revoke()
	revoked  int32         // nonzero once revoke() has run
	done     int32         // nonzero once release() has run
}

func newParticipant(w http.ResponseWriter, req *http.Request) *participant {
	p := &participant{
		w:        w,
		req:      req,
		released: make(chan verdict, 1),
		revokeCh: make(chan struct{}),
	}
	p.flusher, _ = w.(http.Flusher)
	return p
}

// watch installs the close-watcher: onClose runs if the participant's
// connection goes away before revoke() is called. Single-shot.
func (p *participant) watch(onClose func()) {
	go func() {
		select {
		case <-p.req.Context().Done():
			onClose()
		case <-p.revokeCh:
		}
	}()
}

// revoke cancels the close-watcher. Idempotent; called under the registry
// lock before any transfer I/O begins so that later close events reach the
// transfer engine instead of the rendezvous state.
func (p *participant) revoke() {
	if atomic.CompareAndSwapInt32(&p.revoked, 0, 1) {
		close(p.revokeCh)
	}
}

// release delivers the final verdict to the blocked handler goroutine.
// Only the first call has effect.
func (p *participant) release(v verdict) {
	if atomic.CompareAndSwapInt32(&p.done, 0, 1) {
		p.released <- v
	}
}

// wait blocks until released, then either returns so the handler can end the
// response cleanly, or panics with http.ErrAbortHandler to destroy the
// connection.
func (p *participant) wait() {
	if <-p.released == verdictAbort {
		panic(http.ErrAbortHandler)
	}
}

func (p *participant) flush() {
	if p.flusher != nil {
		p.flusher.Flush()
	}
}

// lineWriter serialises progress lines onto a sender's response stream.
// Lines are enqueued under the registry lock, preserving their order, and
// written by a dedicated goroutine so that the lock never spans body I/O.
type lineWriter struct {
	mu     sync.Mutex
	queue  []string
	wake   chan struct{} // cap 1
	closed bool
	done   chan struct{} // closed when the writer goroutine has drained
}

func newLineWriter(p *participant) *lineWriter {
	lw := &lineWriter{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go lw.writeLoop(p)
	return lw
}

func (lw *lineWriter) writeLoop(p *participant) {
	defer close(lw.done)
	for {
		lw.mu.Lock()
		queue := lw.queue
		lw.queue = nil
		closed := lw.closed
		lw.mu.Unlock()
		for _, line := range queue {
			// a dead sender connection just makes these writes fail;
			// keep draining so enqueuers never block
			io.WriteString(p.w, line)
			p.flush()
		}
		if closed {
			lw.mu.Lock()
			drained := len(lw.queue) == 0
			lw.mu.Unlock()
			if drained {
				return
			}
			continue
		}
		<-lw.wake
	}
}

// enqueue appends a line without blocking.
func (lw *lineWriter) enqueue(line string) {
	lw.mu.Lock()
	lw.queue = append(lw.queue, line)
	lw.mu.Unlock()
	select {
	case lw.wake <- struct{}{}:
	default:
	}
}

// stop closes the queue and waits for all enqueued lines to be written.
func (lw *lineWriter) stop() {
	lw.mu.Lock()
	lw.closed = true
	lw.mu.Unlock()
	select {
	case lw.wake <- struct{}{}:
	default:
	}
	<-lw.done
}
