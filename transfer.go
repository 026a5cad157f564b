package piping

import (
	"io"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
)

// StatsCollector is the interface required to collect statistics
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}

// fanoutReceiver is one sink of an active transfer. Chunks flow through a
// bounded channel; a blocked send on any live receiver pauses the source,
// which is how end-to-end backpressure is preserved.
type fanoutReceiver struct {
	p        *participant
	chunks   chan []byte   // closed by the source loop on clean end
	abortCh  chan struct{} // closed by the engine to destroy the connection
	detached int32         // nonzero once the receiver has left the fan-out
}

// detach takes the receiver out of the fan-out exactly once.
func (fr *fanoutReceiver) detach() bool {
	return atomic.CompareAndSwapInt32(&fr.detached, 0, 1)
}

// transfer is the single-shot engine moving one source stream to N sinks.
type transfer struct {
	relay     *Relay
	path      string
	sender    *participant
	receivers []*fanoutReceiver
	closedCh  chan struct{} // one token per receiver detached mid-transfer
	exitedCh  chan struct{} // one token per sink goroutine exited
	termCh    chan struct{} // closed once a terminal path has run
	finished  sync.Once
}

// runTransfer streams the sender's body to every receiver. It owns all
// participants from this point on; every exit path releases each of them
// with a verdict and clears the established flag for the path.
func (relay *Relay) runTransfer(path string, sender *participant, receivers []*participant) {
	t := &transfer{
		relay:    relay,
		path:     path,
		sender:   sender,
		closedCh: make(chan struct{}, len(receivers)),
		exitedCh: make(chan struct{}, len(receivers)),
		termCh:   make(chan struct{}),
	}

	src, contentType, contentLength, err := t.source()
	if err != nil {
		// multipart parsing failed before any receiver header was written
		t.terminate(func() {
			t.finishSender(msgTransferFailed, verdictFinish)
			for _, p := range receivers {
				p.release(verdictAbort)
			}
		})
		return
	}

	for _, p := range receivers {
		fr := &fanoutReceiver{
			p:       p,
			chunks:  make(chan []byte, FanoutWindow),
			abortCh: make(chan struct{}),
		}
		writeReceiverHeader(p, contentType, contentLength)
		t.receivers = append(t.receivers, fr)
		go t.sink(fr)
	}
	go t.watchAllClosed()

	t.pump(src)
}

// source selects the stream to relay and its content metadata. A multipart
// upload is unwrapped to its first part so the envelope never leaks to
// receivers; otherwise the raw body and the sender's own headers are used.
func (t *transfer) source() (src io.Reader, contentType, contentLength string, err error) {
	req := t.sender.req
	src = req.Body
	contentType = req.Header.Get("Content-Type")
	contentLength = req.Header.Get("Content-Length")
	if strings.Contains(strings.ToLower(contentType), "multipart/form-data") {
		firstPart := t.relay.FirstPart
		if firstPart == nil {
			firstPart = FirstPart
		}
		var hdr textproto.MIMEHeader
		hdr, src, err = firstPart(req.Body, contentType)
		if err != nil {
			return nil, "", "", err
		}
		contentType = hdr.Get("Content-Type")
		contentLength = hdr.Get("Content-Length")
	}
	return src, contentType, contentLength, nil
}

// writeReceiverHeader flushes the 200 response head to a receiver before any
// body bytes. Unknown metadata is omitted rather than guessed; clearing the
// Content-Type key also disables net/http content sniffing.
func writeReceiverHeader(p *participant, contentType, contentLength string) {
	hdr := p.w.Header()
	if contentLength != "" {
		hdr.Set("Content-Length", contentLength)
	}
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	} else {
		hdr["Content-Type"] = nil
	}
	p.w.WriteHeader(200)
	p.flush()
}

// pump reads the source stream and fans each chunk out to every live
// receiver. Chunks are freshly allocated since receivers consume them
// asynchronously from their windows.
func (t *transfer) pump(src io.Reader) {
	for {
		chunk := make([]byte, FanoutChunkSize)
		n, err := src.Read(chunk)
		if n > 0 {
			if t.relay.Stats != nil {
				t.relay.Stats.AddBytesRead(int64(n))
			}
			chunk = chunk[:n]
			for _, fr := range t.receivers {
				select {
				case fr.chunks <- chunk:
				case <-fr.abortCh:
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				t.sourceEnded()
			} else {
				t.sourceFailed()
			}
			return
		}
	}
}

// sink drains one receiver's chunk window onto its response. It leaves the
// fan-out when the receiver's connection goes away, when the engine aborts
// it, or when the source closes the window after a clean end.
func (t *transfer) sink(fr *fanoutReceiver) {
	defer func() { t.exitedCh <- struct{}{} }()
	closeCtx := fr.p.req.Context().Done()
	for {
		select {
		case chunk, ok := <-fr.chunks:
			if !ok {
				fr.p.release(verdictFinish)
				return
			}
			if _, err := fr.p.w.Write(chunk); err != nil {
				t.detachSink(fr)
				return
			}
			fr.p.flush()
			if t.relay.Stats != nil {
				t.relay.Stats.AddBytesWritten(int64(len(chunk)))
			}
		case <-closeCtx:
			t.detachSink(fr)
			return
		case <-fr.abortCh:
			fr.p.release(verdictAbort)
			return
		}
	}
}

// detachSink removes a dead receiver mid-transfer and reports the close so
// watchAllClosed can count it against the original receiver count.
func (t *transfer) detachSink(fr *fanoutReceiver) {
	if fr.detach() {
		close(fr.abortCh) // unblocks the source's fan-out send
		fr.p.release(verdictAbort)
		t.closedCh <- struct{}{}
	}
}

// watchAllClosed fires the halfway teardown when every receiver has
// disconnected mid-transfer.
func (t *transfer) watchAllClosed() {
	for closed := 0; closed < len(t.receivers); closed++ {
		select {
		case <-t.closedCh:
		case <-t.termCh:
			return
		}
	}
	t.terminate(func() {
		t.finishSender(msgAllReceiversClosed, verdictAbort)
	})
}

// sourceEnded is the clean completion path: close every window, wait for the
// sinks to drain, then report success to the sender.
func (t *transfer) sourceEnded() {
	for _, fr := range t.receivers {
		close(fr.chunks)
	}
	for exited := 0; exited < len(t.receivers); exited++ {
		<-t.exitedCh
	}
	t.terminate(func() {
		t.finishSender(msgTransferSuccessful, verdictFinish)
	})
}

// sourceFailed handles a source read error: the receivers are destroyed in
// every case; after a sender abort the sender is destroyed silently, after any
// other failure the sender gets the failure line.
func (t *transfer) sourceFailed() {
	senderGone := t.sender.req.Context().Err() != nil
	t.terminate(func() {
		for _, fr := range t.receivers {
			if fr.detach() {
				close(fr.abortCh)
			}
		}
		if senderGone {
			t.sender.lines.stop()
			t.sender.release(verdictAbort)
		} else {
			t.finishSender(msgTransferFailed, verdictFinish)
		}
	})
}

// terminate runs exactly one terminal path and clears the established flag.
func (t *transfer) terminate(f func()) {
	t.finished.Do(func() {
		close(t.termCh)
		f()
		t.relay.reg.clearEstablished(t.path)
	})
}

// finishSender writes the terminal line to the sender and releases it.
func (t *transfer) finishSender(line string, v verdict) {
	t.sender.lines.enqueue(line)
	t.sender.lines.stop()
	t.sender.release(v)
}
