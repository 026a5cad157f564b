package piping

import (
	"fmt"
	"net/http"
	"strings"
)

// RendezvousError is a rendezvous-time error with a fixed client-visible
// HTTP status and body. The exact body strings, including their
// "[ERROR]"/"Error:" prefixes, are part of the wire contract.
type RendezvousError struct {
	StatusCode int
	Body       string
}

func (e *RendezvousError) Error() string {
	return strings.TrimSuffix(e.Body, "\n")
}

func errReservedPath(path string) *RendezvousError {
	return &RendezvousError{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf("[ERROR] Cannot send to a reserved path '%s'. (e.g. '/mypath123')\n", path),
	}
}

func errBadCount(n int) *RendezvousError {
	return &RendezvousError{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf("[ERROR] n should > 0, but n = %d.\n", n),
	}
}

func errSenderEstablished(path string) *RendezvousError {
	return &RendezvousError{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf("[ERROR] Connection on '%s' has been established already.\n", path),
	}
}

func errReceiverEstablished(path string) *RendezvousError {
	return &RendezvousError{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf("Error: Connection on '%s' has been established already.\n", path),
	}
}

func errCountMismatch(expected, n int) *RendezvousError {
	return &RendezvousError{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf("Error: The number of receivers should be %d but %d.\n", expected, n),
	}
}

func errDuplicateSender(path string) *RendezvousError {
	return &RendezvousError{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf("[ERROR] Another sender has been registered on '%s'.\n", path),
	}
}

func errReceiversFull() *RendezvousError {
	return &RendezvousError{
		StatusCode: http.StatusBadRequest,
		Body:       "Error: The number of receivers has reached limits.\n",
	}
}

func errUnsupportedMethod(method string) *RendezvousError {
	return &RendezvousError{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf("Error: Unsupported method: %s\n", method),
	}
}

// Progress lines streamed to the sender while the rendezvous forms.
const (
	msgReceiverConnected  = "[INFO] A receiver was connected.\n"
	msgStartSending       = "Start sending!\n"
	msgTransferSuccessful = "[INFO] Sending Successful!\n"
	msgTransferFailed     = "[ERROR] Sending Failed.\n"
	msgAllReceiversClosed = "[INFO] All receiver(s) was/were closed halfway.\n"
)

func msgWaiting(n int) string {
	return fmt.Sprintf("[INFO] Waiting for %d receiver(s)...\n", n)
}

func msgConnectedCount(k int) string {
	return fmt.Sprintf("[INFO] %d receiver(s) has/have been connected.\n", k)
}

func msgStartSendingWith(n int) string {
	return fmt.Sprintf("[INFO] Start sending with %d receiver(s)!\n", n)
}

// registerSender runs the sender arrival transition for path. On success it
// blocks until the transfer has released the sender. A non-nil error is a
// rendezvous rejection for this client only.
func (relay *Relay) registerSender(w http.ResponseWriter, req *http.Request, path string, n int) *RendezvousError {
	if n <= 0 {
		return errBadCount(n)
	}

	p := newParticipant(w, req)
	// Progress lines are flushed while the body is still unread; without full
	// duplex net/http would consume the unread body on the first flush.
	http.NewResponseController(w).EnableFullDuplex()

	relay.reg.mu.Lock()
	if relay.reg.isEstablishedLocked(path) {
		relay.reg.mu.Unlock()
		return errSenderEstablished(path)
	}
	pipe, created := relay.reg.getOrCreateUnestablishedLocked(path, n)
	if !created {
		if pipe.sender != nil {
			relay.reg.mu.Unlock()
			return errDuplicateSender(path)
		}
		if pipe.expected != n {
			relay.reg.mu.Unlock()
			return errCountMismatch(pipe.expected, n)
		}
	}
	pipe.sender = p
	p.lines = newLineWriter(p)
	p.lines.enqueue(msgWaiting(n))
	if !created {
		p.lines.enqueue(msgConnectedCount(len(pipe.receivers)))
	}
	if pipe.complete() {
		p.lines.enqueue(msgStartSending)
		relay.establishLocked(path, pipe)
	} else {
		p.watch(func() { relay.deregister(path, p) })
	}
	relay.reg.mu.Unlock()

	p.wait()
	return nil
}

// registerReceiver runs the receiver arrival transition for path. On success
// it blocks until the transfer has released the receiver.
func (relay *Relay) registerReceiver(w http.ResponseWriter, req *http.Request, path string, n int) *RendezvousError {
	if n <= 0 {
		return errBadCount(n)
	}

	p := newParticipant(w, req)

	relay.reg.mu.Lock()
	if relay.reg.isEstablishedLocked(path) {
		relay.reg.mu.Unlock()
		return errReceiverEstablished(path)
	}
	pipe, created := relay.reg.getOrCreateUnestablishedLocked(path, n)
	if !created {
		if pipe.expected != n {
			relay.reg.mu.Unlock()
			return errCountMismatch(pipe.expected, n)
		}
		if len(pipe.receivers) == pipe.expected {
			relay.reg.mu.Unlock()
			return errReceiversFull()
		}
	}
	pipe.receivers = append(pipe.receivers, p)
	if pipe.sender != nil {
		pipe.sender.lines.enqueue(msgReceiverConnected)
	}
	if pipe.complete() {
		pipe.sender.lines.enqueue(msgStartSendingWith(pipe.expected))
		relay.establishLocked(path, pipe)
	} else {
		p.watch(func() { relay.deregister(path, p) })
	}
	relay.reg.mu.Unlock()

	p.wait()
	return nil
}

// establishLocked promotes a complete pipe into an active transfer: revokes
// every close-watcher, removes the record, sets the established flag and
// hands the captured participants to the transfer engine. Caller holds the
// registry lock.
func (relay *Relay) establishLocked(path string, pipe *unestablishedPipe) {
	pipe.sender.revoke()
	for _, rcv := range pipe.receivers {
		rcv.revoke()
	}
	relay.reg.removeUnestablishedLocked(path)
	relay.reg.markEstablishedLocked(path)
	go relay.runTransfer(path, pipe.sender, pipe.receivers)
}

// deregister is the close-watcher target: removes a participant from its
// record before establishment, deleting the record when it becomes empty.
// Establishment may race the close event, so the participant must still be
// present in the record by identity for the removal to take effect.
func (relay *Relay) deregister(path string, p *participant) {
	removed := false
	relay.reg.mu.Lock()
	if pipe := relay.reg.getUnestablishedLocked(path); pipe != nil {
		if pipe.sender == p {
			pipe.sender = nil
			removed = true
		} else {
			removed = pipe.removeReceiver(p)
		}
		if removed && pipe.empty() {
			relay.reg.removeUnestablishedLocked(path)
		}
	}
	relay.reg.mu.Unlock()
	if removed {
		if p.lines != nil {
			p.lines.stop()
		}
		p.release(verdictAbort)
	}
}
