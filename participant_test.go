package piping

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
)

func TestParticipantRevokeIdempotent(t *testing.T) {
	p := newParticipant(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	p.revoke()
	p.revoke() // must not panic on double close
}

func TestParticipantReleaseOnce(t *testing.T) {
	p := newParticipant(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	p.release(verdictFinish)
	p.release(verdictAbort) // ignored
	assert.NotPanics(t, func() { p.wait() })
}

func TestWatcherFiresOnClose(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/x", nil).WithContext(ctx)
	p := newParticipant(httptest.NewRecorder(), req)

	fired := make(chan struct{})
	p.watch(func() { close(fired) })
	cancel()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Error("watcher did not fire")
	}
}

func TestWatcherRevoked(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest("GET", "/x", nil).WithContext(ctx)
	p := newParticipant(httptest.NewRecorder(), req)

	fired := make(chan struct{}, 1)
	p.watch(func() { fired <- struct{}{} })
	p.revoke()
	cancel()
	select {
	case <-fired:
		t.Error("revoked watcher fired")
	case <-time.After(time.Millisecond * 100):
	}
}

func TestLineWriterOrderAndStop(t *testing.T) {
	defer leaktest.Check(t)()

	rr := httptest.NewRecorder()
	p := newParticipant(rr, httptest.NewRequest("POST", "/x", nil))
	lw := newLineWriter(p)
	lw.enqueue("one\n")
	lw.enqueue("two\n")
	lw.enqueue("three\n")
	lw.stop()
	assert.Equal(t, "one\ntwo\nthree\n", rr.Body.String())
	assert.True(t, rr.Flushed)

	// stop is idempotent
	lw.stop()
}
