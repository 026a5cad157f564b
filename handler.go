package piping

import (
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/op/go-logging"
)

// reservedPaths cannot be used as rendezvous targets; they belong to the
// static endpoints.
var reservedPaths = map[string]struct{}{
	"/":            {},
	"/version":     {},
	"/help":        {},
	"/favicon.ico": {},
	"/robots.txt":  {},
}

// Relay is the rendezvous engine. It implements http.Handler; every
// non-reserved path is an ephemeral rendezvous point.
type Relay struct {
	// FirstPart overrides the multipart adapter. Nil means FirstPart.
	FirstPart PartSelector
	// Stats receives relayed byte counts (optional).
	Stats StatsCollector
	// Log receives access and transfer log lines (optional).
	Log *logging.Logger

	reg registry
}

// NewRelay returns a Relay ready to serve.
func NewRelay() *Relay {
	return &Relay{}
}

// canonicalPath resolves a request URL path against the root and strips any
// trailing slash, except for the root itself. The query string is never part
// of the rendezvous key.
func canonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// receiverCount extracts the receiver count from the n query parameter.
// Absent or non-integer values mean 1.
func receiverCount(req *http.Request) int {
	if s := req.URL.Query().Get("n"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 1
}

func (relay *Relay) logf(format string, args ...interface{}) {
	if relay.Log != nil {
		relay.Log.Infof(format, args...)
	}
}

// ServeHTTP classifies the request as sender, receiver or reserved-path
// request and dispatches it.
func (relay *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	reqPath := canonicalPath(req.URL.Path)
	relay.logf("%s %s", req.Method, reqPath)

	switch req.Method {
	case http.MethodPost, http.MethodPut:
		if _, reserved := reservedPaths[reqPath]; reserved {
			relay.respondError(w, errReservedPath(reqPath))
			return
		}
		if err := relay.registerSender(w, req, reqPath, receiverCount(req)); err != nil {
			relay.respondError(w, err)
		}
	case http.MethodGet:
		if _, reserved := reservedPaths[reqPath]; reserved {
			relay.servePage(w, req, reqPath)
			return
		}
		if err := relay.registerReceiver(w, req, reqPath, receiverCount(req)); err != nil {
			relay.respondError(w, err)
		}
	default:
		relay.respondError(w, errUnsupportedMethod(req.Method))
	}
}

func (relay *Relay) respondError(w http.ResponseWriter, err *RendezvousError) {
	relay.logf("rejected: %s", err.Error())
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(err.StatusCode)
	io.WriteString(w, err.Body)
}
