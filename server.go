// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package piping

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type serverClosedError struct{}

func (serverClosedError) Error() string { return "server closed" }

// ErrServerClosed is returned by Serve and ListenAndServe after Close.
var ErrServerClosed error = serverClosedError{}

// Server listens for incoming network connections and serves the relay on
// them. It tracks its listeners so Close can destroy in-flight transfers by
// tearing down their connections.
type Server struct {
	Addr         string        // TCP address to listen on, ":8080" if empty
	Handler      http.Handler  // HTTP handler to invoke, usually a *Relay
	ReadTimeout  time.Duration // read timeout (reading request headers)
	WriteTimeout time.Duration // write timeout; zero for streaming transfers
	mu           sync.Mutex
	listeners    map[net.Listener]struct{}
	httpServers  map[*http.Server]struct{}
	doneChan     chan struct{}
	bytesWritten int64
	bytesRead    int64
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted network
// connections so dead clients (e.g. closing laptop mid-download) eventually
// go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// Listen announces on the local network address.
func (srv *Server) Listen(address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err == nil {
		srv.Addr = ln.Addr().String()
		ln = tcpKeepAliveListener{ln.(*net.TCPListener)}
	}
	return ln, err
}

// DefaultListenAddr returns the default address:port to listen on.
func (srv *Server) DefaultListenAddr() string {
	return ":8080"
}

func (srv *Server) getListenAddr(addr string) string {
	if addr == "" {
		return srv.DefaultListenAddr()
	}
	return addr
}

// ListenAndServe listens on the TCP network address srv.Addr and then calls
// Serve to handle requests on incoming network connections.
// If srv.Addr is blank, ":8080" is used.
func (srv *Server) ListenAndServe() (err error) {
	listener, err := srv.Listen(srv.getListenAddr(srv.Addr))
	if err == nil {
		err = srv.Serve(listener)
	}
	return
}

// ListenAndServeTLS listens on the TCP network address srv.Addr and serves
// TLS connections using the given certificate and key files.
func (srv *Server) ListenAndServeTLS(certFile, keyFile string) (err error) {
	listener, err := srv.Listen(srv.getListenAddr(srv.Addr))
	if err == nil {
		err = srv.ServeTLS(listener, certFile, keyFile)
	}
	return
}

// Serve handles requests on incoming connections from l.
func (srv *Server) Serve(l net.Listener) error {
	return srv.serve(l, func(hs *http.Server) error { return hs.Serve(l) })
}

// ServeTLS handles TLS requests on incoming connections from l.
func (srv *Server) ServeTLS(l net.Listener, certFile, keyFile string) error {
	return srv.serve(l, func(hs *http.Server) error { return hs.ServeTLS(l, certFile, keyFile) })
}

func (srv *Server) serve(l net.Listener, serveFn func(*http.Server) error) error {
	hs := &http.Server{
		Handler:           srv.Handler,
		ReadHeaderTimeout: srv.ReadTimeout,
		WriteTimeout:      srv.WriteTimeout,
	}

	if err := func() error {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		select {
		case <-srv.getDoneChanLocked():
			return ErrServerClosed
		default:
		}
		srv.trackListenerLocked(l, true)
		srv.trackHTTPServerLocked(hs, true)
		return nil
	}(); err != nil {
		return err
	}
	defer func() {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		srv.trackListenerLocked(l, false)
		srv.trackHTTPServerLocked(hs, false)
	}()

	if err := serveFn(hs); err != nil && err != http.ErrServerClosed {
		select {
		case <-srv.getDoneChan():
			return ErrServerClosed
		default:
		}
		return err
	}
	return ErrServerClosed
}

func (srv *Server) trackListenerLocked(ln net.Listener, add bool) {
	if srv.listeners == nil {
		srv.listeners = make(map[net.Listener]struct{})
	}
	if add {
		// If the *Server is being reused after a previous
		// Close, reset its doneChan:
		if len(srv.listeners) == 0 {
			srv.doneChan = nil
		}
		srv.listeners[ln] = struct{}{}
	} else {
		delete(srv.listeners, ln)
	}
}

func (srv *Server) trackHTTPServerLocked(hs *http.Server, add bool) {
	if srv.httpServers == nil {
		srv.httpServers = make(map[*http.Server]struct{})
	}
	if add {
		srv.httpServers[hs] = struct{}{}
	} else {
		delete(srv.httpServers, hs)
	}
}

func (srv *Server) getDoneChan() <-chan struct{} {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.getDoneChanLocked()
}

func (srv *Server) getDoneChanLocked() chan struct{} {
	if srv.doneChan == nil {
		srv.doneChan = make(chan struct{})
	}
	return srv.doneChan
}

func (srv *Server) closeDoneChanLocked() {
	ch := srv.getDoneChanLocked()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Close immediately closes all listeners and all active connections,
// destroying any in-flight transfers.
func (srv *Server) Close() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.closeDoneChanLocked()
	var err error
	for ln := range srv.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(srv.listeners, ln)
	}
	for hs := range srv.httpServers {
		if cerr := hs.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(srv.httpServers, hs)
	}
	return err
}

// AddBytesWritten adds n to the number of bytes written statistic.
func (srv *Server) AddBytesWritten(n int64) {
	atomic.AddInt64(&srv.bytesWritten, n)
}

// BytesWritten returns the current number of bytes written.
func (srv *Server) BytesWritten() int64 {
	return atomic.LoadInt64(&srv.bytesWritten)
}

// AddBytesRead adds n to the number of bytes read statistic.
func (srv *Server) AddBytesRead(n int64) {
	atomic.AddInt64(&srv.bytesRead, n)
}

// BytesRead returns the current number of bytes read.
func (srv *Server) BytesRead() int64 {
	return atomic.LoadInt64(&srv.bytesRead)
}
