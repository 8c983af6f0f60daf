package client

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"
)

const successPage = `<html><body><h1>Authentication successful! You can close this window.</h1></body></html>`

// CallbackListener is the loopback HTTP endpoint which catches the browser
// redirect at the end of a login and extracts the state token. It exists
// only while a login is in flight: Start binds the port, Stop releases it,
// and both are safe to call repeatedly. The callback is injected at
// construction so the listener never reaches for ambient state.
type CallbackListener struct {
	addr     string
	callback func(stateToken string)

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewCallbackListener(addr string, callback func(stateToken string)) *CallbackListener {
	return &CallbackListener{
		addr:     addr,
		callback: callback,
	}
}

// Start binds the loopback port and begins serving. Calling Start while
// already running is a no-op.
func (l *CallbackListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: http.HandlerFunc(l.serve)}
	l.ln = ln
	l.srv = srv
	go srv.Serve(ln)
	return nil
}

// Stop shuts the listener down. Safe to call multiple times, and safe to
// call concurrently with the callback firing.
func (l *CallbackListener) Stop() {
	l.mu.Lock()
	srv := l.srv
	l.srv = nil
	l.ln = nil
	l.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// Addr returns the bound address, for tests which listen on port 0.
func (l *CallbackListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

func (l *CallbackListener) serve(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/auth-success" {
		http.NotFound(w, req)
		return
	}
	state := req.URL.Query().Get("state")
	// deliver before responding so the browser's success page means the
	// controller really has the token
	l.callback(state)
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(200)
	w.Write([]byte(successPage))
}
