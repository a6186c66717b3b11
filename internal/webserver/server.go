// Package webserver serves a read-only view of the coordination documents:
// queue counts, sessions, the usage report and Prometheus metrics. It never
// writes a document.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agusx1211/switchyard/internal/chatrelay"
	"github.com/agusx1211/switchyard/internal/debug"
	"github.com/agusx1211/switchyard/internal/metrics"
	"github.com/agusx1211/switchyard/internal/queue"
	"github.com/agusx1211/switchyard/internal/spawn"
	"github.com/agusx1211/switchyard/internal/usage"
)

// Options configures web server behavior.
type Options struct {
	Addr      string // host:port, default 127.0.0.1:9464
	AuthToken string
}

// Sources are the components the server reads from. Nil sources answer
// 404 on their routes.
type Sources struct {
	Forward    *queue.Queue[chatrelay.ForwardTrigger]
	Spawn      *spawn.Manager
	Usage      *usage.Aggregator
	Inbox      *queue.Queue[usage.CompletionReport]
	Metrics    *metrics.Metrics
	DailyLimit int64
	Now        func() time.Time
}

// Server hosts the status API.
type Server struct {
	src        Sources
	addr       string
	httpServer *http.Server
}

func New(src Sources, opts Options) *Server {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = "127.0.0.1:9464"
	}
	if src.Now == nil {
		src.Now = func() time.Time { return time.Now().UTC() }
	}
	srv := &Server{src: src, addr: addr}

	mux := http.NewServeMux()
	srv.setupRoutes(mux)

	handler := corsMiddleware(logMiddleware(authMiddleware(strings.TrimSpace(opts.AuthToken), mux)))
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (srv *Server) Handler() http.Handler {
	return srv.httpServer.Handler
}

// Start starts the server in a background goroutine and returns once the
// listener is bound.
func (srv *Server) Start() error {
	if srv.httpServer == nil {
		return fmt.Errorf("webserver not initialized")
	}
	ln, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return err
	}
	srv.addr = ln.Addr().String()
	srv.httpServer.Addr = srv.addr

	go func() {
		if err := srv.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.LogKV("webserver", "server stopped with error", "error", err)
		}
	}()
	debug.LogKV("webserver", "listening", "addr", srv.addr)
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer == nil {
		return nil
	}
	return srv.httpServer.Shutdown(ctx)
}

// Addr returns the bound host:port address.
func (srv *Server) Addr() string {
	return srv.addr
}

func (srv *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", srv.src.Metrics.Handler())

	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("GET /api/forward", srv.handleForward)
	mux.HandleFunc("GET /api/spawn/requests", srv.handleSpawnRequests)
	mux.HandleFunc("GET /api/spawn/sessions", srv.handleSpawnSessions)
	mux.HandleFunc("GET /api/usage/report", srv.handleUsageReport)
	mux.HandleFunc("GET /api/usage/budget/{agent}", srv.handleUsageBudget)
}
