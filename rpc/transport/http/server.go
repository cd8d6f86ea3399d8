package http

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{}
}

type httpServerTransport struct {
	handler transport.ServerHandleFunc

	mu      sync.Mutex
	server  *http.Server
	closing bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) Listen(config common.AgentConfig) error {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.Endpoint, err)
	}
	return t.Serve(listener, config)
}

func (t *httpServerTransport) Serve(listener net.Listener, config common.AgentConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	mux := http.NewServeMux()
	if config.LogLevel == "debug" {
		mux.HandleFunc("POST "+rpcPath, loggerMiddleware(t.handleRequest))
	} else {
		mux.HandleFunc("POST "+rpcPath, t.handleRequest)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})

	server := &http.Server{
		Handler:     mux,
		ReadTimeout: time.Duration(config.TimeoutSecond) * time.Second,
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = listener.Close()
		return net.ErrClosed
	}
	t.server = server
	t.mu.Unlock()

	Logger.Infof("Starting HTTP server on %s", listener.Addr())
	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *httpServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closing = true
	if t.server == nil {
		return nil
	}
	return t.server.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleRequest handles incoming HTTP requests and writes the response to the writer
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	resp := t.handler(body)

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err = w.Write(resp); err != nil {
		Logger.Warningf("Failed to write response to %s: %v", r.RemoteAddr, err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
