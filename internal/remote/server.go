package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// maxBodyBytes bounds a single written value.
const maxBodyBytes = 4 << 20

// Frame is one subscription delivery on the wire.
type Frame struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Addr to listen on (default: 127.0.0.1:8780)
	Addr string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr: "127.0.0.1:8780",
	}
}

// Server exposes a Store over HTTP:
//
//	GET    /v1/{path}            read (JSON value or null)
//	PUT    /v1/{path}            write request body
//	POST   /v1/{path}            append, responds {"key": "..."}
//	DELETE /v1/{path}            delete
//	GET    /subscribe?path=...   WebSocket stream of Frame snapshots
//	GET    /health
type Server struct {
	store    Store
	addr     string
	listener net.Listener
	server   *http.Server
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server for store.
func NewServer(store Store, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultServerConfig().Addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:  store,
		addr:   addr,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the HTTP routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/{path...}", s.handleRead)
	mux.HandleFunc("PUT /v1/{path...}", s.handleWrite)
	mux.HandleFunc("POST /v1/{path...}", s.handleAppend)
	mux.HandleFunc("DELETE /v1/{path...}", s.handleDelete)
	mux.HandleFunc("GET /subscribe", s.handleSubscribe)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Remote store listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server and its subscription streams.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	value, err := s.store.Read(r.Context(), r.PathValue("path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if value == nil {
		value = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(value)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		http.Error(w, "value too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body is not valid JSON", http.StatusBadRequest)
		return
	}
	if err := s.store.Write(r.Context(), r.PathValue("path"), body); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	key, err := s.store.Append(r.Context(), r.PathValue("path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"key": key})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("path")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidPath):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Printf("Store error: %v", err)
		http.Error(w, "store error", http.StatusInternalServerError)
	}
}

// handleSubscribe streams snapshots of one path until either side goes away.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	path, err := CleanPath(r.URL.Query().Get("path"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	frames := make(chan json.RawMessage, 16)
	unsubscribe, err := s.store.Subscribe(ctx, path, func(value json.RawMessage) {
		select {
		case frames <- value:
		case <-ctx.Done():
		}
	})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer unsubscribe()

	// Clients never send; reading detects disconnects.
	readCtx := conn.CloseRead(ctx)

	for {
		select {
		case <-readCtx.Done():
			return
		case value := <-frames:
			if value == nil {
				value = json.RawMessage("null")
			}
			data, err := json.Marshal(Frame{Path: path, Value: value})
			if err != nil {
				s.logger.Printf("Failed to marshal frame: %v", err)
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
