// Package hub tracks the pages connected to the local server and carries
// the page protocol between them and the cache proxy.
//
// Pages connect over WebSocket at /ws. Messages a page sends are
// dispatched by Kind to handlers registered with OnMessage; a handler may
// answer the sending page through its Reply function. Broadcast delivers a
// message to every connected page.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

var (
	// ErrStopped is returned by Broadcast after Stop.
	ErrStopped = errors.New("hub stopped")

	// ErrQueueFull is returned when the broadcast queue cannot take more
	// messages.
	ErrQueueFull = errors.New("broadcast queue full")
)

// Reply sends a message back to the page that sent the one being handled.
type Reply func(Message) error

// HandlerFunc handles one message kind.
type HandlerFunc func(ctx context.Context, msg Message, reply Reply)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8781). Port 0 picks a free port.
	Addr string

	// Fallback serves every path other than /ws and /health. It is
	// normally the cache proxy's page handler. Nil means 404.
	Fallback http.Handler

	// Logger for hub activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8781",
		Logger: log.New(os.Stderr, "[hub] ", log.LstdFlags),
	}
}

// Page is one connected page.
type Page struct {
	ID   int64
	conn *websocket.Conn
}

// Server manages page connections.
type Server struct {
	addr     string
	fallback http.Handler
	listener net.Listener
	server   *http.Server
	logger   *log.Logger

	pages   map[*Page]bool
	pagesMu sync.RWMutex
	nextID  atomic.Int64

	handlers     map[Kind]HandlerFunc
	onConnect    []func(*Page)
	onDisconnect []func(remaining int)
	hooksMu      sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a hub. Register handlers before Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      config.Addr,
		fallback:  config.Fallback,
		logger:    config.Logger,
		pages:     make(map[*Page]bool),
		handlers:  make(map[Kind]HandlerFunc),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnMessage registers the handler for kind, replacing any previous one.
// Messages with no handler are logged and dropped.
func (s *Server) OnMessage(kind Kind, fn HandlerFunc) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.handlers[kind] = fn
}

// OnConnect registers fn to run when a page connects.
func (s *Server) OnConnect(fn func(*Page)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// OnDisconnect registers fn to run after a page leaves, with the number of
// pages still connected.
func (s *Server) OnDisconnect(fn func(remaining int)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// Handler returns the HTTP handler of the hub.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.fallback != nil {
		mux.Handle("/", s.fallback)
	}
	return mux
}

// Start begins serving.
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
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Page hub listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop disconnects every page and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.pagesMu.Lock()
	for p := range s.pages {
		_ = p.conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.pages, p)
	}
	s.pagesMu.Unlock()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
	}

	s.wg.Wait()
	s.logger.Println("Page hub stopped")
	return err
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected pages.
func (s *Server) ClientCount() int {
	s.pagesMu.RLock()
	defer s.pagesMu.RUnlock()
	return len(s.pages)
}

// Broadcast queues msg for every connected page.
func (s *Server) Broadcast(msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case <-s.ctx.Done():
		return ErrStopped
	default:
	}
	select {
	case s.broadcast <- msg:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, msg.Type)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal %s: %v", msg.Type, err)
				continue
			}

			s.pagesMu.RLock()
			pages := make([]*Page, 0, len(s.pages))
			for p := range s.pages {
				pages = append(pages, p)
			}
			s.pagesMu.RUnlock()

			for _, p := range pages {
				if err := s.write(p, data); err != nil {
					s.logger.Printf("Failed to send %s to page %d: %v", msg.Type, p.ID, err)
					s.removePage(p)
				}
			}
		}
	}
}

func (s *Server) write(p *Page, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return p.conn.Write(ctx, websocket.MessageText, data)
}

// Send delivers msg to one page.
func (s *Server) Send(p *Page, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.Type, err)
	}
	return s.write(p, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"127.0.0.1:*", "localhost:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	p := &Page{ID: s.nextID.Add(1), conn: conn}

	s.pagesMu.Lock()
	s.pages[p] = true
	count := len(s.pages)
	s.pagesMu.Unlock()

	s.logger.Printf("Page %d connected (total: %d)", p.ID, count)

	s.hooksMu.RLock()
	hooks := append([]func(*Page){}, s.onConnect...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(p)
	}

	s.readLoop(p)
}

// readLoop dispatches page messages until the page goes away.
func (s *Server) readLoop(p *Page) {
	defer s.removePage(p)

	for {
		_, data, err := p.conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Printf("Warning: page %d sent malformed message: %v", p.ID, err)
			continue
		}

		s.hooksMu.RLock()
		fn := s.handlers[msg.Type]
		s.hooksMu.RUnlock()
		if fn == nil {
			s.logger.Printf("Ignoring %q from page %d", msg.Type, p.ID)
			continue
		}

		fn(s.ctx, msg, func(reply Message) error { return s.Send(p, reply) })
	}
}

func (s *Server) removePage(p *Page) {
	s.pagesMu.Lock()
	if !s.pages[p] {
		s.pagesMu.Unlock()
		return
	}
	delete(s.pages, p)
	remaining := len(s.pages)
	s.pagesMu.Unlock()

	_ = p.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Page %d disconnected (total: %d)", p.ID, remaining)

	s.hooksMu.RLock()
	hooks := append([]func(int){}, s.onDisconnect...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(remaining)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"pages":  s.ClientCount(),
	})
}
