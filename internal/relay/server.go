package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/protocol"
)

// Version is the relay version.
// Can be overridden at build time with: -ldflags "-X github.com/standardbeagle/perfdash/internal/relay.Version=x.y.z"
var Version = "0.1.0"

// GitCommit is the git commit hash, set at build time.
var GitCommit = ""

const maxMessageSize = 1 << 20

// Config holds configuration for the relay server.
type Config struct {
	// Addr is the listen address. Port 0 picks a free port.
	Addr string

	// SendQueue bounds the outbound frames buffered per channel.
	SendQueue int

	// WriteTimeout bounds a single frame write (0 = no timeout).
	WriteTimeout time.Duration

	// PingInterval is the keepalive ping period (0 = no pings).
	PingInterval time.Duration

	// Tabs performs tab reloads. Nil reloads over the content channel.
	Tabs TabController
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:9229",
		SendQueue:    64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 20 * time.Second,
	}
}

// Server exposes a Broker over HTTP and WebSocket.
type Server struct {
	config Config

	loop     *Loop
	registry *prometheus.Registry
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	started    time.Time

	mu       sync.Mutex
	channels map[*wsChannel]struct{}
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a relay server. The broker loop starts immediately; the
// listener starts with Start.
func New(config Config) *Server {
	def := DefaultConfig()
	if config.SendQueue <= 0 {
		config.SendQueue = def.SendQueue
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		registry: reg,
		channels: make(map[*wsChannel]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		started:  time.Now(),
	}
	broker := NewBroker(BrokerConfig{Tabs: config.Tabs, Metrics: NewMetrics(reg)})
	s.loop = NewLoop(ctx, broker)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return AllowedOrigin(r.Header.Get("Origin"))
		},
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the relay routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /connect", s.handleConnect)
	mux.HandleFunc("GET /content", s.handleContent)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("DELETE /tabs/{id}", s.handleTabClosed)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Loop returns the broker loop.
func (s *Server) Loop() *Loop {
	return s.loop
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.shutdown {
		return errors.New("relay already shut down")
	}
	if s.listener != nil {
		return errors.New("relay already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.started = time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.Error("relay", "server error: %v", err)
		}
	}()
	debug.Info("relay", "listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Stop gracefully shuts down the server, closes all channels and stops the
// broker loop.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.shutdown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.shutdown = true
	s.shutdownMu.Unlock()

	var errs []error
	if s.listener != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	s.mu.Lock()
	for ch := range s.channels {
		ch.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	s.cancel()
	s.loop.Stop()

	return errors.Join(errs...)
}

// AllowedOrigin reports whether a WebSocket origin may connect: no origin,
// an extension origin, or a loopback host.
func AllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "chrome-extension", "moz-extension":
		return true
	case "http", "https":
		return isLoopbackHost(u.Hostname())
	}
	return false
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) track(ch *wsChannel) {
	s.mu.Lock()
	s.channels[ch] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(ch *wsChannel) {
	s.mu.Lock()
	delete(s.channels, ch)
	s.mu.Unlock()
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request, name string) (*wsChannel, bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Log("relay", "upgrade failed: %v", err)
		return nil, false
	}
	conn.SetReadLimit(maxMessageSize)
	if s.config.PingInterval > 0 {
		wait := 2 * s.config.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	ch := newWSChannel(conn, name, s.config.SendQueue, s.config.WriteTimeout, s.config.PingInterval)
	s.track(ch)
	return ch, true
}

// handleConnect serves the UI long-lived port.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()

	ch, ok := s.upgrade(w, r, r.URL.Query().Get("name"))
	if !ok {
		return
	}
	defer func() {
		ch.Close()
		<-ch.Done()
		s.untrack(ch)
	}()

	var accepted bool
	if err := s.loop.Do(r.Context(), func(b *Broker) { accepted = b.OnUIConnect(ch) }); err != nil || !accepted {
		return
	}

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debug.Log("relay", "channel %s: read: %v", ch.ID(), err)
			}
			break
		}
		if err := s.loop.Post(func(b *Broker) { b.OnUIMessage(ch, data) }); err != nil {
			break
		}
	}
	_ = s.loop.Post(func(b *Broker) { b.OnUIDisconnect(ch) })
}

// handleContent serves a tab's long-lived content channel. Every inbound
// frame is answered with an ack frame.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.URL.Query().Get("tab"))
	if err != nil {
		http.Error(w, "invalid tab id", http.StatusBadRequest)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	ch, ok := s.upgrade(w, r, "content")
	if !ok {
		return
	}
	defer func() {
		ch.Close()
		<-ch.Done()
		s.untrack(ch)
	}()

	if err := s.loop.Post(func(b *Broker) { b.AttachContent(tabID, ch) }); err != nil {
		return
	}
	defer func() { _ = s.loop.Post(func(b *Broker) { b.DetachContent(ch) }) }()

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			break
		}
		ack := s.contentMessage(r.Context(), data, tabID)
		if err := ch.Send(protocol.NewAck(ack.Status)); err != nil {
			debug.Log("relay", "tab %d: ack not delivered: %v", tabID, err)
		}
	}
}

// handleMessage accepts a one-shot content message and replies with the
// ack as JSON.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.URL.Query().Get("tab"))
	if err != nil {
		http.Error(w, "invalid tab id", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.contentMessage(r.Context(), data, tabID))
}

// handleTabClosed is the tab-closed event.
func (s *Server) handleTabClosed(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid tab id", http.StatusBadRequest)
		return
	}
	if err := s.loop.Do(r.Context(), func(b *Broker) { b.OnTabClosed(tabID) }); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status is the /status document.
type Status struct {
	Version       string        `json:"version"`
	GitCommit     string        `json:"git_commit,omitempty"`
	Uptime        time.Duration `json:"uptime"`
	Tabs          []int         `json:"tabs"`
	ContentTabs   int           `json:"content_tabs"`
	RefreshedTabs int           `json:"refreshed_tabs"`
	Registry      RegistryInfo  `json:"registry"`
}

// Status collects the relay status from the broker loop.
func (s *Server) Status(ctx context.Context) (Status, error) {
	st := Status{
		Version:   Version,
		GitCommit: GitCommit,
		Uptime:    time.Since(s.started),
	}
	err := s.loop.Do(ctx, func(b *Broker) {
		st.Tabs = b.Registry().Tabs()
		st.ContentTabs = b.ContentTabs()
		st.RefreshedTabs = b.RefreshedTabs()
		st.Registry = b.Registry().Info()
	})
	return st, err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) contentMessage(ctx context.Context, data []byte, tabID int) protocol.Ack {
	ack, err := s.loop.ContentMessage(ctx, data, tabID)
	if err != nil || ack.Status == "" {
		return protocol.Ack{Type: protocol.TypeAck, Status: protocol.StatusNoConnection}
	}
	ack.Type = protocol.TypeAck
	return ack
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Log("relay", "write response: %v", err)
	}
}
