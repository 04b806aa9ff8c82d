// Package dashboard is the UI side of the relay: a session that keeps one
// tab's metrics flowing into a history and a panel board, plus the terminal
// renderer and relay status probe that display them.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/metrics"
	"github.com/standardbeagle/perfdash/internal/panel"
	"github.com/standardbeagle/perfdash/internal/protocol"
	"github.com/standardbeagle/perfdash/internal/store"
)

// ErrNotConnected is returned when sending while no relay connection is up.
var ErrNotConnected = errors.New("dashboard: not connected to relay")

// SessionConfig configures a Session.
type SessionConfig struct {
	// RelayURL is the relay base URL, e.g. ws://127.0.0.1:9229.
	RelayURL string
	TabID    int

	// RefreshOnConnect asks the relay to reload the tab until one handshake
	// carrying the request has been sent. Later reconnects never ask.
	RefreshOnConnect bool

	// ReconnectDelay is the fixed wait after a disconnect before redialing.
	// Default: 1s
	ReconnectDelay time.Duration

	History *metrics.History
	Board   *panel.Board

	Dialer *websocket.Dialer
	Now    func() time.Time

	OnSnapshot  func(*metrics.Snapshot)
	OnNavigate  func(from, to string)
	OnConnState func(connected bool)
}

// Session is one dashboard connection to the relay for a tab. It
// reconnects until its context ends.
type Session struct {
	cfg SessionConfig

	mu   sync.Mutex
	conn *websocket.Conn

	attempts    atomic.Int64
	connected   atomic.Bool
	refreshSent atomic.Bool

	urlMu    sync.Mutex
	pageURL  string
	apiCalls []metrics.APICall
}

// NewSession creates a session. History and Board are created when nil.
func NewSession(cfg SessionConfig) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.History == nil {
		cfg.History = metrics.NewHistory(metrics.DefaultMaxPoints)
	}
	if cfg.Board == nil {
		cfg.Board = panel.NewBoard(panel.BoardConfig{Default: panel.DefaultPolicy(), Now: cfg.Now})
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{cfg: cfg}
}

// History returns the session's metrics history.
func (s *Session) History() *metrics.History { return s.cfg.History }

// Board returns the session's panel board.
func (s *Session) Board() *panel.Board { return s.cfg.Board }

// TabID returns the watched tab.
func (s *Session) TabID() int { return s.cfg.TabID }

// Connected reports whether a relay connection is currently up.
func (s *Session) Connected() bool { return s.connected.Load() }

// Attempts returns the number of connection attempts so far.
func (s *Session) Attempts() int64 { return s.attempts.Load() }

// PageURL returns the last page URL seen in a snapshot.
func (s *Session) PageURL() string {
	s.urlMu.Lock()
	defer s.urlMu.Unlock()
	return s.pageURL
}

// APICalls returns the calls from the last api-performance-update.
func (s *Session) APICalls() []metrics.APICall {
	s.urlMu.Lock()
	defer s.urlMu.Unlock()
	return append([]metrics.APICall(nil), s.apiCalls...)
}

// Run connects and serves until ctx ends, redialing ReconnectDelay after
// every disconnect. It returns nil when ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.attempts.Add(1)
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		debug.Log("dashboard", "tab %d: relay connection ended: %v", s.cfg.TabID, err)

		if err := s.backoff().Wait(ctx); err != nil {
			// The deadline lands inside the delay; no further dial can happen.
			<-ctx.Done()
			return nil
		}
	}
}

// backoff returns a limiter whose next token is one ReconnectDelay away.
func (s *Session) backoff() *rate.Limiter {
	lim := rate.NewLimiter(rate.Every(s.cfg.ReconnectDelay), 1)
	lim.Allow()
	return lim
}

// ConnectURL builds the UI port URL for a relay base URL.
func ConnectURL(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	u.Path = "/connect"
	u.RawQuery = url.Values{"name": {protocol.PortDevtools}}.Encode()
	return u.String(), nil
}

func (s *Session) runOnce(ctx context.Context) error {
	target, err := ConnectURL(s.cfg.RelayURL)
	if err != nil {
		return err
	}
	conn, resp, err := s.cfg.Dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	s.setConn(conn)
	defer s.setConn(nil)

	refresh := s.cfg.RefreshOnConnect && !s.refreshSent.Load()
	if err := s.write(protocol.NewHandshake(s.cfg.TabID, refresh)); err != nil {
		return fmt.Errorf("send init: %w", err)
	}
	if refresh {
		s.refreshSent.Store(true)
	}
	debug.Log("dashboard", "tab %d: connected to %s (refresh=%t)", s.cfg.TabID, target, refresh)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handle(data)
	}
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != nil && conn == nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	s.connected.Store(conn != nil)
	if s.cfg.OnConnState != nil {
		s.cfg.OnConnState(conn != nil)
	}
}

func (s *Session) write(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// SetBannerVisible asks the page to show or hide its banner.
func (s *Session) SetBannerVisible(visible bool) error {
	return s.write(protocol.NewToggleBanner(visible))
}

func (s *Session) handle(raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		debug.Warn("dashboard", "tab %d: %v", s.cfg.TabID, err)
		return
	}
	switch env.Type {
	case protocol.TypeMetricsUpdate:
		snap, err := metrics.DecodeSnapshot(env.Data, s.cfg.Now())
		if err != nil {
			debug.Warn("dashboard", "tab %d: %v", s.cfg.TabID, err)
			return
		}
		s.apply(snap)
	case protocol.TypeAPIPerformanceUpdate:
		var calls []metrics.APICall
		if err := json.Unmarshal(env.Data, &calls); err != nil {
			debug.Warn("dashboard", "tab %d: decode api calls: %v", s.cfg.TabID, err)
			return
		}
		s.urlMu.Lock()
		s.apiCalls = calls
		s.urlMu.Unlock()
		s.cfg.Board.Observe([]string{"apiPerformance"})
	default:
		debug.Log("dashboard", "tab %d: ignoring message type %q", s.cfg.TabID, env.Type)
	}
}

// apply records a snapshot, resetting history and panels first when the
// page has navigated to another document.
func (s *Session) apply(snap *metrics.Snapshot) {
	if snap.URL != "" {
		s.urlMu.Lock()
		prev := s.pageURL
		s.pageURL = snap.URL
		s.urlMu.Unlock()

		if prev != "" && !store.SameDocument(prev, snap.URL) {
			debug.Info("dashboard", "tab %d navigated: %s -> %s", s.cfg.TabID, prev, snap.URL)
			s.cfg.History.Reset()
			s.urlMu.Lock()
			s.apiCalls = nil
			s.urlMu.Unlock()
			s.cfg.Board.Reset()
			if s.cfg.OnNavigate != nil {
				s.cfg.OnNavigate(prev, snap.URL)
			}
		}
	}

	s.cfg.History.Add(snap)
	s.cfg.Board.Observe(snap.Sections())
	if s.cfg.OnSnapshot != nil {
		s.cfg.OnSnapshot(snap)
	}
}

// TabLabel formats a tab id for display.
func TabLabel(tabID int) string {
	return "tab " + strconv.Itoa(tabID)
}
