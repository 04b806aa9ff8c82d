package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/perfdash/internal/metrics"
	"github.com/standardbeagle/perfdash/internal/panel"
	"github.com/standardbeagle/perfdash/internal/protocol"
	"github.com/standardbeagle/perfdash/internal/relay"
)

func startRelay(t *testing.T) (*relay.Server, *httptest.Server) {
	t.Helper()
	cfg := relay.DefaultConfig()
	cfg.PingInterval = 0
	srv := relay.New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Stop(ctx))
		ts.Close()
	})
	return srv, ts
}

func runSession(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 10 * time.Millisecond
	}
	s := NewSession(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("session did not stop")
		}
		s.Board().Stop()
	})
	return s
}

func postMessage(t *testing.T, base string, tab string, body string) protocol.Ack {
	t.Helper()
	resp, err := http.Post(base+"/message?tab="+tab, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var ack protocol.Ack
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	return ack
}

func waitForTab(t *testing.T, srv *relay.Server, tab int) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := srv.Status(context.Background())
		if err != nil {
			return false
		}
		for _, id := range st.Tabs {
			if id == tab {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnectURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://127.0.0.1:9229", "ws://127.0.0.1:9229/connect?name=devtools", false},
		{"https://relay.local/", "wss://relay.local/connect?name=devtools", false},
		{"ws://127.0.0.1:9229/anything?x=1", "ws://127.0.0.1:9229/connect?name=devtools", false},
		{"ftp://nope", "", true},
	}
	for _, tt := range tests {
		got, err := ConnectURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSessionReceivesSnapshots(t *testing.T) {
	srv, ts := startRelay(t)

	var mu sync.Mutex
	var seen []*metrics.Snapshot
	s := runSession(t, SessionConfig{
		RelayURL: ts.URL,
		TabID:    42,
		OnSnapshot: func(snap *metrics.Snapshot) {
			mu.Lock()
			seen = append(seen, snap)
			mu.Unlock()
		},
	})
	waitForTab(t, srv, 42)
	assert.True(t, s.Connected())

	ack := postMessage(t, ts.URL, "42",
		`{"type":"metrics-update","data":{"url":"https://app.test/home","fps":{"value":60,"timestamp":1000},"cpu":{"usage":12.5,"timestamp":1000}}}`)
	assert.Equal(t, protocol.StatusForwarded, ack.Status)

	require.Eventually(t, func() bool { return s.History().Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	latest := s.History().Latest()
	require.NotNil(t, latest)
	assert.Equal(t, 60.0, latest.FPS.Value)
	assert.Equal(t, "https://app.test/home", s.PageURL())

	fps, ok := s.Board().Tracker("fps")
	require.True(t, ok)
	assert.Equal(t, panel.StateActive, fps.State())
	mem, ok := s.Board().Tracker("memory")
	require.True(t, ok)
	assert.NotEqual(t, panel.StateActive, mem.State())

	mu.Lock()
	assert.Len(t, seen, 1)
	mu.Unlock()
}

func TestSessionResetsOnNavigation(t *testing.T) {
	srv, ts := startRelay(t)

	navigated := make(chan [2]string, 1)
	s := runSession(t, SessionConfig{
		RelayURL:   ts.URL,
		TabID:      7,
		OnNavigate: func(from, to string) { navigated <- [2]string{from, to} },
	})
	waitForTab(t, srv, 7)

	for _, body := range []string{
		`{"type":"metrics-update","data":{"url":"https://app.test/a","fps":{"value":50,"timestamp":1}}}`,
		`{"type":"metrics-update","data":{"url":"https://app.test/a#section","fps":{"value":55,"timestamp":2}}}`,
	} {
		postMessage(t, ts.URL, "7", body)
	}
	require.Eventually(t, func() bool { return s.History().Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	postMessage(t, ts.URL, "7", `{"type":"metrics-update","data":{"url":"https://app.test/b","fps":{"value":30,"timestamp":3}}}`)

	select {
	case nav := <-navigated:
		assert.Equal(t, "https://app.test/a#section", nav[0])
		assert.Equal(t, "https://app.test/b", nav[1])
	case <-time.After(5 * time.Second):
		t.Fatal("no navigation reported")
	}
	require.Eventually(t, func() bool { return s.History().Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 30.0, s.History().Latest().FPS.Value)
}

func TestSessionAPIPerformanceUpdate(t *testing.T) {
	srv, ts := startRelay(t)
	s := runSession(t, SessionConfig{RelayURL: ts.URL, TabID: 3})
	waitForTab(t, srv, 3)

	postMessage(t, ts.URL, "3",
		`{"type":"api-performance-update","data":[{"type":"fetch","method":"GET","url":"/api/x","duration":120,"size":512,"status":200}]}`)

	require.Eventually(t, func() bool { return len(s.APICalls()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "/api/x", s.APICalls()[0].URL)

	tr, ok := s.Board().Tracker("apiPerformance")
	require.True(t, ok)
	assert.Equal(t, panel.StateActive, tr.State())
}

func TestSessionBannerToggle(t *testing.T) {
	srv, ts := startRelay(t)

	s := NewSession(SessionConfig{RelayURL: ts.URL, TabID: 9})
	assert.ErrorIs(t, s.SetBannerVisible(true), ErrNotConnected)
	s.Board().Stop()

	content, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/content?tab=9", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer content.Close()
	require.Eventually(t, func() bool {
		st, err := srv.Status(context.Background())
		return err == nil && st.ContentTabs == 1
	}, 5*time.Second, 10*time.Millisecond)

	s = runSession(t, SessionConfig{RelayURL: ts.URL, TabID: 9, RefreshOnConnect: true})
	waitForTab(t, srv, 9)

	require.NoError(t, content.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := content.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reload","bypassCache":true}`, string(data))

	require.NoError(t, s.SetBannerVisible(false))
	_, data, err = content.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"toggle-banner","visible":false}`, string(data))
}

// initRecorder refuses the first refuse dials with 503, records each
// handshake, and closes the first drop connections after hold.
type initRecorder struct {
	refuse int
	drop   int
	hold   time.Duration

	mu       sync.Mutex
	dials    int
	inits    []protocol.Handshake
	accepted []time.Time
	closed   []time.Time
}

func (rec *initRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec.mu.Lock()
	rec.dials++
	refused := rec.dials <= rec.refuse
	rec.mu.Unlock()
	if refused {
		http.Error(w, "relay starting", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	rec.mu.Lock()
	rec.accepted = append(rec.accepted, time.Now())
	rec.mu.Unlock()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	hs, err := protocol.DecodeHandshake(data)
	if err != nil {
		return
	}
	rec.mu.Lock()
	rec.inits = append(rec.inits, hs)
	dropped := len(rec.inits) <= rec.drop
	rec.mu.Unlock()

	if dropped {
		time.Sleep(rec.hold)
		rec.mu.Lock()
		rec.closed = append(rec.closed, time.Now())
		rec.mu.Unlock()
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (rec *initRecorder) handshakes() []protocol.Handshake {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]protocol.Handshake(nil), rec.inits...)
}

func (rec *initRecorder) times() (accepted, closed []time.Time) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]time.Time(nil), rec.accepted...), append([]time.Time(nil), rec.closed...)
}

func TestSessionReconnectsWithoutRefresh(t *testing.T) {
	rec := &initRecorder{drop: 1}
	ts := httptest.NewServer(rec)
	t.Cleanup(ts.Close)

	s := runSession(t, SessionConfig{RelayURL: ts.URL, TabID: 5, RefreshOnConnect: true})

	require.Eventually(t, func() bool { return len(rec.handshakes()) >= 2 }, 5*time.Second, 10*time.Millisecond)
	hs := rec.handshakes()
	assert.True(t, hs[0].ShouldRefresh)
	assert.False(t, hs[1].ShouldRefresh)
	assert.Equal(t, 5, hs[1].TabID)
	assert.GreaterOrEqual(t, s.Attempts(), int64(2))
}

func TestSessionRefreshesAfterFailedDial(t *testing.T) {
	rec := &initRecorder{refuse: 1, drop: 1}
	ts := httptest.NewServer(rec)
	t.Cleanup(ts.Close)

	s := runSession(t, SessionConfig{RelayURL: ts.URL, TabID: 5, RefreshOnConnect: true})

	require.Eventually(t, func() bool { return len(rec.handshakes()) >= 2 }, 5*time.Second, 10*time.Millisecond)
	hs := rec.handshakes()
	assert.True(t, hs[0].ShouldRefresh, "first handshake that reaches the relay asks for a reload")
	assert.False(t, hs[1].ShouldRefresh)
	assert.GreaterOrEqual(t, s.Attempts(), int64(3))
}

func TestSessionWaitsDelayAfterLongConnection(t *testing.T) {
	const delay = 100 * time.Millisecond
	rec := &initRecorder{drop: 1, hold: 3 * delay}
	ts := httptest.NewServer(rec)
	t.Cleanup(ts.Close)

	runSession(t, SessionConfig{RelayURL: ts.URL, TabID: 5, ReconnectDelay: delay})

	require.Eventually(t, func() bool {
		accepted, _ := rec.times()
		return len(accepted) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	accepted, closed := rec.times()
	require.Len(t, closed, 1)
	assert.GreaterOrEqual(t, accepted[1].Sub(closed[0]), delay)
}
