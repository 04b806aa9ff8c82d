package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/standardbeagle/perfdash/internal/relay"
)

// RelayStatus is the last probe result for the relay.
type RelayStatus struct {
	Connected  bool
	PingMs     int64
	Version    string
	Tabs       []int
	Uptime     time.Duration
	Err        error
	LastUpdate time.Time
}

// Badge is the short indicator shown in the status line.
func (s RelayStatus) Badge() string {
	if s.Connected {
		return fmt.Sprintf("relay OK %dms", s.PingMs)
	}
	if s.LastUpdate.IsZero() {
		return "relay ..."
	}
	return "relay ERR"
}

// StatusFetcher polls the relay's status endpoint periodically.
type StatusFetcher struct {
	client   *http.Client
	endpoint string
	interval time.Duration
	onUpdate func(RelayStatus)

	mu     sync.RWMutex
	status RelayStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusFetcher creates a fetcher for the relay at relayURL. onUpdate
// may be nil.
func NewStatusFetcher(relayURL string, interval time.Duration, onUpdate func(RelayStatus)) (*StatusFetcher, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/status"
	u.RawQuery = ""

	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StatusFetcher{
		client:   &http.Client{Timeout: 2 * time.Second},
		endpoint: u.String(),
		interval: interval,
		onUpdate: onUpdate,
	}, nil
}

// Start starts the status fetcher.
func (f *StatusFetcher) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.run(ctx)
}

// Stop stops the status fetcher.
func (f *StatusFetcher) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// Refresh triggers an immediate status refresh.
func (f *StatusFetcher) Refresh(ctx context.Context) RelayStatus {
	return f.fetchStatus(ctx)
}

// Status returns the last probe result.
func (f *StatusFetcher) Status() RelayStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

func (f *StatusFetcher) run(ctx context.Context) {
	defer f.wg.Done()

	f.fetchStatus(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.fetchStatus(ctx)
		}
	}
}

func (f *StatusFetcher) fetchStatus(ctx context.Context) RelayStatus {
	status := RelayStatus{LastUpdate: time.Now()}

	start := time.Now()
	st, err := f.get(ctx)
	if err != nil {
		status.Err = err
	} else {
		status.Connected = true
		status.PingMs = time.Since(start).Milliseconds()
		status.Version = st.Version
		status.Tabs = st.Tabs
		status.Uptime = st.Uptime
	}

	f.mu.Lock()
	f.status = status
	f.mu.Unlock()

	if f.onUpdate != nil {
		f.onUpdate(status)
	}
	return status
}

func (f *StatusFetcher) get(ctx context.Context) (relay.Status, error) {
	var st relay.Status

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return st, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("relay status: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode relay status: %w", err)
	}
	return st, nil
}
