package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/perfdash/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fakeChannel struct {
	id   string
	name string

	mu     sync.Mutex
	sent   [][]byte
	fail   error
	closed bool
}

func newFake(id string) *fakeChannel {
	return &fakeChannel{id: id, name: protocol.PortDevtools}
}

func (f *fakeChannel) ID() string   { return f.id }
func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if f.closed {
		return ErrChannelClosed
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = string(m)
	}
	return out
}

type fakeTabs struct {
	reloads map[int]int
	err     error
}

func newFakeTabs() *fakeTabs {
	return &fakeTabs{reloads: make(map[int]int)}
}

func (f *fakeTabs) Reload(tabID int, bypassCache bool) error {
	if !bypassCache {
		return fmt.Errorf("expected bypassCache")
	}
	f.reloads[tabID]++
	return f.err
}

const snapshotMsg = `{"type":"metrics-update","data":{"fps":{"value":60,"timestamp":1}}}`

func TestOnUIConnectAcceptsOnlyDevtools(t *testing.T) {
	b := NewBroker(BrokerConfig{Tabs: newFakeTabs()})

	assert.True(t, b.OnUIConnect(newFake("a")))

	other := newFake("b")
	other.name = "sidebar"
	assert.False(t, b.OnUIConnect(other))
}

func TestDisconnectLeavesNoEntry(t *testing.T) {
	b := NewBroker(BrokerConfig{Tabs: newFakeTabs()})
	ch := newFake("a")
	keep := newFake("b")

	b.OnUIHandshake(ch, 1, false)
	b.OnUIHandshake(ch, 2, false)
	b.OnUIHandshake(keep, 3, false)

	b.OnUIDisconnect(ch)

	_, ok := b.Registry().TabOf(ch)
	assert.False(t, ok)
	assert.Equal(t, []int{3}, b.Registry().Tabs())

	// Disconnecting an unknown channel is a no-op.
	b.OnUIDisconnect(newFake("ghost"))
	assert.Equal(t, 1, b.Registry().Len())
}

func TestLastWriterWins(t *testing.T) {
	b := NewBroker(BrokerConfig{Tabs: newFakeTabs()})
	first := newFake("first")
	second := newFake("second")

	b.OnUIHandshake(first, 5, false)
	b.OnUIHandshake(second, 5, false)

	ack := b.OnContentMessage([]byte(snapshotMsg), 5)
	assert.Equal(t, protocol.StatusForwarded, ack.Status)
	assert.Empty(t, first.Sent())
	assert.Equal(t, []string{snapshotMsg}, second.Sent())

	info := b.Registry().Info()
	assert.Equal(t, int64(1), info.Active)
	assert.Equal(t, int64(1), info.TotalReplaced)
}

func TestNoConnectionHasNoSideEffects(t *testing.T) {
	b := NewBroker(BrokerConfig{Tabs: newFakeTabs()})
	other := newFake("other")
	b.OnUIHandshake(other, 1, false)
	before := b.Registry().Info()

	ack := b.OnContentMessage([]byte(snapshotMsg), 2)

	assert.Equal(t, protocol.StatusNoConnection, ack.Status)
	assert.Equal(t, before, b.Registry().Info())
	assert.Equal(t, []int{1}, b.Registry().Tabs())
	assert.Empty(t, other.Sent())
}

func TestForwardIsVerbatim(t *testing.T) {
	b := NewBroker(BrokerConfig{Tabs: newFakeTabs()})
	ch := newFake("a")
	b.OnUIHandshake(ch, 9, false)

	raw := []byte(`{"type":"api-performance-update","data":[{"url":"/x","duration":12.5}],"extra":true}`)
	ack := b.OnContentMessage(raw, 9)

	assert.Equal(t, protocol.StatusForwarded, ack.Status)
	assert.Equal(t, []string{string(raw)}, ch.Sent())
}

func TestFailedSendDropsChannel(t *testing.T) {
	b := NewBroker(BrokerConfig{Tabs: newFakeTabs()})
	content := newFake("content")
	b.AttachContent(4, content)

	ch := newFake("a")
	ch.fail = ErrSendQueueFull
	b.OnUIHandshake(ch, 4, false)

	ack := b.OnContentMessage([]byte(snapshotMsg), 4)

	assert.Equal(t, protocol.StatusNoConnection, ack.Status)
	_, ok := b.Registry().Lookup(4)
	assert.False(t, ok)
	assert.Equal(t, []string{string(protocol.NewDeactivate())}, content.Sent())
}

func TestReloadOnceUntilTabClosed(t *testing.T) {
	tabs := newFakeTabs()
	b := NewBroker(BrokerConfig{Tabs: tabs})

	b.OnUIHandshake(newFake("a"), 3, true)
	b.OnUIHandshake(newFake("b"), 3, true)
	b.OnUIHandshake(newFake("c"), 3, true)
	assert.Equal(t, 1, tabs.reloads[3])

	b.OnTabClosed(3)
	b.OnUIHandshake(newFake("d"), 3, true)
	assert.Equal(t, 2, tabs.reloads[3])

	b.OnUIHandshake(newFake("e"), 8, false)
	assert.Zero(t, tabs.reloads[8])
}

func TestReloadFailureIsNotRetried(t *testing.T) {
	tabs := newFakeTabs()
	tabs.err = errors.New("tab gone")
	b := NewBroker(BrokerConfig{Tabs: tabs})

	ch := newFake("a")
	b.OnUIHandshake(ch, 6, true)
	b.OnUIHandshake(ch, 6, true)

	assert.Equal(t, 1, tabs.reloads[6])
	_, ok := b.Registry().Lookup(6)
	assert.True(t, ok)
}

func TestReloadOverContentChannel(t *testing.T) {
	b := NewBroker(BrokerConfig{})
	content := newFake("content")
	b.AttachContent(11, content)

	b.OnUIHandshake(newFake("ui"), 11, true)

	assert.Equal(t, []string{string(protocol.NewReload(true))}, content.Sent())

	b.DetachContent(content)
	assert.Zero(t, b.ContentTabs())
}

func TestOnUIMessageDispatch(t *testing.T) {
	tabs := newFakeTabs()
	b := NewBroker(BrokerConfig{Tabs: tabs})
	content := newFake("content")
	b.AttachContent(42, content)
	ui := newFake("ui")

	// toggle-banner before init goes nowhere
	b.OnUIMessage(ui, protocol.NewToggleBanner(false))
	assert.Empty(t, content.Sent())

	b.OnUIMessage(ui, protocol.NewHandshake(42, true))
	assert.Equal(t, 1, tabs.reloads[42])
	_, ok := b.Registry().Lookup(42)
	require.True(t, ok)

	b.OnUIMessage(ui, protocol.NewToggleBanner(false))
	b.OnUIMessage(ui, []byte(`{"type":"mystery"}`))
	b.OnUIMessage(ui, []byte(`not json`))
	assert.Equal(t, []string{string(protocol.NewToggleBanner(false))}, content.Sent())
}

// UI connects for tab 42 with shouldRefresh=true, disconnects, reconnects,
// then the tab closes and a UI connects again.
func TestScenarioReloadCounts(t *testing.T) {
	tabs := newFakeTabs()
	b := NewBroker(BrokerConfig{Tabs: tabs})

	first := newFake("first")
	require.True(t, b.OnUIConnect(first))
	b.OnUIHandshake(first, 42, true)
	assert.Equal(t, 1, tabs.reloads[42])

	b.OnUIDisconnect(first)
	second := newFake("second")
	b.OnUIHandshake(second, 42, true)
	assert.Equal(t, 1, tabs.reloads[42])

	b.OnUIDisconnect(second)
	b.OnTabClosed(42)
	third := newFake("third")
	b.OnUIHandshake(third, 42, true)
	assert.Equal(t, 2, tabs.reloads[42])
}

// Content for tab 7 sends a snapshot before any UI handshake exists. It is
// dropped and never replayed once a UI arrives.
func TestScenarioMessageBeforeHandshake(t *testing.T) {
	b := NewBroker(BrokerConfig{Tabs: newFakeTabs()})

	early := `{"type":"metrics-update","data":{"fps":{"value":1}}}`
	ack := b.OnContentMessage([]byte(early), 7)
	assert.Equal(t, protocol.StatusNoConnection, ack.Status)

	ui := newFake("ui")
	b.OnUIHandshake(ui, 7, false)
	assert.Empty(t, ui.Sent())

	late := `{"type":"metrics-update","data":{"fps":{"value":2}}}`
	ack = b.OnContentMessage([]byte(late), 7)
	assert.Equal(t, protocol.StatusForwarded, ack.Status)
	assert.Equal(t, []string{late}, ui.Sent())
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := NewLoop(context.Background(), NewBroker(BrokerConfig{Tabs: newFakeTabs()}))
	defer l.Stop()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, l.Post(func(*Broker) { order = append(order, i) }))
	}
	require.NoError(t, l.Do(context.Background(), func(*Broker) {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoopRecoversPanics(t *testing.T) {
	l := NewLoop(context.Background(), NewBroker(BrokerConfig{Tabs: newFakeTabs()}))
	defer l.Stop()

	require.NoError(t, l.Do(context.Background(), func(*Broker) { panic("boom") }))

	ui := newFake("ui")
	require.NoError(t, l.Do(context.Background(), func(b *Broker) { b.OnUIHandshake(ui, 1, false) }))
	ack, err := l.ContentMessage(context.Background(), []byte(snapshotMsg), 1)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusForwarded, ack.Status)
}

func TestLoopStopped(t *testing.T) {
	l := NewLoop(context.Background(), NewBroker(BrokerConfig{Tabs: newFakeTabs()}))
	l.Stop()

	assert.ErrorIs(t, l.Post(func(*Broker) {}), ErrLoopStopped)
	assert.ErrorIs(t, l.Do(context.Background(), func(*Broker) {}), ErrLoopStopped)
}

func TestLoopDoHonoursContext(t *testing.T) {
	l := NewLoop(context.Background(), NewBroker(BrokerConfig{Tabs: newFakeTabs()}))
	defer l.Stop()

	release := make(chan struct{})
	require.NoError(t, l.Post(func(*Broker) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func(*Broker) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
