package relay

import (
	"fmt"

	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/protocol"
)

// TabController performs tab-level actions on behalf of the broker.
type TabController interface {
	Reload(tabID int, bypassCache bool) error
}

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	// Tabs reloads tabs. Nil sends a reload message over the tab's content
	// channel.
	Tabs TabController
	// Metrics may be nil.
	Metrics *Metrics
}

// Broker holds the relay state: UI channels per tab, the refreshed-tab set
// and the content channel per tab. It is not safe for concurrent use; run
// it inside a Loop.
type Broker struct {
	registry  *Registry
	refreshed map[int]struct{}
	content   map[int]Channel
	tabs      TabController
	metrics   *Metrics
}

// NewBroker creates a broker.
func NewBroker(cfg BrokerConfig) *Broker {
	b := &Broker{
		registry:  NewRegistry(),
		refreshed: make(map[int]struct{}),
		content:   make(map[int]Channel),
		metrics:   cfg.Metrics,
	}
	b.tabs = cfg.Tabs
	if b.tabs == nil {
		b.tabs = contentReloader{b}
	}
	return b
}

// Registry exposes the UI channel registry.
func (b *Broker) Registry() *Registry {
	return b.registry
}

// OnUIConnect accepts a new UI channel. Only channels named "devtools" are
// accepted; the caller closes rejected ones.
func (b *Broker) OnUIConnect(ch Channel) bool {
	ok := ch.Name() == protocol.PortDevtools
	b.metrics.uiConnect(ok)
	if !ok {
		debug.Log("relay", "ignoring channel %s with name %q", ch.ID(), ch.Name())
		return false
	}
	debug.Log("relay", "ui channel %s connected", ch.ID())
	return true
}

// OnUIHandshake binds ch to tabID and, on the first refresh request for
// the tab, reloads it bypassing the cache.
func (b *Broker) OnUIHandshake(ch Channel, tabID int, shouldRefresh bool) {
	b.metrics.handshake()
	if prev, replaced := b.registry.Register(tabID, ch); replaced && prev != ch {
		debug.Log("relay", "tab %d: channel %s replaced by %s", tabID, prev.ID(), ch.ID())
	}
	b.metrics.tabs(b.registry.Len())

	if !shouldRefresh {
		return
	}
	if _, done := b.refreshed[tabID]; done {
		return
	}
	b.refreshed[tabID] = struct{}{}
	err := b.tabs.Reload(tabID, true)
	b.metrics.reload(err)
	if err != nil {
		debug.Warn("relay", "tab %d: reload failed: %v", tabID, err)
	}
}

// OnUIMessage dispatches a message received on a UI channel.
func (b *Broker) OnUIMessage(ch Channel, raw []byte) {
	switch typ := protocol.PeekType(raw); typ {
	case protocol.TypeInit:
		hs, err := protocol.DecodeHandshake(raw)
		if err != nil {
			debug.Warn("relay", "channel %s: %v", ch.ID(), err)
			return
		}
		b.OnUIHandshake(ch, hs.TabID, hs.ShouldRefresh)
	case protocol.TypeToggleBanner:
		tabID, ok := b.registry.TabOf(ch)
		if !ok {
			debug.Log("relay", "channel %s: toggle-banner before init", ch.ID())
			return
		}
		if err := b.sendContent(tabID, raw); err != nil {
			debug.Log("relay", "tab %d: toggle-banner not delivered: %v", tabID, err)
		}
	default:
		debug.Log("relay", "channel %s: ignoring message type %q", ch.ID(), typ)
	}
}

// OnUIDisconnect drops every registry entry for ch and tells the affected
// tabs' collectors to stop.
func (b *Broker) OnUIDisconnect(ch Channel) {
	for _, tabID := range b.registry.RemoveByChannel(ch) {
		debug.Log("relay", "tab %d: ui channel %s disconnected", tabID, ch.ID())
		b.deactivate(tabID)
	}
	b.metrics.tabs(b.registry.Len())
}

// OnTabClosed forgets that the tab was refreshed.
func (b *Broker) OnTabClosed(tabID int) {
	delete(b.refreshed, tabID)
	debug.Log("relay", "tab %d closed", tabID)
}

// OnContentMessage forwards raw unchanged to the UI channel of senderTab.
// Nothing is queued: with no channel, or when the send fails, the message
// is dropped and the ack is no_connection. A failed send also drops the
// channel's registry entries.
func (b *Broker) OnContentMessage(raw []byte, senderTab int) protocol.Ack {
	ch, ok := b.registry.Lookup(senderTab)
	if !ok {
		b.metrics.contentMessage(protocol.StatusNoConnection)
		return protocol.Ack{Status: protocol.StatusNoConnection}
	}
	if err := ch.Send(raw); err != nil {
		debug.Log("relay", "tab %d: forward to %s failed: %v", senderTab, ch.ID(), err)
		b.metrics.sendFailed()
		b.OnUIDisconnect(ch)
		b.metrics.contentMessage(protocol.StatusNoConnection)
		return protocol.Ack{Status: protocol.StatusNoConnection}
	}
	b.metrics.contentMessage(protocol.StatusForwarded)
	return protocol.Ack{Status: protocol.StatusForwarded}
}

// AttachContent records the content channel for tabID.
func (b *Broker) AttachContent(tabID int, ch Channel) {
	b.content[tabID] = ch
	b.metrics.contentAttached()
	debug.Log("relay", "tab %d: content channel %s attached", tabID, ch.ID())
}

// DetachContent forgets ch wherever it is attached.
func (b *Broker) DetachContent(ch Channel) {
	for tabID, c := range b.content {
		if c == ch {
			delete(b.content, tabID)
			debug.Log("relay", "tab %d: content channel %s detached", tabID, ch.ID())
		}
	}
}

// ContentTabs returns the number of tabs with a content channel.
func (b *Broker) ContentTabs() int {
	return len(b.content)
}

// RefreshedTabs returns the number of tabs currently marked refreshed.
func (b *Broker) RefreshedTabs() int {
	return len(b.refreshed)
}

func (b *Broker) deactivate(tabID int) {
	if err := b.sendContent(tabID, protocol.NewDeactivate()); err != nil {
		debug.Log("relay", "tab %d: deactivate not delivered: %v", tabID, err)
		return
	}
	b.metrics.deactivated()
}

func (b *Broker) sendContent(tabID int, msg []byte) error {
	ch, ok := b.content[tabID]
	if !ok {
		return fmt.Errorf("tab %d: %w", tabID, ErrNoContent)
	}
	return ch.Send(msg)
}

// contentReloader reloads a tab by messaging its content channel.
type contentReloader struct {
	b *Broker
}

func (r contentReloader) Reload(tabID int, bypassCache bool) error {
	return r.b.sendContent(tabID, protocol.NewReload(bypassCache))
}
