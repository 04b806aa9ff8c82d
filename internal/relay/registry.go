package relay

import (
	"sort"
	"sync/atomic"
)

// Registry maps tab ids to the one UI channel currently serving each tab.
//
// The map is owned by the broker's loop goroutine and is not locked. The
// counters are atomics so Info can be read from any goroutine.
type Registry struct {
	channels map[int]Channel

	totalRegistered atomic.Int64
	totalReplaced   atomic.Int64
	totalRemoved    atomic.Int64
	active          atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[int]Channel)}
}

// Register binds ch to tabID, replacing any previous channel for the tab.
// The previous channel, if any, is returned and left open.
func (r *Registry) Register(tabID int, ch Channel) (prev Channel, replaced bool) {
	prev, replaced = r.channels[tabID]
	r.channels[tabID] = ch
	r.totalRegistered.Add(1)
	if replaced {
		r.totalReplaced.Add(1)
	} else {
		r.active.Add(1)
	}
	return prev, replaced
}

// Lookup returns the channel registered for tabID.
func (r *Registry) Lookup(tabID int) (Channel, bool) {
	ch, ok := r.channels[tabID]
	return ch, ok
}

// TabOf returns the first tab id bound to ch.
func (r *Registry) TabOf(ch Channel) (int, bool) {
	for tabID, c := range r.channels {
		if c == ch {
			return tabID, true
		}
	}
	return 0, false
}

// RemoveByChannel deletes every entry whose channel is ch and returns the
// affected tab ids in ascending order.
func (r *Registry) RemoveByChannel(ch Channel) []int {
	var removed []int
	for tabID, c := range r.channels {
		if c == ch {
			delete(r.channels, tabID)
			removed = append(removed, tabID)
		}
	}
	if n := int64(len(removed)); n > 0 {
		r.totalRemoved.Add(n)
		r.active.Add(-n)
	}
	sort.Ints(removed)
	return removed
}

// Remove deletes the entry for tabID.
func (r *Registry) Remove(tabID int) bool {
	if _, ok := r.channels[tabID]; !ok {
		return false
	}
	delete(r.channels, tabID)
	r.totalRemoved.Add(1)
	r.active.Add(-1)
	return true
}

// Tabs returns the registered tab ids in ascending order.
func (r *Registry) Tabs() []int {
	tabs := make([]int, 0, len(r.channels))
	for tabID := range r.channels {
		tabs = append(tabs, tabID)
	}
	sort.Ints(tabs)
	return tabs
}

// Len returns the number of registered tabs.
func (r *Registry) Len() int {
	return len(r.channels)
}

// RegistryInfo contains statistics about the registry.
type RegistryInfo struct {
	Active          int64 `json:"active"`
	TotalRegistered int64 `json:"total_registered"`
	TotalReplaced   int64 `json:"total_replaced"`
	TotalRemoved    int64 `json:"total_removed"`
}

// Info returns registry statistics. Safe from any goroutine.
func (r *Registry) Info() RegistryInfo {
	return RegistryInfo{
		Active:          r.active.Load(),
		TotalRegistered: r.totalRegistered.Load(),
		TotalReplaced:   r.totalReplaced.Load(),
		TotalRemoved:    r.totalRemoved.Load(),
	}
}
