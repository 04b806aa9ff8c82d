package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	a := newFake("a")
	b := newFake("b")

	prev, replaced := r.Register(1, a)
	assert.Nil(t, prev)
	assert.False(t, replaced)

	prev, replaced = r.Register(1, b)
	assert.True(t, replaced)
	assert.Equal(t, a, prev)

	got, ok := r.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, b, got)

	_, ok = r.Lookup(2)
	assert.False(t, ok)
}

func TestRegistryRemoveByChannel(t *testing.T) {
	r := NewRegistry()
	a := newFake("a")
	b := newFake("b")
	r.Register(3, a)
	r.Register(1, a)
	r.Register(2, b)

	assert.Equal(t, []int{1, 3}, r.RemoveByChannel(a))
	assert.Equal(t, []int{2}, r.Tabs())
	assert.Empty(t, r.RemoveByChannel(a))

	tab, ok := r.TabOf(b)
	assert.True(t, ok)
	assert.Equal(t, 2, tab)
}

func TestRegistryInfo(t *testing.T) {
	r := NewRegistry()
	a := newFake("a")
	r.Register(1, a)
	r.Register(1, newFake("b"))
	r.Register(2, a)
	assert.True(t, r.Remove(2))
	assert.False(t, r.Remove(2))

	assert.Equal(t, RegistryInfo{
		Active:          1,
		TotalRegistered: 3,
		TotalReplaced:   1,
		TotalRemoved:    1,
	}, r.Info())
	assert.Equal(t, 1, r.Len())
}
