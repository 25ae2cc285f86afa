package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchExactMatch(t *testing.T) {
	b := New(nil, "")
	c := b.NewClient()
	var got any
	c.Subscribe(5, "Foo", func(deviceID int, name string, value any) { got = value })
	b.Dispatch(5, "Foo", 42, true)
	assert.Equal(t, 42, got)
	v, ok := b.GetValue(5, "Foo")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestDispatchWildcardDeviceAndName(t *testing.T) {
	b := New(nil, "")
	c := b.NewClient()
	var calls int
	c.Subscribe(AllDevices, "Foo", func(int, string, any) { calls++ })
	c.Subscribe(5, WildcardName, func(int, string, any) { calls++ })
	b.Dispatch(7, "Foo", nil, false)
	b.Dispatch(5, "Bar", nil, false)
	assert.Equal(t, 2, calls)
}

func TestDisposeRemovesSubscriptions(t *testing.T) {
	b := New(nil, "")
	c := b.NewClient()
	var calls int
	c.Subscribe(AllDevices, WildcardName, func(int, string, any) { calls++ })
	c.Dispose()
	b.Dispatch(1, "x", nil, false)
	assert.Equal(t, 0, calls)
}

func TestSubscriberPanicIsSwallowed(t *testing.T) {
	b := New(nil, "")
	c := b.NewClient()
	var secondCalled bool
	c.Subscribe(AllDevices, WildcardName, func(int, string, any) { panic("boom") })
	c.Subscribe(AllDevices, WildcardName, func(int, string, any) { secondCalled = true })
	assert.NotPanics(t, func() { b.Dispatch(1, "x", nil, false) })
	assert.True(t, secondCalled)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := t.TempDir() + "/broker.json"
	b := New(nil, path)
	b.Dispatch(0, "station.callsign", "KK7VZT", true)
	b.Flush()

	b2 := New(nil, path)
	v, ok := b2.GetValue(0, "station.callsign")
	require.True(t, ok)
	assert.Equal(t, "KK7VZT", v)
}
