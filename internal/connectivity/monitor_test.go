package connectivity

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorDefaultsToConnected(t *testing.T) {
	assert.True(t, NewMonitor().IsConnected())
}

func TestMonitorNotifiesOnTransitionsOnly(t *testing.T) {
	m := NewMonitor()
	var seen []bool
	m.OnChange(func(online bool) { seen = append(seen, online) })

	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	assert.Equal(t, []bool{false, true}, seen)
	assert.True(t, m.IsConnected())
}

func TestMonitorUnsubscribe(t *testing.T) {
	m := NewMonitor()
	var first, second int
	unsub := m.OnChange(func(bool) { first++ })
	m.OnChange(func(bool) { second++ })

	m.Set(false)
	unsub()
	unsub()
	m.Set(true)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestMonitorListenerMaySubscribe(t *testing.T) {
	m := NewMonitor()
	calls := 0
	m.OnChange(func(bool) {
		m.OnChange(func(bool) { calls++ })
	})
	m.Set(false)
	m.Set(true)
	assert.Equal(t, 1, calls)
}

func TestProberFeedsMonitor(t *testing.T) {
	m := NewMonitor()
	up := false
	p := NewProber(m, func(context.Context) bool { return up }, 0)

	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.IsConnected())

	up = true
	assert.True(t, p.Probe(context.Background()))
	assert.True(t, m.IsConnected())
}

func TestDialCheck(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	check, err := DialCheck(srv.URL)
	require.NoError(t, err)
	assert.True(t, check(context.Background()))

	srv.Close()
	assert.False(t, check(context.Background()))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	check, err = DialCheck("http://" + addr)
	require.NoError(t, err)
	assert.False(t, check(context.Background()))

	_, err = DialCheck("not a url")
	assert.Error(t, err)
	_, err = DialCheck()
	assert.Error(t, err)
}

func TestDialCheckAnyReachable(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()
	up := httptest.NewServer(http.NotFoundHandler())
	defer up.Close()

	check, err := DialCheck(downURL, up.URL)
	require.NoError(t, err)
	assert.True(t, check(context.Background()))

	check, err = DialCheck(downURL)
	require.NoError(t, err)
	assert.False(t, check(context.Background()))
}
