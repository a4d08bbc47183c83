package hub

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, metrics *Metrics) (*Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(metrics)
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}

func expectFrame(t *testing.T, s *Subscriber, want []byte) {
	t.Helper()
	select {
	case got, ok := <-s.Send:
		require.True(t, ok, "send channel closed")
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s got no frame", s.ID)
	}
}

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	h, _ := startHub(t, nil)

	a := NewSubscriber("a", 4)
	b := NewSubscriber("b", 4)
	require.True(t, h.Register(a))
	require.True(t, h.Register(b))
	assert.NotEqual(t, a.ID, b.ID)

	require.True(t, h.Broadcast([]byte("frame-1")))
	expectFrame(t, a, []byte("frame-1"))
	expectFrame(t, b, []byte("frame-1"))
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	h, _ := startHub(t, nil)

	s := NewSubscriber("gone", 1)
	require.True(t, h.Register(s))
	h.Unregister(s)
	h.Unregister(s) // unknown by now, ignored

	_, ok := <-s.Send
	assert.False(t, ok)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	h, cancel := startHub(t, metrics)

	slow := NewSubscriber("slow", 1)
	fast := NewSubscriber("fast", 8)
	require.True(t, h.Register(slow))
	require.True(t, h.Register(fast))

	require.True(t, h.Broadcast([]byte("1")))
	require.True(t, h.Broadcast([]byte("2")))

	expectFrame(t, fast, []byte("1"))
	expectFrame(t, fast, []byte("2"))

	// slow keeps what fit in its buffer, then its channel is closed.
	expectFrame(t, slow, []byte("1"))
	_, ok := <-slow.Send
	assert.False(t, ok)

	cancel()
	<-h.Done()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.slowDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.framesIn))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.framesOut))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.subscribers), "stopping the hub removes the rest")
}

func TestStoppedHubRefusesWork(t *testing.T) {
	h, cancel := startHub(t, nil)

	s := NewSubscriber("s", 1)
	require.True(t, h.Register(s))

	cancel()
	<-h.Done()

	_, ok := <-s.Send
	assert.False(t, ok, "stopping the hub closes every subscriber")
	assert.False(t, h.Register(NewSubscriber("late", 1)))
	assert.False(t, h.Broadcast([]byte("x")))
	h.Unregister(s) // must not block
}

func TestNewSubscriberDefaults(t *testing.T) {
	s := NewSubscriber("p", 0)
	assert.Equal(t, DefaultSendBuffer, cap(s.Send))
	assert.Equal(t, "p", s.Name)
}
