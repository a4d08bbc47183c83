package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/backplane/internal/transport"
)

func openMemory(t *testing.T, m *transport.Memory, address string) transport.Conn {
	t.Helper()
	conn, err := m.Open(context.Background(), address)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func recvWithin(t *testing.T, conn transport.Conn, d time.Duration) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	frame, err := conn.Recv(ctx)
	require.NoError(t, err)
	return frame
}

func TestMemoryBroadcastsToEveryConnection(t *testing.T) {
	m := transport.NewMemory()
	defer m.Close()

	a := openMemory(t, m, "mem://lab")
	b := openMemory(t, m, "mem://lab")

	require.NoError(t, a.Send(context.Background(), []byte("hello")))

	assert.Equal(t, []byte("hello"), recvWithin(t, a, time.Second), "sender receives its own frame")
	assert.Equal(t, []byte("hello"), recvWithin(t, b, time.Second))
}

func TestMemoryBusesAreIsolated(t *testing.T) {
	m := transport.NewMemory()
	defer m.Close()

	lab := openMemory(t, m, "mem://lab")
	bench := openMemory(t, m, "mem://bench")

	require.NoError(t, lab.Send(context.Background(), []byte("lab only")))
	assert.Equal(t, []byte("lab only"), recvWithin(t, lab, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := bench.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryKeepsPublishOrder(t *testing.T) {
	m := transport.NewMemory()
	defer m.Close()

	pub := openMemory(t, m, "mem://ordered")
	sub := openMemory(t, m, "mem://ordered")

	for i := 0; i < 50; i++ {
		require.NoError(t, pub.Send(context.Background(), []byte{byte(i)}))
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, []byte{byte(i)}, recvWithin(t, sub, time.Second))
	}
}

func TestMemoryCloseUnblocksRecv(t *testing.T) {
	m := transport.NewMemory()
	defer m.Close()

	conn, err := m.Open(context.Background(), "mem://closing")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var recvErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, recvErr = conn.Recv(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "Close should be idempotent")
	wg.Wait()

	assert.ErrorIs(t, recvErr, transport.ErrConnClosed)
	assert.ErrorIs(t, conn.Send(context.Background(), []byte("late")), transport.ErrConnClosed)
}

func TestMemoryDropsWhenInboxIsFull(t *testing.T) {
	m := transport.NewMemory(transport.WithInboxSize(2))
	defer m.Close()

	pub := openMemory(t, m, "mem://small")
	sub := openMemory(t, m, "mem://small")

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Send(context.Background(), []byte{byte(i)}))
	}

	assert.Equal(t, []byte{0}, recvWithin(t, sub, time.Second))
	assert.Equal(t, []byte{1}, recvWithin(t, sub, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "frames beyond the inbox size are dropped")
}

func TestMemoryRejectsBadAddresses(t *testing.T) {
	m := transport.NewMemory()
	defer m.Close()

	for _, address := range []string{"mem://", "ws://lab", "lab", "%zz"} {
		_, err := m.Open(context.Background(), address)
		assert.ErrorIs(t, err, transport.ErrInvalidAddress, "address %q", address)
	}
}

func TestMemoryRecvReportsClosedBus(t *testing.T) {
	m := transport.NewMemory()

	conn, err := m.Open(context.Background(), "mem://lab")
	require.NoError(t, err)
	defer conn.Close()

	errs := make(chan error, 1)
	go func() {
		_, err := conn.Recv(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, transport.ErrBusClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv stayed blocked after the bus was closed")
	}

	_, err = conn.Recv(context.Background())
	assert.ErrorIs(t, err, transport.ErrBusClosed, "later calls keep reporting the closed bus")

	require.NoError(t, conn.Close())
	_, err = conn.Recv(context.Background())
	assert.ErrorIs(t, err, transport.ErrConnClosed)
}
