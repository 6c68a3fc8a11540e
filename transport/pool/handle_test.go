package pool_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/nodegate/nodegate/transport/pool"

	"github.com/stretchr/testify/require"
)

func TestHandleReadWrite(t *testing.T) {
	server := startServer(t, 1)
	client := dial(t, server)
	handle := acceptOne(t, server)

	// nothing queued yet
	require.Equal(t, 0, handle.Available())
	_, err := handle.Read(make([]byte, 8))
	require.ErrorIs(t, err, pool.ErrWouldBlock)

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)
	deadline := time.Now().Add(2 * time.Second)
	for handle.Available() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 5, handle.Available())

	payload := make([]byte, 8)
	n, err := handle.Read(payload)
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload[:n]))

	n, err = handle.Write([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte("world"), readPayload(t, client, 5))
}

func TestHandleLiveness(t *testing.T) {
	server := startServer(t, 1)
	client := dial(t, server)
	handle := acceptOne(t, server)
	require.True(t, handle.Connected())

	client.Close()
	deadline := time.Now().Add(2 * time.Second)
	for handle.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.False(t, handle.Connected())
	require.Equal(t, 0, handle.Available())
}

func TestHandleCloseIdempotent(t *testing.T) {
	server := startServer(t, 1)
	client := dial(t, server)
	handle := acceptOne(t, server)

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close())
	require.False(t, handle.Connected())
	require.Equal(t, 0, handle.Available())

	_, err := handle.Read(make([]byte, 1))
	require.ErrorIs(t, err, net.ErrClosed)
	_, err = handle.Write([]byte("x"))
	require.ErrorIs(t, err, net.ErrClosed)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestHandleEOFAfterPeerClose(t *testing.T) {
	server := startServer(t, 1)
	client := dial(t, server)
	handle := acceptOne(t, server)

	_, err := client.Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, client.Close())
	time.Sleep(100 * time.Millisecond)

	payload := make([]byte, 8)
	n, err := handle.Read(payload)
	require.NoError(t, err)
	require.Equal(t, "bye", string(payload[:n]))

	_, err = handle.Read(payload)
	require.ErrorIs(t, err, io.EOF)
}
