package client

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/dungeon-lobby/internal/engine"
	"github.com/DoyleJ11/dungeon-lobby/internal/lobby"
	"github.com/DoyleJ11/dungeon-lobby/internal/protocol"
	"github.com/DoyleJ11/dungeon-lobby/internal/server"
	"github.com/DoyleJ11/dungeon-lobby/internal/transport"
)

func startLobby(t *testing.T) (string, int) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	srv := server.New(lobby.NewRegistry(3, logger), engine.NewCoordinator(logger, nil), logger, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx, "127.0.0.1", 0))
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})
	return splitAddr(t, srv.Addr())
}

func splitAddr(t *testing.T, addr net.Addr) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// inbox collects callback deliveries.
func inbox() (MessageFunc, <-chan protocol.Message) {
	ch := make(chan protocol.Message, 32)
	return func(m protocol.Message) { ch <- m }, ch
}

func recvMsg(t *testing.T, ch <-chan protocol.Message, within time.Duration) protocol.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

// closeOnCleanup closes c and waits for its receive loop so nothing logs
// after the test finishes.
func closeOnCleanup(t *testing.T, c *Client) {
	t.Cleanup(func() {
		_ = c.Close()
		<-c.Done()
	})
}

func waitDone(t *testing.T, c *Client, within time.Duration) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(within):
		t.Fatalf("receive loop still running after %v", within)
	}
}

func TestClient_JoinAndStartLevel(t *testing.T) {
	host, port := startLobby(t)

	onMsg, msgs := inbox()
	c := New(host, port, onMsg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, c.Connect(context.Background()))
	closeOnCleanup(t, c)

	require.NoError(t, c.Join("alice"))
	assert.Equal(t, protocol.Joined{ClientID: "alice"}, recvMsg(t, msgs, time.Second))
	assert.Equal(t, protocol.LobbyUpdate{Clients: []string{"alice"}}, recvMsg(t, msgs, time.Second))

	require.NoError(t, c.StartLevel(1))
	started, ok := recvMsg(t, msgs, time.Second).(protocol.LevelStarted)
	require.True(t, ok)
	assert.Equal(t, 1, started.Level)
	assert.Equal(t, 1, started.PlayerCount)
	assert.Len(t, started.Mobs, 3)

	require.NoError(t, c.Leave())
	waitDone(t, c, time.Second)
	assert.ErrorIs(t, c.Send(protocol.Leave{}), ErrNotConnected)
}

func TestClient_SendBeforeConnect(t *testing.T) {
	c := New("127.0.0.1", 1, nil)
	assert.ErrorIs(t, c.Send(protocol.Join{ClientID: "a"}), ErrNotConnected)
}

func TestClient_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := splitAddr(t, ln.Addr())
	ln.Close()

	c := New(host, port, nil, WithConnectTimeout(500*time.Millisecond))
	assert.Error(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Send(protocol.Leave{}), ErrNotConnected)
}

func TestClient_ConnectTwice(t *testing.T) {
	host, port := startLobby(t)

	c := New(host, port, nil)
	require.NoError(t, c.Connect(context.Background()))
	closeOnCleanup(t, c)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	host, port := startLobby(t)

	c := New(host, port, nil)
	require.NoError(t, c.Connect(context.Background()))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
	}
	wg.Wait()
	waitDone(t, c, time.Second)
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestClient_CloseWithoutConnect(t *testing.T) {
	c := New("127.0.0.1", 1, nil)
	assert.NoError(t, c.Close())
	waitDone(t, c, 100*time.Millisecond)
}

// fakeServer accepts one connection and hands it to the test.
func fakeServer(t *testing.T) (string, int, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	conns := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { c.Close() })
		conns <- c
	}()
	host, port := splitAddr(t, ln.Addr())
	return host, port, conns
}

func accepted(t *testing.T, conns <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(time.Second):
		t.Fatal("server never accepted")
		return nil
	}
}

func TestClient_CallbackPanicDoesNotStopLoop(t *testing.T) {
	host, port, conns := fakeServer(t)

	msgs := make(chan protocol.Message, 4)
	c := New(host, port, func(m protocol.Message) {
		if m.Type() == protocol.TypeError {
			panic("boom")
		}
		msgs <- m
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, c.Connect(context.Background()))
	closeOnCleanup(t, c)

	peer := accepted(t, conns)
	_, err := io.WriteString(peer, "{\"type\":\"error\",\"message\":\"lobby_full\"}\nnot json\n{\"type\":\"joined\",\"client_id\":\"a\"}\n")
	require.NoError(t, err)

	assert.Equal(t, protocol.Joined{ClientID: "a"}, recvMsg(t, msgs, time.Second))
}

func TestClient_FramesSplitAcrossWrites(t *testing.T) {
	host, port, conns := fakeServer(t)

	onMsg, msgs := inbox()
	c := New(host, port, onMsg)
	require.NoError(t, c.Connect(context.Background()))
	closeOnCleanup(t, c)

	peer := accepted(t, conns)
	_, err := io.WriteString(peer, `{"type":"lobby_upd`)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = io.WriteString(peer, `ate","clients":["a","b"]}`+"\n"+`{"type":"leave"}`+"\n")
	require.NoError(t, err)

	assert.Equal(t, protocol.LobbyUpdate{Clients: []string{"a", "b"}}, recvMsg(t, msgs, time.Second))
	assert.Equal(t, protocol.Leave{}, recvMsg(t, msgs, time.Second))
}

func TestClient_ServerHangupClosesClient(t *testing.T) {
	host, port, conns := fakeServer(t)

	c := New(host, port, nil)
	require.NoError(t, c.Connect(context.Background()))

	peer := accepted(t, conns)
	require.NoError(t, peer.Close())

	waitDone(t, c, time.Second)
	assert.ErrorIs(t, c.Send(protocol.Leave{}), ErrNotConnected)
}

func TestClient_CloseFromCallback(t *testing.T) {
	host, port := startLobby(t)

	var c *Client
	c = New(host, port, func(m protocol.Message) {
		if _, ok := m.(protocol.Joined); ok {
			_ = c.Close()
		}
	})
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Join("a"))

	waitDone(t, c, time.Second)
}

func TestClient_CloseDuringConnectDoesNotWaitForDial(t *testing.T) {
	dialing := make(chan struct{})
	c := New("127.0.0.1", 1, nil, WithConnectTimeout(time.Minute))
	c.dial = func(ctx context.Context, _ string, _ time.Duration, _ *zap.Logger) (*transport.Conn, error) {
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background()) }()
	<-dialing

	assert.ErrorIs(t, c.Send(protocol.Join{ClientID: "a"}), ErrNotConnected)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close waited for the dial")
	}

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Connect did not return after Close")
	}
	waitDone(t, c, 100*time.Millisecond)
}

func TestClient_DialCompletingAfterCloseIsReleased(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })

	release := make(chan struct{})
	dialing := make(chan struct{})
	c := New("127.0.0.1", 1, nil)
	c.dial = func(_ context.Context, _ string, wt time.Duration, logger *zap.Logger) (*transport.Conn, error) {
		close(dialing)
		<-release
		return transport.NewConn(local, wt, logger), nil
	}

	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background()) }()
	<-dialing
	require.NoError(t, c.Close())
	close(release)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Connect did not return")
	}

	// The late connection was closed, so the peer sees EOF.
	_, err := remote.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
