// SPDX-License-Identifier: GPL-3.0-or-later

package servermock_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbmk-project/sockmock/exchange"
	"github.com/rbmk-project/sockmock/instruction"
	"github.com/rbmk-project/sockmock/servermock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dial connects a client to the server and registers its cleanup.
func dial(t *testing.T, srv *servermock.Server) net.Conn {
	conn, err := net.Dial(srv.Protocol().String(), srv.SocketAddress().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	return conn
}

// readN reads exactly count bytes from the conn.
func readN(t *testing.T, conn net.Conn, count int) []byte {
	buf := make([]byte, count)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

// waitDone waits for the executor to stop.
func waitDone(t *testing.T, srv *servermock.Server) {
	select {
	case <-srv.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("executor did not stop")
	}
}

func TestPingPongScenario(t *testing.T) {
	srv := servermock.StartTest(t, servermock.TCP)
	assert.NotZero(t, srv.Port())
	assert.True(t, srv.SocketAddress().Addr().IsLoopback())

	client := dial(t, srv)
	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)

	srv.AddMockInstructions(
		instruction.ReceiveMessage{},
		instruction.SendMessage{Payload: []byte("pong")},
	)

	assert.Equal(t, []byte("pong"), readN(t, client, 4))
	message, ok := srv.PopReceivedMessage()
	require.True(t, ok)
	assert.Equal(t, []byte("ping"), message)
	assert.NoError(t, srv.PopServerError())
}

func TestNoMessage(t *testing.T) {
	for _, proto := range []servermock.Protocol{servermock.TCP, servermock.UDP} {
		t.Run(proto.String(), func(t *testing.T) {
			srv := servermock.StartTest(t, proto)
			message, ok := srv.PopReceivedMessage()
			assert.False(t, ok)
			assert.Nil(t, message)
			assert.NoError(t, srv.PopServerError())
		})
	}
}

func TestOrderPreservation(t *testing.T) {
	srv := servermock.StartTest(t, servermock.TCP)
	client := dial(t, srv)

	srv.AddMockInstructions(instruction.ReceiveMessage{}, instruction.SendMessage{Payload: []byte("ack1")})
	_, err := client.Write([]byte("one"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ack1"), readN(t, client, 4))

	srv.AddMockInstructionsList(instruction.NewList().
		ReceiveMessage().
		SendMessage([]byte("ack2")))
	_, err = client.Write([]byte("two"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ack2"), readN(t, client, 4))

	srv.AddMockInstructions(instruction.ReceiveMessage{})
	srv.AddMockInstructions(instruction.StopExchange{})
	_, err = client.Write([]byte("three"))
	require.NoError(t, err)
	waitDone(t, srv)

	var got []string
	for {
		message, ok := srv.PopReceivedMessage()
		if !ok {
			break
		}
		got = append(got, string(message))
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.NoError(t, srv.PopServerError())
}

func TestTruncation(t *testing.T) {
	t.Run("TCP", func(t *testing.T) {
		srv := servermock.StartTest(t, servermock.TCP)
		client := dial(t, srv)

		_, err := client.Write([]byte("hello from client"))
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		srv.AddMockInstructionsList(instruction.NewList().
			ReceiveMessageWithMaxSize(16).
			SendMessage([]byte("hello from server")))

		assert.Equal(t, []byte("hello from server"), readN(t, client, 17))
		message, ok := srv.PopReceivedMessage()
		require.True(t, ok)
		assert.Equal(t, []byte("hello from clien"), message)
	})

	t.Run("UDP", func(t *testing.T) {
		srv := servermock.StartTest(t, servermock.UDP)
		client := dial(t, srv)

		srv.AddMockInstructions(
			instruction.ReceiveMessage{MaxSize: 3},
			instruction.SendMessage{Payload: []byte{4, 5, 6}},
		)
		_, err := client.Write([]byte{1, 2, 3, 4, 5})
		require.NoError(t, err)

		reply := make([]byte, 16)
		count, err := client.Read(reply)
		require.NoError(t, err)
		assert.Equal(t, []byte{4, 5, 6}, reply[:count])

		message, ok := srv.PopReceivedMessage()
		require.True(t, ok)
		assert.Equal(t, []byte{1, 2, 3}, message)
	})
}

func TestLongBurstIsOneMessage(t *testing.T) {
	cfg := &servermock.Config{ReceiveTimeout: 200 * time.Millisecond}
	srv := cfg.StartTest(t, servermock.TCP)
	client := dial(t, srv)

	_, err := client.Write(bytes.Repeat([]byte("a"), 5000))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	srv.AddMockInstructions(
		instruction.ReceiveMessage{MaxSize: 4},
		instruction.ReceiveMessage{},
		instruction.StopExchange{},
	)
	waitDone(t, srv)

	first, ok := srv.PopReceivedMessage()
	require.True(t, ok)
	assert.Equal(t, []byte("aaaa"), first)
	_, ok = srv.PopReceivedMessage()
	assert.False(t, ok)

	// the second receive finds nothing left of the burst
	var serr *servermock.Error
	require.True(t, errors.As(srv.PopServerError(), &serr))
	assert.Equal(t, servermock.KindTimedOut, serr.Kind)
}

func TestChunkAlignedBurst(t *testing.T) {
	cfg := &servermock.Config{
		BurstGap:       20 * time.Millisecond,
		ReceiveTimeout: time.Hour,
	}
	srv := cfg.StartTest(t, servermock.TCP)
	client := dial(t, srv)

	_, err := client.Write(bytes.Repeat([]byte("b"), 4096))
	require.NoError(t, err)
	srv.AddMockInstructions(instruction.ReceiveMessage{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	message, err := srv.WaitReceivedMessage(ctx)
	require.NoError(t, err)
	assert.Len(t, message, 4096)
}

func TestFixedLogClock(t *testing.T) {
	cfg := &servermock.Config{
		TimeNow: func() time.Time {
			return time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
		},
	}
	srv := cfg.StartTest(t, servermock.TCP)
	client := dial(t, srv)

	srv.AddMockInstructions(instruction.ReceiveMessage{})
	time.Sleep(20 * time.Millisecond)
	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	message, err := srv.WaitReceivedMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), message)
	assert.NoError(t, srv.PopServerError())
}

func TestConditionalSend(t *testing.T) {
	srv := servermock.StartTest(t, servermock.TCP)
	client := dial(t, srv)

	srv.AddMockInstructionsList(instruction.NewList().
		ReceiveMessage().
		SendMessageDependingOnLastReceivedMessage(func([]byte, bool) ([]byte, bool) {
			return nil, false
		}).
		SendMessageDependingOnLastReceivedMessage(func(last []byte, ok bool) ([]byte, bool) {
			if !ok {
				return nil, false
			}
			return append(last[:6:6], " from server"...), true
		}))

	_, err := client.Write([]byte("hello2 from client"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello2 from server"), readN(t, client, 18))

	message, ok := srv.PopReceivedMessage()
	require.True(t, ok)
	assert.Equal(t, []byte("hello2 from client"), message)
	assert.NoError(t, srv.PopServerError())
}

func TestGracefulStop(t *testing.T) {
	srv := servermock.StartTest(t, servermock.TCP)
	client := dial(t, srv)

	srv.AddMockInstructions(
		instruction.SendMessage{Payload: []byte("bye")},
		instruction.StopExchange{},
		instruction.SendMessage{Payload: []byte("never")},
	)

	data, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, []byte("bye"), data)

	waitDone(t, srv)
	assert.Equal(t, servermock.StateStopped, srv.State())

	// instructions appended after the stop never run
	srv.AddMockInstructions(instruction.SendMessage{Payload: []byte("late")})
	assert.NoError(t, srv.PopServerError())
}

func TestReceiveTimeout(t *testing.T) {
	cfg := &servermock.Config{ReceiveTimeout: 50 * time.Millisecond}
	srv := cfg.StartTest(t, servermock.TCP)
	client := dial(t, srv)

	srv.AddMockInstructions(
		instruction.ReceiveMessage{},
		instruction.SendMessage{Payload: []byte("still here")},
	)

	// the script continues after the timeout
	assert.Equal(t, []byte("still here"), readN(t, client, 10))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.WaitServerError(ctx)
	require.Error(t, err)

	var serr *servermock.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, servermock.KindTimedOut, serr.Kind)
	assert.False(t, serr.Fatal())
	assert.ErrorIs(t, err, exchange.ErrTimedOut)

	_, ok := srv.PopReceivedMessage()
	assert.False(t, ok)
}

func TestClientDisconnected(t *testing.T) {
	srv := servermock.StartTest(t, servermock.TCP)
	client := dial(t, srv)
	client.Close()

	srv.AddMockInstructions(instruction.ReceiveMessage{}, instruction.StopExchange{})
	waitDone(t, srv)

	err := srv.PopServerError()
	var serr *servermock.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, servermock.KindIO, serr.Kind)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "EEOF", serr.Class())
	assert.NoError(t, srv.PopServerError())
}

func TestUDPSendBeforeReceive(t *testing.T) {
	srv := servermock.StartTest(t, servermock.UDP)
	srv.AddMockInstructions(instruction.SendMessage{Payload: []byte("hello")}, instruction.StopExchange{})
	waitDone(t, srv)

	err := srv.PopServerError()
	var serr *servermock.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, servermock.KindIO, serr.Kind)
	assert.ErrorIs(t, err, exchange.ErrNoPeer)
}

func TestBindError(t *testing.T) {
	for _, proto := range []servermock.Protocol{servermock.TCP, servermock.UDP} {
		t.Run(proto.String(), func(t *testing.T) {
			first := servermock.StartTest(t, proto)
			second, err := servermock.Start(proto, first.Port())
			require.Error(t, err)
			assert.Nil(t, second)

			var serr *servermock.Error
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, servermock.KindBind, serr.Kind)
			assert.True(t, serr.Fatal())
			assert.True(t, exchange.IsAddrInUse(err))
			assert.Equal(t, "EADDRINUSE", serr.Class())
			assert.True(t, strings.HasSuffix(serr.Description(), "(port already in use)"))

			assert.Panics(t, func() {
				servermock.MustStart(proto, first.Port())
			})
		})
	}
}

func TestClose(t *testing.T) {
	t.Run("while waiting for the client", func(t *testing.T) {
		srv, err := servermock.StartTCP()
		require.NoError(t, err)
		assert.Equal(t, servermock.StateAwaitingConnection, srv.State())

		t0 := time.Now()
		assert.NoError(t, srv.Close())
		assert.Less(t, time.Since(t0), servermock.DefaultStopTimeout)
		assert.Equal(t, servermock.StateStopped, srv.State())
		assert.NoError(t, srv.Close())

		// the port has been released
		again, err := servermock.Start(servermock.TCP, srv.Port())
		require.NoError(t, err)
		again.Close()
	})

	t.Run("while receiving", func(t *testing.T) {
		cfg := &servermock.Config{ReceiveTimeout: time.Hour}
		srv, err := cfg.Start(servermock.TCP, 0)
		require.NoError(t, err)
		client := dial(t, srv)

		srv.AddMockInstructions(instruction.ReceiveMessage{}, instruction.SendMessage{Payload: []byte("x")})
		require.Eventually(t, func() bool {
			return srv.State() == servermock.StateExecuting
		}, 10*time.Second, 5*time.Millisecond)

		assert.NoError(t, srv.Close())
		assert.Equal(t, servermock.StateStopped, srv.State())
		assert.NoError(t, srv.PopServerError())

		data, err := io.ReadAll(client)
		assert.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("UDP with queued instructions", func(t *testing.T) {
		srv, err := servermock.StartUDP()
		require.NoError(t, err)
		srv.AddMockInstructions(
			instruction.ReceiveMessage{},
			instruction.ReceiveMessage{},
			instruction.ReceiveMessage{},
		)
		assert.NoError(t, srv.Close())
		waitDone(t, srv)
		assert.NoError(t, srv.PopServerError())
	})

	t.Run("concurrent callers", func(t *testing.T) {
		srv, err := servermock.StartTCP()
		require.NoError(t, err)
		wg := &sync.WaitGroup{}
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				srv.Close()
			}()
		}
		wg.Wait()
		assert.Equal(t, servermock.StateStopped, srv.State())
	})
}

func TestAddMockInstructionsIgnoresNil(t *testing.T) {
	srv := servermock.StartTest(t, servermock.TCP)
	client := dial(t, srv)

	srv.AddMockInstructions(nil, instruction.SendMessage{Payload: []byte("ok")}, nil)
	assert.Equal(t, []byte("ok"), readN(t, client, 2))
}

func TestWaitReceivedMessage(t *testing.T) {
	t.Run("returns the message", func(t *testing.T) {
		srv := servermock.StartTest(t, servermock.UDP)
		client := dial(t, srv)
		srv.AddMockInstructions(instruction.ReceiveMessage{})
		_, err := client.Write([]byte("datagram"))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		message, err := srv.WaitReceivedMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("datagram"), message)
	})

	t.Run("honours the context", func(t *testing.T) {
		srv := servermock.StartTest(t, servermock.UDP)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := srv.WaitReceivedMessage(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NoError(t, srv.WaitServerError(ctx))
	})
}

func TestStructuredLogs(t *testing.T) {
	var (
		buf bytes.Buffer
		mu  sync.Mutex
	)
	logger := slog.New(slog.NewJSONHandler(&lockedWriter{w: &buf, mu: &mu}, nil))
	cfg := &servermock.Config{Logger: logger}
	srv := cfg.StartTest(t, servermock.TCP)
	client := dial(t, srv)

	srv.AddMockInstructions(
		instruction.ReceiveMessage{},
		instruction.SendMessage{Payload: []byte("pong")},
		instruction.StopExchange{},
	)
	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)
	waitDone(t, srv)
	require.NoError(t, srv.Close())

	mu.Lock()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	mu.Unlock()

	var msgs []string
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		msgs = append(msgs, entry["msg"].(string))
	}
	for _, expected := range []string{
		"serverStart", "acceptStart", "acceptDone",
		"instructionStart", "readStart", "readDone",
		"writeStart", "writeDone", "closeStart", "closeDone",
		"instructionDone", "serverStop",
	} {
		assert.Contains(t, msgs, expected)
	}
	assert.Equal(t, "serverStart", msgs[0])
	assert.Equal(t, "serverStop", msgs[len(msgs)-1])
}

// lockedWriter serializes writes coming from several goroutines.
type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (lw *lockedWriter) Write(data []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(data)
}
