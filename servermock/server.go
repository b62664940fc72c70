// SPDX-License-Identifier: GPL-3.0-or-later

package servermock

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/sockmock/closepool"
	"github.com/rbmk-project/sockmock/instruction"
)

// Server is a scripted TCP/UDP server listening on the loopback interface.
//
// Construct using [*Config.Start] or [Start].
//
// All the methods are safe for concurrent use by multiple goroutines.
type Server struct {
	// addr is the bound address.
	addr netip.AddrPort

	// cancel stops the executor.
	cancel context.CancelFunc

	// cfg is the server config.
	cfg *Config

	// closeonce ensures we close just once.
	closeonce sync.Once

	// closeerr is the error returned by Close.
	closeerr error

	// ex is the background executor.
	ex *executor

	// pool releases the sockets on close.
	pool *closepool.Pool

	// proto is the server protocol.
	proto Protocol
}

// Start binds a socket on the loopback interface using the given
// protocol and port and starts executing instructions in the background.
// A zero port lets the OS choose a free port.
//
// When the socket cannot be bound, the returned error is an [*Error]
// whose kind is [KindBind].
func (c *Config) Start(proto Protocol, port uint16) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t0 := c.timeNow()

	endpoint, err := c.exchangeConfig().Listen(ctx, proto, port)

	if c.Logger != nil {
		var laddr string
		if endpoint != nil {
			laddr = endpoint.Addr().String()
		}
		c.Logger.InfoContext(
			ctx,
			"serverStart",
			slog.Any("err", err),
			slog.String("localAddr", laddr),
			slog.String("protocol", proto.String()),
			slog.Int("requestedPort", int(port)),
			slog.Time("t0", t0),
			slog.Time("t", c.timeNow()),
		)
	}

	if err != nil {
		cancel()
		return nil, newError(opListen, err)
	}

	pool := &closepool.Pool{}
	pool.Add(endpoint)
	srv := &Server{
		addr:      endpoint.Addr(),
		cancel:    cancel,
		cfg:       c,
		closeonce: sync.Once{},
		ex:        newExecutor(c, endpoint, pool),
		pool:      pool,
		proto:     proto,
	}
	go srv.ex.run(ctx)
	return srv, nil
}

// Start calls [*Config.Start] using [DefaultConfig].
func Start(proto Protocol, port uint16) (*Server, error) {
	return DefaultConfig.Start(proto, port)
}

// StartTCP starts a TCP [*Server] on a port chosen by the OS.
func StartTCP() (*Server, error) {
	return Start(TCP, 0)
}

// StartUDP starts a UDP [*Server] on a port chosen by the OS.
func StartUDP() (*Server, error) {
	return Start(UDP, 0)
}

// MustStart is like [*Config.Start] but panics on failure.
func (c *Config) MustStart(proto Protocol, port uint16) *Server {
	return runtimex.Try1(c.Start(proto, port))
}

// MustStart calls [*Config.MustStart] using [DefaultConfig].
func MustStart(proto Protocol, port uint16) *Server {
	return DefaultConfig.MustStart(proto, port)
}

// AddMockInstructions appends instructions to the instruction queue.
//
// Instructions run in the order in which they are appended, across
// all the calls. This method never blocks and may be called before,
// while, or after the executor runs; nil instructions are ignored.
// Instructions appended after the executor stopped never run.
func (s *Server) AddMockInstructions(items ...instruction.Instruction) {
	valid := make([]instruction.Instruction, 0, len(items))
	for _, in := range items {
		if in != nil {
			valid = append(valid, in)
		}
	}
	s.ex.instructions.Push(valid...)
}

// AddMockInstructionsList appends the instructions in the given list.
func (s *Server) AddMockInstructionsList(list *instruction.List) {
	s.AddMockInstructions(list.Instructions()...)
}

// PopReceivedMessage removes and returns the oldest received message.
// The boolean is false when there is no message. This method does
// not wait for the executor; see [*Server.WaitReceivedMessage].
func (s *Server) PopReceivedMessage() ([]byte, bool) {
	return s.ex.messages.Pop()
}

// PopServerError removes and returns the oldest recorded error, which
// is always an [*Error], or nil when there is no error. This method
// does not wait for the executor; see [*Server.WaitServerError].
func (s *Server) PopServerError() error {
	if err, ok := s.ex.errors.Pop(); ok {
		return err
	}
	return nil
}

// WaitReceivedMessage is like [*Server.PopReceivedMessage] but waits
// for a message until the context is done, in which case it returns
// the context error.
func (s *Server) WaitReceivedMessage(ctx context.Context) ([]byte, error) {
	for {
		message, err := s.ex.messages.Wait(ctx, s.cfg.pollInterval())
		if err == nil {
			return message, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// WaitServerError is like [*Server.PopServerError] but waits for an
// error until the context is done, in which case it returns nil.
func (s *Server) WaitServerError(ctx context.Context) error {
	for {
		serr, err := s.ex.errors.Wait(ctx, s.cfg.pollInterval())
		if err == nil {
			return serr
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// SocketAddress returns the address the client should connect to.
func (s *Server) SocketAddress() netip.AddrPort {
	return s.addr
}

// Port returns the bound port.
func (s *Server) Port() uint16 {
	return s.addr.Port()
}

// Protocol returns the server protocol.
func (s *Server) Protocol() Protocol {
	return s.proto
}

// State returns the current [State] of the executor.
func (s *Server) State() State {
	return s.ex.State()
}

// Done returns a channel closed when the executor is stopped, which
// happens after a StopExchange instruction or after Close.
func (s *Server) Done() <-chan struct{} {
	return s.ex.done
}

// Close stops the executor, waits for it to stop for at most the
// configured stop timeout, and releases the sockets. Instructions
// still queued are discarded. This method is idempotent.
func (s *Server) Close() error {
	s.closeonce.Do(func() {
		t0 := s.cfg.timeNow()
		s.cancel()

		timer := time.NewTimer(s.cfg.stopTimeout())
		defer timer.Stop()
		stopped := true
		select {
		case <-s.ex.done:
		case <-timer.C:
			stopped = false
		}

		s.closeerr = s.pool.Close()

		if s.cfg.Logger != nil {
			s.cfg.Logger.InfoContext(
				context.Background(),
				"serverStop",
				slog.Any("err", s.closeerr),
				slog.String("localAddr", s.addr.String()),
				slog.String("protocol", s.proto.String()),
				slog.Bool("stopped", stopped),
				slog.Time("t0", t0),
				slog.Time("t", s.cfg.timeNow()),
			)
		}
	})
	return s.closeerr
}
