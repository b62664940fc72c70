// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbmk-project/sockmock/netipx"
)

// Endpoint is a socket bound to the loopback interface.
type Endpoint interface {
	// Addr returns the bound address, including the port
	// chosen by the OS when binding port zero.
	Addr() netip.AddrPort

	// Protocol returns the endpoint protocol.
	Protocol() Protocol

	// Accept returns the only [Channel] of the endpoint. For TCP, it
	// blocks until a client connects or the context is done. For UDP,
	// it returns immediately. Subsequent calls fail with
	// [ErrAlreadyAccepted].
	Accept(ctx context.Context) (Channel, error)

	// Close releases the bound socket. It is idempotent.
	Close() error
}

// Channel exchanges messages with a single peer.
//
// A Channel is meant to be used by a single goroutine.
type Channel interface {
	// Receive reads a message keeping at most maxSize bytes. It
	// fails with [ErrTimedOut] when nothing arrives within timeout
	// and with the context error when the context is done.
	Receive(ctx context.Context, maxSize int, timeout time.Duration) ([]byte, error)

	// Send writes the whole payload to the peer.
	Send(ctx context.Context, payload []byte) error

	// LocalAddr returns the local address.
	LocalAddr() netip.AddrPort

	// RemoteAddr returns the peer address, which is invalid when the
	// peer is not known yet.
	RemoteAddr() netip.AddrPort

	// Close closes the channel. It is idempotent.
	Close() error
}

// Listen binds an [Endpoint] on the loopback interface using the
// given protocol and port. A zero port lets the OS choose.
func (cfg *Config) Listen(ctx context.Context, proto Protocol, port uint16) (Endpoint, error) {
	laddr := netipx.LoopbackAddrPort(cfg.IPv6, port)
	network := proto.network(cfg.IPv6)
	lc := &net.ListenConfig{}

	switch proto {
	case TCP:
		listener, err := lc.Listen(ctx, network, laddr.String())
		if err != nil {
			return nil, err
		}
		tl, ok := listener.(*net.TCPListener)
		if !ok {
			listener.Close()
			return nil, fmt.Errorf("exchange: unexpected listener type %T", listener)
		}
		return &tcpEndpoint{
			addr:      netipx.AddrToAddrPort(tl.Addr()),
			accepted:  atomic.Bool{},
			cfg:       cfg,
			closeonce: sync.Once{},
			listener:  tl,
		}, nil

	case UDP:
		pconn, err := lc.ListenPacket(ctx, network, laddr.String())
		if err != nil {
			return nil, err
		}
		addr := netipx.AddrToAddrPort(pconn.LocalAddr())
		return &udpEndpoint{
			accepted: atomic.Bool{},
			channel:  newUDPChannel(cfg, cfg.maybeWrapPacketConn(ctx, pconn), addr),
		}, nil

	default:
		return nil, fmt.Errorf("exchange: unsupported protocol %q", proto)
	}
}

// Listen calls [*Config.Listen] using [DefaultConfig].
func Listen(ctx context.Context, proto Protocol, port uint16) (Endpoint, error) {
	return DefaultConfig.Listen(ctx, proto, port)
}

// tcpEndpoint is the TCP [Endpoint].
type tcpEndpoint struct {
	addr      netip.AddrPort
	accepted  atomic.Bool
	cfg       *Config
	closeonce sync.Once
	closeerr  error
	listener  *net.TCPListener
}

var _ Endpoint = &tcpEndpoint{}

// Addr implements [Endpoint].
func (ep *tcpEndpoint) Addr() netip.AddrPort {
	return ep.addr
}

// Protocol implements [Endpoint].
func (ep *tcpEndpoint) Protocol() Protocol {
	return TCP
}

// Accept implements [Endpoint].
func (ep *tcpEndpoint) Accept(ctx context.Context) (Channel, error) {
	if !ep.accepted.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAccepted
	}

	t0 := ep.cfg.emitStart(ctx, "acceptStart",
		slog.String("localAddr", ep.addr.String()),
		slog.String("protocol", string(TCP)),
	)

	// Move the deadline into the past when the context is done
	// so that the pending accept returns immediately.
	stop := context.AfterFunc(ctx, func() {
		ep.listener.SetDeadline(aLongTimeAgo)
	})
	conn, err := ep.listener.Accept()
	stop()
	err = mapError(ctx, err)

	ep.cfg.emitDone(ctx, "acceptDone", t0, err,
		slog.String("localAddr", ep.addr.String()),
		slog.String("protocol", string(TCP)),
		slog.String("remoteAddr", addrString(remoteAddrOf(conn))),
	)

	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, err
	}
	return newTCPChannel(ep.cfg, ep.cfg.maybeWrapConn(ctx, conn)), nil
}

// remoteAddrOf is a safe way to get the remote address of a conn.
func remoteAddrOf(conn net.Conn) net.Addr {
	if conn != nil {
		return conn.RemoteAddr()
	}
	return nil
}

// Close implements [Endpoint].
func (ep *tcpEndpoint) Close() error {
	ep.closeonce.Do(func() {
		ep.closeerr = ep.listener.Close()
	})
	return ep.closeerr
}

// udpEndpoint is the UDP [Endpoint].
type udpEndpoint struct {
	accepted atomic.Bool
	channel  *udpChannel
}

var _ Endpoint = &udpEndpoint{}

// Addr implements [Endpoint].
func (ep *udpEndpoint) Addr() netip.AddrPort {
	return ep.channel.LocalAddr()
}

// Protocol implements [Endpoint].
func (ep *udpEndpoint) Protocol() Protocol {
	return UDP
}

// Accept implements [Endpoint].
func (ep *udpEndpoint) Accept(ctx context.Context) (Channel, error) {
	if !ep.accepted.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAccepted
	}
	return ep.channel, nil
}

// Close implements [Endpoint].
//
// The endpoint and its channel share the same socket.
func (ep *udpEndpoint) Close() error {
	return ep.channel.Close()
}
