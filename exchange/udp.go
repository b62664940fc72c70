//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UDP channel.
//

package exchange

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rbmk-project/sockmock/netipx"
)

// maxDatagramSize is large enough for any UDP datagram.
const maxDatagramSize = 1 << 16

// udpChannel is the UDP [Channel].
type udpChannel struct {
	addr      netip.AddrPort
	cfg       *Config
	closeonce sync.Once
	closeerr  error
	pconn     net.PacketConn

	// mu protects peer.
	mu sync.Mutex

	// peer is the sender of the most recent datagram.
	peer net.Addr
}

var _ Channel = &udpChannel{}

// newUDPChannel creates a new [*udpChannel].
func newUDPChannel(cfg *Config, pconn net.PacketConn, addr netip.AddrPort) *udpChannel {
	return &udpChannel{
		addr:      addr,
		cfg:       cfg,
		closeonce: sync.Once{},
		pconn:     pconn,
	}
}

// Receive implements [Channel].
//
// We read the whole datagram and then truncate it to maxSize, which
// behaves the same way on all platforms.
func (c *udpChannel) Receive(ctx context.Context, maxSize int, timeout time.Duration) ([]byte, error) {
	if err := c.pconn.SetReadDeadline(deadlineFor(timeout)); err != nil {
		return nil, mapError(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() {
		c.pconn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	buf := make([]byte, maxDatagramSize)
	count, addr, err := c.pconn.ReadFrom(buf)
	if err != nil {
		return nil, mapError(ctx, err)
	}

	c.mu.Lock()
	c.peer = addr
	c.mu.Unlock()

	if maxSize > 0 && count > maxSize {
		count = maxSize
	}
	return append([]byte{}, buf[:count]...), nil
}

// Send implements [Channel].
func (c *udpChannel) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return ErrNoPeer
	}

	stop := context.AfterFunc(ctx, func() {
		c.pconn.SetWriteDeadline(aLongTimeAgo)
	})
	defer stop()
	_, err := c.pconn.WriteTo(payload, peer)
	return mapError(ctx, err)
}

// LocalAddr implements [Channel].
func (c *udpChannel) LocalAddr() netip.AddrPort {
	return c.addr
}

// RemoteAddr implements [Channel].
func (c *udpChannel) RemoteAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == nil {
		return netip.AddrPort{}
	}
	return netipx.AddrToAddrPort(c.peer)
}

// Close implements [Channel].
func (c *udpChannel) Close() error {
	c.closeonce.Do(func() {
		c.closeerr = c.pconn.Close()
	})
	return c.closeerr
}
