//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// TCP channel.
//

package exchange

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rbmk-project/sockmock/netipx"
)

// tcpChunkSize is the size of each read from the stream.
const tcpChunkSize = 4096

// tcpChannel is the TCP [Channel].
type tcpChannel struct {
	cfg       *Config
	closeonce sync.Once
	closeerr  error
	conn      net.Conn
}

var _ Channel = &tcpChannel{}

// newTCPChannel creates a new [*tcpChannel].
func newTCPChannel(cfg *Config, conn net.Conn) *tcpChannel {
	return &tcpChannel{
		cfg:       cfg,
		closeonce: sync.Once{},
		conn:      conn,
	}
}

// Receive implements [Channel].
//
// A TCP stream has no message boundaries, so we consider a message
// to be the burst of bytes available to the reader: we read chunks
// until a short read and keep the first maxSize bytes. The bytes of
// the burst beyond maxSize are discarded. After a full chunk, we wait
// at most [Config.BurstGap] for the burst to continue.
func (c *tcpChannel) Receive(ctx context.Context, maxSize int, timeout time.Duration) ([]byte, error) {
	deadline := deadlineFor(timeout)
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, mapError(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	var (
		chunk   = make([]byte, tcpChunkSize)
		message []byte
		total   int
	)
	for {
		count, err := c.conn.Read(chunk)
		total += count
		keep := count
		if maxSize > 0 {
			keep = min(count, max(maxSize-len(message), 0))
		}
		message = append(message, chunk[:keep]...)

		if err != nil {
			// The burst ended exactly on a chunk boundary and the
			// burst gap expired: deliver what we have.
			if total > 0 && ctx.Err() == nil && isTimeout(err) {
				break
			}
			return nil, mapError(ctx, err)
		}
		if count < len(chunk) {
			break
		}

		next := deadlineFor(c.cfg.burstGap())
		if !deadline.IsZero() && deadline.Before(next) {
			next = deadline
		}
		if err := c.conn.SetReadDeadline(next); err != nil {
			return nil, mapError(ctx, err)
		}
		// we may have overwritten the deadline set on cancellation
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return message, nil
}

// isTimeout returns whether err is a [net.Error] timeout.
func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// Send implements [Channel].
func (c *tcpChannel) Send(ctx context.Context, payload []byte) error {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetWriteDeadline(aLongTimeAgo)
	})
	defer stop()
	_, err := c.conn.Write(payload)
	return mapError(ctx, err)
}

// LocalAddr implements [Channel].
func (c *tcpChannel) LocalAddr() netip.AddrPort {
	return netipx.AddrToAddrPort(c.conn.LocalAddr())
}

// RemoteAddr implements [Channel].
func (c *tcpChannel) RemoteAddr() netip.AddrPort {
	return netipx.AddrToAddrPort(c.conn.RemoteAddr())
}

// Close implements [Channel].
func (c *tcpChannel) Close() error {
	c.closeonce.Do(func() {
		c.closeerr = c.conn.Close()
	})
	return c.closeerr
}
