//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
//
// Conn and PacketConn wrappers emitting structured logs.
//

package exchange

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rbmk-project/common/errclass"
)

// addrString is a safe way to stringify a possibly nil address.
func addrString(addr net.Addr) string {
	if addr != nil {
		return addr.String()
	}
	return ""
}

// maybeWrapConn wraps a connection when there is a logger.
func (cfg *Config) maybeWrapConn(ctx context.Context, conn net.Conn) net.Conn {
	if conn != nil && cfg.Logger != nil {
		conn = &connWrapper{
			Conn:      conn,
			ctx:       ctx,
			closeonce: sync.Once{},
			cfg:       cfg,
			laddr:     addrString(conn.LocalAddr()),
			protocol:  string(TCP),
			raddr:     addrString(conn.RemoteAddr()),
		}
	}
	return conn
}

// maybeWrapPacketConn wraps a packet connection when there is a logger.
func (cfg *Config) maybeWrapPacketConn(ctx context.Context, pconn net.PacketConn) net.PacketConn {
	if pconn != nil && cfg.Logger != nil {
		pconn = &packetConnWrapper{
			PacketConn: pconn,
			ctx:        ctx,
			closeonce:  sync.Once{},
			cfg:        cfg,
			laddr:      addrString(pconn.LocalAddr()),
		}
	}
	return pconn
}

// emitStart emits a xxxStart structured event and returns its time.
func (cfg *Config) emitStart(ctx context.Context, msg string, attrs ...slog.Attr) time.Time {
	t0 := cfg.timeNow()
	if cfg.Logger != nil {
		attrs = append(attrs, slog.Time("t", t0))
		cfg.Logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
	}
	return t0
}

// emitDone emits a xxxDone structured event.
func (cfg *Config) emitDone(ctx context.Context, msg string, t0 time.Time, err error, attrs ...slog.Attr) {
	if cfg.Logger != nil {
		attrs = append(attrs,
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.Time("t0", t0),
			slog.Time("t", cfg.timeNow()),
		)
		cfg.Logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
	}
}

// connWrapper wraps a [net.Conn].
type connWrapper struct {
	net.Conn
	ctx       context.Context // only used for logging
	closeonce sync.Once
	cfg       *Config
	laddr     string
	protocol  string
	raddr     string
}

// endpointAttrs returns the attributes identifying the connection.
func (c *connWrapper) endpointAttrs(attrs ...slog.Attr) []slog.Attr {
	return append(attrs,
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
	)
}

// Close implements [net.Conn].
func (c *connWrapper) Close() (err error) {
	c.closeonce.Do(func() {
		t0 := c.cfg.emitStart(c.ctx, "closeStart", c.endpointAttrs()...)
		err = c.Conn.Close()
		c.cfg.emitDone(c.ctx, "closeDone", t0, err, c.endpointAttrs()...)
	})
	return
}

// Read implements [net.Conn].
func (c *connWrapper) Read(buf []byte) (int, error) {
	t0 := c.cfg.emitStart(c.ctx, "readStart",
		c.endpointAttrs(slog.Int("ioBufferSize", len(buf)))...)

	count, err := c.Conn.Read(buf)

	c.cfg.emitDone(c.ctx, "readDone", t0, err,
		c.endpointAttrs(slog.Int("ioBytesCount", count))...)
	return count, err
}

// Write implements [net.Conn].
func (c *connWrapper) Write(data []byte) (int, error) {
	t0 := c.cfg.emitStart(c.ctx, "writeStart",
		c.endpointAttrs(slog.Int("ioBufferSize", len(data)))...)

	count, err := c.Conn.Write(data)

	c.cfg.emitDone(c.ctx, "writeDone", t0, err,
		c.endpointAttrs(slog.Int("ioBytesCount", count))...)
	return count, err
}

// packetConnWrapper wraps a [net.PacketConn].
type packetConnWrapper struct {
	net.PacketConn
	ctx       context.Context // only used for logging
	closeonce sync.Once
	cfg       *Config
	laddr     string
}

// endpointAttrs returns the attributes identifying the datagram.
func (c *packetConnWrapper) endpointAttrs(raddr string, attrs ...slog.Attr) []slog.Attr {
	return append(attrs,
		slog.String("localAddr", c.laddr),
		slog.String("protocol", string(UDP)),
		slog.String("remoteAddr", raddr),
	)
}

// Close implements [net.PacketConn].
func (c *packetConnWrapper) Close() (err error) {
	c.closeonce.Do(func() {
		t0 := c.cfg.emitStart(c.ctx, "closeStart", c.endpointAttrs("")...)
		err = c.PacketConn.Close()
		c.cfg.emitDone(c.ctx, "closeDone", t0, err, c.endpointAttrs("")...)
	})
	return
}

// ReadFrom implements [net.PacketConn].
func (c *packetConnWrapper) ReadFrom(buf []byte) (int, net.Addr, error) {
	t0 := c.cfg.emitStart(c.ctx, "readFromStart",
		c.endpointAttrs("", slog.Int("ioBufferSize", len(buf)))...)

	count, addr, err := c.PacketConn.ReadFrom(buf)

	c.cfg.emitDone(c.ctx, "readFromDone", t0, err,
		c.endpointAttrs(addrString(addr), slog.Int("ioBytesCount", count))...)
	return count, addr, err
}

// WriteTo implements [net.PacketConn].
func (c *packetConnWrapper) WriteTo(data []byte, addr net.Addr) (int, error) {
	raddr := addrString(addr)
	t0 := c.cfg.emitStart(c.ctx, "writeToStart",
		c.endpointAttrs(raddr, slog.Int("ioBufferSize", len(data)))...)

	count, err := c.PacketConn.WriteTo(data, addr)

	c.cfg.emitDone(c.ctx, "writeToDone", t0, err,
		c.endpointAttrs(raddr, slog.Int("ioBytesCount", count))...)
	return count, err
}
