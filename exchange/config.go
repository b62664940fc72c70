// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"log/slog"
	"time"
)

// Protocol is the transport protocol of an [Endpoint].
type Protocol string

const (
	// TCP is the TCP protocol.
	TCP = Protocol("tcp")

	// UDP is the UDP protocol.
	UDP = Protocol("udp")
)

// String implements [fmt.Stringer].
func (p Protocol) String() string {
	return string(p)
}

// network returns the network name for the [net] package.
func (p Protocol) network(ipv6 bool) string {
	if ipv6 {
		return string(p) + "6"
	}
	return string(p) + "4"
}

// DefaultBurstGap is the default [Config.BurstGap].
const DefaultBurstGap = 100 * time.Millisecond

// Config contains the optional settings of the sockets.
//
// The zero value is ready to use.
type Config struct {
	// BurstGap is the optional time a TCP receive waits for more
	// bytes of a burst once the first bytes arrived. If this field
	// is zero or negative, we use [DefaultBurstGap].
	BurstGap time.Duration

	// IPv6 makes [Listen] bind ::1 instead of 127.0.0.1.
	IPv6 bool

	// Logger is the optional structured logger for emitting
	// structured diagnostic events. If this field is nil, we
	// will not be emitting structured logs.
	Logger *slog.Logger

	// TimeNow is an optional function that returns the current time
	// for the log events. If this field is nil, the [time.Now] function
	// will be used. Socket deadlines always use the wall clock.
	TimeNow func() time.Time
}

// DefaultConfig is the default [*Config] used by this package.
var DefaultConfig = &Config{}

// timeNow is a function that returns the current time.
func (cfg *Config) timeNow() time.Time {
	if cfg.TimeNow != nil {
		return cfg.TimeNow()
	}
	return time.Now()
}

// burstGap returns the [Config.BurstGap] or its default.
func (cfg *Config) burstGap() time.Duration {
	if cfg.BurstGap > 0 {
		return cfg.BurstGap
	}
	return DefaultBurstGap
}
