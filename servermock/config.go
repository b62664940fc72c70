// SPDX-License-Identifier: GPL-3.0-or-later

package servermock

import (
	"log/slog"
	"time"

	"github.com/rbmk-project/sockmock/exchange"
)

const (
	// DefaultReceiveTimeout is the default time a ReceiveMessage
	// instruction waits for the client.
	DefaultReceiveTimeout = 2 * time.Second

	// DefaultPollInterval is the default maximum time the executor
	// waits for new instructions before checking again whether it
	// should stop.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultStopTimeout is the default maximum time [*Server.Close]
	// waits for the executor to stop.
	DefaultStopTimeout = 5 * time.Second
)

// Protocol is an alias for [exchange.Protocol].
type Protocol = exchange.Protocol

const (
	// TCP is an alias for [exchange.TCP].
	TCP = exchange.TCP

	// UDP is an alias for [exchange.UDP].
	UDP = exchange.UDP
)

// Config contains the optional settings of a [*Server].
//
// The zero value is ready to use.
//
// A [*Config] is safe for concurrent use by multiple goroutines as long
// as you don't modify its fields after the first [*Config.Start].
type Config struct {
	// BurstGap is the optional time a TCP ReceiveMessage instruction
	// waits for the rest of a burst once the first bytes arrived.
	// If zero or negative, we use [exchange.DefaultBurstGap].
	BurstGap time.Duration

	// IPv6 makes the server bind ::1 instead of 127.0.0.1.
	IPv6 bool

	// Logger is the optional structured logger for emitting
	// structured diagnostic events. If this field is nil, we
	// will not be emitting structured logs.
	Logger *slog.Logger

	// PollInterval is the optional maximum time the executor waits
	// for new instructions before checking whether it should stop.
	// If zero or negative, we use [DefaultPollInterval].
	PollInterval time.Duration

	// ReceiveTimeout is the optional time a ReceiveMessage instruction
	// waits for the client before recording a [KindTimedOut] error.
	// If zero or negative, we use [DefaultReceiveTimeout].
	ReceiveTimeout time.Duration

	// StopTimeout is the optional maximum time [*Server.Close] waits
	// for the executor to stop. If zero or negative, we use
	// [DefaultStopTimeout].
	StopTimeout time.Duration

	// TimeNow is an optional function that returns the current time
	// for the log events. If this field is nil, the [time.Now] function
	// will be used. Timeouts always use the wall clock.
	TimeNow func() time.Time
}

// DefaultConfig is the default [*Config] used by this package.
var DefaultConfig = &Config{}

func (c *Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

func (c *Config) receiveTimeout() time.Duration {
	if c.ReceiveTimeout > 0 {
		return c.ReceiveTimeout
	}
	return DefaultReceiveTimeout
}

func (c *Config) stopTimeout() time.Duration {
	if c.StopTimeout > 0 {
		return c.StopTimeout
	}
	return DefaultStopTimeout
}

// timeNow is a function that returns the current time.
func (c *Config) timeNow() time.Time {
	if c.TimeNow != nil {
		return c.TimeNow()
	}
	return time.Now()
}

// exchangeConfig returns the [*exchange.Config] for the sockets.
func (c *Config) exchangeConfig() *exchange.Config {
	return &exchange.Config{
		BurstGap: c.BurstGap,
		IPv6:     c.IPv6,
		Logger:   c.Logger,
		TimeNow:  c.TimeNow,
	}
}
