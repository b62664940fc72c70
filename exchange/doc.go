// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package exchange implements the loopback sockets a mock server uses
to exchange opaque byte messages with the client under test.

[Listen] binds a TCP or UDP [Endpoint] on the loopback interface. The
[Endpoint] yields exactly one [Channel]: for TCP, the first accepted
connection; for UDP, the bound socket itself, replying to the peer
that sent the most recent datagram.

All the blocking operations take a [context.Context] and return as
soon as the context is done, which allows a mock server to shut
down without waiting for I/O timeouts to expire.

When [Config] contains a [*slog.Logger], the sockets emit the same
structured events used by the rest of this module (acceptStart,
acceptDone, readStart, readDone, writeStart, writeDone, closeStart,
closeDone), including an `errClass` classification of errors.
*/
package exchange
