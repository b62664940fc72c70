// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package servermock implements a scripted TCP/UDP server for tests.

A test starts a [*Server] on the loopback interface, points the real
client under test to [*Server.SocketAddress], and scripts the server
behaviour with [instruction.Instruction] values appended through
[*Server.AddMockInstructions]. A background executor goroutine owns
the socket and runs the instructions strictly in the order in which
they were appended. The test then asserts on what the client sent
using [*Server.PopReceivedMessage] and on what went wrong using
[*Server.PopServerError].

# Lifecycle

Binding happens synchronously inside [*Config.Start], so a port that
is already in use surfaces as an [*Error] of kind [KindBind]. The
executor then waits for the client: a TCP server accepts exactly one
connection, while a UDP server replies to the peer that sent the most
recent datagram. [*Server.Close] stops the executor and releases the
sockets; [StartTest] registers Close with [testing.TB.Cleanup].

# Failures

Receive and send failures never stop the executor. They are recorded
as [*Error] values the test may pop, which allows asserting, e.g., that
the client disconnected early. The executor stops on [instruction.StopExchange]
or when the server is closed; instructions still queued at that point
are discarded without error.

# Design Documents

This package is experimental and has no design documents for now.
*/
package servermock
