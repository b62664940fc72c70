// SPDX-License-Identifier: GPL-3.0-or-later

package servermock

import (
	"errors"
	"fmt"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/sockmock/exchange"
)

// Kind classifies an [*Error].
type Kind string

const (
	// KindBind indicates that the server could not bind its socket
	// because the port is in use or not allowed.
	KindBind = Kind("bind")

	// KindAccept indicates that the TCP server could not accept
	// the client connection. The executor stops.
	KindAccept = Kind("accept")

	// KindTimedOut indicates that a ReceiveMessage instruction
	// did not receive anything within the receive timeout.
	KindTimedOut = Kind("timedOut")

	// KindIO indicates a send, receive, or close failure, including
	// a UDP send before any datagram was received.
	KindIO = Kind("io")

	// KindInstruction indicates that the function of a
	// SendMessageDependingOnLastReceivedMessage instruction panicked.
	KindInstruction = Kind("instruction")
)

// Error is an error that occurred starting or running a [*Server].
type Error struct {
	// Kind is the error kind.
	Kind Kind

	// Op is the failed operation (e.g., "listen", "receive", "send").
	Op string

	// Err is the underlying error.
	Err error
}

var _ error = &Error{}

// newError creates a new [*Error] classifying err.
func newError(op string, err error) *Error {
	kind := KindIO
	switch {
	case op == opListen:
		kind = KindBind
	case op == opAccept:
		kind = KindAccept
	case op == opRespond:
		kind = KindInstruction
	case errors.Is(err, exchange.ErrTimedOut):
		kind = KindTimedOut
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

const (
	opAccept  = "accept"
	opClose   = "close"
	opListen  = "listen"
	opReceive = "receive"
	opRespond = "respond"
	opSend    = "send"
)

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("servermock: %s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal returns whether the error prevented the server from
// starting or from talking with the client at all.
func (e *Error) Fatal() bool {
	return e.Kind == KindBind || e.Kind == KindAccept
}

// Description returns a human readable description of the error
// prefixed by whether it is fatal. Bind errors also tell whether
// the port is in use or not allowed.
func (e *Error) Description() string {
	fatality := "non fatal"
	if e.Fatal() {
		fatality = "fatal"
	}
	desc := fmt.Sprintf("%s %s error: %s failed: %s", fatality, e.Kind, e.Op, e.Err)
	if e.Kind == KindBind {
		switch {
		case exchange.IsAddrInUse(e.Err):
			desc += " (port already in use)"
		case exchange.IsPermissionDenied(e.Err):
			desc += " (not allowed to bind the port)"
		}
	}
	return desc
}

// Class returns the classification of the underlying error using
// Unix-like error names (e.g., "ETIMEDOUT", "ECONNRESET").
func (e *Error) Class() string {
	return errclass.New(e.Err)
}
