// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

var (
	// ErrTimedOut indicates that no data arrived within the timeout.
	ErrTimedOut = errors.New("exchange: timed out waiting for data")

	// ErrNoPeer indicates a UDP send before any datagram arrived, so
	// there is no known peer to reply to.
	ErrNoPeer = errors.New("exchange: no peer to send to: no datagram received yet")

	// ErrAlreadyAccepted indicates a second call to Accept.
	ErrAlreadyAccepted = errors.New("exchange: endpoint already accepted its only channel")

	// ErrClosed is the error returned when using a closed socket.
	ErrClosed = net.ErrClosed
)

// IsAddrInUse returns whether err indicates that the address is in use.
func IsAddrInUse(err error) bool {
	return errors.Is(err, errEADDRINUSE)
}

// IsPermissionDenied returns whether err indicates that binding
// the requested port is not allowed.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, errEACCES) || errors.Is(err, os.ErrPermission)
}

// aLongTimeAgo is a deadline in the past that unblocks pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// deadlineFor returns the socket deadline for a timeout. A zero or
// negative timeout returns the zero time, meaning no deadline.
//
// The kernel compares deadlines with the wall clock, so we cannot
// use [Config.TimeNow] here.
func deadlineFor(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// mapError maps an I/O error to the errors of this package.
//
// The context error takes precedence because we move deadlines
// into the past to interrupt I/O when the context is done.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	return err
}
