// SPDX-License-Identifier: GPL-3.0-or-later

// Package closepool tracks the sockets owned by a mock server and
// releases them in a single, idempotent operation.
package closepool

import (
	"errors"
	"io"
	"slices"
	"sync"
)

// Pool releases a set of [io.Closer] exactly once.
//
// The zero value is ready to use.
type Pool struct {
	// closed is true after the first Close.
	closed bool

	// handles contains the [io.Closer] to close.
	handles []io.Closer

	// mu provides mutual exclusion.
	mu sync.Mutex
}

// Add registers the given [io.Closer] with the pool.
//
// When the pool has already been closed, the closer is closed
// immediately and its error is returned. This ensures that a
// socket created while a teardown is in progress is not leaked.
func (p *Pool) Add(handle io.Closer) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return handle.Close()
	}
	p.handles = append(p.handles, handle)
	p.mu.Unlock()
	return nil
}

// Closed returns whether [*Pool.Close] has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close closes all the registered [io.Closer] in backward order. So,
// registering a listener and then the connection it accepted closes
// the connection first. The returned error is the join of the errors
// that occurred. Subsequent calls are no-ops returning nil.
func (p *Pool) Close() error {
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.closed = true
	p.mu.Unlock()

	var errv []error
	for _, handle := range slices.Backward(handles) {
		if err := handle.Close(); err != nil {
			errv = append(errv, err)
		}
	}
	return errors.Join(errv...)
}
