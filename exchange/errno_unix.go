//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// UNIX errno definitions.
//

package exchange

import "golang.org/x/sys/unix"

const (
	errEACCES     = unix.EACCES
	errEADDRINUSE = unix.EADDRINUSE
)
