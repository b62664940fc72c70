//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Windows errno definitions.
//

package exchange

import "golang.org/x/sys/windows"

const (
	errEACCES     = windows.WSAEACCES
	errEADDRINUSE = windows.WSAEADDRINUSE
)
