// SPDX-License-Identifier: GPL-3.0-or-later

// Package netipx contains [net/netip] extensions.
package netipx

import (
	"net"
	"net/netip"
)

// AddrToAddrPort converts a [net.Addr] to a [netip.AddrPort].
//
// If the input is nil or neither a [*net.TCPAddr] nor [*net.UDPAddr],
// returns an unspecified IPv6 address with port 0.
//
// IPv4-mapped IPv6 addresses are unmapped so that a socket bound
// to 127.0.0.1 reports 127.0.0.1 rather than ::ffff:127.0.0.1.
func AddrToAddrPort(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch v := addr.(type) {
	case *net.TCPAddr:
		ap = v.AddrPort()
	case *net.UDPAddr:
		ap = v.AddrPort()
	default:
		return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// LoopbackAddrPort returns the loopback endpoint for the given
// port, using ::1 when ipv6 is true and 127.0.0.1 otherwise.
func LoopbackAddrPort(ipv6 bool, port uint16) netip.AddrPort {
	addr := netip.AddrFrom4([4]byte{127, 0, 0, 1})
	if ipv6 {
		addr = netip.IPv6Loopback()
	}
	return netip.AddrPortFrom(addr, port)
}
