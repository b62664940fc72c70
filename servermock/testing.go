// SPDX-License-Identifier: GPL-3.0-or-later

package servermock

import "testing"

// StartTest starts a [*Server] on a port chosen by the OS and registers
// [*Server.Close] with t.Cleanup, so the sockets are released even when
// the test fails or returns early. A bind failure fails the test.
func (c *Config) StartTest(t testing.TB, proto Protocol) *Server {
	t.Helper()
	srv, err := c.Start(proto, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		srv.Close()
	})
	return srv
}

// StartTest calls [*Config.StartTest] using [DefaultConfig].
func StartTest(t testing.TB, proto Protocol) *Server {
	t.Helper()
	return DefaultConfig.StartTest(t, proto)
}
