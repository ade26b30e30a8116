//go:build windows

package udp

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// ReuseControl returns a net.ListenConfig Control function that sets
// SO_REUSEADDR. Windows has no SO_REUSEPORT; SO_REUSEADDR already allows
// several sockets to share a port there.
func ReuseControl(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var setSockOptErr error
		err := c.Control(func(fd uintptr) {
			setSockOptErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return setSockOptErr
	}
}
