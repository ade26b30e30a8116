//go:build !windows

package udp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ReuseControl returns a net.ListenConfig Control function that sets
// SO_REUSEADDR, and SO_REUSEPORT as well when reusePort is true.
func ReuseControl(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var setSockOptErr error
		err := c.Control(func(fd uintptr) {
			setSockOptErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if setSockOptErr != nil || !reusePort {
				return
			}
			setSockOptErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		if err != nil {
			return err
		}
		return setSockOptErr
	}
}
