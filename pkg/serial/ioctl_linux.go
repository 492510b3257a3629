//go:build linux

package serial

import "golang.org/x/sys/unix"

// Termios ioctl request codes on Linux.
const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
	ioctlTCFlush    = unix.TCFLSH
)
