//go:build darwin

package serial

import "golang.org/x/sys/unix"

// Termios ioctl request codes on macOS.
const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
	ioctlTCFlush    = unix.TIOCFLUSH
)
