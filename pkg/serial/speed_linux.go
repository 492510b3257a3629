//go:build linux

package serial

import "golang.org/x/sys/unix"

// Linux carries the baud rate in 32-bit termios speed fields.
func setSpeed(termios *unix.Termios, speed uint32) {
	termios.Ispeed = speed
	termios.Ospeed = speed
}
