//go:build darwin

package serial

import "golang.org/x/sys/unix"

// macOS termios speed fields are 64-bit.
func setSpeed(termios *unix.Termios, speed uint32) {
	termios.Ispeed = uint64(speed)
	termios.Ospeed = uint64(speed)
}
