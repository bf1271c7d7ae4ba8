//go:build !linux

package serial

import "fmt"

func defaultOpener() Opener {
	return PortableOpener{}
}

func newTermiosOpener() (Opener, error) {
	return nil, fmt.Errorf("termios backend: %w", ErrUnsupported)
}
