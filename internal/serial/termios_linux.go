package serial

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

func defaultOpener() Opener {
	return TermiosOpener{}
}

func newTermiosOpener() (Opener, error) {
	return TermiosOpener{}, nil
}

// TermiosOpener drives the tty directly, which gives access to the
// driver's receive error counters and input queue.
type TermiosOpener struct{}

func (TermiosOpener) Name() string { return "termios" }

var baudFlags = map[int]uint32{
	150:    unix.B150,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	500000: unix.B500000,
	921600: unix.B921600,
}

func (TermiosOpener) Open(name string, settings Settings) (Device, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	d := &termiosDevice{fd: fd, settings: settings}
	if err := d.configure(); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to configure %s: %w", name, err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// driver counters are cumulative; report them relative to open
	if base, err := d.readCounters(); err == nil {
		d.base = base
	}

	return d, nil
}

type termiosDevice struct {
	mu       sync.Mutex
	fd       int
	closed   bool
	settings Settings
	base     ErrorCounts
}

func (d *termiosDevice) configure() error {
	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return err
	}

	speed, ok := baudFlags[d.settings.Baud]
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", d.settings.Baud)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CMSPAR |
		unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CLOCAL | unix.CREAD | speed

	switch d.settings.DataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}

	switch d.settings.Parity {
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		t.Cflag |= unix.PARENB
	case ParityMark:
		t.Cflag |= unix.PARENB | unix.CMSPAR | unix.PARODD
	case ParitySpace:
		t.Cflag |= unix.PARENB | unix.CMSPAR
	}
	if d.settings.Parity != ParityNone {
		t.Iflag |= unix.INPCK
	}

	if d.settings.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}

	switch d.settings.FlowControl {
	case RtsCtsFlowControl:
		t.Cflag |= unix.CRTSCTS
	case XonXoffFlowControl:
		t.Iflag |= unix.IXON | unix.IXOFF
	}

	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(d.fd, unix.TCSETS, t)
}

func (d *termiosDevice) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(d.fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (d *termiosDevice) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(d.fd, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (d *termiosDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return unix.Close(d.fd)
}

// SetReadTimeout maps to VTIME, which has 100ms resolution and a 25.5s cap.
// Zero blocks until at least one byte arrives.
func (d *termiosDevice) SetReadTimeout(timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return err
	}

	if timeout <= 0 {
		t.Cc[unix.VMIN] = 1
		t.Cc[unix.VTIME] = 0
	} else {
		ds := (timeout + 99*time.Millisecond) / (100 * time.Millisecond)
		if ds > 255 {
			ds = 255
		}
		t.Cc[unix.VMIN] = 0
		t.Cc[unix.VTIME] = uint8(ds)
	}

	return unix.IoctlSetTermios(d.fd, unix.TCSETS, t)
}

func (d *termiosDevice) ResetInput() error {
	return unix.IoctlSetInt(d.fd, unix.TCFLSH, unix.TCIFLUSH)
}

func (d *termiosDevice) Settings() Settings {
	return d.settings
}

func (d *termiosDevice) LineState() (LineState, error) {
	bits, err := unix.IoctlGetInt(d.fd, unix.TIOCMGET)
	if err != nil {
		return 0, err
	}
	return LineState(bits), nil
}

func (d *termiosDevice) SetLineState(lines LineState) error {
	return unix.IoctlSetPointerInt(d.fd, unix.TIOCMBIS, int(lines))
}

func (d *termiosDevice) ClearLineState(lines LineState) error {
	return unix.IoctlSetPointerInt(d.fd, unix.TIOCMBIC, int(lines))
}

func (d *termiosDevice) ChangeLineState(lines LineState) error {
	cur, err := unix.IoctlGetInt(d.fd, unix.TIOCMGET)
	if err != nil {
		return err
	}
	return unix.IoctlSetPointerInt(d.fd, unix.TIOCMSET, cur^int(lines))
}

func (d *termiosDevice) SendBreak(duration time.Duration) error {
	if err := unix.IoctlSetInt(d.fd, unix.TIOCSBRK, 0); err != nil {
		return err
	}
	time.Sleep(duration)
	return unix.IoctlSetInt(d.fd, unix.TIOCCBRK, 0)
}

// serialICounter mirrors struct serial_icounter_struct.
type serialICounter struct {
	cts, dsr, rng, dcd int32
	rx, tx             int32
	frame, overrun     int32
	parity, brk        int32
	bufOverrun         int32
	reserved           [9]int32
}

func (d *termiosDevice) readCounters() (ErrorCounts, error) {
	var ic serialICounter
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd),
		uintptr(unix.TIOCGICOUNT), uintptr(unsafe.Pointer(&ic)))
	if errno != 0 {
		if errno == unix.EINVAL || errno == unix.ENOTTY {
			return ErrorCounts{}, ErrUnsupported
		}
		return ErrorCounts{}, errno
	}
	return ErrorCounts{
		Break:   int(ic.brk),
		Frame:   int(ic.frame),
		Overrun: int(ic.overrun + ic.bufOverrun),
		Parity:  int(ic.parity),
	}, nil
}

func (d *termiosDevice) ErrorCounts() (ErrorCounts, error) {
	c, err := d.readCounters()
	if err != nil {
		return ErrorCounts{}, err
	}
	return c.Sub(d.base), nil
}

func (d *termiosDevice) ErrorCount(kind LineError) (int, error) {
	c, err := d.ErrorCounts()
	if err != nil {
		return 0, err
	}
	return c.Get(kind), nil
}

func (d *termiosDevice) PendingInput() (int, error) {
	return unix.IoctlGetInt(d.fd, unix.TIOCINQ)
}

func (d *termiosDevice) SetParityBit(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := unix.IoctlGetTermios(d.fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Cflag |= unix.PARENB | unix.CMSPAR
	if on {
		t.Cflag |= unix.PARODD
	} else {
		t.Cflag &^= unix.PARODD
	}
	return unix.IoctlSetTermios(d.fd, unix.TCSETS, t)
}
