// Package serial defines the byte-stream device the adapter session talks
// to, and the platform backends that provide it.
package serial

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupported is returned by backends that cannot perform an extended
// operation.
var ErrUnsupported = errors.New("operation not supported by serial backend")

// MaxNameLength bounds device names and settings strings.
const MaxNameLength = 64

type Parity byte

const (
	ParityNone  Parity = 'N'
	ParityOdd   Parity = 'O'
	ParityEven  Parity = 'E'
	ParityMark  Parity = 'M'
	ParitySpace Parity = 'S'
)

type FlowControl int

const (
	NoFlowControl FlowControl = iota
	RtsCtsFlowControl
	XonXoffFlowControl
)

func (f FlowControl) String() string {
	switch f {
	case RtsCtsFlowControl:
		return "rtscts"
	case XonXoffFlowControl:
		return "xonxoff"
	default:
		return "none"
	}
}

func ParseFlowControl(s string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return NoFlowControl, nil
	case "rtscts", "rts/cts", "hardware":
		return RtsCtsFlowControl, nil
	case "xonxoff", "xon/xoff", "software":
		return XonXoffFlowControl, nil
	}
	return 0, fmt.Errorf("unknown flow control %q", s)
}

// Settings is the complete line configuration.
type Settings struct {
	Baud        int
	DataBits    int
	Parity      Parity
	StopBits    int
	FlowControl FlowControl
}

// String renders e.g. "8N1 115200".
func (s Settings) String() string {
	return fmt.Sprintf("%d%c%d %d", s.DataBits, s.Parity, s.StopBits, s.Baud)
}

// ParseSettings builds Settings from a protocol string such as "8N1".
func ParseSettings(protocol string, baud int, flow FlowControl) (Settings, error) {
	protocol = strings.ToUpper(strings.TrimSpace(protocol))
	if len(protocol) != 3 {
		return Settings{}, fmt.Errorf("invalid protocol %q: want <databits><parity><stopbits>", protocol)
	}

	dataBits, err := strconv.Atoi(protocol[:1])
	if err != nil || dataBits < 5 || dataBits > 8 {
		return Settings{}, fmt.Errorf("invalid data bits in %q", protocol)
	}

	parity := Parity(protocol[1])
	switch parity {
	case ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
	default:
		return Settings{}, fmt.Errorf("invalid parity in %q", protocol)
	}

	stopBits, err := strconv.Atoi(protocol[2:])
	if err != nil || (stopBits != 1 && stopBits != 2) {
		return Settings{}, fmt.Errorf("invalid stop bits in %q", protocol)
	}

	if !IsStandardRate(baud) {
		return Settings{}, fmt.Errorf("baud rate %d is not a standard rate", baud)
	}

	return Settings{
		Baud:        baud,
		DataBits:    dataBits,
		Parity:      parity,
		StopBits:    stopBits,
		FlowControl: flow,
	}, nil
}

var standardRates = map[int]struct{}{
	150: {}, 300: {}, 600: {}, 1200: {}, 2400: {}, 4800: {}, 9600: {},
	19200: {}, 38400: {}, 57600: {}, 115200: {}, 230400: {}, 460800: {},
	500000: {}, 921600: {},
}

func IsStandardRate(rate int) bool {
	_, ok := standardRates[rate]
	return ok
}

// LineState is a bit set of modem lines. Values match the Linux TIOCM_*
// constants.
type LineState int

const (
	LineDTR  LineState = 0x002
	LineRTS  LineState = 0x004
	LineCTS  LineState = 0x020
	LineDCD  LineState = 0x040
	LineRing LineState = 0x080
	LineDSR  LineState = 0x100
)

// LineError names one of the receive error counters.
type LineError int

const (
	BreakErrors LineError = iota
	FrameErrors
	OverrunErrors
	ParityErrors
)

// ErrorCounts holds receive errors since the device was opened.
type ErrorCounts struct {
	Break   int `json:"break"`
	Frame   int `json:"frame"`
	Overrun int `json:"overrun"`
	Parity  int `json:"parity"`
}

func (c ErrorCounts) Get(kind LineError) int {
	switch kind {
	case BreakErrors:
		return c.Break
	case FrameErrors:
		return c.Frame
	case OverrunErrors:
		return c.Overrun
	case ParityErrors:
		return c.Parity
	}
	return 0
}

func (c ErrorCounts) Add(o ErrorCounts) ErrorCounts {
	return ErrorCounts{
		Break:   c.Break + o.Break,
		Frame:   c.Frame + o.Frame,
		Overrun: c.Overrun + o.Overrun,
		Parity:  c.Parity + o.Parity,
	}
}

func (c ErrorCounts) Sub(base ErrorCounts) ErrorCounts {
	return ErrorCounts{
		Break:   c.Break - base.Break,
		Frame:   c.Frame - base.Frame,
		Overrun: c.Overrun - base.Overrun,
		Parity:  c.Parity - base.Parity,
	}
}

// Device is an opened serial line. Backends that cannot serve an extended
// operation return ErrUnsupported from it.
type Device interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds a single Read; a timed-out Read returns 0, nil.
	SetReadTimeout(d time.Duration) error
	ResetInput() error
	Settings() Settings

	LineState() (LineState, error)
	SetLineState(lines LineState) error
	ClearLineState(lines LineState) error
	ChangeLineState(lines LineState) error
	SendBreak(d time.Duration) error

	ErrorCounts() (ErrorCounts, error)
	ErrorCount(kind LineError) (int, error)
	PendingInput() (int, error)
	SetParityBit(on bool) error
}

// Opener is the backend strategy, chosen once at construction.
type Opener interface {
	Name() string
	Open(name string, settings Settings) (Device, error)
}

// NewOpener selects a backend: "portable", "termios" or "auto" (the best
// backend for the running platform).
func NewOpener(backend string) (Opener, error) {
	switch strings.ToLower(backend) {
	case "", "auto":
		return defaultOpener(), nil
	case "portable":
		return PortableOpener{}, nil
	case "termios":
		return newTermiosOpener()
	}
	return nil, fmt.Errorf("unknown serial backend %q", backend)
}

func validateName(name string) error {
	if name == "" {
		return errors.New("empty device name")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("device name longer than %d bytes", MaxNameLength)
	}
	return nil
}
