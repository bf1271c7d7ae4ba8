package serial

import (
	"fmt"
	"sync"
	"time"

	bugst "go.bug.st/serial"
)

// PortableOpener opens ports through go.bug.st/serial. It has no access to
// the driver's error counters or input queue.
type PortableOpener struct{}

func (PortableOpener) Name() string { return "portable" }

func (PortableOpener) Open(name string, settings Settings) (Device, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if settings.FlowControl != NoFlowControl {
		return nil, fmt.Errorf("flow control %s: %w", settings.FlowControl, ErrUnsupported)
	}

	mode, err := toMode(settings)
	if err != nil {
		return nil, err
	}

	port, err := bugst.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	return &portableDevice{port: port, mode: mode, settings: settings}, nil
}

func toMode(s Settings) (*bugst.Mode, error) {
	mode := &bugst.Mode{
		BaudRate: s.Baud,
		DataBits: s.DataBits,
	}

	switch s.Parity {
	case ParityNone:
		mode.Parity = bugst.NoParity
	case ParityOdd:
		mode.Parity = bugst.OddParity
	case ParityEven:
		mode.Parity = bugst.EvenParity
	case ParityMark:
		mode.Parity = bugst.MarkParity
	case ParitySpace:
		mode.Parity = bugst.SpaceParity
	default:
		return nil, fmt.Errorf("invalid parity %q", s.Parity)
	}

	switch s.StopBits {
	case 1:
		mode.StopBits = bugst.OneStopBit
	case 2:
		mode.StopBits = bugst.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d", s.StopBits)
	}

	return mode, nil
}

type portableDevice struct {
	mu       sync.Mutex
	port     bugst.Port
	mode     *bugst.Mode
	settings Settings
	dtr      bool
	rts      bool
}

func (d *portableDevice) Read(p []byte) (int, error)  { return d.port.Read(p) }
func (d *portableDevice) Write(p []byte) (int, error) { return d.port.Write(p) }
func (d *portableDevice) Close() error                { return d.port.Close() }

func (d *portableDevice) SetReadTimeout(t time.Duration) error {
	return d.port.SetReadTimeout(t)
}

func (d *portableDevice) ResetInput() error {
	return d.port.ResetInputBuffer()
}

func (d *portableDevice) Settings() Settings {
	return d.settings
}

func (d *portableDevice) LineState() (LineState, error) {
	bits, err := d.port.GetModemStatusBits()
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var state LineState
	if bits.CTS {
		state |= LineCTS
	}
	if bits.DSR {
		state |= LineDSR
	}
	if bits.RI {
		state |= LineRing
	}
	if bits.DCD {
		state |= LineDCD
	}
	if d.dtr {
		state |= LineDTR
	}
	if d.rts {
		state |= LineRTS
	}
	return state, nil
}

func (d *portableDevice) setOutputs(lines LineState, on func(bool) bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if lines&LineDTR != 0 {
		v := on(d.dtr)
		if err := d.port.SetDTR(v); err != nil {
			return err
		}
		d.dtr = v
	}
	if lines&LineRTS != 0 {
		v := on(d.rts)
		if err := d.port.SetRTS(v); err != nil {
			return err
		}
		d.rts = v
	}
	return nil
}

// Only DTR and RTS are outputs; other bits are ignored.
func (d *portableDevice) SetLineState(lines LineState) error {
	return d.setOutputs(lines, func(bool) bool { return true })
}

func (d *portableDevice) ClearLineState(lines LineState) error {
	return d.setOutputs(lines, func(bool) bool { return false })
}

func (d *portableDevice) ChangeLineState(lines LineState) error {
	return d.setOutputs(lines, func(cur bool) bool { return !cur })
}

func (d *portableDevice) SendBreak(t time.Duration) error {
	return d.port.Break(t)
}

func (d *portableDevice) ErrorCounts() (ErrorCounts, error) {
	return ErrorCounts{}, ErrUnsupported
}

func (d *portableDevice) ErrorCount(LineError) (int, error) {
	return 0, ErrUnsupported
}

func (d *portableDevice) PendingInput() (int, error) {
	return 0, ErrUnsupported
}

// SetParityBit emulates a forced ninth bit with mark/space parity.
func (d *portableDevice) SetParityBit(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	mode := *d.mode
	if on {
		mode.Parity = bugst.MarkParity
	} else {
		mode.Parity = bugst.SpaceParity
	}
	if err := d.port.SetMode(&mode); err != nil {
		return err
	}
	d.mode = &mode
	return nil
}

// ListPorts enumerates serial ports visible to the operating system.
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	return ports, nil
}
