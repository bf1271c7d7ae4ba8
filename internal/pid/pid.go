package pid

import (
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a PID as mode<<8 | pid, e.g. 0x010C for mode 01 / PID 0C.
type ID uint16

func (id ID) Mode() byte {
	return byte(id >> 8)
}

func (id ID) PID() byte {
	return byte(id)
}

// Command renders the ASCII query sent to the adapter ("010C").
func (id ID) Command() string {
	return fmt.Sprintf("%02X%02X", id.Mode(), id.PID())
}

// ResponseHeader returns the two bytes an ECU prefixes its answer with.
func (id ID) ResponseHeader() (byte, byte) {
	return 0x40 | id.Mode(), id.PID()
}

func (id ID) String() string {
	return fmt.Sprintf("%04X", uint16(id))
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID accepts "010C", "0x010C" or "0X010c".
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) == 0 || len(s) > 4 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid pid %q: %w", s, err)
	}
	return ID(v), nil
}

// Converter maps the raw MSB-first integer to a physical value.
type Converter func(raw uint32) float64

// Info is one catalog entry.
type Info struct {
	ID       ID        `json:"id"`
	Bytes    int       `json:"bytes"`
	Priority int       `json:"priority"`
	Name     string    `json:"name"`
	Unit     string    `json:"unit,omitempty"`
	Convert  Converter `json:"-"`
}

// Scale applies the conversion hook; without one the raw value is returned.
func (i Info) Scale(raw uint32) float64 {
	if i.Convert == nil {
		return float64(raw)
	}
	return i.Convert(raw)
}

// Linear builds a converter computing raw*scale + offset.
func Linear(scale, offset float64) Converter {
	return func(raw uint32) float64 {
		return float64(raw)*scale + offset
	}
}
