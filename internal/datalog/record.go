package datalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/pid"
)

// Delimiter separates the fields of a log line.
const Delimiter = '\t'

// Record is one successful sample.
type Record struct {
	Elapsed time.Duration
	PID     pid.ID
	Value   uint32
}

// Format renders "elapsed_ms<TAB>PID<TAB>value" without a newline.
func (r Record) Format() string {
	return fmt.Sprintf("%d%c%s%c%d", r.Elapsed.Milliseconds(), Delimiter, r.PID, Delimiter, r.Value)
}

func ParseRecord(line string) (Record, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), string(Delimiter))
	if len(fields) != 3 {
		return Record{}, fmt.Errorf("malformed log line %q", line)
	}

	ms, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("malformed elapsed time %q: %w", fields[0], err)
	}
	id, err := pid.ParseID(fields[1])
	if err != nil {
		return Record{}, err
	}
	value, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("malformed value %q: %w", fields[2], err)
	}

	return Record{
		Elapsed: time.Duration(ms) * time.Millisecond,
		PID:     id,
		Value:   uint32(value),
	}, nil
}
