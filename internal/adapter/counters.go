package adapter

import (
	"github.com/KevinKickass/OpenOBDCore/internal/response"
	"github.com/KevinKickass/OpenOBDCore/internal/serial"
)

// Counters is a snapshot of the session's error counters.
type Counters struct {
	Line     serial.ErrorCounts `json:"line"`
	Protocol map[string]int     `json:"protocol"`
	Total    int                `json:"total"`
}

// Get returns the protocol counter for outcome o.
func (c Counters) Get(o response.Outcome) int {
	return c.Protocol[o.String()]
}

type counterSet struct {
	line     serial.ErrorCounts
	outcomes [response.OutcomeCount]int
}

func (c *counterSet) record(o response.Outcome) {
	if !o.IsError() || int(o) < 0 || int(o) >= response.OutcomeCount {
		return
	}
	c.outcomes[o]++
}

func (c *counterSet) snapshot() Counters {
	out := Counters{
		Line:     c.line,
		Protocol: make(map[string]int, response.OutcomeCount-1),
	}
	for _, o := range response.Outcomes() {
		if !o.IsError() {
			continue
		}
		out.Protocol[o.String()] = c.outcomes[o]
		out.Total += c.outcomes[o]
	}
	return out
}
