package response

import (
	"encoding/hex"
	"strings"

	"github.com/KevinKickass/OpenOBDCore/internal/pid"
)

// InvalidValue marks a sample without valid data.
const InvalidValue uint32 = 0x80000000

type Extractor struct {
	registry *pid.Registry
}

func NewExtractor(registry *pid.Registry) *Extractor {
	return &Extractor{registry: registry}
}

// Extract decodes the value of id from a reply already classified as
// HexData. It returns (InvalidValue, false) for unknown PIDs, a missing
// response header, or a payload whose length differs from the registered
// width.
func (e *Extractor) Extract(id pid.ID, raw string) (uint32, bool) {
	info, ok := e.registry.Lookup(id)
	if !ok {
		return InvalidValue, false
	}

	payload, ok := findPayload(id, raw)
	if !ok || len(payload) != info.Bytes {
		return InvalidValue, false
	}

	return Combine(payload), true
}

// Combine folds bytes most significant first.
func Combine(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}

func findPayload(id pid.ID, raw string) ([]byte, bool) {
	h0, h1 := id.ResponseHeader()

	for _, line := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\r' || r == '\n' || r == Prompt
	}) {
		data, ok := decodeLine(line)
		if !ok {
			continue
		}
		for i := 0; i+1 < len(data); i++ {
			if data[i] == h0 && data[i+1] == h1 {
				return data[i+2:], true
			}
		}
	}
	return nil, false
}

func decodeLine(line string) ([]byte, bool) {
	compact := strings.Join(strings.Fields(line), "")
	if compact == "" || len(compact)%2 != 0 {
		return nil, false
	}
	data, err := hex.DecodeString(compact)
	if err != nil {
		return nil, false
	}
	return data, true
}
