package response

import (
	"testing"

	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	e := NewExtractor(pid.Default())

	v, ok := e.Extract(pid.RPM, "41 0C 1A F8\r\r>")
	assert.True(t, ok)
	assert.Equal(t, uint32(6904), v)

	v, ok = e.Extract(pid.Speed, "SEARCHING...\r410D58\r>")
	assert.True(t, ok)
	assert.Equal(t, uint32(0x58), v)

	// header preceded by J1850 framing bytes
	v, ok = e.Extract(pid.CoolantTemp, "48 6B 10 41 05 5A\r>")
	assert.True(t, ok)
	assert.Equal(t, uint32(0x5A), v)
}

func TestExtractRejects(t *testing.T) {
	e := NewExtractor(pid.Default())

	cases := map[string]struct {
		id    pid.ID
		reply string
	}{
		"wrong header": {pid.RPM, "41 0D 1A F8\r>"},
		"short":        {pid.RPM, "41 0C 1A\r>"},
		"long":         {pid.Speed, "41 0D 58 00\r>"},
		"unknown pid":  {0x01FF, "41 FF 00\r>"},
		"no hex":       {pid.RPM, "NO DATA\r>"},
	}
	for name, tc := range cases {
		v, ok := e.Extract(tc.id, tc.reply)
		assert.False(t, ok, name)
		assert.Equal(t, InvalidValue, v, name)
	}
}

func TestCombine(t *testing.T) {
	assert.Equal(t, uint32(0x1AF8), Combine([]byte{0x1A, 0xF8}))
	assert.Equal(t, uint32(0x01020304), Combine([]byte{1, 2, 3, 4}))
	assert.Equal(t, uint32(0), Combine(nil))
}

func TestIdentify(t *testing.T) {
	cases := map[string]AdapterModel{
		"ELM327 v1.5":          ModelELM327,
		"\r\rELM327 v2.1\r\r>": ModelELM327,
		"ELM323 v2.0":          ModelELM323,
		"ELM322 v2.0":          ModelELM322,
		"ELM320 v2.0":          ModelELM320,
		"OBDLink MX ELM327":    ModelOBDLink,
		"STN1110 v4.0":         ModelSTN,
		"ELM329 v1.0":          ModelELM,
		"?":                    ModelUnknown,
	}
	for reply, want := range cases {
		assert.Equal(t, want, Identify(reply), reply)
	}
	assert.Equal(t, "ELM327", ModelELM327.String())
}
