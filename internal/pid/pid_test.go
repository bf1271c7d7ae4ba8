package pid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDCommandAndHeader(t *testing.T) {
	id := ID(0x010C)

	assert.Equal(t, byte(0x01), id.Mode())
	assert.Equal(t, byte(0x0C), id.PID())
	assert.Equal(t, "010C", id.Command())
	assert.Equal(t, "010C", id.String())

	mode, p := id.ResponseHeader()
	assert.Equal(t, byte(0x41), mode)
	assert.Equal(t, byte(0x0C), p)
}

func TestParseID(t *testing.T) {
	for _, in := range []string{"010C", "0x010C", "0X010c", " 010c "} {
		id, err := ParseID(in)
		require.NoError(t, err, in)
		assert.Equal(t, RPM, id, in)
	}

	for _, in := range []string{"", "0x", "12345", "01ZZ"} {
		_, err := ParseID(in)
		assert.Error(t, err, in)
	}
}

func TestIDTextRoundTrip(t *testing.T) {
	text, err := Speed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "010D", string(text))

	var id ID
	require.NoError(t, id.UnmarshalText([]byte("0x0105")))
	assert.Equal(t, CoolantTemp, id)
}

func TestInfoScale(t *testing.T) {
	raw := Info{ID: Speed, Bytes: 1, Name: "speed"}
	assert.Equal(t, 88.0, raw.Scale(88))

	rpm, ok := Default().Lookup(RPM)
	require.True(t, ok)
	assert.Equal(t, 1726.0, rpm.Scale(6904))

	coolant, ok := Default().Lookup(CoolantTemp)
	require.True(t, ok)
	assert.Equal(t, 50.0, coolant.Scale(90))
}
