package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicDecode(t *testing.T) {
	p := Basic{}.Decode("ShiftA1234Enter")
	require.NotNil(t, p)
	assert.Equal(t, "A1234", p.Linear)
	assert.Nil(t, p.Structured)
	assert.False(t, p.IsStructured())
}

func TestBasicDecodeEmpty(t *testing.T) {
	assert.Nil(t, Basic{}.Decode(""))
	assert.Nil(t, Basic{}.Decode("ShiftEnterShiftTab"))
}

func TestBasicDecodeCustomKeys(t *testing.T) {
	p := Basic{SpecialKeys: []string{"#"}}.Decode("#12#Enter")
	require.NotNil(t, p)
	assert.Equal(t, "12Enter", p.Linear)
}

func TestBasicDecodeEmptyKeysDisablesCleaning(t *testing.T) {
	p := Basic{SpecialKeys: []string{}}.Decode("ShiftA")
	require.NotNil(t, p)
	assert.Equal(t, "ShiftA", p.Linear)
}

func TestDecoderFunc(t *testing.T) {
	var d Decoder = DecoderFunc(func(raw string) *Payload {
		return &Payload{Linear: raw + "!"}
	})
	assert.Equal(t, "x!", d.Decode("x").Linear)
}
