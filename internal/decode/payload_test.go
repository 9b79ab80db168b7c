package decode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() *Payload {
	return &Payload{
		Linear: "4000136896GDM",
		Structured: &Structured{
			GS1: "(400)0136896GDM(01)00681599063722",
			Fields: []Field{
				{AI: "400", Value: "0136896GDM"},
				{AI: "01", Value: "00681599063722"},
			},
		},
	}
}

func TestPayloadMarshalJSONOrder(t *testing.T) {
	data, err := json.Marshal(samplePayload())
	require.NoError(t, err)
	assert.Equal(t,
		`{"1D":"4000136896GDM","2D":{"gs1":"(400)0136896GDM(01)00681599063722","400":"0136896GDM","01":"00681599063722"}}`,
		string(data))
}

func TestPayloadMarshalJSONLinearOnly(t *testing.T) {
	data, err := json.Marshal(&Payload{Linear: "ABC"})
	require.NoError(t, err)
	assert.Equal(t, `{"1D":"ABC"}`, string(data))
}

func TestPayloadUnmarshalJSON(t *testing.T) {
	data, err := json.Marshal(samplePayload())
	require.NoError(t, err)

	var got Payload
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, samplePayload(), &got)
}

func TestPayloadUnmarshalJSONMissingLinear(t *testing.T) {
	var got Payload
	assert.Error(t, json.Unmarshal([]byte(`{"2D":{"gs1":""}}`), &got))
}

func TestStructuredRepeatedAI(t *testing.T) {
	s := &Structured{Fields: []Field{
		{AI: "10", Value: "A"},
		{AI: "01", Value: "B"},
		{AI: "10", Value: "C"},
	}}

	assert.Equal(t, []Field{{AI: "10", Value: "C"}, {AI: "01", Value: "B"}}, s.Values())

	v, ok := s.Get("10")
	assert.True(t, ok)
	assert.Equal(t, "C", v)

	_, ok = s.Get("99")
	assert.False(t, ok)
}

func TestPayloadString(t *testing.T) {
	assert.Equal(t, "", (*Payload)(nil).String())
	assert.Equal(t, "ABC", (&Payload{Linear: "ABC"}).String())
	assert.Equal(t, "(400)0136896GDM(01)00681599063722", samplePayload().String())
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "(no result)", Describe(nil))
	out := Describe(samplePayload())
	assert.Contains(t, out, `1D: "4000136896GDM"`)
	assert.Contains(t, out, "  400: 0136896GDM\n")
	assert.Contains(t, out, "  01: 00681599063722\n")
}

func TestFieldBracketed(t *testing.T) {
	assert.Equal(t, "(01)123", Field{AI: "01", Value: "123"}.Bracketed())
}
