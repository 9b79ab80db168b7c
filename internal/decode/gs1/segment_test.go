package gs1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keywedge/internal/decode"
)

func TestSegmentSingleGTIN(t *testing.T) {
	fields := DefaultTable().Segment("0100681599063722")
	assert.Equal(t, []decode.Field{{AI: "01", Value: "00681599063722"}}, fields)
}

func TestSegmentConcatenated(t *testing.T) {
	fields := DefaultTable().Segment("010068159906372217250101")
	assert.Equal(t, []decode.Field{
		{AI: "01", Value: "00681599063722"},
		{AI: "17", Value: "250101"},
	}, fields)
}

func TestSegmentEmpty(t *testing.T) {
	assert.Empty(t, DefaultTable().Segment(""))
}

func TestSegmentDropsUnrecognizedTail(t *testing.T) {
	fields := DefaultTable().Segment("0100681599063722XX99")
	assert.Equal(t, []decode.Field{{AI: "01", Value: "00681599063722"}}, fields)
}

func TestSegmentUnrecognizedHead(t *testing.T) {
	assert.Empty(t, DefaultTable().Segment("990100681599063722"))
}

func TestSegmentVariableUsesDeclaredLength(t *testing.T) {
	// 21 is variable with a cap of 20; the whole cap is consumed even though
	// a different AI follows.
	text := "21ABCDEFGHIJKLMNOPQRST17250101"
	fields := DefaultTable().Segment(text)
	require.Len(t, fields, 2)
	assert.Equal(t, decode.Field{AI: "21", Value: "ABCDEFGHIJKLMNOPQRST"}, fields[0])
	assert.Equal(t, decode.Field{AI: "17", Value: "250101"}, fields[1])

	fields = DefaultTable().Segment("21ABC17250101")
	assert.Equal(t, []decode.Field{{AI: "21", Value: "ABC17250101"}}, fields)
}

func TestSegmentTruncatesAtEnd(t *testing.T) {
	fields := DefaultTable().Segment("01123")
	assert.Equal(t, []decode.Field{{AI: "01", Value: "123"}}, fields)

	fields = DefaultTable().Segment("01")
	assert.Equal(t, []decode.Field{{AI: "01", Value: ""}}, fields)
}

func TestSegmentThreeDigitCode(t *testing.T) {
	fields := DefaultTable().Segment("2551234567890123")
	assert.Equal(t, []decode.Field{{AI: "255", Value: "1234567890123"}}, fields)
}

func TestSegmentGreedyShadowing(t *testing.T) {
	table, err := DefaultTable().Merge([]Entry{{Code: "25", Purpose: "Short", Length: 2}})
	require.NoError(t, err)

	fields := table.Segment("2531234")
	require.NotEmpty(t, fields)
	assert.Equal(t, decode.Field{AI: "25", Value: "31"}, fields[0])
	for _, f := range fields {
		assert.NotEqual(t, "253", f.AI)
	}
}

func TestSegmentMultibyteRunes(t *testing.T) {
	table, err := NewTable([]Entry{{Code: "90", Length: 2}})
	require.NoError(t, err)
	assert.Equal(t, []decode.Field{{AI: "90", Value: "é✓"}}, table.Segment("90é✓"))
}
