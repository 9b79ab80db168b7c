package gs1

import (
	"strings"

	"keywedge/internal/decode"
)

// GroupSeparator is the canonical marker every function code is rewritten to
// before a scan is split into groups. It is the ASCII GS control character,
// which some scanners also transmit literally.
const GroupSeparator = "\x1d"

// Decoder decodes GS1 element strings.
type Decoder struct {
	// Table is the identifier table. Nil means DefaultTable().
	Table *Table
	// FunctionCodes are the key sequences the scanner emits for FNC1.
	FunctionCodes []string
	// SpecialKeys are erased before decoding. Nil means
	// decode.DefaultSpecialKeys.
	SpecialKeys []string
}

// NewDecoder returns a decoder using the stock table and special keys.
func NewDecoder(functionCodes ...string) *Decoder {
	return &Decoder{FunctionCodes: functionCodes}
}

// Decode implements decode.Decoder.
//
// The linear part of the payload is the raw scan with special keys removed;
// function codes are left in place there. The structured part is present only
// when at least one AI was recognized.
func (d *Decoder) Decode(raw string) *decode.Payload {
	table := d.Table
	if table == nil {
		table = DefaultTable()
	}

	cleaned := decode.Erase(raw, decode.SpecialKeys(d.SpecialKeys), "")
	if cleaned == "" {
		return nil
	}

	grouped := decode.Erase(cleaned, d.FunctionCodes, GroupSeparator)

	var (
		fields    []decode.Field
		bracketed strings.Builder
	)
	for _, group := range strings.Split(grouped, GroupSeparator) {
		for _, f := range table.Segment(group) {
			fields = append(fields, f)
			bracketed.WriteString(f.Bracketed())
		}
	}

	p := &decode.Payload{Linear: cleaned}
	if len(fields) > 0 {
		p.Structured = &decode.Structured{
			GS1:    bracketed.String(),
			Fields: fields,
		}
	}
	return p
}

var _ decode.Decoder = (*Decoder)(nil)
