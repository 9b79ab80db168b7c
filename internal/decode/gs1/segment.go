package gs1

import (
	"unicode/utf8"

	"keywedge/internal/decode"
)

// Segment splits a group of concatenated AI+value pairs into fields.
// Segmentation stops at the first position where no code matches; the
// remaining text is dropped.
func (t *Table) Segment(text string) []decode.Field {
	rest := []rune(text)
	var fields []decode.Field
	for len(rest) > 0 {
		e, ok := t.lookupRunes(rest)
		if !ok {
			break
		}
		codeLen := utf8.RuneCountInString(e.Code)
		end := min(codeLen+e.Length, len(rest))
		fields = append(fields, decode.Field{
			AI:    e.Code,
			Value: string(rest[codeLen:end]),
		})
		rest = rest[end:]
	}
	return fields
}
