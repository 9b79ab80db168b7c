package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Dimension tags used in the serialized payload.
const (
	TagLinear     = "1D"
	TagStructured = "2D"
	TagGS1        = "gs1"
)

// Field is one Application Identifier and its value, in input order.
type Field struct {
	AI    string `json:"ai"`
	Value string `json:"value"`
}

// Bracketed returns the human readable "(AI)value" form.
func (f Field) Bracketed() string {
	return "(" + f.AI + ")" + f.Value
}

// Structured is the "2D" part of a payload.
type Structured struct {
	// GS1 is the concatenated bracketed representation of every field.
	GS1 string
	// Fields holds every segmented field, duplicates included.
	Fields []Field
}

// Values returns one field per distinct AI, ordered by first appearance.
// When an AI repeats, the last value wins.
func (s *Structured) Values() []Field {
	if s == nil {
		return nil
	}
	index := make(map[string]int, len(s.Fields))
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if i, ok := index[f.AI]; ok {
			out[i].Value = f.Value
			continue
		}
		index[f.AI] = len(out)
		out = append(out, f)
	}
	return out
}

// Get returns the value recorded for ai.
func (s *Structured) Get(ai string) (string, bool) {
	if s == nil {
		return "", false
	}
	for i := len(s.Fields) - 1; i >= 0; i-- {
		if s.Fields[i].AI == ai {
			return s.Fields[i].Value, true
		}
	}
	return "", false
}

// MarshalJSON writes {"gs1": ..., "<ai>": "<value>", ...} preserving order.
func (s *Structured) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writePair(&buf, TagGS1, s.GS1)
	for _, f := range s.Values() {
		buf.WriteByte(',')
		writePair(&buf, f.AI, f.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object written by MarshalJSON.
func (s *Structured) UnmarshalJSON(data []byte) error {
	pairs, err := readPairs(data)
	if err != nil {
		return err
	}
	*s = Structured{}
	for _, p := range pairs {
		if p.AI == TagGS1 {
			s.GS1 = p.Value
			continue
		}
		s.Fields = append(s.Fields, p)
	}
	return nil
}

// Payload is the result of a successful decode.
type Payload struct {
	// Linear is the cleaned flat string ("1D").
	Linear string
	// Structured is set when at least one AI was segmented ("2D").
	Structured *Structured
}

// IsStructured reports whether the payload carries AI fields.
func (p *Payload) IsStructured() bool {
	return p != nil && p.Structured != nil && len(p.Structured.Fields) > 0
}

// String returns the GS1 bracketed form when available, else the linear data.
func (p *Payload) String() string {
	if p == nil {
		return ""
	}
	if p.IsStructured() {
		return p.Structured.GS1
	}
	return p.Linear
}

// MarshalJSON writes {"1D": ..., "2D": {...}}, omitting "2D" when absent.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writePair(&buf, TagLinear, p.Linear)
	if p.Structured != nil {
		inner, err := p.Structured.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		writeKey(&buf, TagStructured)
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object written by MarshalJSON.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Linear     *string     `json:"1D"`
		Structured *Structured `json:"2D"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Linear == nil {
		return errors.New("payload: missing \"1D\"")
	}
	p.Linear = *raw.Linear
	p.Structured = raw.Structured
	return nil
}

func writeKey(buf *bytes.Buffer, key string) {
	k, _ := json.Marshal(key)
	buf.Write(k)
	buf.WriteByte(':')
}

func writePair(buf *bytes.Buffer, key, value string) {
	writeKey(buf, key)
	v, _ := json.Marshal(value)
	buf.Write(v)
}

// readPairs decodes a flat JSON object of strings keeping key order.
func readPairs(data []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("payload: expected object, got %v", tok)
	}
	var out []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("payload: unexpected key %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("payload: value for %q: %w", key, err)
		}
		out = append(out, Field{AI: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// Describe renders a payload as indented "key: value" lines.
func Describe(p *Payload) string {
	if p == nil {
		return "(no result)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %q\n", TagLinear, p.Linear)
	if p.Structured != nil {
		fmt.Fprintf(&b, "%s:\n", TagStructured)
		fmt.Fprintf(&b, "  %s: %s\n", TagGS1, p.Structured.GS1)
		for _, f := range p.Structured.Values() {
			fmt.Fprintf(&b, "  %s: %s\n", f.AI, f.Value)
		}
	}
	return b.String()
}
