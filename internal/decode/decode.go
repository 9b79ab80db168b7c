// Package decode turns the raw string accumulated from a scanner burst into a
// payload.
//
// A Decoder receives the buffered key names exactly as they were fed to the
// classifier, including non-data keys such as "Shift" or "Enter". The basic
// decoder strips those keys and returns the remainder as a linear ("1D")
// payload. Structured decoders, such as the GS1 decoder in the gs1
// subpackage, additionally split the data into Application Identifier fields
// ("2D").
package decode

// Decoder converts a raw scan into a payload.
// A nil payload means nothing usable was decoded; it is not an error.
type Decoder interface {
	Decode(raw string) *Payload
}

// DecoderFunc adapts an ordinary function to the Decoder interface.
type DecoderFunc func(raw string) *Payload

// Decode calls f(raw).
func (f DecoderFunc) Decode(raw string) *Payload {
	return f(raw)
}
