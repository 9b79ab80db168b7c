package decode

// Basic is the fallback decoder: it strips special keys and returns whatever
// remains as a linear payload.
type Basic struct {
	// SpecialKeys to remove. Nil means DefaultSpecialKeys.
	SpecialKeys []string
}

// Decode implements Decoder.
func (b Basic) Decode(raw string) *Payload {
	cleaned := Erase(raw, SpecialKeys(b.SpecialKeys), "")
	if cleaned == "" {
		return nil
	}
	return &Payload{Linear: cleaned}
}
