package device

import "strconv"

// Linux input event values for EV_KEY.
const (
	KeyRelease int32 = 0
	KeyPress   int32 = 1
	KeyRepeat  int32 = 2
)

// Linux key codes from input-event-codes.h. Only the keys a keyboard-wedge
// scanner can send are listed.
const (
	keyEsc        uint16 = 1
	key1          uint16 = 2
	key0          uint16 = 11
	keyMinus      uint16 = 12
	keyEqual      uint16 = 13
	keyBackspace  uint16 = 14
	keyTab        uint16 = 15
	keyLeftBrace  uint16 = 26
	keyRightBrace uint16 = 27
	keyEnter      uint16 = 28
	keyLeftCtrl   uint16 = 29
	keySemicolon  uint16 = 39
	keyApostrophe uint16 = 40
	keyGrave      uint16 = 41
	keyLeftShift  uint16 = 42
	keyBackslash  uint16 = 43
	keyComma      uint16 = 51
	keyDot        uint16 = 52
	keySlash      uint16 = 53
	keyRightShift uint16 = 54
	keyKPAsterisk uint16 = 55
	keyLeftAlt    uint16 = 56
	keySpace      uint16 = 57
	keyCapsLock   uint16 = 58
	keyF1         uint16 = 59
	keyF10        uint16 = 68
	keyNumLock    uint16 = 69
	keyScrollLock uint16 = 70
	keyKP7        uint16 = 71
	keyKP8        uint16 = 72
	keyKP9        uint16 = 73
	keyKPMinus    uint16 = 74
	keyKP4        uint16 = 75
	keyKP5        uint16 = 76
	keyKP6        uint16 = 77
	keyKPPlus     uint16 = 78
	keyKP1        uint16 = 79
	keyKP2        uint16 = 80
	keyKP3        uint16 = 81
	keyKP0        uint16 = 82
	keyKPDot      uint16 = 83
	keyF11        uint16 = 87
	keyF12        uint16 = 88
	keyKPEnter    uint16 = 96
	keyRightCtrl  uint16 = 97
	keyKPSlash    uint16 = 98
	keyRightAlt   uint16 = 100
	keyHome       uint16 = 102
	keyUp         uint16 = 103
	keyPageUp     uint16 = 104
	keyLeft       uint16 = 105
	keyRight      uint16 = 106
	keyEnd        uint16 = 107
	keyDown       uint16 = 108
	keyPageDown   uint16 = 109
	keyInsert     uint16 = 110
	keyDelete     uint16 = 111
	keyLeftMeta   uint16 = 125
	keyRightMeta  uint16 = 126
)

type chars struct {
	normal, shifted string
}

var printable = map[uint16]chars{
	key1: {"1", "!"}, 3: {"2", "@"}, 4: {"3", "#"}, 5: {"4", "$"}, 6: {"5", "%"},
	7: {"6", "^"}, 8: {"7", "&"}, 9: {"8", "*"}, 10: {"9", "("}, key0: {"0", ")"},

	16: {"q", "Q"}, 17: {"w", "W"}, 18: {"e", "E"}, 19: {"r", "R"}, 20: {"t", "T"},
	21: {"y", "Y"}, 22: {"u", "U"}, 23: {"i", "I"}, 24: {"o", "O"}, 25: {"p", "P"},
	30: {"a", "A"}, 31: {"s", "S"}, 32: {"d", "D"}, 33: {"f", "F"}, 34: {"g", "G"},
	35: {"h", "H"}, 36: {"j", "J"}, 37: {"k", "K"}, 38: {"l", "L"},
	44: {"z", "Z"}, 45: {"x", "X"}, 46: {"c", "C"}, 47: {"v", "V"}, 48: {"b", "B"},
	49: {"n", "N"}, 50: {"m", "M"},

	keyMinus:      {"-", "_"},
	keyEqual:      {"=", "+"},
	keyLeftBrace:  {"[", "{"},
	keyRightBrace: {"]", "}"},
	keySemicolon:  {";", ":"},
	keyApostrophe: {"'", "\""},
	keyGrave:      {"`", "~"},
	keyBackslash:  {"\\", "|"},
	keyComma:      {",", "<"},
	keyDot:        {".", ">"},
	keySlash:      {"/", "?"},
	keySpace:      {" ", " "},

	keyKPAsterisk: {"*", "*"},
	keyKPMinus:    {"-", "-"},
	keyKPPlus:     {"+", "+"},
	keyKPSlash:    {"/", "/"},
}

// named keys carry the name a browser reports in KeyboardEvent.key.
var named = map[uint16]string{
	keyEsc:        "Escape",
	keyBackspace:  "Backspace",
	keyTab:        "Tab",
	keyEnter:      "Enter",
	keyKPEnter:    "Enter",
	keyLeftCtrl:   "Control",
	keyRightCtrl:  "Control",
	keyLeftShift:  "Shift",
	keyRightShift: "Shift",
	keyLeftAlt:    "Alt",
	keyRightAlt:   "AltGraph",
	keyLeftMeta:   "Meta",
	keyRightMeta:  "Meta",
	keyCapsLock:   "CapsLock",
	keyNumLock:    "NumLock",
	keyScrollLock: "ScrollLock",
	keyHome:       "Home",
	keyEnd:        "End",
	keyUp:         "ArrowUp",
	keyDown:       "ArrowDown",
	keyLeft:       "ArrowLeft",
	keyRight:      "ArrowRight",
	keyPageUp:     "PageUp",
	keyPageDown:   "PageDown",
	keyInsert:     "Insert",
	keyDelete:     "Delete",
	keyF11:        "F11",
	keyF12:        "F12",
}

// keypad maps the digit pad to its digit and its NumLock-off name. Scanners
// that emit FNC1 as an Alt+keypad sequence rely on the latter ("Clear").
var keypad = map[uint16]chars{
	keyKP7:   {"7", "Home"},
	keyKP8:   {"8", "ArrowUp"},
	keyKP9:   {"9", "PageUp"},
	keyKP4:   {"4", "ArrowLeft"},
	keyKP5:   {"5", "Clear"},
	keyKP6:   {"6", "ArrowRight"},
	keyKP1:   {"1", "End"},
	keyKP2:   {"2", "ArrowDown"},
	keyKP3:   {"3", "PageDown"},
	keyKP0:   {"0", "Insert"},
	keyKPDot: {".", "Delete"},
}

// Keymap turns raw key codes into key names for a US layout, tracking the
// modifier and lock state of one device. It is not safe for concurrent use.
type Keymap struct {
	shift   int // held shift keys
	caps    bool
	numLock bool
}

// NewKeymap returns a keymap with NumLock on, the usual power-on state.
func NewKeymap() *Keymap {
	return &Keymap{numLock: true}
}

// Translate returns the key name for an EV_KEY event. Releases and unknown
// codes report false. Modifiers are reported on press so the classifier
// sees them the way a browser does; auto-repeat only repeats data keys.
func (k *Keymap) Translate(code uint16, value int32) (string, bool) {
	if code == keyLeftShift || code == keyRightShift {
		switch value {
		case KeyPress:
			k.shift++
			return "Shift", true
		case KeyRelease:
			if k.shift > 0 {
				k.shift--
			}
		}
		return "", false
	}

	if value == KeyRelease {
		return "", false
	}
	repeat := value == KeyRepeat

	switch code {
	case keyCapsLock:
		if repeat {
			return "", false
		}
		k.caps = !k.caps
		return "CapsLock", true
	case keyNumLock:
		if repeat {
			return "", false
		}
		k.numLock = !k.numLock
		return "NumLock", true
	}

	if c, ok := printable[code]; ok {
		return k.pick(c, isLetter(c.normal)), true
	}
	if c, ok := keypad[code]; ok {
		if k.numLock {
			return c.normal, true
		}
		return c.shifted, true
	}
	if code >= keyF1 && code <= keyF10 {
		return "F" + strconv.Itoa(int(code-keyF1)+1), true
	}
	if name, ok := named[code]; ok {
		if repeat && isModifier(name) {
			return "", false
		}
		return name, true
	}
	return "", false
}

// Shifted reports whether a shift key is held.
func (k *Keymap) Shifted() bool {
	return k.shift > 0
}

// Reset clears modifier state, for example after the device reconnects.
func (k *Keymap) Reset() {
	*k = *NewKeymap()
}

func (k *Keymap) pick(c chars, letter bool) string {
	upper := k.shift > 0
	if letter && k.caps {
		upper = !upper
	}
	if upper {
		return c.shifted
	}
	return c.normal
}

func isLetter(s string) bool {
	return len(s) == 1 && s[0] >= 'a' && s[0] <= 'z'
}

func isModifier(name string) bool {
	switch name {
	case "Control", "Alt", "AltGraph", "Meta", "ScrollLock":
		return true
	}
	return false
}
