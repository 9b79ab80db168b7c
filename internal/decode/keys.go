package decode

// DefaultSpecialKeys are the names of non-data keys that a keyboard-wedge
// scanner may emit alongside the data characters. They follow the DOM
// KeyboardEvent.key naming used by most scanner configuration tools.
//
// "AltGraph" precedes "Alt" so the longer name is erased whole. Function keys
// and "Clear" are deliberately absent: scanners commonly encode the GS1
// function code as a sequence built from them, and that sequence must survive
// cleaning until the GS1 decoder has split on it.
var DefaultSpecialKeys = []string{
	"AltGraph",
	"Alt",
	"Shift",
	"Control",
	"Meta",
	"CapsLock",
	"NumLock",
	"ScrollLock",
	"Enter",
	"Tab",
	"Escape",
	"Backspace",
	"Delete",
	"Insert",
	"PageUp",
	"PageDown",
	"Home",
	"End",
	"ArrowUp",
	"ArrowDown",
	"ArrowLeft",
	"ArrowRight",
	"ContextMenu",
	"Unidentified",
	"Dead",
}

// SpecialKeys returns keys, or DefaultSpecialKeys when keys is nil.
// An explicitly empty, non-nil slice disables cleaning.
func SpecialKeys(keys []string) []string {
	if keys == nil {
		return DefaultSpecialKeys
	}
	return keys
}
