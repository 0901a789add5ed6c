package hotkey

import (
	"fmt"
	"strings"
)

// Accel is a parsed accelerator: one key plus a modifier set, in a
// platform-neutral form. Platform managers map it onto native keycodes and
// modifier masks.
type Accel struct {
	Key   string // lower-cased key name, e.g. "space", "d", "f5"
	Ctrl  bool
	Alt   bool
	Shift bool
	Meta  bool // Cmd on macOS, Super/Win elsewhere
}

// ParseAccel parses accelerator strings like "Alt+Space" or "Ctrl+Shift+D".
// Segments before the last must be modifiers; the last segment is the key.
func ParseAccel(s string) (Accel, error) {
	var a Accel
	if strings.TrimSpace(s) == "" {
		return a, fmt.Errorf("empty accelerator")
	}

	parts := strings.Split(s, "+")
	for i, part := range parts {
		p := strings.ToLower(strings.TrimSpace(part))
		switch p {
		case "ctrl", "control":
			a.Ctrl = true
		case "alt", "option", "opt":
			a.Alt = true
		case "shift":
			a.Shift = true
		case "cmd", "command", "meta", "super", "win":
			a.Meta = true
		case "":
			return a, fmt.Errorf("accelerator %q has an empty segment", s)
		default:
			if i != len(parts)-1 {
				return a, fmt.Errorf("unknown modifier %q in accelerator %q", part, s)
			}
			a.Key = p
		}
	}

	if a.Key == "" {
		return a, fmt.Errorf("accelerator %q has no key", s)
	}
	return a, nil
}
