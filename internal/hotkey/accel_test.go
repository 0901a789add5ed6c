package hotkey

import "testing"

func TestParseAccel(t *testing.T) {
	tests := []struct {
		in   string
		want Accel
	}{
		{"Alt+Space", Accel{Key: "space", Alt: true}},
		{"Ctrl+Shift+D", Accel{Key: "d", Ctrl: true, Shift: true}},
		{"Cmd+Space", Accel{Key: "space", Meta: true}},
		{"Option+V", Accel{Key: "v", Alt: true}},
		{"Control+Super+F5", Accel{Key: "f5", Ctrl: true, Meta: true}},
		{"F12", Accel{Key: "f12"}},
		{" alt + space ", Accel{Key: "space", Alt: true}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAccel(tt.in)
			if err != nil {
				t.Fatalf("ParseAccel(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAccel(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAccelRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"Alt+",
		"Alt",          // modifier with no key
		"Ctrl+Shift",   // modifiers only
		"Bogus+Space",  // unknown modifier
		"Alt++Space",   // empty segment
	} {
		if _, err := ParseAccel(in); err == nil {
			t.Errorf("ParseAccel(%q) should fail", in)
		}
	}
}
