package abi

import "testing"

func TestEnumValues(t *testing.T) {
	// Guests hard-code these numbers.
	if MouseDown != 0 || MouseUp != 1 {
		t.Errorf("MouseEvent values changed: down=%d up=%d", MouseDown, MouseUp)
	}
	if KeyDown != 0 || KeyUp != 1 {
		t.Errorf("KeyEvent values changed: down=%d up=%d", KeyDown, KeyUp)
	}
	if ButtonLeft != 0 || ButtonRight != 2 {
		t.Errorf("MouseButton values changed: left=%d right=%d", ButtonLeft, ButtonRight)
	}
}

func TestEnumStrings(t *testing.T) {
	if MouseDown.String() != "down" || MouseUp.String() != "up" {
		t.Error("unexpected MouseEvent strings")
	}
	if KeyEvent(7).String() != "unknown" {
		t.Error("out of range KeyEvent should be unknown")
	}
}

func TestFrameLen(t *testing.T) {
	tests := []struct {
		name   string
		w, h   uint64
		want   uint64
		wantOK bool
	}{
		{"zero", 0, 0, 0, true},
		{"zero width", 0, 10, 0, true},
		{"two by one", 2, 1, 8, true},
		{"hd", 1920, 1080, 1920 * 1080 * 4, true},
		{"overflow product", 1 << 33, 1 << 33, 0, false},
		{"overflow bytes", 1 << 62, 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FrameLen(tt.w, tt.h)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("FrameLen(%d, %d) = %d, %v; want %d, %v", tt.w, tt.h, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
