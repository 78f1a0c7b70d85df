package inputpath

import "testing"

func TestMapToDevicePassThroughOnEmpty(t *testing.T) {
	x, y := MapToDevice(42, 17, Rect{}, Size{})
	if x != 42 || y != 17 {
		t.Fatalf("got (%d,%d), want pass-through (42,17)", x, y)
	}
}

func TestMapToDeviceScaling(t *testing.T) {
	// video 1080x1920 shown in widget 540x960 at (0,0) -> click (270,480) => (540,960)
	x, y := MapToDevice(270, 480, Rect{X: 0, Y: 0, W: 540, H: 960}, Size{W: 1080, H: 1920})
	if x != 540 || y != 960 {
		t.Fatalf("got (%d,%d), want (540,960)", x, y)
	}
}

func TestTrackerRejectsDoubleDown(t *testing.T) {
	tr := NewTracker(Rect{X: 0, Y: 0, W: 540, H: 960}, Size{W: 1080, H: 1920})
	if _, err := tr.TouchDown(10, 10); err != nil {
		t.Fatalf("first down: %v", err)
	}
	if _, err := tr.TouchDown(20, 20); err != ErrDownWithoutUp {
		t.Fatalf("second down: err = %v, want ErrDownWithoutUp", err)
	}
	tr.TouchMove(15, 15) // allowed between down and up
	tr.TouchUp(15, 15)
	if _, err := tr.TouchDown(30, 30); err != nil {
		t.Fatalf("down after up: %v", err)
	}
}
