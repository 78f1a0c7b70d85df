package inputpath

import (
	"errors"

	"github.com/lanternops/devicemirror/pkg/wireproto"
)

// ErrDownWithoutUp is returned by the Tracker when a second pointer-down is
// observed before the prior one's up (§4.9: "at most one pointer-down
// before an up; a move between them is allowed").
var ErrDownWithoutUp = errors.New("inputpath: pointer already down")

// Tracker enforces the down/move/up ordering constraint for one pointer id
// and builds ControlEvent payloads ready for Connection.SendControlEvent.
type Tracker struct {
	displayRect Rect
	videoSize   Size
	down        bool
}

// NewTracker builds a Tracker bound to the given display geometry. Callers
// update the geometry (e.g. on window resize) with SetGeometry.
func NewTracker(displayRect Rect, videoSize Size) *Tracker {
	return &Tracker{displayRect: displayRect, videoSize: videoSize}
}

// SetGeometry updates the widget/video geometry used for coordinate mapping.
func (t *Tracker) SetGeometry(displayRect Rect, videoSize Size) {
	t.displayRect = displayRect
	t.videoSize = videoSize
}

// TouchDown builds a TOUCH_DOWN event at the given widget coordinates.
func (t *Tracker) TouchDown(px, py int) (wireproto.ControlEvent, error) {
	if t.down {
		return wireproto.ControlEvent{}, ErrDownWithoutUp
	}
	t.down = true
	return t.touchEvent(wireproto.ControlTouchDown, px, py), nil
}

// TouchMove builds a TOUCH_MOVE event; allowed between a down and its up.
func (t *Tracker) TouchMove(px, py int) wireproto.ControlEvent {
	return t.touchEvent(wireproto.ControlTouchMove, px, py)
}

// TouchUp builds a TOUCH_UP event and clears the down latch.
func (t *Tracker) TouchUp(px, py int) wireproto.ControlEvent {
	t.down = false
	return t.touchEvent(wireproto.ControlTouchUp, px, py)
}

func (t *Tracker) touchEvent(subtype wireproto.ControlEventSubtype, px, py int) wireproto.ControlEvent {
	dx, dy := MapToDevice(px, py, t.displayRect, t.videoSize)
	return wireproto.ControlEvent{Subtype: subtype, X: dx, Y: dy}
}

// KeyDown/KeyUp build key events; no coordinate mapping applies.
func KeyDown(keyCode int) wireproto.ControlEvent {
	return wireproto.ControlEvent{Subtype: wireproto.ControlKeyDown, KeyCode: keyCode}
}

func KeyUp(keyCode int) wireproto.ControlEvent {
	return wireproto.ControlEvent{Subtype: wireproto.ControlKeyUp, KeyCode: keyCode}
}

// Scroll builds a SCROLL event at a widget position with the given pixel
// deltas (mapped into device coordinates the same way touches are).
func (t *Tracker) Scroll(px, py, deltaX, deltaY int) wireproto.ControlEvent {
	dx, dy := MapToDevice(px, py, t.displayRect, t.videoSize)
	return wireproto.ControlEvent{Subtype: wireproto.ControlScroll, X: dx, Y: dy, DeltaX: deltaX, DeltaY: deltaY}
}

// AppLaunch/AppClose/SystemCommand build the remaining control-event
// sub-types named in §4.9; they carry no coordinates.
func AppLaunch(appName string) wireproto.ControlEvent {
	return wireproto.ControlEvent{Subtype: wireproto.ControlAppLaunch, AppName: appName}
}

func AppClose(appName string) wireproto.ControlEvent {
	return wireproto.ControlEvent{Subtype: wireproto.ControlAppClose, AppName: appName}
}

func SystemCommand(command string) wireproto.ControlEvent {
	return wireproto.ControlEvent{Subtype: wireproto.ControlSystemCommand, Command: command}
}
