// Package inputpath implements the client-side input event path (C9):
// coordinate mapping from widget pixels to device pixels, and packing
// normalized events into ControlEventPacket payloads.
package inputpath

// Rect is an axis-aligned pixel rectangle within the client widget where
// the decoded video is displayed (the "displayRect" of §4.9), positioned
// at (X, Y) with size (W, H) inside a widget of size Ws x Hs, chosen by the
// caller to preserve the video's aspect ratio.
type Rect struct {
	X, Y int
	W, H int
}

// Size is a video's native pixel dimensions.
type Size struct {
	W, H int
}

// MapToDevice converts a point (px, py) in widget coordinates to device
// coordinates, given the video's displayed rect and native size (§4.9):
//
//	device_x = ((px - dx) * Vw) / dw
//	device_y = ((py - dy) * Vh) / dh
//
// When displayRect is the zero Rect and videoSize is empty, this is a
// pass-through: the input point is returned unchanged (§8.3 boundary case).
func MapToDevice(px, py int, displayRect Rect, videoSize Size) (deviceX, deviceY int) {
	if displayRect == (Rect{}) && videoSize == (Size{}) {
		return px, py
	}
	if displayRect.W == 0 || displayRect.H == 0 {
		return px, py
	}
	deviceX = ((px - displayRect.X) * videoSize.W) / displayRect.W
	deviceY = ((py - displayRect.Y) * videoSize.H) / displayRect.H
	return deviceX, deviceY
}
