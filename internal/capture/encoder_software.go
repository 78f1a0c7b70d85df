package capture

import (
	"sync"
	"sync/atomic"
)

// softwareEncoder is a placeholder Encoder backend used where no platform
// hardware encoder is wired in (tests, and any deployment target without
// one). It does not actually produce valid H.264; it emits a deterministic
// marker stream shaped like one (a synthetic config blob once, then one
// "access unit" per Encode call, periodically flagged as a keyframe), which
// is enough to drive and test the pipeline, fan-out, and wire codec without
// depending on an external codec library (spec §1, "platform hardware
// encoder" is explicitly out of scope).
type softwareEncoder struct {
	mu sync.Mutex

	bitrate          int
	fps              int
	keyframeInterval int

	frameCount     uint64
	sentConfig     bool
	forceKeyframe  atomic.Bool
	closed         bool
}

// NewSoftwareEncoder constructs the placeholder backend with the given
// initial bitrate/fps/keyframe interval.
func NewSoftwareEncoder(bitrate, fps, keyframeInterval int) Encoder {
	return &softwareEncoder{
		bitrate:          bitrate,
		fps:              fps,
		keyframeInterval: keyframeInterval,
	}
}

func (e *softwareEncoder) Encode(input EncoderInput) (EncodedUnit, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return EncodedUnit{}, false, ErrNotRunning
	}

	if !e.sentConfig {
		e.sentConfig = true
		return EncodedUnit{
			Bytes:    syntheticConfigBlob(input.Width, input.Height),
			IsConfig: true,
		}, true, nil
	}

	e.frameCount++
	isKey := e.forceKeyframe.CompareAndSwap(true, false)
	if !isKey && e.keyframeInterval > 0 && e.frameCount%uint64(e.keyframeInterval) == 0 {
		isKey = true
	}

	ts := uint64(input.CaptureTS.UnixMicro())
	return EncodedUnit{
		Bytes:      syntheticAccessUnit(input.FrameBytes, isKey),
		PTS:        ts,
		DTS:        ts,
		IsKeyframe: isKey,
	}, true, nil
}

func (e *softwareEncoder) SetBitrate(bps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bitrate = bps
	return nil
}

func (e *softwareEncoder) SetFramerate(fps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fps = fps
	return nil
}

func (e *softwareEncoder) SetKeyframeInterval(frames int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keyframeInterval = frames
	return nil
}

func (e *softwareEncoder) RequestKeyframe() error {
	e.forceKeyframe.Store(true)
	return nil
}

func (e *softwareEncoder) Flush() {
	e.forceKeyframe.Store(true)
}

func (e *softwareEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// syntheticConfigBlob and syntheticAccessUnit produce small, deterministic
// byte strings that stand in for SPS/PPS and an H.264 access unit. Real
// bytes come from the platform hardware encoder collaborator in production.
func syntheticConfigBlob(width, height int) []byte {
	return []byte{0x00, 0x00, 0x00, 0x01, byte(width >> 8), byte(width), byte(height >> 8), byte(height)}
}

func syntheticAccessUnit(frame []byte, isKeyframe bool) []byte {
	marker := byte(0x41)
	if isKeyframe {
		marker = 0x65
	}
	out := make([]byte, 0, 5+min(len(frame), 64))
	out = append(out, 0x00, 0x00, 0x00, 0x01, marker)
	n := len(frame)
	if n > 64 {
		n = 64
	}
	out = append(out, frame[:n]...)
	return out
}
