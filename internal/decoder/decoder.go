// Package decoder implements the client-side decoder harness (C10): drives
// an external H.264 decoder, tracks rolling statistics, and escalates to a
// terminal error state after repeated decode failures.
package decoder

import (
	"errors"
	"sync"
	"time"
)

// MaxDecodeErrors is the consecutive-failure threshold after which the
// harness transitions to Error (§4.10).
const MaxDecodeErrors = 10

// StatsEventEvery is how many decoded frames elapse between
// statistics-update events (§4.10).
const StatsEventEvery = 30

var (
	// ErrDecodeFailed is wrapped around whatever the underlying decoder
	// backend returned, so callers can still unwrap the root cause.
	ErrDecodeFailed = errors.New("decoder: decode failed")
	// ErrTerminal is emitted once, on the failure that brings the
	// consecutive-failure count to MaxDecodeErrors.
	ErrTerminal = errors.New("decoder: terminal error, upstream must reconnect")
)

// PixelFormat names the decoder's output pixel layout.
type PixelFormat int

const (
	PixelFormatRGB24 PixelFormat = iota
	PixelFormatBGRA
)

// Image is one decoded picture.
type Image struct {
	Bytes  []byte
	Width  int
	Height int
	Format PixelFormat
}

// Backend is the external H.264 decoder contract (spec §1 external
// collaborator: "H.264 decoder library"). DecodeHarness drives it; this
// repo ships a software placeholder (see backend_software.go) for testing.
type Backend interface {
	Decode(accessUnit []byte, isKeyframe bool) (Image, error)
	SetTargetSize(width, height int)
	SetPixelFormat(pf PixelFormat)
	Close() error
}

// Config configures a Harness (§4.10 defaults: 1080x1920, packed RGB24).
type Config struct {
	TargetWidth  int
	TargetHeight int
	PixelFormat  PixelFormat
	AutoResize   bool
}

func DefaultConfig() Config {
	return Config{TargetWidth: 1080, TargetHeight: 1920, PixelFormat: PixelFormatRGB24, AutoResize: false}
}

// Stats is the harness's rolling statistics (§4.10, §4.11).
type Stats struct {
	FrameCount  uint64
	ErrorCount  uint64
	AverageFPS  float64
}

// HarnessState mirrors the decoder's place in the client session.
type HarnessState int

const (
	StateIdle HarnessState = iota
	StateRunning
	StateError
)

// Harness owns a Backend and the rolling statistics/error-escalation logic.
type Harness struct {
	mu      sync.Mutex
	backend Backend
	cfg     Config
	state   HarnessState

	frameCount        uint64
	consecutiveErrors uint64
	errorCount        uint64
	resetAt           time.Time
	resizedOnce       bool

	onImage   func(Image)
	onStats   func(Stats)
	onTerminal func(error)
}

// New constructs a Harness around backend with the given config.
func New(backend Backend, cfg Config, onImage func(Image), onStats func(Stats), onTerminal func(error)) *Harness {
	backend.SetTargetSize(cfg.TargetWidth, cfg.TargetHeight)
	backend.SetPixelFormat(cfg.PixelFormat)
	return &Harness{
		backend:    backend,
		cfg:        cfg,
		state:      StateIdle,
		resetAt:    time.Now(),
		onImage:    onImage,
		onStats:    onStats,
		onTerminal: onTerminal,
	}
}

// Feed submits one access unit for decode. Called from the client
// connection's VideoData dispatch.
func (h *Harness) Feed(accessUnit []byte, isKeyframe bool) {
	h.mu.Lock()
	if h.state == StateError {
		h.mu.Unlock()
		return
	}
	h.state = StateRunning
	h.mu.Unlock()

	img, err := h.backend.Decode(accessUnit, isKeyframe)
	if err != nil {
		h.recordError()
		return
	}

	h.mu.Lock()
	if h.cfg.AutoResize && !h.resizedOnce {
		h.resizedOnce = true
		h.cfg.TargetWidth = img.Width
		h.cfg.TargetHeight = img.Height
		h.backend.SetTargetSize(img.Width, img.Height)
	}
	h.consecutiveErrors = 0
	h.frameCount++
	count := h.frameCount
	h.mu.Unlock()

	if h.onImage != nil {
		h.onImage(img)
	}
	if count%StatsEventEvery == 0 {
		h.emitStats()
	}
}

func (h *Harness) recordError() {
	h.mu.Lock()
	h.consecutiveErrors++
	h.errorCount++
	escalate := h.consecutiveErrors >= MaxDecodeErrors
	if escalate {
		h.state = StateError
	}
	h.mu.Unlock()

	if escalate && h.onTerminal != nil {
		h.onTerminal(ErrTerminal)
	}
}

func (h *Harness) emitStats() {
	if h.onStats == nil {
		return
	}
	h.onStats(h.Snapshot())
}

// Snapshot returns a point-in-time copy of the rolling statistics.
func (h *Harness) Snapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	elapsed := time.Since(h.resetAt).Seconds()
	fps := 0.0
	if elapsed > 0 {
		fps = float64(h.frameCount) / elapsed
	}
	return Stats{FrameCount: h.frameCount, ErrorCount: h.errorCount, AverageFPS: fps}
}

// Reset clears the rolling statistics window (does not reset error
// escalation state).
func (h *Harness) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frameCount = 0
	h.resetAt = time.Now()
}

// State returns the harness's current state.
func (h *Harness) State() HarnessState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Close releases the underlying backend.
func (h *Harness) Close() error {
	return h.backend.Close()
}
