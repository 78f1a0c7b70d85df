// Package capture implements the server-side capture→encode pipeline (C4):
// a bounded input queue feeding a pluggable encoder, with frame-diff
// short-circuiting and runtime control operations.
package capture

import (
	"errors"
	"hash/crc32"
	"sync"
	"time"
)

// Sentinel errors, declared next to the type they describe rather than in a
// centralized error-kind package.
var (
	ErrNotRunning     = errors.New("capture: encoder not running")
	ErrQueueFull      = errors.New("capture: input queue full")
	ErrInvalidBitrate = errors.New("capture: invalid bitrate")
	ErrInvalidFPS     = errors.New("capture: invalid fps")
)

// PixelFormat describes the raw frame's pixel layout.
type PixelFormat int

const (
	PixelFormatRGBA PixelFormat = iota
	PixelFormatBGRA
)

// EncoderInput is one raw captured frame awaiting encode (§3.2).
type EncoderInput struct {
	FrameBytes  []byte
	Width       int
	Height      int
	PixelFormat PixelFormat
	CaptureTS   time.Time
}

// EncodedUnit is one encoder output (§3.2). IsConfig units carry SPS/PPS and
// are cached by the pipeline rather than forwarded as video-data.
type EncodedUnit struct {
	Bytes      []byte
	PTS        uint64
	DTS        uint64
	IsKeyframe bool
	IsConfig   bool
}

// Encoder is the pluggable hardware/software encoder contract. The real
// platform hardware encoder is an external collaborator (spec §1); this
// package ships a software placeholder backend (see encoder_software.go)
// grounded in the teacher's encoderBackend interface.
type Encoder interface {
	Encode(input EncoderInput) (EncodedUnit, bool, error) // ok=false means "no output yet"
	SetBitrate(bps int) error
	SetFramerate(fps int) error
	SetKeyframeInterval(frames int) error
	RequestKeyframe() error
	Flush()
	Close() error
}

const (
	inputQueueCapacity = 10
	dequeueTimeout     = 10 * time.Millisecond
)

// Pipeline owns the bounded input queue, the encoder, and the cached config
// blob. Queue overflow drops the incoming frame and increments DroppedFrames
// without blocking the capture callback (§4.4).
type Pipeline struct {
	mu      sync.Mutex
	encoder Encoder
	running bool

	queue chan EncoderInput

	cachedConfig []byte
	differ       *frameDiffer

	onVideoData  func(unit EncodedUnit)
	onConfig     func(configBytes []byte)
	onSkipped    func()
	onDropped    func()

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipeline constructs a Pipeline around enc. onVideoData, onConfig and
// onSkipped are invoked from the pipeline's internal worker goroutine, and
// onDropped from whichever goroutine calls Enqueue; callers must make
// them safe for concurrent use with whatever else they touch (typically a
// single fan-out hub instance, itself already safe for concurrent sends).
func NewPipeline(enc Encoder, onVideoData func(EncodedUnit), onConfig func([]byte), onSkipped, onDropped func()) *Pipeline {
	return &Pipeline{
		encoder:     enc,
		queue:       make(chan EncoderInput, inputQueueCapacity),
		differ:      newFrameDiffer(),
		onVideoData: onVideoData,
		onConfig:    onConfig,
		onSkipped:   onSkipped,
		onDropped:   onDropped,
	}
}

// Start launches the input worker. Safe to call once per Pipeline lifetime;
// calling while already running is a no-op (AlreadyRunning kind, §7).
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go p.runWorker(p.stopCh)
}

// Stop signals the worker to exit and waits for it to join.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

// Enqueue offers a frame to the bounded input queue. It never blocks: on a
// full queue it drops the frame and reports ok=false so the caller can
// increment dropped_frames.
func (p *Pipeline) Enqueue(input EncoderInput) (ok bool) {
	select {
	case p.queue <- input:
		return true
	default:
		if p.onDropped != nil {
			p.onDropped()
		}
		return false
	}
}

func (p *Pipeline) runWorker(stop chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stop:
			return
		case input := <-p.queue:
			p.process(input)
		}
	}
}

func (p *Pipeline) process(input EncoderInput) {
	if p.differ.unchanged(input.FrameBytes) {
		if p.onSkipped != nil {
			p.onSkipped()
		}
		return
	}

	unit, ok, err := p.encoder.Encode(input)
	if err != nil || !ok {
		return
	}

	if unit.IsConfig {
		// The frame that yielded the config blob was not sent as video
		// data, so it does not count as the frame-diff baseline.
		p.differ.hasLast = false
		p.mu.Lock()
		p.cachedConfig = unit.Bytes
		p.mu.Unlock()
		if p.onConfig != nil {
			p.onConfig(unit.Bytes)
		}
		return
	}

	if p.onVideoData != nil {
		p.onVideoData(unit)
	}
}

// CachedConfig returns the most recently cached SPS/PPS blob, or nil if the
// encoder has not yet produced one.
func (p *Pipeline) CachedConfig() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cachedConfig
}

// SetBitrate, SetFramerate, SetKeyframeInterval, RequestKeyframe, and Flush
// map directly to encoder parameter updates (§4.4 "runtime control
// operations"). RequestKeyframe while not running returns ErrNotRunning
// without side effects, matching the NOT_RUNNING edge case.
func (p *Pipeline) SetBitrate(bps int) error {
	if bps <= 0 {
		return ErrInvalidBitrate
	}
	return p.encoder.SetBitrate(bps)
}

func (p *Pipeline) SetFramerate(fps int) error {
	if fps <= 0 {
		return ErrInvalidFPS
	}
	return p.encoder.SetFramerate(fps)
}

func (p *Pipeline) SetKeyframeInterval(frames int) error {
	return p.encoder.SetKeyframeInterval(frames)
}

func (p *Pipeline) RequestKeyframe() error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	return p.encoder.RequestKeyframe()
}

func (p *Pipeline) Flush() {
	p.encoder.Flush()
}

// frameDiffer skips re-encoding a frame whose pixel CRC32 matches the
// previous frame that was encoded into video data (SPEC_FULL's frame-diff
// optimization).
type frameDiffer struct {
	lastCRC uint32
	hasLast bool
}

func newFrameDiffer() *frameDiffer {
	return &frameDiffer{}
}

func (f *frameDiffer) unchanged(frame []byte) bool {
	sum := crc32.ChecksumIEEE(frame)
	if f.hasLast && sum == f.lastCRC {
		return true
	}
	f.lastCRC = sum
	f.hasLast = true
	return false
}
