// Package metrics tracks per-stream counters shared by the server session
// (C6) and the client/controller (C11) so both sides expose the same
// monotonicity laws (§8.2): captured >= encoded >= sent, dropped and
// skipped only increase, bandwidth derives from uptime and bytes sent.
package metrics

import (
	"sync"
	"time"
)

// StreamMetrics accumulates counters for one streaming session. Zero value
// is not usable; construct with New.
type StreamMetrics struct {
	mu sync.RWMutex

	framesCaptured uint64
	framesEncoded  uint64
	framesSent     uint64
	framesSkipped  uint64 // frame-diff short-circuit, distinct from dropped
	framesDropped  uint64 // queue-overflow drop (C4 bounded queue)

	lastCaptureTime time.Duration
	lastEncodeTime  time.Duration
	lastFrameSize   int

	totalBytesSent uint64
	currentBitrate int

	startTime time.Time
}

// New returns a StreamMetrics with its uptime clock started now.
func New() *StreamMetrics {
	return &StreamMetrics{startTime: time.Now()}
}

func (m *StreamMetrics) RecordCapture(d time.Duration) {
	m.mu.Lock()
	m.framesCaptured++
	m.lastCaptureTime = d
	m.mu.Unlock()
}

// RecordSkip accounts a frame the frame-diff optimization chose not to
// re-encode because its pixel CRC32 matched the previous frame.
func (m *StreamMetrics) RecordSkip() {
	m.mu.Lock()
	m.framesSkipped++
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordEncode(d time.Duration, size int) {
	m.mu.Lock()
	m.framesEncoded++
	m.lastEncodeTime = d
	m.lastFrameSize = size
	m.mu.Unlock()
}

func (m *StreamMetrics) RecordSend(size int) {
	m.mu.Lock()
	m.framesSent++
	m.totalBytesSent += uint64(size)
	m.mu.Unlock()
}

// RecordDrop accounts a frame the bounded encoder-input queue discarded
// because it was full (C4 backpressure policy).
func (m *StreamMetrics) RecordDrop() {
	m.mu.Lock()
	m.framesDropped++
	m.mu.Unlock()
}

func (m *StreamMetrics) SetBitrate(bps int) {
	m.mu.Lock()
	m.currentBitrate = bps
	m.mu.Unlock()
}

// Snapshot is a point-in-time, immutable copy for status reporting and the
// controller UI aggregation (§4.11).
type Snapshot struct {
	FramesCaptured uint64
	FramesEncoded  uint64
	FramesSent     uint64
	FramesSkipped  uint64
	FramesDropped  uint64
	CaptureMs      float64
	EncodeMs       float64
	LastFrameSize  int
	BandwidthKBps  float64
	CurrentBitrate int
	Uptime         time.Duration
}

func (m *StreamMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	bw := 0.0
	if uptime.Seconds() > 0 {
		bw = float64(m.totalBytesSent) / uptime.Seconds() / 1024.0
	}

	return Snapshot{
		FramesCaptured: m.framesCaptured,
		FramesEncoded:  m.framesEncoded,
		FramesSent:     m.framesSent,
		FramesSkipped:  m.framesSkipped,
		FramesDropped:  m.framesDropped,
		CaptureMs:      float64(m.lastCaptureTime.Microseconds()) / 1000.0,
		EncodeMs:       float64(m.lastEncodeTime.Microseconds()) / 1000.0,
		LastFrameSize:  m.lastFrameSize,
		BandwidthKBps:  bw,
		CurrentBitrate: m.currentBitrate,
		Uptime:         uptime,
	}
}

// Aggregate combines per-device snapshots into the controller-wide totals
// named in §4.11 ("total_frame_count", "total_error_count", average fps).
type Aggregate struct {
	TotalFrameCount uint64
	TotalErrorCount uint64
	AverageFPS      float64
	DeviceCount     int
}

// AggregateSnapshots folds a set of device snapshots (frames sent as the
// frame count, dropped+skipped as a proxy for per-device errors when no
// decoder error count is supplied) into one Aggregate.
func AggregateSnapshots(snapshots []Snapshot, errorCounts []uint64, elapsed time.Duration) Aggregate {
	var agg Aggregate
	agg.DeviceCount = len(snapshots)
	for i, s := range snapshots {
		agg.TotalFrameCount += s.FramesSent
		if i < len(errorCounts) {
			agg.TotalErrorCount += errorCounts[i]
		} else {
			agg.TotalErrorCount += s.FramesDropped + s.FramesSkipped
		}
	}
	if elapsed > 0 {
		agg.AverageFPS = float64(agg.TotalFrameCount) / elapsed.Seconds()
	}
	return agg
}
