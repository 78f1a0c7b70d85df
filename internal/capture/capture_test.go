package capture

import (
	"sync"
	"testing"
	"time"
)

func newTestPipeline(t *testing.T) (*Pipeline, *counters) {
	t.Helper()
	c := &counters{}
	enc := NewSoftwareEncoder(4_000_000, 30, 0)
	p := NewPipeline(enc,
		func(EncodedUnit) { c.add(&c.videoData) },
		func([]byte) { c.add(&c.config) },
		func() { c.add(&c.skipped) },
		func() { c.add(&c.dropped) },
	)
	return p, c
}

type counters struct {
	mu        sync.Mutex
	videoData int
	config    int
	skipped   int
	dropped   int
}

func (c *counters) add(field *int) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

func (c *counters) get(field *int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *field
}

func frame(b byte) EncoderInput {
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = b
	}
	return EncoderInput{FrameBytes: buf, Width: 640, Height: 480, CaptureTS: time.Now()}
}

func TestPipelineEmitsConfigThenVideoData(t *testing.T) {
	p, c := newTestPipeline(t)
	p.Start()
	defer p.Stop()

	p.Enqueue(frame(1))
	p.Enqueue(frame(2))

	waitFor(t, func() bool { return c.get(&c.config) == 1 && c.get(&c.videoData) == 1 })
}

func TestPipelineDropsOnQueueFull(t *testing.T) {
	p, c := newTestPipeline(t)
	// Don't Start the worker, so the queue never drains.
	for i := 0; i < inputQueueCapacity; i++ {
		if ok := p.Enqueue(frame(byte(i))); !ok {
			t.Fatalf("enqueue %d unexpectedly failed", i)
		}
	}
	if ok := p.Enqueue(frame(99)); ok {
		t.Fatalf("expected overflow enqueue to fail")
	}
	if got := c.get(&c.dropped); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestFrameDiffSkipsUnchangedFrame(t *testing.T) {
	p, c := newTestPipeline(t)
	p.Start()
	defer p.Stop()

	p.Enqueue(frame(7)) // config
	waitFor(t, func() bool { return c.get(&c.config) == 1 })
	p.Enqueue(frame(7)) // first real frame, baseline
	waitFor(t, func() bool { return c.get(&c.videoData) == 1 })
	p.Enqueue(frame(7)) // identical frame bytes, should skip

	waitFor(t, func() bool { return c.get(&c.skipped) == 1 })
	if got := c.get(&c.videoData); got != 1 {
		t.Fatalf("videoData = %d, want 1 (diff-skip must not re-encode)", got)
	}
}

func TestRequestKeyframeNotRunningReturnsError(t *testing.T) {
	p, _ := newTestPipeline(t)
	if err := p.RequestKeyframe(); err != ErrNotRunning {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
