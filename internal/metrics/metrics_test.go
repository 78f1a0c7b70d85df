package metrics

import (
	"testing"
	"time"
)

func TestSnapshotMonotonicity(t *testing.T) {
	m := New()
	m.RecordCapture(time.Millisecond)
	m.RecordEncode(time.Millisecond, 1024)
	m.RecordSend(1024)
	m.RecordSkip()
	m.RecordDrop()

	s := m.Snapshot()
	if s.FramesCaptured != 1 || s.FramesEncoded != 1 || s.FramesSent != 1 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
	if s.FramesSkipped != 1 {
		t.Errorf("FramesSkipped = %d, want 1", s.FramesSkipped)
	}
	if s.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", s.FramesDropped)
	}
	if s.FramesEncoded > s.FramesCaptured {
		t.Errorf("encoded %d exceeds captured %d", s.FramesEncoded, s.FramesCaptured)
	}
	if s.FramesSent > s.FramesEncoded {
		t.Errorf("sent %d exceeds encoded %d", s.FramesSent, s.FramesEncoded)
	}
}

func TestAggregateSnapshots(t *testing.T) {
	snaps := []Snapshot{
		{FramesSent: 100},
		{FramesSent: 200},
	}
	errs := []uint64{1, 2}
	agg := AggregateSnapshots(snaps, errs, 10*time.Second)
	if agg.TotalFrameCount != 300 {
		t.Errorf("TotalFrameCount = %d, want 300", agg.TotalFrameCount)
	}
	if agg.TotalErrorCount != 3 {
		t.Errorf("TotalErrorCount = %d, want 3", agg.TotalErrorCount)
	}
	if agg.AverageFPS != 30 {
		t.Errorf("AverageFPS = %f, want 30", agg.AverageFPS)
	}
	if agg.DeviceCount != 2 {
		t.Errorf("DeviceCount = %d, want 2", agg.DeviceCount)
	}
}
