package mirrorserver

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/lanternops/devicemirror/internal/capture"
	"github.com/lanternops/devicemirror/internal/mirrorconfig"
	"github.com/lanternops/devicemirror/pkg/wireproto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func newTestSession(t *testing.T) (*Session, *mirrorconfig.ServerConfig, *capture.Pipeline) {
	t.Helper()
	cfg := mirrorconfig.DefaultServerConfig()
	cfg.Port = freePort(t)
	cfg.MaxConnections = 1
	info := DeviceInfo{DeviceID: "dev1", DeviceName: "Pixel", ScreenWidth: 1080, ScreenHeight: 1920}
	s := New(cfg, info, testLogger())
	pipe := NewHubPipeline(capture.NewSoftwareEncoder(cfg.BitrateBps, cfg.FPS, 30), s.Hub())
	s.AttachPipeline(pipe)
	return s, cfg, pipe
}

func TestLifecycleTransitionsStoppedToRunningToStopped(t *testing.T) {
	s, _, _ := newTestSession(t)

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if s.State() != StateStarting {
		t.Fatalf("state = %v, want Starting", s.State())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want Running", s.State())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %v, want Stopped", s.State())
	}
}

func TestInitializeRejectsEmptyDeviceID(t *testing.T) {
	cfg := mirrorconfig.DefaultServerConfig()
	cfg.Port = freePort(t)
	s := New(cfg, DeviceInfo{}, testLogger())

	if err := s.Initialize(); err == nil {
		t.Fatal("expected Initialize to fail with empty device id")
	}
	if s.State() != StateError {
		t.Fatalf("state = %v, want Error", s.State())
	}
}

func TestStartRejectsNonStartingState(t *testing.T) {
	s, _, _ := newTestSession(t)
	if err := s.Start(); err != ErrNotStarting {
		t.Fatalf("err = %v, want ErrNotStarting", err)
	}
}

func TestJoinSequenceAckThenMetadataThenConfigThenKeyframe(t *testing.T) {
	s, cfg, pipe := newTestSession(t)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	frame := func() capture.EncoderInput {
		return capture.EncoderInput{FrameBytes: []byte{1, 2, 3}, Width: cfg.Width, Height: cfg.Height, CaptureTS: time.Now()}
	}

	// Prime the cached config blob before any client joins, so Join's
	// second handshake packet (§4.5) has something to send.
	pipe.Enqueue(frame())
	waitUntil(t, func() bool { return pipe.CachedConfig() != nil })

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(cfg.Port)), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	d := wireproto.NewDemuxer()
	buf := make([]byte, 4096)

	readPacket := func() wireproto.Packet {
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, err := conn.Read(buf)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			d.Feed(buf[:n])
			pkt, ok, err := d.Next()
			if err != nil {
				continue
			}
			if ok {
				return pkt
			}
		}
	}

	ack := readPacket()
	if ack.Header.Type != wireproto.TypeConnectionAck {
		t.Fatalf("first packet type = %v, want ConnectionAck", ack.Header.Type)
	}

	meta := readPacket()
	if meta.Header.Type != wireproto.TypeMetadata {
		t.Fatalf("second packet type = %v, want Metadata", meta.Header.Type)
	}

	cfgPkt := readPacket()
	if cfgPkt.Header.Type != wireproto.TypeVideoConfig {
		t.Fatalf("third packet type = %v, want VideoConfig", cfgPkt.Header.Type)
	}

	// admit() already called request_keyframe; enqueue one more frame so
	// the pipeline actually emits the keyframe-flagged video-data unit.
	pipe.Enqueue(frame())

	videoData := readPacket()
	if videoData.Header.Type != wireproto.TypeVideoData {
		t.Fatalf("fourth packet type = %v, want VideoData", videoData.Header.Type)
	}
	if !videoData.Header.HasFlag(wireproto.FlagKeyframe) {
		t.Fatal("expected first video-data packet to be a keyframe after join-triggered request_keyframe")
	}
}

func TestAdmissionControlRejectsBeyondMaxConnections(t *testing.T) {
	s, cfg, _ := newTestSession(t)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	addr := net.JoinHostPort("127.0.0.1", itoa(cfg.Port))
	first, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	time.Sleep(50 * time.Millisecond) // let admit() register the first client
	second, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	if _, err := second.Read(buf); err != io.EOF {
		t.Fatalf("expected second connection to be closed immediately (EOF), got %v", err)
	}
}
