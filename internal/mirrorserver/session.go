// Package mirrorserver orchestrates the device-side streaming server (C2 +
// C6): accepts TCP client connections, drives the capture→encode pipeline
// into the fan-out hub, and runs the server's lifecycle state machine.
package mirrorserver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lanternops/devicemirror/internal/capture"
	"github.com/lanternops/devicemirror/internal/fanout"
	"github.com/lanternops/devicemirror/internal/mirrorconfig"
	"github.com/lanternops/devicemirror/pkg/wireproto"
)

// State is the server session's lifecycle state (§4.6).
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	ErrNotStopped = errors.New("mirrorserver: session is not stopped")
	ErrNotStarting = errors.New("mirrorserver: session is not starting")
	ErrNotRunning = errors.New("mirrorserver: session is not running")
)

// DeviceInfo describes the device this session streams, used to build the
// join-protocol METADATA packet (§4.5, §6.2).
type DeviceInfo struct {
	DeviceID           string
	DeviceName         string
	DeviceModel        string
	DeviceManufacturer string
	AndroidVersion     string
	APILevel           int
	ScreenWidth        int
	ScreenHeight       int
	ScreenDensity      int
}

// Session orchestrates C2 (socket I/O) + C4 (capture pipeline, supplied
// externally) + C5 (fan-out hub) + C6 (this lifecycle).
type Session struct {
	cfg    *mirrorconfig.ServerConfig
	info   DeviceInfo
	hub    *fanout.Hub
	pipe   *capture.Pipeline
	log    *slog.Logger

	mu    sync.Mutex
	state State

	listener *listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Session and its fan-out hub; it takes no capture Pipeline.
// Build the pipeline against Session.Hub() (e.g. with NewHubPipeline) and
// hand it over with AttachPipeline before Start.
func New(cfg *mirrorconfig.ServerConfig, info DeviceInfo, log *slog.Logger) *Session {
	s := &Session{cfg: cfg, info: info, state: StateStopped, log: log}
	s.hub = fanout.NewHub(func() wireproto.Metadata {
		return wireproto.Metadata{
			Model:           info.DeviceModel,
			Manufacturer:    info.DeviceManufacturer,
			AndroidVersion:  info.AndroidVersion,
			APILevel:        uint32(info.APILevel),
			ScreenWidth:     uint32(info.ScreenWidth),
			ScreenHeight:    uint32(info.ScreenHeight),
			ScreenDensity:   uint32(info.ScreenDensity),
			VideoCodec:      "h264",
			AudioCodec:      "none",
			VideoBitrateBps: uint32(cfg.BitrateBps),
			FPS:             uint32(cfg.FPS),
		}
	}, wireproto.MaxPacketSize, uint32(cfg.RecvBufferBytes))
	return s
}

// Hub exposes the fan-out hub so an externally constructed capture.Pipeline
// can be wired to broadcast into it before Start is called.
func (s *Session) Hub() *fanout.Hub { return s.hub }

// AttachPipeline records the capture pipeline this session drives; Start
// and Stop call through to it.
func (s *Session) AttachPipeline(p *capture.Pipeline) { s.pipe = p }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize transitions STOPPED → STARTING, checking that the device info
// carries a device_id. Any failure here goes straight to ERROR
// (§4.6 transition table).
func (s *Session) Initialize() error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrNotStopped
	}
	s.state = StateStarting
	s.mu.Unlock()

	if s.info.DeviceID == "" {
		s.fail(fmt.Errorf("mirrorserver: device_id must not be empty"))
		return fmt.Errorf("mirrorserver: device_id must not be empty")
	}
	return nil
}

// Start transitions STARTING → RUNNING: opens the listener and launches the
// accept/heartbeat workers.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return ErrNotStarting
	}
	s.mu.Unlock()

	lis, err := newListener(s.cfg, s.hub, s.log)
	if err != nil {
		s.fail(err)
		return err
	}
	lis.OnJoin(s.cachedConfig, s.requestKeyframe)
	lis.OnInject(NewShellInjector(time.Duration(s.cfg.SocketTimeoutMs) * time.Millisecond))

	s.mu.Lock()
	s.listener = lis
	s.state = StateRunning
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if s.pipe != nil {
		s.pipe.Start()
	}
	s.wg.Add(2)
	go s.acceptLoop()
	go s.heartbeatLoop()
	s.log.Info("server session running", "device_id", s.info.DeviceID, "port", s.cfg.Port)
	return nil
}

// Stop transitions RUNNING → STOPPING → STOPPED: signals workers, joins
// them, and releases capture/network resources.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopping
	stop := s.stopCh
	lis := s.listener
	s.mu.Unlock()

	close(stop)
	if lis != nil {
		lis.Close()
	}
	s.wg.Wait()

	if s.pipe != nil {
		s.pipe.Stop()
	}
	s.hub.EvictAll()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return nil
}

func (s *Session) cachedConfig() []byte {
	if s.pipe == nil {
		return nil
	}
	return s.pipe.CachedConfig()
}

func (s *Session) requestKeyframe() {
	if s.pipe == nil {
		return
	}
	_ = s.pipe.RequestKeyframe()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateError
	s.mu.Unlock()
	if s.log != nil {
		s.log.Error("server session failed", "error", err)
	}
}

func (s *Session) acceptLoop() {
	defer s.wg.Done()
	s.listener.acceptLoop(s.stopCh)
}

// heartbeatLoop broadcasts a heartbeat to every active client every
// heartbeat_interval_ms while RUNNING (§4.6).
func (s *Session) heartbeatLoop() {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.HeartbeatMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.hub.BroadcastHeartbeat(time.Now().UnixNano())
		}
	}
}
