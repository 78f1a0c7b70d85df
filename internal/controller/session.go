package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SessionState is a DeviceSession's lifecycle stage (§4.8).
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionDeploying
	SessionLaunching
	SessionConnecting
	SessionStreaming
	SessionError
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionDeploying:
		return "deploying"
	case SessionLaunching:
		return "launching"
	case SessionConnecting:
		return "connecting"
	case SessionStreaming:
		return "streaming"
	case SessionError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrAlreadyStreaming is returned by StartStreaming when the device isn't
// idle.
var ErrAlreadyStreaming = errors.New("controller: device session is not idle")

// Connector dials the freshly-deployed server and drives it to a
// streaming-ready state, standing in for clientconn's TCP connect + join
// handshake (C7). Kept as an interface so DeviceSession can be tested
// without a real socket.
type Connector interface {
	Connect(ctx context.Context, addr string, port int) error
}

// DeviceSession tracks one device's remote-server bring-up and streaming
// lifecycle: Idle -> Deploying -> Launching -> Connecting -> Streaming,
// with any stage failure moving to Error, and Stop returning to Idle
// (§4.8).
type DeviceSession struct {
	DeviceID string

	mu       sync.Mutex
	state    SessionState
	port     int
	lastErr  error

	pool      *PortPool
	deployer  Deployer
	connector Connector
}

// NewDeviceSession builds an idle session for deviceID, bound to the
// given port pool, deployer, and connector collaborators.
func NewDeviceSession(deviceID string, pool *PortPool, deployer Deployer, connector Connector) *DeviceSession {
	return &DeviceSession{
		DeviceID:  deviceID,
		state:     SessionIdle,
		pool:      pool,
		deployer:  deployer,
		connector: connector,
	}
}

func (s *DeviceSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *DeviceSession) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *DeviceSession) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *DeviceSession) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *DeviceSession) fail(err error) error {
	s.mu.Lock()
	s.state = SessionError
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// StartStreaming drives the device from Idle through Deploying, Launching,
// and Connecting to Streaming. It allocates a port from pool, pushes and
// starts the server binary via deployer, then hands off to connector to
// complete the client-side join. Any failure parks the session in Error
// and releases the allocated port.
func (s *DeviceSession) StartStreaming(ctx context.Context, addr string, arch ArchInfo) error {
	s.mu.Lock()
	if s.state != SessionIdle {
		s.mu.Unlock()
		return ErrAlreadyStreaming
	}
	s.state = SessionDeploying
	s.mu.Unlock()

	port := s.pool.Allocate(s.DeviceID)
	if port == NoPort {
		return s.fail(fmt.Errorf("controller: no free ports for device %s", s.DeviceID))
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()

	if err := s.deployer.Push(ctx, s.DeviceID, arch); err != nil {
		s.pool.Release(s.DeviceID)
		return s.fail(fmt.Errorf("controller: push to %s: %w", s.DeviceID, err))
	}

	s.setState(SessionLaunching)
	if err := s.deployer.Start(ctx, s.DeviceID, port); err != nil {
		s.pool.Release(s.DeviceID)
		return s.fail(fmt.Errorf("controller: start on %s: %w", s.DeviceID, err))
	}

	deadline := time.Now().Add(readinessTimeout)
	for {
		ok, err := s.deployer.Probe(ctx, s.DeviceID)
		if err == nil && ok {
			break
		}
		if time.Now().After(deadline) {
			tail, _ := s.deployer.TailLog(ctx, s.DeviceID, 50)
			s.pool.Release(s.DeviceID)
			return s.fail(fmt.Errorf("controller: server on %s not ready, log tail: %s", s.DeviceID, tail))
		}
		select {
		case <-ctx.Done():
			s.pool.Release(s.DeviceID)
			return s.fail(ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}

	s.setState(SessionConnecting)
	if err := s.connector.Connect(ctx, addr, port); err != nil {
		s.pool.Release(s.DeviceID)
		return s.fail(fmt.Errorf("controller: connect to %s: %w", s.DeviceID, err))
	}

	s.setState(SessionStreaming)
	return nil
}

// Stop tears down a streaming or errored session, releasing its port and
// killing the remote process, returning the session to Idle.
func (s *DeviceSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == SessionIdle {
		return nil
	}

	err := s.deployer.Stop(ctx, s.DeviceID)
	s.pool.Release(s.DeviceID)

	s.mu.Lock()
	s.state = SessionIdle
	s.port = 0
	s.mu.Unlock()

	return err
}
