package clientconn

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanternops/devicemirror/pkg/wireproto"
)

var (
	ErrAlreadyConnected = errors.New("clientconn: already connected")
	ErrNotConnected     = errors.New("clientconn: not connected")
	ErrReconnectExhausted = errors.New("clientconn: reconnect attempts exhausted")
)

// Handlers bundles the callbacks a Connection dispatches decoded packets
// to. Each is optional; a nil handler silently drops that packet type.
type Handlers struct {
	OnMetadata        func(wireproto.Metadata)
	OnVideoConfig     func(configBytes []byte)
	OnVideoData       func(data []byte, pts, dts uint64, frameNumber uint32, isKeyframe bool)
	OnErrorMessage    func(wireproto.ErrorMessage)
	OnConnectionAck   func(wireproto.ConnectionAck)
	OnCommandResponse func(wireproto.CommandResponse)
	OnStateChange     func(from, to State)
	OnTerminalError   func(err error)
}

// Config carries the timing parameters named in §4.7.
type Config struct {
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// DefaultConfig mirrors the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       10 * time.Second,
		HeartbeatInterval:    5 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       3 * time.Second,
	}
}

// Connection owns one device's socket, demux buffer, and state machine. The
// per-connection receive buffer (the Demuxer) is exclusively owned by the
// receive loop and appended to only from the socket-read side (§9).
type Connection struct {
	address string
	port    int
	cfg     Config
	h       Handlers

	mu    sync.Mutex
	state State
	conn  net.Conn

	connectionID  uint32
	maxPacketSize uint32

	seq           atomic.Uint32
	lastInboundNs atomic.Int64

	reconnectAttempts int
	stopCh            chan struct{}
	wg                sync.WaitGroup

	pendingCommandMu sync.Mutex
	pendingCommandID string
	pendingCallback  func(wireproto.CommandResponse)
}

// New constructs a Connection for address:port. Call Connect to dial.
func New(address string, port int, cfg Config, h Handlers) *Connection {
	return &Connection{
		address: address,
		port:    port,
		cfg:     cfg,
		h:       h,
		state:   StateDisconnected,
	}
}

func (c *Connection) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from != to && c.h.OnStateChange != nil {
		c.h.OnStateChange(from, to)
	}
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID returns the connection_id negotiated by the last
// CONNECTION_ACK, or 0 if none has been received yet.
func (c *Connection) ConnectionID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// MaxPacketSize returns the server-advertised maximum packet size from the
// last CONNECTION_ACK, or 0 if none has been received yet.
func (c *Connection) MaxPacketSize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxPacketSize
}

// Connect dials the device, transitioning Disconnected -> Connecting ->
// Connected (or -> Error on timeout/failure, §4.7).
func (c *Connection) Connect() error {
	if c.State() != StateDisconnected && c.State() != StateError {
		return ErrAlreadyConnected
	}
	c.setState(StateConnecting)

	addr := fmt.Sprintf("%s:%d", c.address, c.port)
	conn, err := net.DialTimeout("tcp", addr, c.cfg.ConnectTimeout)
	if err != nil {
		c.setState(StateError)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.reconnectAttempts = 0
	c.mu.Unlock()
	c.lastInboundNs.Store(time.Now().UnixNano())
	c.setState(StateConnected)

	c.stopCh = make(chan struct{})
	c.wg.Add(3)
	go c.receiveLoop(c.stopCh)
	go c.heartbeatLoop(c.stopCh)
	go c.livenessLoop(c.stopCh)
	return nil
}

// RequestStream transitions Connected -> Streaming. It is a precondition
// violation to call it outside Connected.
func (c *Connection) RequestStream() error {
	if c.State() != StateConnected {
		return &transitionError{from: c.State(), op: "request_stream"}
	}
	c.setState(StateStreaming)
	return nil
}

// StopStream transitions Streaming -> Connected.
func (c *Connection) StopStream() error {
	if c.State() != StateStreaming {
		return &transitionError{from: c.State(), op: "stop_stream"}
	}
	c.setState(StateConnected)
	return nil
}

// Disconnect tears the connection down unconditionally, from any state.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	stop := c.stopCh
	c.conn = nil
	c.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
}

// Send writes a raw framed packet to the socket. Returns ErrNotConnected if
// no socket is currently open.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	_, err := conn.Write(payload)
	return err
}

func (c *Connection) nextSeq() uint32 { return c.seq.Add(1) - 1 }

// SendControlEvent encodes and sends a control-event packet (C9 calls this).
func (c *Connection) SendControlEvent(ev wireproto.ControlEvent) error {
	pkt, err := wireproto.EncodeControlEventPacket(ev, uint64(time.Now().UnixNano()), c.nextSeq())
	if err != nil {
		return err
	}
	return c.Send(pkt)
}

// SendCommand sends a COMMAND_REQUEST and arms the at-most-one outstanding
// callback slot (§3.3, §4.7). A second SendCommand before the first
// resolves replaces the pending slot; only the most recent callback fires.
func (c *Connection) SendCommand(req wireproto.CommandRequest, callback func(wireproto.CommandResponse)) error {
	pkt, err := wireproto.EncodeCommandRequestPacket(req, uint64(time.Now().UnixNano()), c.nextSeq())
	if err != nil {
		return err
	}
	c.pendingCommandMu.Lock()
	c.pendingCommandID = req.CommandID
	c.pendingCallback = callback
	c.pendingCommandMu.Unlock()
	return c.Send(pkt)
}

func (c *Connection) resolveCommand(resp wireproto.CommandResponse) {
	c.pendingCommandMu.Lock()
	cb := c.pendingCallback
	match := c.pendingCommandID == resp.CommandID
	if match {
		c.pendingCallback = nil
		c.pendingCommandID = ""
	}
	c.pendingCommandMu.Unlock()
	if match && cb != nil {
		cb(resp)
	}
}
