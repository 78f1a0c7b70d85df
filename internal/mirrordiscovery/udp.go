package mirrordiscovery

import (
	"encoding/json"
	"net"
	"sync/atomic"
	"time"
)

// Requester periodically broadcasts discovery requests and feeds responses
// into a Registry. Controller side of C3.
type Requester struct {
	conn     *net.UDPConn
	registry *Registry
	port     int
	interval time.Duration
	seq      atomic.Uint64
	stopCh   chan struct{}
}

// NewRequester binds an ephemeral UDP socket for sending requests and
// receiving responses on.
func NewRequester(discoveryPort int, interval time.Duration, registry *Registry) (*Requester, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Requester{conn: conn, registry: registry, port: discoveryPort, interval: interval}, nil
}

// Start launches the broadcast-send loop and the response-receive loop.
func (r *Requester) Start() {
	r.stopCh = make(chan struct{})
	go r.sendLoop()
	go r.receiveLoop()
}

func (r *Requester) Stop() {
	if r.stopCh != nil {
		close(r.stopCh)
	}
	r.conn.Close()
}

func (r *Requester) sendLoop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.broadcastOnce()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.broadcastOnce()
		}
	}
}

func (r *Requester) broadcastOnce() {
	payload, err := EncodeRequest(r.seq.Add(1))
	if err != nil {
		return
	}
	for _, addr := range broadcastAddresses() {
		udpAddr := &net.UDPAddr{IP: net.ParseIP(addr), Port: r.port}
		_, _ = r.conn.WriteToUDP(payload, udpAddr)
	}
}

func (r *Requester) receiveLoop() {
	buf := make([]byte, 4096)
	for {
		r.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := r.conn.ReadFromUDP(buf)
		select {
		case <-r.stopCh:
			return
		default:
		}
		if err != nil {
			continue
		}
		resp, err := DecodeResponse(buf[:n])
		if err != nil || resp.Magic != Magic {
			continue
		}
		r.registry.Observe(resp, addr.IP.String())
	}
}

// Responder runs on the device side: listens for discovery Requests on
// DefaultDiscoveryPort and replies with a Response describing this device.
type Responder struct {
	conn     *net.UDPConn
	describe func() Response
	stopCh   chan struct{}
}

// NewResponder binds discoveryPort and replies using describe() for every
// valid request received.
func NewResponder(discoveryPort int, describe func() Response) (*Responder, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: discoveryPort})
	if err != nil {
		return nil, err
	}
	return &Responder{conn: conn, describe: describe}, nil
}

func (r *Responder) Start() {
	r.stopCh = make(chan struct{})
	go r.serveLoop()
}

func (r *Responder) Stop() {
	if r.stopCh != nil {
		close(r.stopCh)
	}
	r.conn.Close()
}

func (r *Responder) serveLoop() {
	buf := make([]byte, 4096)
	for {
		r.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := r.conn.ReadFromUDP(buf)
		select {
		case <-r.stopCh:
			return
		default:
		}
		if err != nil {
			continue
		}
		var req struct {
			Magic uint32 `json:"magic"`
		}
		if err := json.Unmarshal(buf[:n], &req); err != nil || req.Magic != Magic {
			continue
		}
		resp := r.describe()
		payload, err := EncodeResponse(resp)
		if err != nil {
			continue
		}
		_, _ = r.conn.WriteToUDP(payload, addr)
	}
}
