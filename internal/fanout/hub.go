// Package fanout implements the server-side fan-out hub (C5): one encoder
// output, many client sockets, each with its own join protocol and
// single-attempt synchronous send.
package fanout

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lanternops/devicemirror/internal/metrics"
	"github.com/lanternops/devicemirror/pkg/wireproto"
)

// ErrNoExclusion is not an error; it documents the sentinel connection id
// (the zero value of ClientRegistration.ID) meaning "exclude nobody" in
// BroadcastExcept, per §4.5.
var ErrNoExclusion = errors.New("fanout: 0 is the no-exclusion sentinel, not a real connection id")

// ClientRegistration is one accepted client socket (§3.2). active is
// checked before every send; eviction flips it to false and closes the
// socket without freeing the struct while a send may still be in flight
// (reference-counted ownership, §5).
type ClientRegistration struct {
	ID          string
	ConnID      uint32
	Conn        net.Conn
	Address     string
	Port        int
	ConnectTime time.Time

	active        atomic.Bool
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	refCount      atomic.Int32
}

func newClientRegistration(conn net.Conn, addr string, port int) *ClientRegistration {
	cr := &ClientRegistration{
		ID:          uuid.NewString(),
		Conn:        conn,
		Address:     addr,
		Port:        port,
		ConnectTime: time.Now(),
	}
	cr.active.Store(true)
	return cr
}

// Active reports whether this client is still eligible for fan-out sends.
func (c *ClientRegistration) Active() bool { return c.active.Load() }

// BytesSent/BytesReceived expose the registration's byte counters.
func (c *ClientRegistration) BytesSent() uint64     { return c.bytesSent.Load() }
func (c *ClientRegistration) BytesReceived() uint64 { return c.bytesReceived.Load() }

// acquire/release implement the reference-counted ownership scheme from
// §5: the receive side and the send side both hold a reference. evict
// closes the socket at once; release closes it again when the last
// reference is dropped on an inactive registration, so an evicted socket
// can see a second Close (its error is ignored).
func (c *ClientRegistration) acquire() { c.refCount.Add(1) }

func (c *ClientRegistration) release() {
	if c.refCount.Add(-1) == 0 && !c.active.Load() {
		c.Conn.Close()
	}
}

// evict marks the registration inactive. The socket is closed immediately
// (so blocked reads/writes unblock) but the struct is not released until
// refs drop to zero.
func (c *ClientRegistration) evict() {
	if c.active.CompareAndSwap(true, false) {
		c.Conn.Close()
	}
}

// Stats mirrors §4.11's server-side counters.
type Stats struct {
	TotalConnections   atomic.Uint64
	TotalBytesReceived atomic.Uint64
	TotalBytesSent     atomic.Uint64
	TotalFramesEncoded atomic.Uint64
	TotalKeyframes     atomic.Uint64
	DroppedFrames      atomic.Uint64
	SkippedFrames      atomic.Uint64
}

// Snapshot returns a point-in-time copy for reporting.
type StatsSnapshot struct {
	TotalConnections   uint64
	TotalBytesReceived uint64
	TotalBytesSent     uint64
	TotalFramesEncoded uint64
	TotalKeyframes     uint64
	DroppedFrames      uint64
	SkippedFrames      uint64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalConnections:   s.TotalConnections.Load(),
		TotalBytesReceived: s.TotalBytesReceived.Load(),
		TotalBytesSent:     s.TotalBytesSent.Load(),
		TotalFramesEncoded: s.TotalFramesEncoded.Load(),
		TotalKeyframes:     s.TotalKeyframes.Load(),
		DroppedFrames:      s.DroppedFrames.Load(),
		SkippedFrames:      s.SkippedFrames.Load(),
	}
}

// Hub owns the set of currently registered clients and the shared sequence
// counter used to stamp outbound packets.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*ClientRegistration

	seq         atomic.Uint32
	connIDSeq   atomic.Uint32
	frameNumber atomic.Uint32
	metadata    func() wireproto.Metadata

	maxPacketSize uint32
	bufferSize    uint32

	Stats *Stats
	Mx    *metrics.StreamMetrics
}

// NewHub constructs an empty Hub. metadataFn is called once per newly
// joined client to build its METADATA packet (§4.5 join protocol). maxPacketSize
// and bufferSize are the values advertised in each client's CONNECTION_ACK
// (§6.2).
func NewHub(metadataFn func() wireproto.Metadata, maxPacketSize, bufferSize uint32) *Hub {
	return &Hub{
		clients:       make(map[string]*ClientRegistration),
		metadata:      metadataFn,
		maxPacketSize: maxPacketSize,
		bufferSize:    bufferSize,
		Stats:         &Stats{},
		Mx:            metrics.New(),
	}
}

func (h *Hub) nextSeq() uint32    { return h.seq.Add(1) - 1 }
func (h *Hub) nextConnID() uint32 { return h.connIDSeq.Add(1) }

// Join registers a new client connection and runs the join protocol:
// metadata packet, then cached config (if present), in order (§4.5). The
// keyframe itself is delivered by the next ordinary VideoData broadcast;
// callers SHOULD call RequestKeyframe on the encoder pipeline right after
// Join so the new client gets a decodable picture within one GOP.
func (h *Hub) Join(conn net.Conn, addr string, port int, cachedConfig []byte) (*ClientRegistration, error) {
	cr := newClientRegistration(conn, addr, port)
	cr.ConnID = h.nextConnID()
	cr.acquire()

	h.mu.Lock()
	h.clients[cr.ID] = cr
	h.mu.Unlock()

	h.Stats.TotalConnections.Add(1)

	ackPkt := wireproto.EncodeConnectionAckPacket(wireproto.ConnectionAck{
		ConnectionID:  cr.ConnID,
		MaxPacketSize: h.maxPacketSize,
		BufferSize:    h.bufferSize,
	}, uint64(time.Now().UnixNano()), h.nextSeq())
	if err := h.sendTo(cr, ackPkt); err != nil {
		cr.release()
		return nil, err
	}

	meta := h.metadata()
	metaPkt, err := wireproto.EncodeMetadataPacket(meta, uint64(time.Now().UnixNano()), h.nextSeq())
	if err != nil {
		h.Evict(cr.ID)
		cr.release()
		return nil, err
	}
	if err := h.sendTo(cr, metaPkt); err != nil {
		cr.release()
		return nil, err
	}

	if len(cachedConfig) > 0 {
		cfgPkt := wireproto.EncodeVideoConfigPacket(wireproto.VideoConfig{ConfigBytes: cachedConfig}, uint64(time.Now().UnixNano()), h.nextSeq())
		if err := h.sendTo(cr, cfgPkt); err != nil {
			cr.release()
			return nil, err
		}
	}

	cr.release()
	return cr, nil
}

// Evict marks a client inactive and removes it from the registry. Safe to
// call more than once for the same id.
func (h *Hub) Evict(id string) {
	h.mu.Lock()
	cr, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		cr.evict()
	}
}

// EvictAll evicts every currently registered client (used by server stop).
func (h *Hub) EvictAll() {
	h.mu.Lock()
	all := make([]*ClientRegistration, 0, len(h.clients))
	for _, cr := range h.clients {
		all = append(all, cr)
	}
	h.clients = make(map[string]*ClientRegistration)
	h.mu.Unlock()
	for _, cr := range all {
		cr.evict()
	}
}

// Count returns the number of currently registered clients (active or not).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastVideoData sends one encoded unit to every active client, in
// encoded order. Per-client send failures evict only that client (§4.5); no
// cross-connection ordering guarantee is made or needed. The frame_number
// stamped on the wire (§6.2) is the hub's own monotonic counter: one
// outgoing video stream shared by every client, not a per-connection count.
func (h *Hub) BroadcastVideoData(unit EncodedUnitView) {
	frameNumber := h.frameNumber.Add(1)
	pkt := wireproto.EncodeVideoDataPacket(unit.PTS, unit.DTS, frameNumber, unit.Bytes, unit.IsKeyframe, uint64(time.Now().UnixNano()), h.nextSeq())
	h.Stats.TotalFramesEncoded.Add(1)
	if unit.IsKeyframe {
		h.Stats.TotalKeyframes.Add(1)
	}
	h.broadcast(pkt, "")
}

// BroadcastHeartbeat sends a heartbeat packet carrying the server's
// monotonic nanoseconds (§4.6) to every active client. Each client's packet
// carries that client's own negotiated connection_id (§6.2), so the payload
// is built per target rather than shared.
func (h *Hub) BroadcastHeartbeat(monotonicNanos uint64) {
	h.mu.RLock()
	targets := make([]*ClientRegistration, 0, len(h.clients))
	for _, cr := range h.clients {
		if !cr.Active() {
			continue
		}
		cr.acquire()
		targets = append(targets, cr)
	}
	h.mu.RUnlock()

	for _, cr := range targets {
		pkt := wireproto.EncodeHeartbeatPacket(monotonicNanos, cr.ConnID, uint64(time.Now().UnixNano()), h.nextSeq())
		_ = h.sendTo(cr, pkt)
		cr.release()
	}
}

// BroadcastExcept forwards bytes to every active client except excludeID.
// An empty excludeID means "exclude nobody" (§4.5's exclusion id 0).
func (h *Hub) BroadcastExcept(payload []byte, excludeID string) {
	h.broadcast(payload, excludeID)
}

func (h *Hub) broadcast(payload []byte, excludeID string) {
	h.mu.RLock()
	targets := make([]*ClientRegistration, 0, len(h.clients))
	for id, cr := range h.clients {
		if id == excludeID || !cr.Active() {
			continue
		}
		cr.acquire()
		targets = append(targets, cr)
	}
	h.mu.RUnlock()

	for _, cr := range targets {
		_ = h.sendTo(cr, payload)
		cr.release()
	}
}

// sendTo performs the single-attempt synchronous write described in §4.5.
// Partial writes are accepted (counted); any error evicts the client.
func (h *Hub) sendTo(cr *ClientRegistration, payload []byte) error {
	if !cr.Active() {
		return net.ErrClosed
	}
	n, err := cr.Conn.Write(payload)
	if n > 0 {
		cr.bytesSent.Add(uint64(n))
		h.Stats.TotalBytesSent.Add(uint64(n))
		h.Mx.RecordSend(n)
	}
	if err != nil {
		h.Evict(cr.ID)
		return err
	}
	return nil
}

// EncodedUnitView is the minimal view of an encoder output BroadcastVideoData
// needs; it decouples fanout from capture's EncodedUnit type.
type EncodedUnitView struct {
	Bytes      []byte
	PTS        uint64
	DTS        uint64
	IsKeyframe bool
}
