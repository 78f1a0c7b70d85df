package controller

import (
	"context"
	"sync"

	"github.com/lanternops/devicemirror/internal/clientconn"
	"github.com/lanternops/devicemirror/internal/metrics"
)

// ClientConnConnector adapts clientconn.Connection to the Connector
// interface DeviceSession drives after a device comes up, wiring the inbound
// video-data callback into a per-device StreamMetrics collector so
// Manager.Aggregate has live numbers to fold (§4.7, §4.11). Config and
// metadata packets are not recorded.
type ClientConnConnector struct {
	cfg     clientconn.Config
	metrics *metrics.StreamMetrics

	mu    sync.Mutex
	conns map[string]*clientconn.Connection
}

// NewClientConnConnector builds a Connector backed by real TCP connections,
// recording frame receipt against mx.
func NewClientConnConnector(cfg clientconn.Config, mx *metrics.StreamMetrics) *ClientConnConnector {
	return &ClientConnConnector{cfg: cfg, metrics: mx, conns: make(map[string]*clientconn.Connection)}
}

// Connect dials addr:port and requests streaming (§4.7's Connected ->
// Streaming transition). It returns once the request is sent; it does not
// wait for the server's join packets.
func (c *ClientConnConnector) Connect(ctx context.Context, addr string, port int) error {
	conn := clientconn.New(addr, port, c.cfg, clientconn.Handlers{
		OnVideoData: func(data []byte, pts, dts uint64, frameNumber uint32, isKeyframe bool) {
			if c.metrics != nil {
				c.metrics.RecordSend(len(data))
			}
		},
	})
	if err := conn.Connect(); err != nil {
		return err
	}
	if err := conn.RequestStream(); err != nil {
		conn.Disconnect()
		return err
	}

	c.mu.Lock()
	c.conns[addr] = conn
	c.mu.Unlock()
	return nil
}

// Disconnect tears down the connection previously opened for addr, if any.
func (c *ClientConnConnector) Disconnect(addr string) {
	c.mu.Lock()
	conn, ok := c.conns[addr]
	delete(c.conns, addr)
	c.mu.Unlock()
	if ok {
		conn.Disconnect()
	}
}
