package clientconn

import (
	"errors"
	"time"

	"github.com/lanternops/devicemirror/pkg/wireproto"
)

var errLivenessTimeout = errors.New("clientconn: no inbound traffic within liveness window")

// heartbeatLoop fires a HEARTBEAT packet every HeartbeatInterval while
// Connected or Streaming (§4.7).
func (c *Connection) heartbeatLoop(stop chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			state := c.State()
			if state != StateConnected && state != StateStreaming {
				continue
			}
			pkt := wireproto.EncodeHeartbeatPacket(uint64(time.Now().UnixNano()), c.ConnectionID(), uint64(time.Now().UnixNano()), c.nextSeq())
			_ = c.Send(pkt)
		}
	}
}

// livenessLoop transitions the connection to Error if no inbound traffic
// (including the peer's own heartbeats) has been observed for
// 2 * HeartbeatInterval, triggering the reconnect driver.
func (c *Connection) livenessLoop(stop chan struct{}) {
	defer c.wg.Done()
	threshold := 2 * c.cfg.HeartbeatInterval
	ticker := time.NewTicker(c.cfg.HeartbeatInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastInboundNs.Load())
			if time.Since(last) > threshold {
				c.handleFatalError(errLivenessTimeout)
				return
			}
		}
	}
}
