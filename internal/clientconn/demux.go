package clientconn

import (
	"errors"
	"net"
	"time"

	"github.com/lanternops/devicemirror/pkg/wireproto"
)

// receiveLoop reads from the socket and feeds the demuxer, dispatching each
// complete packet as it becomes available. Framing errors (bad magic or
// version, §8.4 scenario 5) keep the connection open rather than tearing it
// down — the spec accepts either behavior; this implementation chooses not
// to evict so a single corrupted prefix doesn't cost the whole session. The
// demuxer drops its whole buffer on a failed parse, so drainDemuxer does not
// spin on the same bytes; parsing restarts with the next bytes read.
func (c *Connection) receiveLoop(stop chan struct{}) {
	defer c.wg.Done()
	d := wireproto.NewDemuxer()
	buf := make([]byte, 64*1024)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
			c.drainDemuxer(d)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			c.handleFatalError(err)
			return
		}
	}
}

func (c *Connection) drainDemuxer(d *wireproto.Demuxer) {
	for {
		pkt, ok, err := d.Next()
		if err != nil {
			// Demuxer already dropped its buffer; the next call reports not ready.
			continue
		}
		if !ok {
			return
		}
		c.lastInboundNs.Store(time.Now().UnixNano())
		c.dispatch(pkt)
	}
}

func (c *Connection) dispatch(pkt wireproto.Packet) {
	switch pkt.Header.Type {
	case wireproto.TypeMetadata:
		if c.h.OnMetadata == nil {
			return
		}
		if m, err := wireproto.DecodeMetadata(pkt.Payload); err == nil {
			c.h.OnMetadata(m)
		}
	case wireproto.TypeVideoConfig:
		if c.h.OnVideoConfig != nil {
			c.h.OnVideoConfig(pkt.Payload)
		}
	case wireproto.TypeVideoData:
		if c.h.OnVideoData != nil {
			if vd, err := wireproto.DecodeVideoData(pkt.Payload); err == nil {
				c.h.OnVideoData(vd.Data, vd.PTS, vd.DTS, vd.FrameNumber, pkt.Header.HasFlag(wireproto.FlagKeyframe))
			}
		}
	case wireproto.TypeErrorMessage:
		if c.h.OnErrorMessage == nil {
			return
		}
		if em, err := wireproto.DecodeErrorMessage(pkt.Payload); err == nil {
			c.h.OnErrorMessage(em)
		}
	case wireproto.TypeHeartbeat:
		// Liveness already updated by drainDemuxer via lastInboundNs.
	case wireproto.TypeConnectionAck:
		if ack, err := wireproto.DecodeConnectionAck(pkt.Payload); err == nil {
			c.mu.Lock()
			c.connectionID = ack.ConnectionID
			c.maxPacketSize = ack.MaxPacketSize
			c.mu.Unlock()
			if c.h.OnConnectionAck != nil {
				c.h.OnConnectionAck(ack)
			}
		}
	case wireproto.TypeCommandResponse:
		if resp, err := wireproto.DecodeCommandResponse(pkt.Payload); err == nil {
			c.resolveCommand(resp)
			if c.h.OnCommandResponse != nil {
				c.h.OnCommandResponse(resp)
			}
		}
	}
}

func (c *Connection) handleFatalError(err error) {
	c.setState(StateError)
	if c.h.OnTerminalError != nil {
		c.h.OnTerminalError(err)
	}
}
