package mirrorserver

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/lanternops/devicemirror/internal/fanout"
	"github.com/lanternops/devicemirror/internal/mirrorconfig"
	"github.com/lanternops/devicemirror/pkg/wireproto"
)

// listener implements C2's server-side socket I/O: bind with address-reuse,
// a continuously-running accept loop, per-connection buffer/timeout
// configuration, and admission control against max_connections.
type listener struct {
	ln  *net.TCPListener
	hub *fanout.Hub
	cfg *mirrorconfig.ServerConfig
	log *slog.Logger

	cachedConfig func() []byte
	requestKeyframe func()
	injector        Injector
}

// OnInject sets the Injector used to apply inbound CONTROL_EVENT packets
// (§4.9). Nil (the default) leaves control events undecoded.
func (l *listener) OnInject(inj Injector) { l.injector = inj }

func newListener(cfg *mirrorconfig.ServerConfig, hub *fanout.Hub, log *slog.Logger) (*listener, error) {
	addr := &net.TCPAddr{IP: net.IPv4zero, Port: cfg.Port}
	ln, err := net.ListenTCP("tcp4", addr)
	if err != nil {
		return nil, err
	}
	return &listener{ln: ln, hub: hub, cfg: cfg, log: log}, nil
}

// OnJoin configures the callbacks invoked once a connection clears
// admission control: cachedConfig supplies the hub's cached video-config
// blob (may be nil/empty) and requestKeyframe asks the encoder for an IDR
// so the new client gets a decodable picture within one GOP (§4.5).
func (l *listener) OnJoin(cachedConfig func() []byte, requestKeyframe func()) {
	l.cachedConfig = cachedConfig
	l.requestKeyframe = requestKeyframe
}

func (l *listener) Close() error { return l.ln.Close() }

// acceptLoop runs continuously until stop is closed; transient accept
// errors (anything but a listener close) back off briefly and retry
// (§4.2).
func (l *listener) acceptLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		l.ln.SetDeadline(time.Now().Add(1 * time.Second))
		conn, err := l.ln.AcceptTCP()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if l.hub.Count() >= l.cfg.MaxConnections {
			l.log.Warn("connection rejected: max_connections reached", "max", l.cfg.MaxConnections)
			conn.Close()
			continue
		}

		l.configureSocket(conn)
		go l.admit(conn)
	}
}

func (l *listener) configureSocket(conn *net.TCPConn) {
	conn.SetNoDelay(true)
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(30 * time.Second)
	if l.cfg.RecvBufferBytes > 0 {
		conn.SetReadBuffer(l.cfg.RecvBufferBytes)
	}
	if l.cfg.SendBufferBytes > 0 {
		conn.SetWriteBuffer(l.cfg.SendBufferBytes)
	}
	timeout := time.Duration(l.cfg.SocketTimeoutMs) * time.Millisecond
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
		conn.SetDeadline(time.Time{})
	}
}

func (l *listener) admit(conn *net.TCPConn) {
	addr, _ := conn.RemoteAddr().(*net.TCPAddr)
	host, port := "", 0
	if addr != nil {
		host, port = addr.IP.String(), addr.Port
	}

	var cfgBlob []byte
	if l.cachedConfig != nil {
		cfgBlob = l.cachedConfig()
	}

	cr, err := l.hub.Join(conn, host, port, cfgBlob)
	if err != nil {
		l.log.Warn("join protocol failed", "address", host, "error", err)
		conn.Close()
		return
	}
	if l.requestKeyframe != nil {
		l.requestKeyframe()
	}
	l.log.Info("client joined", "id", cr.ID, "address", host, "port", port)

	l.drainInbound(conn)
}

// drainInbound reads CONTROL_EVENT/HEARTBEAT traffic from the client socket
// and dispatches control events to the Injector until the connection closes
// or errors (§4.9).
func (l *listener) drainInbound(conn *net.TCPConn) {
	d := wireproto.NewDemuxer()
	buf := make([]byte, 16*1024)
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
			l.drainDemuxer(d)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
	}
}

func (l *listener) drainDemuxer(d *wireproto.Demuxer) {
	for {
		pkt, ok, err := d.Next()
		if err != nil {
			continue
		}
		if !ok {
			return
		}
		if pkt.Header.Type != wireproto.TypeControlEvent || l.injector == nil {
			continue
		}
		ev, err := wireproto.DecodeControlEvent(pkt.Payload)
		if err != nil {
			continue
		}
		go func() {
			if err := l.injector.Inject(context.Background(), ev); err != nil {
				l.log.Warn("input injection failed", "subtype", ev.Subtype, "error", err)
			}
		}()
	}
}
