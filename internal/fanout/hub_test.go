package fanout

import (
	"net"
	"testing"
	"time"

	"github.com/lanternops/devicemirror/pkg/wireproto"
)

func testMetadata() wireproto.Metadata {
	return wireproto.Metadata{Model: "test-device", ScreenWidth: 1280, ScreenHeight: 720, FPS: 30, VideoCodec: "h264"}
}

func testHub() *Hub {
	return NewHub(testMetadata, wireproto.MaxPacketSize, 65536)
}

func TestJoinSendsAckThenMetadataThenConfig(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	h := testHub()
	done := make(chan error, 1)
	go func() {
		_, err := h.Join(server, "127.0.0.1", 5000, []byte{0xAA, 0xBB})
		done <- err
	}()

	d := wireproto.NewDemuxer()
	pkt0 := readOnePacket(t, client, d)
	if pkt0.Header.Type != wireproto.TypeConnectionAck {
		t.Fatalf("first packet type = %v, want ConnectionAck", pkt0.Header.Type)
	}
	pkt1 := readOnePacket(t, client, d)
	if pkt1.Header.Type != wireproto.TypeMetadata {
		t.Fatalf("second packet type = %v, want Metadata", pkt1.Header.Type)
	}
	pkt2 := readOnePacket(t, client, d)
	if pkt2.Header.Type != wireproto.TypeVideoConfig {
		t.Fatalf("third packet type = %v, want VideoConfig", pkt2.Header.Type)
	}

	if err := <-done; err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
}

func TestBroadcastVideoDataSetsKeyframeFlag(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	h := testHub()
	go func() { h.Join(server, "127.0.0.1", 5000, nil) }()

	d := wireproto.NewDemuxer()
	readOnePacket(t, client, d) // connection ack
	readOnePacket(t, client, d) // metadata

	go h.BroadcastVideoData(EncodedUnitView{Bytes: []byte("au-bytes"), PTS: 1, DTS: 1, IsKeyframe: true})

	pkt := readOnePacket(t, client, d)
	if pkt.Header.Type != wireproto.TypeVideoData {
		t.Fatalf("type = %v, want VideoData", pkt.Header.Type)
	}
	if !pkt.Header.HasFlag(wireproto.FlagKeyframe) {
		t.Fatalf("expected FlagKeyframe set")
	}
	vd, err := wireproto.DecodeVideoData(pkt.Payload)
	if err != nil {
		t.Fatalf("DecodeVideoData: %v", err)
	}
	if string(vd.Data) != "au-bytes" {
		t.Errorf("Data = %q, want au-bytes", vd.Data)
	}
}

func TestEvictOnSendErrorStopsFurtherWrites(t *testing.T) {
	server, client := net.Pipe()

	h := testHub()
	joined := make(chan *ClientRegistration, 1)
	go func() {
		cr, _ := h.Join(server, "127.0.0.1", 5000, nil)
		joined <- cr
	}()

	d := wireproto.NewDemuxer()
	readOnePacket(t, client, d) // connection ack
	readOnePacket(t, client, d) // metadata
	client.Close()              // force subsequent writes to error

	cr := <-joined
	time.Sleep(20 * time.Millisecond)
	h.BroadcastVideoData(EncodedUnitView{Bytes: []byte("x")})
	time.Sleep(20 * time.Millisecond)

	if cr.Active() {
		t.Fatalf("expected client to be evicted after send error")
	}
	if h.Count() != 0 {
		t.Fatalf("expected registry to drop evicted client, count=%d", h.Count())
	}
}

func readOnePacket(t *testing.T, conn net.Conn, d *wireproto.Demuxer) wireproto.Packet {
	t.Helper()
	buf := make([]byte, 4096)
	for i := 0; i < 100; i++ {
		if pkt, ok, err := d.Next(); err != nil {
			t.Fatalf("demux error: %v", err)
		} else if ok {
			return pkt
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		d.Feed(buf[:n])
	}
	t.Fatalf("no complete packet after many reads")
	return wireproto.Packet{}
}
