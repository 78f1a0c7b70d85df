package wireproto

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	buf := EncodeHeader(TypeVideoData, FlagKeyframe, 128, 1234567890, 7, 0)
	h, err := TryDecodeHeader(buf)
	if err != nil {
		t.Fatalf("TryDecodeHeader: %v", err)
	}
	if h.Type != TypeVideoData {
		t.Errorf("Type = %v, want %v", h.Type, TypeVideoData)
	}
	if !h.HasFlag(FlagKeyframe) {
		t.Errorf("expected FlagKeyframe set")
	}
	if h.Length != HeaderSize+128 {
		t.Errorf("Length = %d, want %d", h.Length, HeaderSize+128)
	}
	if h.Timestamp != 1234567890 {
		t.Errorf("Timestamp = %d, want 1234567890", h.Timestamp)
	}
	if h.Sequence != 7 {
		t.Errorf("Sequence = %d, want 7", h.Sequence)
	}
}

func TestTryDecodeHeaderEmptyPayload(t *testing.T) {
	buf := EncodeHeader(TypeHeartbeat, 0, 0, 0, 0, 0)
	if len(buf) != HeaderSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), HeaderSize)
	}
	h, err := TryDecodeHeader(buf)
	if err != nil {
		t.Fatalf("TryDecodeHeader: %v", err)
	}
	if h.PayloadLen() != 0 {
		t.Errorf("PayloadLen() = %d, want 0", h.PayloadLen())
	}
}

func TestTryDecodeHeaderIncomplete(t *testing.T) {
	buf := EncodeHeader(TypeHeartbeat, 0, 10, 0, 0, 0)[:HeaderSize-1]
	_, err := TryDecodeHeader(buf)
	if !errors.Is(err, ErrIncompleteBuffer) {
		t.Fatalf("err = %v, want ErrIncompleteBuffer", err)
	}
}

func TestTryDecodeHeaderBadMagic(t *testing.T) {
	buf := EncodeHeader(TypeHeartbeat, 0, 0, 0, 0, 0)
	buf[0] ^= 0xFF
	_, err := TryDecodeHeader(buf)
	if !errors.Is(err, ErrInvalidPacket) {
		t.Fatalf("err = %v, want ErrInvalidPacket", err)
	}
}

func TestTryDecodeHeaderBadVersion(t *testing.T) {
	buf := EncodeHeader(TypeHeartbeat, 0, 0, 0, 0, 0)
	buf[5] = 0xFF
	_, err := TryDecodeHeader(buf)
	if !errors.Is(err, ErrInvalidPacket) {
		t.Fatalf("err = %v, want ErrInvalidPacket", err)
	}
}

func TestDemuxerWaitsForFullHeader(t *testing.T) {
	d := NewDemuxer()
	full := EncodeHeader(TypeHeartbeat, 0, 0, 0, 1, 0)
	d.Feed(full[:HeaderSize-1])
	_, ok, err := d.Next()
	if err != nil || ok {
		t.Fatalf("expected (false, nil) with partial header, got (%v, %v)", ok, err)
	}
	d.Feed(full[HeaderSize-1:])
	pkt, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("expected complete packet, got ok=%v err=%v", ok, err)
	}
	if pkt.Header.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", pkt.Header.Sequence)
	}
}

func TestDemuxerWaitsForFullPayload(t *testing.T) {
	d := NewDemuxer()
	payload := []byte("hello-world-payload")
	pkt := assemble(TypeVideoData, 0, payload, 42, 1)
	d.Feed(pkt[:HeaderSize+3])
	_, ok, err := d.Next()
	if err != nil || ok {
		t.Fatalf("expected incomplete, got ok=%v err=%v", ok, err)
	}
	d.Feed(pkt[HeaderSize+3:])
	got, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("expected complete, got ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, payload)
	}
}

func TestDemuxerMultiplePacketsInOneFeed(t *testing.T) {
	d := NewDemuxer()
	p1 := assemble(TypeHeartbeat, 0, nil, 1, 1)
	p2 := assemble(TypeVideoData, FlagKeyframe, []byte("abc"), 2, 2)
	d.Feed(append(append([]byte{}, p1...), p2...))

	got1, ok, err := d.Next()
	if err != nil || !ok || got1.Header.Sequence != 1 {
		t.Fatalf("first packet: ok=%v err=%v seq=%d", ok, err, got1.Header.Sequence)
	}
	got2, ok, err := d.Next()
	if err != nil || !ok || got2.Header.Sequence != 2 {
		t.Fatalf("second packet: ok=%v err=%v seq=%d", ok, err, got2.Header.Sequence)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", d.Pending())
	}
}

func TestDemuxerInvalidMagicReturnsError(t *testing.T) {
	d := NewDemuxer()
	bad := EncodeHeader(TypeHeartbeat, 0, 0, 0, 0, 0)
	bad[0] = 0x00
	d.Feed(bad)
	_, _, err := d.Next()
	if !errors.Is(err, ErrInvalidPacket) {
		t.Fatalf("err = %v, want ErrInvalidPacket", err)
	}
}

func TestDemuxerResyncsAfterInvalidMagic(t *testing.T) {
	d := NewDemuxer()
	bad := EncodeHeader(TypeHeartbeat, 0, 0, 0, 0, 0)
	bad[0] = 0x00
	d.Feed(bad)

	for i := 0; i < HeaderSize; i++ {
		if _, _, err := d.Next(); err == nil {
			break
		}
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0 after dropping the malformed header", d.Pending())
	}
}

func TestCRC32MatchesStdlibIEEE(t *testing.T) {
	payload := []byte("the quick brown fox")
	got := CRC32Of(payload)
	if got == 0 {
		t.Fatalf("CRC32Of returned 0 for non-empty input")
	}
	if got != CRC32Of(payload) {
		t.Errorf("CRC32Of not deterministic")
	}
}

func TestValidateCRCZeroIsAlwaysValid(t *testing.T) {
	h := Header{CRC32: 0}
	if !ValidateCRC(h, []byte("anything")) {
		t.Errorf("zero CRC field should always validate")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	m := Metadata{
		Model: "pixel-7", Manufacturer: "Google", AndroidVersion: "14", APILevel: 34,
		ScreenWidth: 1080, ScreenHeight: 2400, ScreenDensity: 420,
		VideoCodec: "h264", AudioCodec: "none",
		VideoBitrateBps: 4_000_000, FPS: 60,
	}
	buf, err := EncodeMetadataPacket(m, 100, 0)
	if err != nil {
		t.Fatalf("EncodeMetadataPacket: %v", err)
	}
	h, err := TryDecodeHeader(buf)
	if err != nil {
		t.Fatalf("TryDecodeHeader: %v", err)
	}
	got, err := DecodeMetadata(buf[HeaderSize:h.Length])
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if got != m {
		t.Errorf("got %+v, want %+v", got, m)
	}
}

func TestVideoDataRoundTrip(t *testing.T) {
	buf := EncodeVideoDataPacket(1000, 1000, 7, []byte("access-unit-bytes"), true, 100, 0)
	h, err := TryDecodeHeader(buf)
	if err != nil {
		t.Fatalf("TryDecodeHeader: %v", err)
	}
	if !h.HasFlag(FlagKeyframe) {
		t.Fatalf("expected FlagKeyframe set")
	}
	got, err := DecodeVideoData(buf[HeaderSize:h.Length])
	if err != nil {
		t.Fatalf("DecodeVideoData: %v", err)
	}
	if got.PTS != 1000 || got.DTS != 1000 || got.FrameNumber != 7 {
		t.Fatalf("got pts=%d dts=%d frame=%d, want 1000/1000/7", got.PTS, got.DTS, got.FrameNumber)
	}
	if string(got.Data) != "access-unit-bytes" {
		t.Errorf("Data = %q, want %q", got.Data, "access-unit-bytes")
	}
}

func TestConnectionAckRoundTrip(t *testing.T) {
	ack := ConnectionAck{ConnectionID: 3, MaxPacketSize: MaxPacketSize, BufferSize: 65536}
	buf := EncodeConnectionAckPacket(ack, 1, 0)
	h, err := TryDecodeHeader(buf)
	if err != nil {
		t.Fatalf("TryDecodeHeader: %v", err)
	}
	got, err := DecodeConnectionAck(buf[HeaderSize:h.Length])
	if err != nil {
		t.Fatalf("DecodeConnectionAck: %v", err)
	}
	if got != ack {
		t.Errorf("got %+v, want %+v", got, ack)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	buf := EncodeHeartbeatPacket(12345, 9, 12345, 0)
	h, err := TryDecodeHeader(buf)
	if err != nil {
		t.Fatalf("TryDecodeHeader: %v", err)
	}
	got, err := DecodeHeartbeat(buf[HeaderSize:h.Length])
	if err != nil {
		t.Fatalf("DecodeHeartbeat: %v", err)
	}
	if got.ServerTime != 12345 || got.ConnectionID != 9 {
		t.Errorf("got %+v, want ServerTime=12345 ConnectionID=9", got)
	}
}

func TestErrorMessageRoundTrip(t *testing.T) {
	em := ErrorMessage{ErrorCode: 42, Message: "decoder backend unavailable"}
	buf := EncodeErrorMessagePacket(em, 1, 0)
	h, err := TryDecodeHeader(buf)
	if err != nil {
		t.Fatalf("TryDecodeHeader: %v", err)
	}
	got, err := DecodeErrorMessage(buf[HeaderSize:h.Length])
	if err != nil {
		t.Fatalf("DecodeErrorMessage: %v", err)
	}
	if got != em {
		t.Errorf("got %+v, want %+v", got, em)
	}
}
