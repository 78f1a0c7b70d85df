package wireproto

// Demuxer accumulates bytes read off a stream socket and yields complete
// Packets as soon as enough buffered data exists. It holds no reference to
// the underlying connection; callers feed it with Feed and drain it with
// Next, keeping the demux logic testable without a real socket.
type Demuxer struct {
	buf []byte
}

// NewDemuxer returns an empty Demuxer ready to accept bytes.
func NewDemuxer() *Demuxer {
	return &Demuxer{buf: make([]byte, 0, HeaderSize*4)}
}

// Feed appends newly read bytes to the internal buffer.
func (d *Demuxer) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next extracts one complete Packet from the buffer if available. ok is
// false when fewer than HeaderSize bytes are buffered, or the header is
// parsed but its declared Length exceeds what's buffered so far — in both
// cases the caller should Feed more and retry. A malformed header (bad
// magic/version/length) returns ErrInvalidPacket; Next drops everything
// buffered before returning, so a caller that chooses to keep reading past
// a framing error (rather than closing the connection) neither spins on the
// same bytes nor parses them again; parsing restarts with the next bytes
// fed (§7, ProtocolMismatch; §8.4 scenario 5).
func (d *Demuxer) Next() (Packet, bool, error) {
	if len(d.buf) < HeaderSize {
		return Packet{}, false, nil
	}
	header, err := TryDecodeHeader(d.buf)
	if err != nil {
		d.buf = d.buf[:0]
		return Packet{}, false, err
	}
	if len(d.buf) < int(header.Length) {
		return Packet{}, false, nil
	}
	payload := make([]byte, header.PayloadLen())
	copy(payload, d.buf[HeaderSize:header.Length])
	d.buf = d.buf[header.Length:]
	return Packet{Header: header, Payload: payload}, true, nil
}

// Pending reports how many bytes are currently buffered and undelivered.
func (d *Demuxer) Pending() int {
	return len(d.buf)
}
