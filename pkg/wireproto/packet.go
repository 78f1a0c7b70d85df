// Package wireproto implements the framed binary protocol shared by the
// streaming server and the controller client: a fixed 32-octet header
// followed by a variable-length, packet-type-specific payload.
package wireproto

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// HeaderSize is the fixed length of a packet header on the wire.
const HeaderSize = 32

// MaxPacketSize bounds the total size (header + payload) of a single packet.
const MaxPacketSize = 16 * 1024 * 1024

// Magic identifies this protocol; Version is the only wire version emitted.
const (
	Magic   uint32 = 0x53435250
	Version uint16 = 1
)

// Flags is a bitfield carried in every header.
type Flags uint8

const (
	FlagKeyframe     Flags = 1 << 0
	FlagConfig       Flags = 1 << 1
	FlagEndOfStream  Flags = 1 << 2
	FlagEncrypted    Flags = 1 << 3
)

// Type tags the payload that follows a header.
type Type uint8

const (
	TypeMetadata         Type = 0x01
	TypeVideoConfig      Type = 0x02
	TypeVideoData        Type = 0x03
	TypeAudioConfig      Type = 0x04
	TypeAudioData        Type = 0x05
	TypeControlEvent     Type = 0x06
	TypeHeartbeat        Type = 0x07
	TypeErrorMessage     Type = 0x08
	TypeConnectionAck    Type = 0x09
	TypeCommandRequest   Type = 0x10
	TypeCommandResponse  Type = 0x11
)

var (
	// ErrInvalidPacket is returned when a header's magic, version, or length
	// field fails validation.
	ErrInvalidPacket = errors.New("wireproto: invalid packet")
	// ErrIncompleteBuffer is returned by TryDecodeHeader when it is given
	// fewer than 32 bytes. Demuxer.Next does not return it; it reports
	// ok=false instead.
	ErrIncompleteBuffer = errors.New("wireproto: incomplete buffer")
)

// Header is the decoded form of a packet's 32-octet fixed header.
type Header struct {
	Type      Type
	Flags     Flags
	Length    uint32 // total packet length, header + payload
	Timestamp uint64 // producer monotonic time, nanoseconds
	Sequence  uint32 // per-sender counter, wraps at 2^32
	CRC32     uint32 // zero on this codebase's wire; validated only if non-zero
}

// HasFlag reports whether all bits of f are set.
func (h Header) HasFlag(f Flags) bool {
	return h.Flags&f == f
}

// PayloadLen returns the number of payload octets Length implies.
func (h Header) PayloadLen() int {
	return int(h.Length) - HeaderSize
}

// EncodeHeader serializes a header into a fresh 32-byte big-endian buffer.
// payloadLen is the length of the payload that will follow; crc is the
// payload's CRC32 (IEEE polynomial), or 0 if not computed.
func EncodeHeader(typ Type, flags Flags, payloadLen int, timestamp uint64, sequence uint32, crc uint32) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint16(buf[4:6], Version)
	buf[6] = byte(typ)
	buf[7] = byte(flags)
	binary.BigEndian.PutUint32(buf[8:12], uint32(HeaderSize+payloadLen))
	binary.BigEndian.PutUint64(buf[12:20], timestamp)
	binary.BigEndian.PutUint32(buf[20:24], sequence)
	binary.BigEndian.PutUint32(buf[24:28], crc)
	// bytes [28:32] reserved, left zero
	return buf
}

// TryDecodeHeader parses exactly the first 32 bytes of buf into a Header.
// buf must be at least HeaderSize long; callers hold off calling this until
// that much is buffered (see Demuxer.Next in demux.go).
func TryDecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrIncompleteBuffer
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != Magic {
		return Header{}, ErrInvalidPacket
	}
	version := binary.BigEndian.Uint16(buf[4:6])
	if version != Version {
		return Header{}, ErrInvalidPacket
	}
	length := binary.BigEndian.Uint32(buf[8:12])
	if length < HeaderSize || length > MaxPacketSize {
		return Header{}, ErrInvalidPacket
	}
	return Header{
		Type:      Type(buf[6]),
		Flags:     Flags(buf[7]),
		Length:    length,
		Timestamp: binary.BigEndian.Uint64(buf[12:20]),
		Sequence:  binary.BigEndian.Uint32(buf[20:24]),
		CRC32:     binary.BigEndian.Uint32(buf[24:28]),
	}, nil
}

// CRC32Of computes the CRC32 (IEEE 802.3 polynomial, reflected, init/final
// 0xFFFFFFFF) of a payload. The wire in this codebase always transmits zero
// for this field; CRC32Of exists for the opt-in self-test spec.md §9 reserves
// and for implementations that choose to validate a non-zero field.
func CRC32Of(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// ValidateCRC reports whether a received packet's CRC field is either zero
// (unvalidated, per the reserved-field convention) or matches the payload.
func ValidateCRC(h Header, payload []byte) bool {
	if h.CRC32 == 0 {
		return true
	}
	return h.CRC32 == CRC32Of(payload)
}
