package wireproto

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// ErrPayloadTooShort is returned by the packed-struct decoders below when a
// payload is truncated mid-field.
var ErrPayloadTooShort = errors.New("wireproto: payload too short")

// Packet is a fully decoded unit: header plus payload bytes. Encoders
// produce one, demux produces one per framed read.
type Packet struct {
	Header  Header
	Payload []byte
}

// Metadata is the payload of TypeMetadata: the server's opening
// announcement of device identity and stream geometry sent on connect
// (§6.2). It is a packed struct, not JSON: fixed-width integers in the
// order below, each string field length-prefixed (u16) UTF-8.
type Metadata struct {
	Model           string
	Manufacturer    string
	AndroidVersion  string
	APILevel        uint32
	ScreenWidth     uint32
	ScreenHeight    uint32
	ScreenDensity   uint32
	VideoCodec      string
	AudioCodec      string
	VideoBitrateBps uint32
	AudioBitrateBps uint32
	FPS             uint32
	SampleRate      uint32
	ChannelCount    uint32
}

// VideoConfig carries the out-of-band H.264 parameter sets (SPS/PPS) a
// decoder needs before it can parse VideoData.
type VideoConfig struct {
	ConfigBytes []byte `json:"-"`
}

// ControlEventSubtype enumerates the control-event sub-types of §6.2.
type ControlEventSubtype string

const (
	ControlTouchDown     ControlEventSubtype = "touch_down"
	ControlTouchUp       ControlEventSubtype = "touch_up"
	ControlTouchMove     ControlEventSubtype = "touch_move"
	ControlKeyDown       ControlEventSubtype = "key_down"
	ControlKeyUp         ControlEventSubtype = "key_up"
	ControlScroll        ControlEventSubtype = "scroll"
	ControlAppLaunch     ControlEventSubtype = "app_launch"
	ControlAppClose      ControlEventSubtype = "app_close"
	ControlSystemCommand ControlEventSubtype = "system_command"
)

// ControlEvent is the payload of TypeControlEvent.
type ControlEvent struct {
	Subtype ControlEventSubtype `json:"subtype"`
	X       int                 `json:"x,omitempty"`
	Y       int                 `json:"y,omitempty"`
	DeltaX  int                 `json:"delta_x,omitempty"`
	DeltaY  int                 `json:"delta_y,omitempty"`
	KeyCode int                 `json:"key_code,omitempty"`
	AppName string              `json:"app_name,omitempty"`
	Command string              `json:"command,omitempty"`
}

// ErrorMessage is the payload of TypeErrorMessage: error_code (u32),
// message_length (u32), then that many UTF-8 bytes (§6.2).
type ErrorMessage struct {
	ErrorCode uint32
	Message   string
}

// ConnectionAck is the payload of TypeConnectionAck: connection_id (u32),
// max_packet_size (u32), buffer_size (u32) (§6.2). It is the first packet a
// newly joined client receives, and is how C7's dispatch records the
// negotiated connection_id and the server-advertised maximum packet size.
type ConnectionAck struct {
	ConnectionID  uint32
	MaxPacketSize uint32
	BufferSize    uint32
}

// CommandRequest/CommandResponse carry the single outstanding-callback
// command channel described in §4.9 (C7).
type CommandRequest struct {
	CommandID string          `json:"command_id"`
	Op        string          `json:"op"`
	Args      json.RawMessage `json:"args,omitempty"`
}

type CommandResponse struct {
	CommandID string          `json:"command_id"`
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// marshalJSON is a small helper so every EncodeXxxPacket below shares one
// error shape instead of repeating json.Marshal/panic boilerplate.
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// putU32/putU64 append a big-endian integer to buf. A portable
// reimplementation SHOULD big-endian-encode payload integers per §6.2; the
// header codec already does, so packed payloads follow the same rule.
func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// putString appends a u16 length prefix followed by s's UTF-8 bytes.
func putString(buf *bytes.Buffer, s string) {
	b := []byte(s)
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(b)))
	buf.Write(lenBytes[:])
	buf.Write(b)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrPayloadTooShort
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrPayloadTooShort
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	var lenBytes [2]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return "", ErrPayloadTooShort
	}
	n := binary.BigEndian.Uint16(lenBytes[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrPayloadTooShort
	}
	return string(b), nil
}

// EncodeMetadataPacket builds a ready-to-write TypeMetadata packet.
func EncodeMetadataPacket(m Metadata, timestamp uint64, seq uint32) ([]byte, error) {
	var buf bytes.Buffer
	putString(&buf, m.Model)
	putString(&buf, m.Manufacturer)
	putString(&buf, m.AndroidVersion)
	putU32(&buf, m.APILevel)
	putU32(&buf, m.ScreenWidth)
	putU32(&buf, m.ScreenHeight)
	putU32(&buf, m.ScreenDensity)
	putString(&buf, m.VideoCodec)
	putString(&buf, m.AudioCodec)
	putU32(&buf, m.VideoBitrateBps)
	putU32(&buf, m.AudioBitrateBps)
	putU32(&buf, m.FPS)
	putU32(&buf, m.SampleRate)
	putU32(&buf, m.ChannelCount)
	return assemble(TypeMetadata, 0, buf.Bytes(), timestamp, seq), nil
}

// DecodeMetadata parses a TypeMetadata payload built by EncodeMetadataPacket.
func DecodeMetadata(payload []byte) (Metadata, error) {
	var m Metadata
	r := bytes.NewReader(payload)
	var err error
	if m.Model, err = readString(r); err != nil {
		return Metadata{}, err
	}
	if m.Manufacturer, err = readString(r); err != nil {
		return Metadata{}, err
	}
	if m.AndroidVersion, err = readString(r); err != nil {
		return Metadata{}, err
	}
	if m.APILevel, err = readU32(r); err != nil {
		return Metadata{}, err
	}
	if m.ScreenWidth, err = readU32(r); err != nil {
		return Metadata{}, err
	}
	if m.ScreenHeight, err = readU32(r); err != nil {
		return Metadata{}, err
	}
	if m.ScreenDensity, err = readU32(r); err != nil {
		return Metadata{}, err
	}
	if m.VideoCodec, err = readString(r); err != nil {
		return Metadata{}, err
	}
	if m.AudioCodec, err = readString(r); err != nil {
		return Metadata{}, err
	}
	if m.VideoBitrateBps, err = readU32(r); err != nil {
		return Metadata{}, err
	}
	if m.AudioBitrateBps, err = readU32(r); err != nil {
		return Metadata{}, err
	}
	if m.FPS, err = readU32(r); err != nil {
		return Metadata{}, err
	}
	if m.SampleRate, err = readU32(r); err != nil {
		return Metadata{}, err
	}
	if m.ChannelCount, err = readU32(r); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// EncodeVideoConfigPacket builds a TypeVideoConfig packet; the FlagConfig
// bit is always set so clients can cache it independent of payload parsing.
func EncodeVideoConfigPacket(cfg VideoConfig, timestamp uint64, seq uint32) []byte {
	return assemble(TypeVideoConfig, FlagConfig, cfg.ConfigBytes, timestamp, seq)
}

// EncodeVideoDataPacket builds a TypeVideoData packet carrying one encoded
// access unit: pts (u64), dts (u64), frame_number (u32), data_size (u32),
// then data (§6.2). isKeyframe sets FlagKeyframe so fan-out join logic (C5)
// can recognize a frame it's safe to start a late-joining client on.
func EncodeVideoDataPacket(pts, dts uint64, frameNumber uint32, data []byte, isKeyframe bool, timestamp uint64, seq uint32) []byte {
	var buf bytes.Buffer
	putU64(&buf, pts)
	putU64(&buf, dts)
	putU32(&buf, frameNumber)
	putU32(&buf, uint32(len(data)))
	buf.Write(data)

	var flags Flags
	if isKeyframe {
		flags |= FlagKeyframe
	}
	return assemble(TypeVideoData, flags, buf.Bytes(), timestamp, seq)
}

// VideoData is the decoded form of a TypeVideoData payload.
type VideoData struct {
	PTS         uint64
	DTS         uint64
	FrameNumber uint32
	Data        []byte
}

// DecodeVideoData parses a TypeVideoData payload built by
// EncodeVideoDataPacket.
func DecodeVideoData(payload []byte) (VideoData, error) {
	var v VideoData
	r := bytes.NewReader(payload)
	var err error
	if v.PTS, err = readU64(r); err != nil {
		return VideoData{}, err
	}
	if v.DTS, err = readU64(r); err != nil {
		return VideoData{}, err
	}
	if v.FrameNumber, err = readU32(r); err != nil {
		return VideoData{}, err
	}
	dataSize, err := readU32(r)
	if err != nil {
		return VideoData{}, err
	}
	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return VideoData{}, ErrPayloadTooShort
	}
	v.Data = data
	return v, nil
}

// EncodeAudioConfigPacket builds a TypeAudioConfig packet. Audio is outside
// this repo's default pipeline (spec Non-goals) but the packet type and
// constructor exist so a future audio path needs no wire-format change.
func EncodeAudioConfigPacket(configBytes []byte, timestamp uint64, seq uint32) []byte {
	return assemble(TypeAudioConfig, FlagConfig, configBytes, timestamp, seq)
}

func EncodeAudioDataPacket(unit []byte, timestamp uint64, seq uint32) []byte {
	return assemble(TypeAudioData, 0, unit, timestamp, seq)
}

// EncodeControlEventPacket builds a TypeControlEvent packet (client -> server).
func EncodeControlEventPacket(ev ControlEvent, timestamp uint64, seq uint32) ([]byte, error) {
	body, err := marshalJSON(ev)
	if err != nil {
		return nil, err
	}
	return assemble(TypeControlEvent, 0, body, timestamp, seq), nil
}

// EncodeHeartbeatPacket builds a TypeHeartbeat packet: server_time (u64),
// connection_id (u32) (§6.2). Sent in both directions; a client with no
// negotiated connection_id yet sends 0.
func EncodeHeartbeatPacket(serverTime uint64, connectionID uint32, timestamp uint64, seq uint32) []byte {
	var buf bytes.Buffer
	putU64(&buf, serverTime)
	putU32(&buf, connectionID)
	return assemble(TypeHeartbeat, 0, buf.Bytes(), timestamp, seq)
}

// Heartbeat is the decoded form of a TypeHeartbeat payload.
type Heartbeat struct {
	ServerTime   uint64
	ConnectionID uint32
}

// DecodeHeartbeat parses a TypeHeartbeat payload built by
// EncodeHeartbeatPacket.
func DecodeHeartbeat(payload []byte) (Heartbeat, error) {
	var hb Heartbeat
	r := bytes.NewReader(payload)
	var err error
	if hb.ServerTime, err = readU64(r); err != nil {
		return Heartbeat{}, err
	}
	if hb.ConnectionID, err = readU32(r); err != nil {
		return Heartbeat{}, err
	}
	return hb, nil
}

// EncodeErrorMessagePacket builds a TypeErrorMessage packet.
func EncodeErrorMessagePacket(em ErrorMessage, timestamp uint64, seq uint32) []byte {
	var buf bytes.Buffer
	putU32(&buf, em.ErrorCode)
	msg := []byte(em.Message)
	putU32(&buf, uint32(len(msg)))
	buf.Write(msg)
	return assemble(TypeErrorMessage, 0, buf.Bytes(), timestamp, seq)
}

// DecodeErrorMessage parses a TypeErrorMessage payload built by
// EncodeErrorMessagePacket.
func DecodeErrorMessage(payload []byte) (ErrorMessage, error) {
	var em ErrorMessage
	r := bytes.NewReader(payload)
	var err error
	if em.ErrorCode, err = readU32(r); err != nil {
		return ErrorMessage{}, err
	}
	msgLen, err := readU32(r)
	if err != nil {
		return ErrorMessage{}, err
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return ErrorMessage{}, ErrPayloadTooShort
	}
	em.Message = string(msg)
	return em, nil
}

// EncodeConnectionAckPacket builds a TypeConnectionAck packet.
func EncodeConnectionAckPacket(ack ConnectionAck, timestamp uint64, seq uint32) []byte {
	var buf bytes.Buffer
	putU32(&buf, ack.ConnectionID)
	putU32(&buf, ack.MaxPacketSize)
	putU32(&buf, ack.BufferSize)
	return assemble(TypeConnectionAck, 0, buf.Bytes(), timestamp, seq)
}

// DecodeConnectionAck parses a TypeConnectionAck payload built by
// EncodeConnectionAckPacket.
func DecodeConnectionAck(payload []byte) (ConnectionAck, error) {
	var ack ConnectionAck
	r := bytes.NewReader(payload)
	var err error
	if ack.ConnectionID, err = readU32(r); err != nil {
		return ConnectionAck{}, err
	}
	if ack.MaxPacketSize, err = readU32(r); err != nil {
		return ConnectionAck{}, err
	}
	if ack.BufferSize, err = readU32(r); err != nil {
		return ConnectionAck{}, err
	}
	return ack, nil
}

// EncodeCommandRequestPacket builds a TypeCommandRequest packet.
func EncodeCommandRequestPacket(req CommandRequest, timestamp uint64, seq uint32) ([]byte, error) {
	body, err := marshalJSON(req)
	if err != nil {
		return nil, err
	}
	return assemble(TypeCommandRequest, 0, body, timestamp, seq), nil
}

// EncodeCommandResponsePacket builds a TypeCommandResponse packet.
func EncodeCommandResponsePacket(resp CommandResponse, timestamp uint64, seq uint32) ([]byte, error) {
	body, err := marshalJSON(resp)
	if err != nil {
		return nil, err
	}
	return assemble(TypeCommandResponse, 0, body, timestamp, seq), nil
}

// DecodeControlEvent, DecodeCommandRequest, etc. unmarshal a packet's
// JSON payload into its typed form. Callers dispatch on Packet.Header.Type
// first.
func DecodeControlEvent(payload []byte) (ControlEvent, error) {
	var ev ControlEvent
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

func DecodeCommandRequest(payload []byte) (CommandRequest, error) {
	var req CommandRequest
	err := json.Unmarshal(payload, &req)
	return req, err
}

func DecodeCommandResponse(payload []byte) (CommandResponse, error) {
	var resp CommandResponse
	err := json.Unmarshal(payload, &resp)
	return resp, err
}

func assemble(typ Type, flags Flags, payload []byte, timestamp uint64, seq uint32) []byte {
	header := EncodeHeader(typ, flags, len(payload), timestamp, seq, 0)
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out
}
