// ABOUTME: Wire protocol message types, encoders, and parsers
// ABOUTME: Base header framing plus CodecHeader/WireChunk/ServerSettings/Time/Hello

package snapcast

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the payload carried by a base message.
type MessageType uint16

const (
	TypeBase           MessageType = 0
	TypeCodecHeader    MessageType = 1
	TypeWireChunk      MessageType = 2
	TypeServerSettings MessageType = 3
	TypeTime           MessageType = 4
	TypeHello          MessageType = 5
)

const (
	// HeaderSize is the size of the base header preceding every payload.
	// Layout: [type:u16][id:u16][refersTo:u16][sent.sec:i32][sent.usec:i32]
	// [received.sec:i32][received.usec:i32][size:u32]
	HeaderSize = 26

	// MaxPayloadSize bounds a single message payload. Chunks are produced
	// from bounded PCM buffers, so anything larger indicates a corrupt or
	// hostile stream.
	MaxPayloadSize = 16 << 20

	wireChunkHeadSize = 16 // ts.sec + ts.usec + durationMs + size
)

// TimeVal is a second/microsecond pair, the protocol's timestamp unit.
type TimeVal struct {
	Sec  int32
	Usec int32
}

// TimeValFromDuration converts a duration since stream start to a TimeVal.
func TimeValFromDuration(d time.Duration) TimeVal {
	us := d.Microseconds()
	return TimeVal{
		Sec:  int32(us / 1e6),
		Usec: int32(us % 1e6),
	}
}

// Duration converts the TimeVal back to a duration.
func (tv TimeVal) Duration() time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

// BaseHeader is the fixed header preceding every message.
type BaseHeader struct {
	Type     MessageType
	ID       uint16
	RefersTo uint16
	Sent     TimeVal
	Received TimeVal
	Size     uint32
}

// ParseHeader parses the 26-byte base header.
func ParseHeader(data []byte) (*BaseHeader, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	h := &BaseHeader{
		Type:     MessageType(binary.LittleEndian.Uint16(data[0:2])),
		ID:       binary.LittleEndian.Uint16(data[2:4]),
		RefersTo: binary.LittleEndian.Uint16(data[4:6]),
		Sent: TimeVal{
			Sec:  int32(binary.LittleEndian.Uint32(data[6:10])),
			Usec: int32(binary.LittleEndian.Uint32(data[10:14])),
		},
		Received: TimeVal{
			Sec:  int32(binary.LittleEndian.Uint32(data[14:18])),
			Usec: int32(binary.LittleEndian.Uint32(data[18:22])),
		},
		Size: binary.LittleEndian.Uint32(data[22:26]),
	}

	if h.Size > MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d", h.Size, MaxPayloadSize)
	}

	return h, nil
}

// appendHeader appends a base header for a payload of the given size.
func appendHeader(dst []byte, typ MessageType, id, refersTo uint16, sent TimeVal, size uint32) []byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(typ))
	binary.LittleEndian.PutUint16(buf[2:4], id)
	binary.LittleEndian.PutUint16(buf[4:6], refersTo)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(sent.Sec))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(sent.Usec))
	// received is filled in by the peer; zero on the wire
	binary.LittleEndian.PutUint32(buf[22:26], size)
	return append(dst, buf[:]...)
}

// CodecHeader is the first message on every connection: the codec
// identifier plus the codec's one-time header blob.
type CodecHeader struct {
	Codec   string
	Payload []byte
}

// EncodeCodecHeader encodes a complete codec header message.
func EncodeCodecHeader(id uint16, sent TimeVal, codec string, payload []byte) []byte {
	size := 4 + len(codec) + 4 + len(payload)
	out := make([]byte, 0, HeaderSize+size)
	out = appendHeader(out, TypeCodecHeader, id, 0, sent, uint32(size))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(codec)))
	out = append(out, codec...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return out
}

// ParseCodecHeader parses a codec header payload.
func ParseCodecHeader(data []byte) (*CodecHeader, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("codec header too short: %d bytes", len(data))
	}
	codecLen := binary.LittleEndian.Uint32(data[0:4])
	if codecLen > uint32(len(data)-8) {
		return nil, fmt.Errorf("codec header truncated: codec length %d", codecLen)
	}
	codec := string(data[4 : 4+codecLen])
	rest := data[4+codecLen:]
	payloadLen := binary.LittleEndian.Uint32(rest[0:4])
	if uint32(len(rest)-4) < payloadLen {
		return nil, fmt.Errorf("codec header truncated: payload length %d, have %d", payloadLen, len(rest)-4)
	}
	return &CodecHeader{
		Codec:   codec,
		Payload: append([]byte(nil), rest[4:4+payloadLen]...),
	}, nil
}

// WireChunk is one timestamped unit of encoded audio.
type WireChunk struct {
	Timestamp  TimeVal
	DurationMs uint32
	Payload    []byte
}

// EncodeWireChunk encodes a complete wire chunk message. The timestamp is
// the stream-position marker, duration the chunk's nominal playback time.
func EncodeWireChunk(id uint16, ts TimeVal, duration time.Duration, payload []byte) []byte {
	size := wireChunkHeadSize + len(payload)
	out := make([]byte, 0, HeaderSize+size)
	out = appendHeader(out, TypeWireChunk, id, 0, ts, uint32(size))
	out = binary.LittleEndian.AppendUint32(out, uint32(ts.Sec))
	out = binary.LittleEndian.AppendUint32(out, uint32(ts.Usec))
	out = binary.LittleEndian.AppendUint32(out, uint32(duration.Milliseconds()))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return out
}

// ParseWireChunk parses a wire chunk payload.
func ParseWireChunk(data []byte) (*WireChunk, error) {
	if len(data) < wireChunkHeadSize {
		return nil, fmt.Errorf("wire chunk too short: %d bytes", len(data))
	}
	payloadLen := binary.LittleEndian.Uint32(data[12:16])
	if uint32(len(data)-wireChunkHeadSize) < payloadLen {
		return nil, fmt.Errorf("wire chunk truncated: payload length %d, have %d", payloadLen, len(data)-wireChunkHeadSize)
	}
	return &WireChunk{
		Timestamp: TimeVal{
			Sec:  int32(binary.LittleEndian.Uint32(data[0:4])),
			Usec: int32(binary.LittleEndian.Uint32(data[4:8])),
		},
		DurationMs: binary.LittleEndian.Uint32(data[8:12]),
		Payload:    append([]byte(nil), data[wireChunkHeadSize:wireChunkHeadSize+payloadLen]...),
	}, nil
}

// ServerSettings carries delivery policy to a client.
type ServerSettings struct {
	BufferMs int  `json:"buffer_ms"`
	Latency  int  `json:"latency"`
	Muted    bool `json:"muted"`
	Volume   int  `json:"volume"`
}

// EncodeServerSettings encodes a complete server settings message.
func EncodeServerSettings(id uint16, sent TimeVal, s ServerSettings) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal server settings: %w", err)
	}
	size := 4 + len(body)
	out := make([]byte, 0, HeaderSize+size)
	out = appendHeader(out, TypeServerSettings, id, 0, sent, uint32(size))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out, nil
}

// ParseServerSettings parses a server settings payload.
func ParseServerSettings(data []byte) (*ServerSettings, error) {
	body, err := lengthPrefixed(data)
	if err != nil {
		return nil, fmt.Errorf("server settings: %w", err)
	}
	var s ServerSettings
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("unmarshal server settings: %w", err)
	}
	return &s, nil
}

// EncodeTime encodes a time message. For replies, refersTo carries the ID
// of the client's request; for the synthetic mid-stream sync message it is
// zero and latency holds the current stream position.
func EncodeTime(id, refersTo uint16, sent, latency TimeVal) []byte {
	out := make([]byte, 0, HeaderSize+8)
	out = appendHeader(out, TypeTime, id, refersTo, sent, 8)
	out = binary.LittleEndian.AppendUint32(out, uint32(latency.Sec))
	out = binary.LittleEndian.AppendUint32(out, uint32(latency.Usec))
	return out
}

// ParseTime parses a time payload.
func ParseTime(data []byte) (TimeVal, error) {
	if len(data) < 8 {
		return TimeVal{}, fmt.Errorf("time payload too short: %d bytes", len(data))
	}
	return TimeVal{
		Sec:  int32(binary.LittleEndian.Uint32(data[0:4])),
		Usec: int32(binary.LittleEndian.Uint32(data[4:8])),
	}, nil
}

// Hello is the client's optional self-identification.
type Hello struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	OS       string `json:"os,omitempty"`
	Arch     string `json:"arch,omitempty"`
	Instance int    `json:"instance,omitempty"`
}

// EncodeHello encodes a complete hello message.
func EncodeHello(id uint16, sent TimeVal, h Hello) ([]byte, error) {
	body, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal hello: %w", err)
	}
	size := 4 + len(body)
	out := make([]byte, 0, HeaderSize+size)
	out = appendHeader(out, TypeHello, id, 0, sent, uint32(size))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out, nil
}

// ParseHello parses a hello payload.
func ParseHello(data []byte) (*Hello, error) {
	body, err := lengthPrefixed(data)
	if err != nil {
		return nil, fmt.Errorf("hello: %w", err)
	}
	var h Hello
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("unmarshal hello: %w", err)
	}
	return &h, nil
}

// lengthPrefixed extracts a [size:u32][bytes] field.
func lengthPrefixed(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("payload too short: %d bytes", len(data))
	}
	n := binary.LittleEndian.Uint32(data[0:4])
	if uint32(len(data)-4) < n {
		return nil, fmt.Errorf("payload truncated: length %d, have %d", n, len(data)-4)
	}
	return data[4 : 4+n], nil
}
