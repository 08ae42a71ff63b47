// Package wire implements the 15-byte framed binary packet protocol:
// magic/version/type/flags/sequence/length header, CRC16-CCITT
// integrity check, and ACK/NAK payload framing. All multi-byte fields
// are big-endian; the sequence space is 32-bit modular.
package wire

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// HeaderSize is the fixed size of every packet header in bytes.
const HeaderSize = 15

var magic = [2]byte{0x53, 0x4B}

const protocolVersion = 0x02

// Type identifies the kind of packet carried after the header.
type Type byte

const (
	TypeData      Type = 1
	TypeAck       Type = 2
	TypeNak       Type = 3
	TypeHeartbeat Type = 4
	TypeHello     Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	case TypeNak:
		return "NAK"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeHello:
		return "HELLO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

func validType(t Type) bool {
	switch t {
	case TypeData, TypeAck, TypeNak, TypeHeartbeat, TypeHello:
		return true
	default:
		return false
	}
}

// Flags are bit flags describing how the payload was produced.
type Flags byte

const (
	FlagCompressed     Flags = 0x01
	FlagEncrypted      Flags = 0x02
	FlagMessagepack    Flags = 0x04
	FlagPathDictionary Flags = 0x08
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Header is the parsed form of a packet's fixed 15-byte prefix.
type Header struct {
	Version  byte
	Type     Type
	Flags    Flags
	Sequence uint32
	Length   uint32
	CRC      uint16
}

// Packet is a fully parsed wire packet: header plus a payload view
// into the original byte slice, never copied.
type Packet struct {
	Header  Header
	Payload []byte
}

// ErrInvalidHeader is returned by Parse for any structurally invalid
// packet: too short, bad magic, unsupported version, unknown type, CRC
// mismatch, or a length field that disagrees with the actual tail.
type ErrInvalidHeader struct{ Reason string }

func (e *ErrInvalidHeader) Error() string { return "wire: invalid header: " + e.Reason }

// IsV2Packet is a fast, side-effect-free classifier used to filter
// foreign traffic before full parsing.
func IsV2Packet(b []byte) bool {
	return len(b) >= HeaderSize && b[0] == magic[0] && b[1] == magic[1] && b[2] == protocolVersion
}

// Builder owns the sender's DATA sequence counter. BuildData stamps
// the current sequence into each DATA packet and advances the counter
// by one (mod 2^32) afterwards; the counter is not shared with any
// other component.
type Builder struct {
	mu  sync.Mutex
	seq uint32
}

// NewBuilder returns a Builder whose next DATA sequence is 0.
func NewBuilder() *Builder { return &Builder{} }

// BuildData assembles a DATA packet carrying payload, returning the
// frame and the sequence it was stamped with, then advances the
// counter.
func (b *Builder) BuildData(payload []byte, flags Flags) ([]byte, uint32) {
	b.mu.Lock()
	seq := b.seq
	b.seq++
	b.mu.Unlock()
	return Build(TypeData, payload, flags, seq), seq
}

// Sequence returns the next DATA sequence the Builder will assign.
func (b *Builder) Sequence() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Build assembles a wire packet with an explicit sequence value. DATA
// senders go through Builder.BuildData instead, so the sequence
// counter stays owned by the packet builder; Build serves the control
// packets (ACK, NAK, HEARTBEAT, HELLO) whose sequence field carries no
// ordering meaning.
func Build(kind Type, payload []byte, flags Flags, seq uint32) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0], buf[1] = magic[0], magic[1]
	buf[2] = protocolVersion
	buf[3] = byte(kind)
	buf[4] = byte(flags)
	binary.BigEndian.PutUint32(buf[5:9], seq)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(payload)))
	crc := CRC16CCITT(buf[:13])
	binary.BigEndian.PutUint16(buf[13:15], crc)
	copy(buf[HeaderSize:], payload)
	return buf
}

// Parse validates and decodes a wire packet. The returned Payload
// aliases b; callers must not retain b beyond the packet's use if they
// plan to reuse the buffer for another read.
func Parse(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, &ErrInvalidHeader{Reason: "short buffer"}
	}
	if b[0] != magic[0] || b[1] != magic[1] {
		return nil, &ErrInvalidHeader{Reason: "bad magic"}
	}
	version := b[2]
	if version != protocolVersion {
		return nil, &ErrInvalidHeader{Reason: "unsupported version"}
	}
	kind := Type(b[3])
	if !validType(kind) {
		return nil, &ErrInvalidHeader{Reason: "unknown type"}
	}
	flags := Flags(b[4])
	seq := binary.BigEndian.Uint32(b[5:9])
	length := binary.BigEndian.Uint32(b[9:13])
	wantCRC := binary.BigEndian.Uint16(b[13:15])
	gotCRC := CRC16CCITT(b[:13])
	if gotCRC != wantCRC {
		return nil, &ErrInvalidHeader{Reason: "CRC mismatch"}
	}
	if uint32(len(b)-HeaderSize) != length {
		return nil, &ErrInvalidHeader{Reason: "length mismatch"}
	}
	return &Packet{
		Header: Header{
			Version:  version,
			Type:     kind,
			Flags:    flags,
			Sequence: seq,
			Length:   length,
			CRC:      gotCRC,
		},
		Payload: b[HeaderSize:],
	}, nil
}

// EncodeAck builds an ACK payload: the cumulative acknowledged
// sequence, 4 bytes big-endian.
func EncodeAck(seq uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, seq)
	return buf
}

// DecodeAck parses an ACK payload.
func DecodeAck(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, &ErrInvalidHeader{Reason: "ACK payload must be 4 bytes"}
	}
	return binary.BigEndian.Uint32(payload), nil
}

// EncodeNak builds a NAK payload: missing sequences, 4 bytes
// big-endian each.
func EncodeNak(missing []uint32) []byte {
	buf := make([]byte, len(missing)*4)
	for i, s := range missing {
		binary.BigEndian.PutUint32(buf[i*4:], s)
	}
	return buf
}

// DecodeNak parses a NAK payload.
func DecodeNak(payload []byte) ([]uint32, error) {
	if len(payload)%4 != 0 {
		return nil, &ErrInvalidHeader{Reason: "NAK payload length not a multiple of 4"}
	}
	out := make([]uint32, len(payload)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(payload[i*4:])
	}
	return out, nil
}
