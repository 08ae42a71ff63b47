package wire

import "encoding/binary"

// heartbeatMagic is the 7-byte ASCII prefix of a bonding health
// probe: "HBPROBE" + 4-byte sequence + 1 byte padding.
const heartbeatMagic = "HBPROBE"

// HeartbeatSize is the fixed length of a heartbeat probe datagram.
const HeartbeatSize = len(heartbeatMagic) + 4 + 1

// IsHeartbeatProbe reports whether b looks like a bonding health
// probe: at least 12 bytes, starting with the ASCII magic.
func IsHeartbeatProbe(b []byte) bool {
	if len(b) < HeartbeatSize {
		return false
	}
	return string(b[:len(heartbeatMagic)]) == heartbeatMagic
}

// EncodeHeartbeat builds a heartbeat probe for the given sequence.
func EncodeHeartbeat(seq uint32) []byte {
	buf := make([]byte, HeartbeatSize)
	copy(buf, heartbeatMagic)
	binary.BigEndian.PutUint32(buf[len(heartbeatMagic):], seq)
	return buf
}

// DecodeHeartbeat extracts the sequence from a heartbeat probe. The
// caller must have already validated IsHeartbeatProbe.
func DecodeHeartbeat(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[len(heartbeatMagic) : len(heartbeatMagic)+4])
}
