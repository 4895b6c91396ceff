// Package protocol implements the wire codec for the Quantum sender's data
// and acknowledgement packets.
package protocol

import (
	"encoding/binary"
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	// PacketSize is the maximum size of any packet on the wire.
	PacketSize = 1024

	// SeqIDSize is the width of the big-endian signed sequence/ack field.
	SeqIDSize = 4

	// MSS is the maximum segment size: the largest payload that fits in a
	// single data packet alongside the sequence id.
	MSS = PacketSize - SeqIDSize
)

// ErrMalformedPacket is returned when an inbound datagram is too short to
// contain a sequence/ack id.
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// Encode builds a data packet: a 4-byte big-endian signed seqID followed by
// payload. If payload exceeds MSS it is truncated; callers are expected
// never to rely on that safety net.
func Encode(seqID int32, payload []byte) []byte {
	if len(payload) > MSS {
		payload = payload[:MSS]
	}

	buf := make([]byte, SeqIDSize+len(payload))
	binary.BigEndian.PutUint32(buf[:SeqIDSize], uint32(seqID))
	copy(buf[SeqIDSize:], payload)
	return buf
}

// DecodeAck parses an inbound acknowledgement datagram into (ackID,
// message). message is decoded as UTF-8 with invalid sequences replaced by
// nothing and surrounding ASCII whitespace trimmed. Returns
// ErrMalformedPacket if fewer than SeqIDSize bytes are present.
func DecodeAck(data []byte) (ackID int32, message string, err error) {
	if len(data) < SeqIDSize {
		return 0, "", ErrMalformedPacket
	}

	ackID = int32(binary.BigEndian.Uint32(data[:SeqIDSize]))
	message = strings.TrimSpace(toValidUTF8Dropped(data[SeqIDSize:]))
	return ackID, message, nil
}

// toValidUTF8Dropped mirrors Python's bytes.decode(errors="ignore"): any
// byte sequence that does not decode as UTF-8 is dropped rather than
// replaced with U+FFFD.
func toValidUTF8Dropped(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))

	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			i++
			continue
		}
		sb.Write(b[i : i+size])
		i += size
	}
	return sb.String()
}
