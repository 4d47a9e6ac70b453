// Package protocol implements the SOOP chat wire format: outbound control
// packets and the inbound frame decoder.
//
// Every packet is ESC("\x1b\t") + a 12-character ASCII header + body. The
// header is a 4-digit service type, a 6-digit zero-padded body byte length,
// and two trailing zero digits. Frame bodies carry 0x0c-separated sub-fields.
package protocol

import "fmt"

const (
	// FieldSep separates sub-fields inside a frame body.
	FieldSep = "\x0c"
	// EscapeSequence prefixes every packet and delimits inbound frames.
	EscapeSequence = "\x1b\t"

	escByte    = 0x1b
	headerLen  = 12
	prefixLen  = len(EscapeSequence) + headerLen
	maxBodyLen = 999999 // 6 decimal digits
)

// ServiceType is the 4-digit code identifying the semantic kind of a frame.
type ServiceType string

const (
	SvcPing     ServiceType = "0000"
	SvcLogin    ServiceType = "0001"
	SvcJoin     ServiceType = "0002"
	SvcChat     ServiceType = "0005"
	SvcDonation ServiceType = "0018"
)

// BuildPacket assembles an outbound packet for the given service type and body.
func BuildPacket(svc ServiceType, body string) []byte {
	header := fmt.Sprintf("%s%06d00", svc, len(body))
	packet := make([]byte, 0, prefixLen+len(body))
	packet = append(packet, EscapeSequence...)
	packet = append(packet, header...)
	packet = append(packet, body...)
	return packet
}

// LoginPacket builds the anonymous login packet sent immediately after connect.
// No session-specific fields are populated at this point.
func LoginPacket() []byte {
	body := FieldSep + FieldSep + FieldSep + "16" + FieldSep
	return BuildPacket(SvcLogin, body)
}

// JoinPacket builds the channel entry packet from the chat room id and the
// entry token obtained from the player API.
func JoinPacket(chatRoomID, entryToken string) []byte {
	body := FieldSep + chatRoomID + FieldSep + entryToken + FieldSep + "0" + FieldSep + FieldSep
	return BuildPacket(SvcJoin, body)
}

// PingPacket builds the keepalive packet.
func PingPacket() []byte {
	return BuildPacket(SvcPing, FieldSep)
}
