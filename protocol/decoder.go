package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/soopwave/soopwave/telemetry"
)

// Sub-field indices inside frame bodies. The leading separator of every body
// makes field 0 empty, so indices line up with the on-wire layout.
const (
	chatMessageField  = 1
	chatUserIDField   = 2
	chatNicknameField = 6
	chatFlagsField    = 7
	chatMinFields     = 8

	donationNicknameField = 3
	donationCountField    = 4
	donationMinFields     = 5
)

// Decoder splits a raw inbound byte stream into protocol frames and produces
// events for the recognized service types. Partial frames are buffered across
// calls, so chunk boundaries may fall anywhere, including mid-frame.
//
// A Decoder is not safe for concurrent use; the single reader owns it.
type Decoder struct {
	buf []byte
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 4096)}
}

// Feed appends a chunk and returns the events for every frame completed by it.
// Unrecognized service types are dropped silently; malformed frames are
// dropped and counted, never fatal.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)
	var events []Event
	for {
		svc, body, ok := d.next()
		if !ok {
			return events
		}
		if ev := parseFrame(svc, body); ev != nil {
			events = append(events, ev)
		}
	}
}

// Buffered reports the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// next extracts one complete frame from the buffer, resyncing past garbage
// and unparseable headers.
func (d *Decoder) next() (ServiceType, []byte, bool) {
	for {
		// Align the buffer on the next escape byte; anything before it is noise.
		i := bytes.IndexByte(d.buf, escByte)
		if i < 0 {
			d.buf = d.buf[:0]
			return "", nil, false
		}
		if i > 0 {
			d.buf = d.buf[i:]
		}
		if len(d.buf) < prefixLen {
			return "", nil, false
		}
		header := d.buf[len(EscapeSequence):prefixLen]
		bodyLen, err := strconv.Atoi(string(header[4:10]))
		if err != nil || bodyLen < 0 || bodyLen > maxBodyLen {
			// Corrupt header: skip the escape byte and resync.
			telemetry.IncDecodeError()
			d.buf = d.buf[1:]
			continue
		}
		total := prefixLen + bodyLen
		if len(d.buf) < total {
			return "", nil, false
		}
		svc := ServiceType(header[:4])
		body := make([]byte, bodyLen)
		copy(body, d.buf[prefixLen:total])
		d.buf = d.buf[total:]
		telemetry.IncFrameDecoded()
		return svc, body, true
	}
}

func parseFrame(svc ServiceType, body []byte) Event {
	switch svc {
	case SvcChat:
		return parseChat(body)
	case SvcDonation:
		return parseDonation(body)
	default:
		// Not every service type is analytically relevant.
		return nil
	}
}

func parseChat(body []byte) Event {
	fields := strings.Split(string(body), FieldSep)
	if len(fields) < chatMinFields {
		telemetry.IncDecodeError()
		return nil
	}
	msg := fields[chatMessageField]
	if isSystemMessage(msg) {
		return nil
	}
	flags, err := parseFlags(fields[chatFlagsField])
	if err != nil {
		telemetry.IncDecodeError()
		return nil
	}
	telemetry.IncChatEvent()
	return ChatEvent{
		Message:  msg,
		UserID:   fields[chatUserIDField],
		Nickname: fields[chatNicknameField],
		Flags:    flags,
	}
}

func parseDonation(body []byte) Event {
	fields := strings.Split(string(body), FieldSep)
	if len(fields) < donationMinFields {
		telemetry.IncDecodeError()
		return nil
	}
	stars, err := strconv.Atoi(fields[donationCountField])
	if err != nil || stars < 0 {
		telemetry.IncDecodeError()
		return nil
	}
	telemetry.IncDonationEvent()
	return DonationEvent{
		Nickname: fields[donationNicknameField],
		Stars:    stars,
	}
}

// isSystemMessage filters server-generated chat frames (join/leave notices and
// freeze-word control payloads) that are not viewer messages.
func isSystemMessage(msg string) bool {
	return msg == "-1" || msg == "1" || strings.Contains(msg, "fw=")
}

// parseFlags reads the permission bitmask. The wire field may carry a second
// mask after a '|'; only the first is meaningful here.
func parseFlags(field string) (uint32, error) {
	if head, _, found := strings.Cut(field, "|"); found {
		field = head
	}
	n, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
