package protocol

import (
	"reflect"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/soopwave/soopwave/telemetry"
)

func chatFrame(msg, uid, nick, flags string) []byte {
	body := strings.Join([]string{"", msg, uid, "0", "0", "0", nick, flags}, FieldSep)
	return BuildPacket(SvcChat, body)
}

func donationFrame(nick, count string) []byte {
	body := strings.Join([]string{"", "x", "x", nick, count}, FieldSep)
	return BuildPacket(SvcDonation, body)
}

func decodeErrorCount(t *testing.T) float64 {
	t.Helper()
	telemetry.Init()
	m := &dto.Metric{}
	if err := telemetry.DecodeErrors.Write(m); err != nil {
		t.Fatalf("read decode error counter: %v", err)
	}
	return m.Counter.GetValue()
}

func TestDecodeChatFrame(t *testing.T) {
	telemetry.Init()
	d := NewDecoder()
	events := d.Feed(chatFrame("지창", "user1", "시청자A", "257|0"))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev, ok := events[0].(ChatEvent)
	if !ok {
		t.Fatalf("event type = %T, want ChatEvent", events[0])
	}
	want := ChatEvent{Message: "지창", UserID: "user1", Nickname: "시청자A", Flags: 257}
	if ev != want {
		t.Errorf("event = %+v, want %+v", ev, want)
	}
}

func TestDecodeDonationFrame(t *testing.T) {
	telemetry.Init()
	d := NewDecoder()
	events := d.Feed(donationFrame("후원자B", "100"))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev, ok := events[0].(DonationEvent)
	if !ok {
		t.Fatalf("event type = %T, want DonationEvent", events[0])
	}
	if ev.Nickname != "후원자B" || ev.Stars != 100 {
		t.Errorf("event = %+v", ev)
	}
}

func TestUnknownServiceDroppedSilently(t *testing.T) {
	telemetry.Init()
	before := decodeErrorCount(t)
	d := NewDecoder()
	events := d.Feed(BuildPacket(ServiceType("0099"), "\x0cwhatever\x0c"))
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	if got := decodeErrorCount(t); got != before {
		t.Errorf("unknown service must not count as decode error (before=%v after=%v)", before, got)
	}
}

func TestShortChatFrameCountedAsDecodeError(t *testing.T) {
	before := decodeErrorCount(t)
	d := NewDecoder()
	events := d.Feed(BuildPacket(SvcChat, "\x0conly\x0cthree"))
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	if got := decodeErrorCount(t); got != before+1 {
		t.Errorf("decode errors = %v, want %v", got, before+1)
	}
}

func TestSystemMessagesSkipped(t *testing.T) {
	telemetry.Init()
	d := NewDecoder()
	for _, msg := range []string{"-1", "1", "fw=3|msg"} {
		if events := d.Feed(chatFrame(msg, "u", "n", "0")); len(events) != 0 {
			t.Errorf("system message %q produced %d events", msg, len(events))
		}
	}
}

func TestDecoderResyncsPastGarbage(t *testing.T) {
	telemetry.Init()
	d := NewDecoder()
	stream := append([]byte("noise-before-frame"), chatFrame("세신", "u", "n", "0")...)
	events := d.Feed(stream)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

// Frames must reconstruct identically however the byte stream is chunked.
func TestDecodeAcrossArbitraryChunkBoundaries(t *testing.T) {
	telemetry.Init()
	var stream []byte
	stream = append(stream, chatFrame("지창", "u1", "n1", "0")...)
	stream = append(stream, donationFrame("d1", "50")...)
	stream = append(stream, chatFrame("짜장면", "u2", "n2", "16")...)

	whole := NewDecoder().Feed(stream)
	if len(whole) != 3 {
		t.Fatalf("single-shot decode produced %d events, want 3", len(whole))
	}

	for split := 0; split <= len(stream); split++ {
		d := NewDecoder()
		var events []Event
		events = append(events, d.Feed(stream[:split])...)
		events = append(events, d.Feed(stream[split:])...)
		if !reflect.DeepEqual(events, whole) {
			t.Fatalf("split at %d: events differ from single-shot decode", split)
		}
	}
}

func TestPartialFrameStaysBuffered(t *testing.T) {
	telemetry.Init()
	d := NewDecoder()
	frame := chatFrame("지창", "u", "n", "0")
	if events := d.Feed(frame[:10]); len(events) != 0 {
		t.Fatalf("partial frame produced events")
	}
	if d.Buffered() == 0 {
		t.Errorf("expected bytes to stay buffered")
	}
	if events := d.Feed(frame[10:]); len(events) != 1 {
		t.Errorf("completing the frame produced %d events, want 1", len(events))
	}
}
