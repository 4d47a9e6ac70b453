package detect

import (
	"sync"
	"testing"
	"time"

	"github.com/soopwave/soopwave/badge"
	"github.com/soopwave/soopwave/protocol"
)

type recordingSink struct {
	mu        sync.Mutex
	chats     int
	matches   map[Kind]int
	waves     []int
	hot       []HotMomentRecord
	donations int
	stars     int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{matches: make(map[Kind]int)}
}

func (s *recordingSink) RecordChat(ev protocol.ChatEvent, badges []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats++
}

func (s *recordingSink) RecordMatch(kind Kind, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[kind]++
}

func (s *recordingSink) RecordWave(at time.Time, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waves = append(s.waves, count)
}

func (s *recordingSink) RecordHotMoment(rec HotMomentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hot = append(s.hot, rec)
}

func (s *recordingSink) RecordDonation(nickname string, stars int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.donations++
	s.stars += stars
}

func (s *recordingSink) hotMoments() []HotMomentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HotMomentRecord(nil), s.hot...)
}

func newTestDetector(t *testing.T, sink Sink) *Detector {
	t.Helper()
	badges, err := badge.NewCache(64)
	if err != nil {
		t.Fatalf("badge cache: %v", err)
	}
	return New(Config{}, DefaultPatterns(), badges, sink)
}

func chatAt(msg string) protocol.ChatEvent {
	return protocol.ChatEvent{Message: msg, UserID: "u", Nickname: "A"}
}

func TestHotMomentThreshold(t *testing.T) {
	sink := newRecordingSink()
	d := newTestDetector(t, sink)
	base := time.Now()

	// 19 matches inside a 10s span never trigger.
	for i := 0; i < 19; i++ {
		d.ProcessChat(chatAt("지창"), base.Add(time.Duration(i)*400*time.Millisecond))
	}
	if got := len(sink.hotMoments()); got != 0 {
		t.Fatalf("19 matches triggered %d hot moments, want 0", got)
	}

	// The 20th within the span does.
	d.ProcessChat(chatAt("지창"), base.Add(19*400*time.Millisecond))
	hot := sink.hotMoments()
	if len(hot) != 1 {
		t.Fatalf("got %d hot moments, want 1", len(hot))
	}
	if hot[0].MemeKind != KindJiChang || hot[0].Count != 20 {
		t.Errorf("record = %+v, want ji_chang count 20", hot[0])
	}
}

func TestHotMomentCooldown(t *testing.T) {
	sink := newRecordingSink()
	d := newTestDetector(t, sink)
	base := time.Now()

	// Trigger once at base.
	for i := 0; i < 20; i++ {
		d.ProcessChat(chatAt("세신"), base.Add(time.Duration(i)*100*time.Millisecond))
	}
	trigger := base.Add(19 * 100 * time.Millisecond)
	if got := len(sink.hotMoments()); got != 1 {
		t.Fatalf("got %d hot moments, want 1", got)
	}

	// A sustained burst inside the cooldown is suppressed without resetting
	// the window: 20 matches packed just before the cooldown expires.
	for i := 0; i < 20; i++ {
		d.ProcessChat(chatAt("세신"), trigger.Add(55*time.Second).Add(time.Duration(i)*200*time.Millisecond))
	}
	if got := len(sink.hotMoments()); got != 1 {
		t.Fatalf("cooldown breached: got %d hot moments, want 1", got)
	}

	// The first match at or past 60s re-triggers off the intact window.
	d.ProcessChat(chatAt("세신"), trigger.Add(60*time.Second))
	if got := len(sink.hotMoments()); got != 2 {
		t.Errorf("got %d hot moments after cooldown expiry, want 2", got)
	}
}

func TestHotMomentConcurrentBurstSingleTrigger(t *testing.T) {
	sink := newRecordingSink()
	d := newTestDetector(t, sink)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				d.ProcessChat(chatAt("짜장면"), time.Now())
			}
		}()
	}
	wg.Wait()

	if got := len(sink.hotMoments()); got != 1 {
		t.Errorf("concurrent burst produced %d triggers, want exactly 1", got)
	}
}

func TestHotMomentEndToEndScenario(t *testing.T) {
	// 25 matching messages 0.4s apart (9.6s span): exactly one record, with
	// the window count at the trigger instant, timestamped at the 20th match.
	sink := newRecordingSink()
	d := newTestDetector(t, sink)
	base := time.Now()

	for i := 0; i < 25; i++ {
		d.ProcessChat(protocol.ChatEvent{Message: "지창", UserID: "u", Nickname: "A", Flags: 0},
			base.Add(time.Duration(i)*400*time.Millisecond))
	}

	hot := sink.hotMoments()
	if len(hot) != 1 {
		t.Fatalf("got %d hot moments, want 1", len(hot))
	}
	rec := hot[0]
	if rec.Count != 20 {
		t.Errorf("count = %d, want 20", rec.Count)
	}
	if want := base.Add(19 * 400 * time.Millisecond); !rec.Time.Equal(want) {
		t.Errorf("time = %v, want %v (the 20th match)", rec.Time, want)
	}
	if sink.matches[KindJiChang] != 25 {
		t.Errorf("total matches = %d, want 25", sink.matches[KindJiChang])
	}
}

func TestWaveRequiresFullSpan(t *testing.T) {
	sink := newRecordingSink()
	d := newTestDetector(t, sink)
	base := time.Now()

	// 20 matches in 4s: hot moment fires, wave does not (span < window).
	for i := 0; i < 20; i++ {
		d.ProcessChat(chatAt("지창"), base.Add(time.Duration(i)*200*time.Millisecond))
	}
	if len(sink.waves) != 0 {
		t.Fatalf("wave fired on a %v span, want none", 19*200*time.Millisecond)
	}

	// Keep the burst going until the cycle has built for a full window.
	for i := 0; i < 31; i++ {
		d.ProcessChat(chatAt("지창"), base.Add(4*time.Second).Add(time.Duration(i)*200*time.Millisecond))
	}
	if len(sink.waves) != 1 {
		t.Errorf("got %d waves, want 1", len(sink.waves))
	}
}

func TestWaveAggregatesAcrossMemeKinds(t *testing.T) {
	sink := newRecordingSink()
	d := newTestDetector(t, sink)
	base := time.Now()

	// Alternate kinds so no single meme crosses its own threshold, while the
	// aggregate does once the span fills out.
	msgs := []string{"지창", "세신", "짜장면", "ㄷㅈㄹㄱ"}
	for i := 0; i < 44; i++ {
		d.ProcessChat(chatAt(msgs[i%len(msgs)]), base.Add(time.Duration(i)*250*time.Millisecond))
	}
	if len(sink.hot) != 0 {
		t.Errorf("no single meme should have crossed its threshold, got %d hot moments", len(sink.hot))
	}
	if len(sink.waves) != 1 {
		t.Errorf("got %d waves, want 1", len(sink.waves))
	}
}

func TestMultiMemeMessageCountsEach(t *testing.T) {
	sink := newRecordingSink()
	d := newTestDetector(t, sink)
	matched := d.ProcessChat(chatAt("지창 세신"), time.Now())
	if len(matched) != 2 {
		t.Fatalf("matched = %v, want two kinds", matched)
	}
	if sink.matches[KindJiChang] != 1 || sink.matches[KindSesin] != 1 {
		t.Errorf("matches = %v", sink.matches)
	}
}

func TestNonMatchingMessageOnlyCountsChat(t *testing.T) {
	sink := newRecordingSink()
	d := newTestDetector(t, sink)
	if matched := d.ProcessChat(chatAt("평범한 채팅"), time.Now()); matched != nil {
		t.Errorf("matched = %v, want none", matched)
	}
	if sink.chats != 1 {
		t.Errorf("chats = %d, want 1", sink.chats)
	}
}

func TestProcessDonation(t *testing.T) {
	sink := newRecordingSink()
	d := newTestDetector(t, sink)
	d.ProcessDonation(protocol.DonationEvent{Nickname: "후원자", Stars: 100})
	d.ProcessDonation(protocol.DonationEvent{Nickname: "후원자", Stars: 50})
	if sink.donations != 2 || sink.stars != 150 {
		t.Errorf("donations = %d stars = %d, want 2/150", sink.donations, sink.stars)
	}
}
