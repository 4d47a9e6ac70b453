package protocol

// Event is a decoded inbound frame of analytical interest. Values are
// immutable once constructed; workers may read them concurrently.
type Event interface {
	isEvent()
}

// ChatEvent is a viewer chat message (service 0005).
type ChatEvent struct {
	Message  string
	UserID   string
	Nickname string
	// Flags is the raw permission bitmask carried by the frame; badge labels
	// are derived lazily by the badge cache.
	Flags uint32
}

func (ChatEvent) isEvent() {}

// DonationEvent is a star-balloon donation (service 0018).
type DonationEvent struct {
	Nickname string
	Stars    int
}

func (DonationEvent) isEvent() {}
