// Package badge derives display badge labels from the raw permission bitmask
// carried on chat frames. Decoding is pure and cheap, but the visible audience
// is dominated by a handful of repeat chatters whose bitmask recurs on every
// message, so results are memoized in a fixed-capacity LRU.
package badge

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Known permission bits. Only bits with a user-visible meaning get a label;
// the rest of the mask is ignored.
const (
	flagAdmin       = 1 << 0
	flagHidden      = 1 << 1
	flagBroadcaster = 1 << 2
	flagMuted       = 1 << 3
	flagGuest       = 1 << 4
	flagFanclub     = 1 << 5
	flagAutoManager = 1 << 6
	flagManagerList = 1 << 7
	flagManager     = 1 << 8
	flagFemale      = 1 << 9
	flagAutoMuted   = 1 << 10
	flagMuteBlind   = 1 << 11
	flagExited      = 1 << 13
	flagMobile      = 1 << 14
	flagTopFan      = 1 << 15
	flagRealName    = 1 << 16
	flagQuickView   = 1 << 19
	flagSupporter   = 1 << 20
)

var flagLabels = []struct {
	bit   uint32
	label string
}{
	{flagAdmin, "admin"},
	{flagHidden, "hidden"},
	{flagBroadcaster, "broadcaster"},
	{flagMuted, "muted"},
	{flagGuest, "guest"},
	{flagFanclub, "fanclub"},
	{flagAutoManager, "auto_manager"},
	{flagManagerList, "manager_list"},
	{flagManager, "manager"},
	{flagFemale, "female"},
	{flagAutoMuted, "auto_muted"},
	{flagMuteBlind, "mute_blind"},
	{flagExited, "exited"},
	{flagMobile, "mobile"},
	{flagTopFan, "top_fan"},
	{flagRealName, "real_name"},
	{flagQuickView, "quick_view"},
	{flagSupporter, "supporter"},
}

// decode is the pure bit decomposition. Label order follows bit order, so
// equal masks always yield equal slices.
func decode(mask uint32) []string {
	var labels []string
	for _, f := range flagLabels {
		if mask&f.bit != 0 {
			labels = append(labels, f.label)
		}
	}
	return labels
}

// Cache memoizes badge decoding keyed by the raw bitmask. Safe for concurrent
// callers. Callers must not mutate returned slices.
type Cache struct {
	entries *lru.Cache[uint32, []string]
}

// NewCache creates a cache bounded to size entries with LRU eviction.
func NewCache(size int) (*Cache, error) {
	entries, err := lru.New[uint32, []string](size)
	if err != nil {
		return nil, fmt.Errorf("badge cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Flags returns the badge labels for a permission bitmask. A miss computes the
// decomposition once and inserts before returning.
func (c *Cache) Flags(mask uint32) []string {
	if labels, ok := c.entries.Get(mask); ok {
		return labels
	}
	labels := decode(mask)
	c.entries.Add(mask, labels)
	return labels
}

// Len reports the number of cached masks.
func (c *Cache) Len() int { return c.entries.Len() }
