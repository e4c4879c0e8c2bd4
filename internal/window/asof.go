package window

import (
	"sort"
	"time"
)

// Event is one row of a time-ordered sequence entering an asof match.
// Key is the join key (account, instrument, or a composite); Index points
// back into the caller's original slice.
type Event struct {
	Key       string
	Timestamp time.Time
	Index     int
}

// MatchPair links an A-side row to its matched B-side row by original index.
type MatchPair struct {
	A int
	B int
}

// AsofMatchForward matches each event in a to the nearest event in b with
// the same key, a timestamp >= the a event's timestamp, and within the
// tolerance window (inclusive at both ends). Each b event is consumed by at
// most one a event, scanning forward in time, so the match is injective
// from b's perspective. Ties on timestamp resolve by ascending original
// index, making the result deterministic for identical input.
//
// Single pass per partition after an O(n log n) sort.
func AsofMatchForward(a, b []Event, tolerance time.Duration) []MatchPair {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	byKey := func(evs []Event) map[string][]Event {
		m := make(map[string][]Event)
		for _, e := range evs {
			m[e.Key] = append(m[e.Key], e)
		}
		for _, part := range m {
			sort.Slice(part, func(i, j int) bool {
				if part[i].Timestamp.Equal(part[j].Timestamp) {
					return part[i].Index < part[j].Index
				}
				return part[i].Timestamp.Before(part[j].Timestamp)
			})
		}
		return m
	}

	aParts := byKey(a)
	bParts := byKey(b)

	keys := make([]string, 0, len(aParts))
	for k := range aParts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []MatchPair
	for _, k := range keys {
		aPart := aParts[k]
		bPart, ok := bParts[k]
		if !ok {
			continue
		}
		j := 0
		for _, ae := range aPart {
			// Skip b events strictly before the a event; an equal
			// timestamp is eligible.
			for j < len(bPart) && bPart[j].Timestamp.Before(ae.Timestamp) {
				j++
			}
			if j >= len(bPart) {
				break
			}
			if bPart[j].Timestamp.Sub(ae.Timestamp) <= tolerance {
				pairs = append(pairs, MatchPair{A: ae.Index, B: bPart[j].Index})
				j++ // consume: no b row matches twice
			}
		}
	}
	return pairs
}
