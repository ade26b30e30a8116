package transport

import (
	"sort"
	"time"
)

// MaxNatHistory bounds the number of points kept in a NatHistory.
const MaxNatHistory = 2048

// NatPointKind classifies a NatDataPoint.
type NatPointKind uint8

const (
	// NatEdgeCreated records a new edge
	NatEdgeCreated NatPointKind = iota + 1
	// NatEdgeClosed records an edge removal
	NatEdgeClosed
	// NatLocalMappingChanged records a new peer view of our address
	NatLocalMappingChanged
)

// NatDataPoint is one observation about how peers see this node.
type NatDataPoint struct {
	Kind       NatPointKind
	At         time.Time
	EdgeNumber int
	RemoteTA   *TransportAddress
	// PeerView is set for NatLocalMappingChanged points.
	PeerView *TransportAddress
}

// NatHistory is an immutable, oldest first list of observations. Add
// returns a new history and leaves the receiver untouched.
type NatHistory []NatDataPoint

// Add returns a copy of h with p appended, dropping the oldest points
// beyond MaxNatHistory.
func (h NatHistory) Add(p NatDataPoint) NatHistory {
	start := 0
	if len(h) >= MaxNatHistory {
		start = len(h) - MaxNatHistory + 1
	}
	out := make(NatHistory, 0, len(h)-start+1)
	out = append(out, h[start:]...)
	return append(out, p)
}

// PeerViewTAs returns the distinct addresses peers reported for us, most
// frequently reported first and most recent first on ties.
func (h NatHistory) PeerViewTAs() []*TransportAddress {
	type tally struct {
		ta    *TransportAddress
		count int
		last  int
	}
	byKey := make(map[string]*tally)
	for i, p := range h {
		if p.Kind != NatLocalMappingChanged || p.PeerView == nil {
			continue
		}
		t, ok := byKey[p.PeerView.String()]
		if !ok {
			t = &tally{ta: p.PeerView}
			byKey[p.PeerView.String()] = t
		}
		t.count++
		t.last = i
	}
	tallies := make([]*tally, 0, len(byKey))
	for _, t := range byKey {
		tallies = append(tallies, t)
	}
	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].count != tallies[j].count {
			return tallies[i].count > tallies[j].count
		}
		return tallies[i].last > tallies[j].last
	})
	out := make([]*TransportAddress, 0, len(tallies))
	for _, t := range tallies {
		out = append(out, t.ta)
	}
	return out
}

// NatTAs lists the addresses worth advertising: what peers see first,
// then the locally configured addresses as a last resort.
func NatTAs(local []*TransportAddress, h NatHistory) []*TransportAddress {
	out := h.PeerViewTAs()
	for _, ta := range local {
		dup := false
		for _, seen := range out {
			if seen.Equal(ta) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, ta)
		}
	}
	return out
}
