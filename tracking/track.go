package tracking

import (
	"image"
	"math"

	"bladetrail/detection"
	"bladetrail/overlay"
)

// Track is one object followed across frames. Position holds the latest
// associated detection; Trail holds the positions rendered so far.
type Track struct {
	ID       int
	Position detection.OBB
	Trail    *overlay.Trail
}

// Render is one track to draw on the current frame.
type Render struct {
	Track *Track
	Pos   image.Point
}

// distance is the Euclidean distance between two box centers.
func distance(a, b detection.OBB) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// TrackSet is an insertion-ordered set of tracks keyed by ID. Membership
// changes return a new set and leave the receiver untouched.
type TrackSet struct {
	order []int
	byID  map[int]*Track
}

// Len returns the number of tracks.
func (s TrackSet) Len() int {
	return len(s.order)
}

// IDs returns a copy of the track IDs in insertion order.
func (s TrackSet) IDs() []int {
	ids := make([]int, len(s.order))
	copy(ids, s.order)
	return ids
}

// Get looks a track up by ID.
func (s TrackSet) Get(id int) (*Track, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// Tracks returns the tracks in insertion order.
func (s TrackSet) Tracks() []*Track {
	out := make([]*Track, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// With returns a set with t appended.
func (s TrackSet) With(t *Track) TrackSet {
	next := TrackSet{
		order: make([]int, 0, len(s.order)+1),
		byID:  make(map[int]*Track, len(s.order)+1),
	}
	for _, id := range s.order {
		next.order = append(next.order, id)
		next.byID[id] = s.byID[id]
	}
	next.order = append(next.order, t.ID)
	next.byID[t.ID] = t
	return next
}

// Without returns a set with the track id removed.
func (s TrackSet) Without(id int) TrackSet {
	if _, ok := s.byID[id]; !ok {
		return s
	}
	next := TrackSet{
		order: make([]int, 0, len(s.order)-1),
		byID:  make(map[int]*Track, len(s.order)-1),
	}
	for _, other := range s.order {
		if other == id {
			continue
		}
		next.order = append(next.order, other)
		next.byID[other] = s.byID[other]
	}
	return next
}

// Associate decides what a detection that is too far from the track
// evaluatedID means for the set. The evaluated track is dropped as lost
// when it is more than lostDistance from det. Any other track at exactly
// dist from det is treated as a duplicate: it is dropped and nothing is
// added. Otherwise seed(det) is appended as a new track.
//
// The exact float comparison and the duplicate rule are kept as shipped;
// both are open for product review.
func Associate(s TrackSet, evaluatedID int, dist float64, det detection.OBB, lostDistance float64, seed func(detection.OBB) *Track) TrackSet {
	next := s
	for _, id := range s.order {
		t := s.byID[id]
		d := distance(t.Position, det)

		if id == evaluatedID {
			if d > lostDistance {
				next = next.Without(id)
			}
			continue
		}

		if d == dist {
			return next.Without(id)
		}
	}
	return next.With(seed(det))
}
