// Package tracking links per-frame detections into tracks using center
// distance only: no motion model and no appearance features.
package tracking

import (
	"bladetrail/detection"
	"bladetrail/logger"
	"bladetrail/overlay"
)

// Config holds the association thresholds, in pixels.
type Config struct {
	MatchDistance float64 // closer than this: same object
	LostDistance  float64 // farther than this: evaluated track is lost
	MaxTracks     int     // set is reset when a new track would exceed this
	MaxTrail      int     // positions kept per trail
}

// DefaultConfig returns the thresholds the overlay was tuned with.
func DefaultConfig() Config {
	return Config{
		MatchDistance: 100,
		LostDistance:  300,
		MaxTracks:     50,
		MaxTrail:      overlay.DefaultMaxTrail,
	}
}

// Manager owns the track set for one video. It is not safe for
// concurrent use; frames must be fed in order.
type Manager struct {
	cfg    Config
	tracks TrackSet
	nextID int
	resets int
}

// NewManager returns a Manager with an empty track set.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, nextID: 1}
}

// Update feeds the detections of one frame and returns every current
// track with the position to render. A frame without detections leaves
// the set untouched and renders nothing.
func (m *Manager) Update(dets []detection.OBB) []Render {
	if len(dets) == 0 {
		return nil
	}

	for _, det := range dets {
		m.apply(det)
	}

	renders := make([]Render, 0, m.tracks.Len())
	for _, t := range m.tracks.Tracks() {
		renders = append(renders, Render{Track: t, Pos: t.Position.Center()})
	}
	return renders
}

func (m *Manager) apply(det detection.OBB) {
	if m.tracks.Len() == 0 {
		m.tracks = m.tracks.With(m.seed(det))
		return
	}

	for _, id := range m.tracks.IDs() {
		t, ok := m.tracks.Get(id)
		if !ok {
			// dropped earlier in this pass
			continue
		}

		d := distance(t.Position, det)
		switch {
		case d < m.cfg.MatchDistance:
			t.Position = det
		case d > m.cfg.MatchDistance:
			if m.tracks.Len() >= m.cfg.MaxTracks {
				// Hard cap: the whole set is discarded rather than evicting
				// the oldest track. Kept as shipped, flagged for review.
				m.reset()
				return
			}
			m.tracks = Associate(m.tracks, id, d, det, m.cfg.LostDistance, m.seed)
		}
	}
}

func (m *Manager) seed(det detection.OBB) *Track {
	t := &Track{
		ID:       m.nextID,
		Position: det,
		Trail:    overlay.NewTrail(m.cfg.MaxTrail),
	}
	m.nextID++
	return t
}

func (m *Manager) reset() {
	logger.For("TRACKING").Debugw("track cap reached, resetting track set",
		logger.FieldTracks, m.tracks.Len())
	m.tracks = TrackSet{}
	m.resets++
}

// Tracks returns the current tracks in insertion order.
func (m *Manager) Tracks() []*Track {
	return m.tracks.Tracks()
}

// Len returns the number of current tracks.
func (m *Manager) Len() int {
	return m.tracks.Len()
}

// Resets returns how many times the cap emptied the set.
func (m *Manager) Resets() int {
	return m.resets
}
