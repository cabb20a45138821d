// Package anomaly maintains per-identity suspicion scores from observed
// security events and escalates repeat offenders to a hard block.
package anomaly

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/halcyonsec/aegis/internal/types"
)

// Level buckets a raw suspicion score for reporting.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

func (l Level) String() string {
	return string(l)
}

const (
	// DefaultBlockThreshold hard-blocks an identity once its score strictly
	// exceeds it.
	DefaultBlockThreshold = 100.0
	// DefaultHighThreshold and DefaultMediumThreshold bound the reported
	// suspicion levels.
	DefaultHighThreshold   = 50.0
	DefaultMediumThreshold = 20.0
	// DefaultMaxIdentities bounds the record cache.
	DefaultMaxIdentities = 10000

	// eventWindow is how long raw event timestamps are retained per
	// (identity, event type) pair. The window feeds future pattern
	// analysis; blocking decisions read only the cumulative score.
	eventWindow = time.Hour
)

// scoreDeltas is the fixed additive scoring table. The score has no
// time-based decay: it only falls through accumulated normal-request
// credits, so an identity rehabilitates by behaving well repeatedly.
var scoreDeltas = map[types.EventType]float64{
	types.EventBlockedInjection: 10,
	types.EventBlockedPattern:   5,
	types.EventRapidRequests:    3,
	types.EventNormalRequest:    -0.5,
}

// record holds one identity's mutable suspicion state.
type record struct {
	mu     sync.Mutex
	score  float64
	events map[types.EventType][]time.Time
}

// Scorer tracks suspicion per identity. Records live in a bounded LRU
// cache; evicted identities start clean on return.
type Scorer struct {
	blockThreshold  float64
	highThreshold   float64
	mediumThreshold float64

	mu      sync.Mutex
	records *lru.Cache[string, *record]

	now func() time.Time
}

// New creates a Scorer. Thresholds must satisfy
// medium < high < block; anything else is a configuration error.
func New(blockThreshold, highThreshold, mediumThreshold float64, maxIdentities int) (*Scorer, error) {
	if !(mediumThreshold < highThreshold && highThreshold < blockThreshold) {
		return nil, fmt.Errorf(
			"thresholds must be ordered medium < high < block, got %g/%g/%g",
			mediumThreshold, highThreshold, blockThreshold)
	}
	if maxIdentities < 1 {
		return nil, fmt.Errorf("max identities must be at least 1, got %d", maxIdentities)
	}

	cache, err := lru.New[string, *record](maxIdentities)
	if err != nil {
		return nil, fmt.Errorf("creating record cache: %w", err)
	}

	return &Scorer{
		blockThreshold:  blockThreshold,
		highThreshold:   highThreshold,
		mediumThreshold: mediumThreshold,
		records:         cache,
		now:             time.Now,
	}, nil
}

// RecordEvent applies the scoring delta for eventType to the identity and
// retains the event timestamp in the rolling window. Event types outside
// the scoring table contribute zero but are still windowed. The score never
// goes negative.
func (s *Scorer) RecordEvent(identity string, eventType types.EventType) {
	r := s.recordFor(identity)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.score += scoreDeltas[eventType]
	if r.score < 0 {
		r.score = 0
	}

	now := s.now()
	cutoff := now.Add(-eventWindow)
	kept := r.events[eventType][:0]
	for _, ts := range r.events[eventType] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.events[eventType] = append(kept, now)
}

// SuspicionLevel reports the identity's current level.
func (s *Scorer) SuspicionLevel(identity string) Level {
	score := s.Score(identity)
	switch {
	case score > s.highThreshold:
		return LevelHigh
	case score > s.mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ShouldBlock reports whether the identity's score strictly exceeds the
// block threshold.
func (s *Scorer) ShouldBlock(identity string) bool {
	return s.Score(identity) > s.blockThreshold
}

// Score returns the identity's raw cumulative score.
func (s *Scorer) Score(identity string) float64 {
	s.mu.Lock()
	r, ok := s.records.Get(identity)
	s.mu.Unlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score
}

// EventCount returns how many events of the given type fall inside the
// rolling window for the identity. Extension point for pattern analysis;
// not consumed by blocking logic.
func (s *Scorer) EventCount(identity string, eventType types.EventType) int {
	s.mu.Lock()
	r, ok := s.records.Get(identity)
	s.mu.Unlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := s.now().Add(-eventWindow)
	count := 0
	for _, ts := range r.events[eventType] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

func (s *Scorer) recordFor(identity string) *record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records.Get(identity); ok {
		return r
	}
	r := &record{events: make(map[types.EventType][]time.Time)}
	s.records.Add(identity, r)
	return r
}
