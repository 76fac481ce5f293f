package features

import (
	"math"
	"sync"
	"time"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// DefaultWindow is how far apart in event time two pieces of evidence may be
// and still be correlated.
const DefaultWindow = 5 * time.Minute

type anomaly struct {
	at      int64
	deltaKg float64
}

type facilityEvidence struct {
	latest    int64 // highest event time seen, drives eviction
	anomalies []anomaly
	invalid   []int64
}

// Evidence is the set of correlated fields a source measures itself.
type Evidence uint8

const (
	// OwnsToken marks a vector whose token validity came from a verdict.
	OwnsToken Evidence = 1 << iota
	// OwnsWeight marks a vector whose weight fields came from a scale.
	OwnsWeight
)

// Correlator remembers recent weight anomalies and invalid tokens per
// facility and folds them into vectors from the other sources. Matching is
// symmetric in event time, so arrival order does not matter.
type Correlator struct {
	window int64 // seconds

	mu         sync.Mutex
	facilities map[string]*facilityEvidence
}

// NewCorrelator creates a correlator with the given window, or DefaultWindow
// when window is not positive.
func NewCorrelator(window time.Duration) *Correlator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Correlator{
		window:     int64(window / time.Second),
		facilities: make(map[string]*facilityEvidence),
	}
}

// Correlate records the evidence fv owns and then merges matching window
// evidence into the fields it does not own. Events without a facility are
// left alone.
func (c *Correlator) Correlate(facility string, at int64, owns Evidence, fv *models.FeatureVector) {
	if facility == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ev := c.facilities[facility]
	if ev == nil {
		ev = &facilityEvidence{}
		c.facilities[facility] = ev
	}
	if at > ev.latest {
		ev.latest = at
		c.evict(ev)
	}

	if owns&OwnsWeight != 0 && fv.WeightAnomaly == 1 {
		ev.anomalies = append(ev.anomalies, anomaly{at: at, deltaKg: fv.WeightDeltaKg})
	}
	if owns&OwnsToken != 0 && fv.TokenSignatureValid == 0 {
		ev.invalid = append(ev.invalid, at)
	}

	if owns&OwnsWeight == 0 {
		var best *anomaly
		for i := range ev.anomalies {
			a := &ev.anomalies[i]
			if !c.within(at, a.at) {
				continue
			}
			if best == nil || math.Abs(a.deltaKg) > math.Abs(best.deltaKg) {
				best = a
			}
		}
		if best != nil {
			fv.WeightAnomaly = 1
			fv.WeightDeltaKg = best.deltaKg
		}
	}

	if owns&OwnsToken == 0 {
		for _, ts := range ev.invalid {
			if c.within(at, ts) {
				fv.TokenSignatureValid = 0
				break
			}
		}
	}
}

// Len returns the number of facilities with retained evidence.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.facilities)
}

// Sweep drops facilities whose newest evidence is older than the window
// relative to now.
func (c *Correlator) Sweep(now time.Time) {
	cutoff := now.Unix() - c.window

	c.mu.Lock()
	defer c.mu.Unlock()
	for facility, ev := range c.facilities {
		if ev.latest < cutoff {
			delete(c.facilities, facility)
		}
	}
}

func (c *Correlator) within(a, b int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= c.window
}

// evict drops evidence more than two windows behind the newest event time,
// which still leaves room for late arrivals.
func (c *Correlator) evict(ev *facilityEvidence) {
	cutoff := ev.latest - 2*c.window

	kept := ev.anomalies[:0]
	for _, a := range ev.anomalies {
		if a.at >= cutoff {
			kept = append(kept, a)
		}
	}
	ev.anomalies = kept

	keptTS := ev.invalid[:0]
	for _, ts := range ev.invalid {
		if ts >= cutoff {
			keptTS = append(keptTS, ts)
		}
	}
	ev.invalid = keptTS
}
