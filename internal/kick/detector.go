// Package kick turns a stream of compensated acceleration magnitudes into
// discrete, debounced trigger events with an intensity value.
package kick

import (
	"math"
	"sync/atomic"
)

// State is the detector's hysteresis mode.
type State int

const (
	// Armed means the next magnitude above the upper threshold fires an event.
	Armed State = iota
	// Disarmed means the signal must first fall below the lower threshold.
	Disarmed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "disarmed"
}

// Thresholds is an immutable snapshot of the trigger and re-arm levels.
// Writers swap whole snapshots; Process reads one snapshot per sample, so a
// concurrent update can never expose a half-written pair.
type Thresholds struct {
	Upper float64 `json:"upper"` // g, trigger edge
	Lower float64 `json:"lower"` // g, re-arm edge
}

const (
	// DefaultUpper and DefaultLower are the factory trigger levels.
	DefaultUpper = 1.5
	DefaultLower = 0.1

	// Floors for the two thresholds. Values below these are clamped; no
	// relationship between upper and lower is enforced.
	minUpper = 0.1
	minLower = 0.01

	// MaxIntensity caps the event intensity so the downstream volume
	// mapping has a bounded input domain.
	MaxIntensity = 2.0
)

// Event is one detected kick. Intensity is the ratio of the signal to the
// trigger threshold, capped at MaxIntensity; it is not a calibrated
// physical unit. Order of emission is order of occurrence.
type Event struct {
	Intensity float64 `json:"intensity"`
}

// Detector is a two-state deadband hysteresis machine. Requiring the
// signal to fall below the lower threshold before re-arming absorbs a
// single impact's decay ringing, so one physical kick fires one event.
//
// Process and Reset must be called from a single goroutine (the transport's
// notification context); threshold setters may be called concurrently from
// a configuring thread.
type Detector struct {
	thresholds atomic.Pointer[Thresholds]
	state      State
	onKick     func(intensity float64)
}

// NewDetector returns an armed detector with factory thresholds. onKick is
// invoked synchronously from Process, at most once per sample; it may be nil.
func NewDetector(onKick func(intensity float64)) *Detector {
	d := &Detector{state: Armed, onKick: onKick}
	d.thresholds.Store(&Thresholds{Upper: DefaultUpper, Lower: DefaultLower})
	return d
}

// Process evaluates one compensated magnitude. Non-finite values are
// ignored: the decoder cannot produce them, so they only appear if a caller
// bypasses the pipeline.
func (d *Detector) Process(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	t := d.thresholds.Load()
	switch {
	case d.state == Armed && v > t.Upper:
		d.state = Disarmed
		if d.onKick != nil {
			d.onKick(math.Min(v/t.Upper, MaxIntensity))
		}
	case d.state == Disarmed && v < t.Lower:
		d.state = Armed
	}
}

// Reset forces the detector back to Armed. Called when the transport
// reconnects, so a stale high reading from before a disconnect cannot leave
// the detector stuck Disarmed.
func (d *Detector) Reset() {
	d.state = Armed
}

// State reports the current hysteresis mode, for diagnostics only.
func (d *Detector) State() State {
	return d.state
}

// Thresholds returns the current threshold snapshot.
func (d *Detector) Thresholds() Thresholds {
	return *d.thresholds.Load()
}

// SetUpperThreshold clamps v to the upper floor and installs it. Takes
// effect on the next Process call.
func (d *Detector) SetUpperThreshold(v float64) {
	t := *d.thresholds.Load()
	t.Upper = math.Max(v, minUpper)
	d.thresholds.Store(&t)
}

// SetLowerThreshold clamps v to the lower floor and installs it.
func (d *Detector) SetLowerThreshold(v float64) {
	t := *d.thresholds.Load()
	t.Lower = math.Max(v, minLower)
	d.thresholds.Store(&t)
}

// SetThresholds installs both levels in one snapshot swap.
func (d *Detector) SetThresholds(upper, lower float64) {
	d.thresholds.Store(&Thresholds{
		Upper: math.Max(upper, minUpper),
		Lower: math.Max(lower, minLower),
	})
}
