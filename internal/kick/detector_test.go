package kick

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	intensities []float64
}

func (r *recorder) kick(intensity float64) {
	r.intensities = append(r.intensities, intensity)
}

func TestTriggerAboveUpperThreshold(t *testing.T) {
	rec := &recorder{}
	d := NewDetector(rec.kick)

	const eps = 0.01
	d.Process(DefaultUpper + eps)

	require.Len(t, rec.intensities, 1)
	assert.InDelta(t, 1+eps/DefaultUpper, rec.intensities[0], 1e-12)
	assert.Equal(t, Disarmed, d.State())
}

func TestIntensityCappedAtTwo(t *testing.T) {
	rec := &recorder{}
	d := NewDetector(rec.kick)

	d.Process(DefaultUpper * 10)

	require.Len(t, rec.intensities, 1)
	assert.Equal(t, MaxIntensity, rec.intensities[0])
}

func TestExactThresholdDoesNotTrigger(t *testing.T) {
	rec := &recorder{}
	d := NewDetector(rec.kick)

	d.Process(DefaultUpper)
	assert.Empty(t, rec.intensities)
	assert.Equal(t, Armed, d.State())
}

func TestDeadbandAbsorbsRinging(t *testing.T) {
	rec := &recorder{}
	d := NewDetector(rec.kick)

	d.Process(2.0) // impact
	require.Len(t, rec.intensities, 1)

	// Decay ringing between the two thresholds must not re-fire or re-arm.
	for _, v := range []float64{1.4, 0.8, 0.3, 0.11, DefaultLower} {
		d.Process(v)
	}
	assert.Len(t, rec.intensities, 1)
	assert.Equal(t, Disarmed, d.State())
}

func TestRearmThenSecondKick(t *testing.T) {
	rec := &recorder{}
	d := NewDetector(rec.kick)

	d.Process(2.0) // first impact
	d.Process(0.05)
	assert.Equal(t, Armed, d.State())

	d.Process(1.8) // second impact past a trough
	assert.Len(t, rec.intensities, 2)
}

func TestResetForcesArmed(t *testing.T) {
	d := NewDetector(nil)
	d.Process(5.0)
	require.Equal(t, Disarmed, d.State())

	d.Reset()
	assert.Equal(t, Armed, d.State())

	// Reset while already armed is a no-op.
	d.Reset()
	assert.Equal(t, Armed, d.State())
}

func TestThresholdFloors(t *testing.T) {
	d := NewDetector(nil)

	d.SetUpperThreshold(0)
	d.SetLowerThreshold(-3)
	got := d.Thresholds()
	assert.Equal(t, minUpper, got.Upper)
	assert.Equal(t, minLower, got.Lower)

	d.SetThresholds(-1, -1)
	got = d.Thresholds()
	assert.Equal(t, minUpper, got.Upper)
	assert.Equal(t, minLower, got.Lower)
}

func TestThresholdChangeTakesEffectNextSample(t *testing.T) {
	rec := &recorder{}
	d := NewDetector(rec.kick)

	d.Process(1.0)
	assert.Empty(t, rec.intensities)

	d.SetUpperThreshold(0.5)
	d.Process(1.0)
	require.Len(t, rec.intensities, 1)
	assert.Equal(t, 2.0, rec.intensities[0])
}

func TestNonFiniteInputIgnored(t *testing.T) {
	rec := &recorder{}
	d := NewDetector(rec.kick)

	d.Process(math.NaN())
	d.Process(math.Inf(1))
	d.Process(math.Inf(-1))

	assert.Empty(t, rec.intensities)
	assert.Equal(t, Armed, d.State())
}

func TestNilHandlerStillTransitions(t *testing.T) {
	d := NewDetector(nil)
	d.Process(3.0)
	assert.Equal(t, Disarmed, d.State())
}
