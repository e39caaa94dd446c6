// Package audio synthesizes short kick drum samples so detected kicks
// can be auditioned without shipping binary assets.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
)

const (
	// SampleRate is the output sample rate in Hz.
	SampleRate = 44100
	// Duration of every generated kick in seconds.
	Duration = 0.5
)

// KickSpec describes one kick drum variation.
type KickSpec struct {
	Name     string
	BaseFreq float64 // Hz, sweeps down to BaseFreq/4
	Decay    float64 // amplitude decay time constant in seconds
}

// StockKicks are the four built-in variations, ordered soft to hard.
var StockKicks = []KickSpec{
	{Name: "kick1", BaseFreq: 55, Decay: 0.4},  // deep
	{Name: "kick2", BaseFreq: 70, Decay: 0.25}, // punchy
	{Name: "kick3", BaseFreq: 85, Decay: 0.2},  // tight
	{Name: "kick4", BaseFreq: 50, Decay: 0.5},  // sub
}

// Generate synthesizes one kick as normalized 16-bit PCM samples.
// The sound is a sine with an exponential frequency sweep and decay
// envelope, plus a short noise click at the start for punch.
func Generate(spec KickSpec) []int16 {
	n := int(SampleRate * Duration)
	kick := make([]float64, n)

	// Frequency sweeps from BaseFreq toward zero with a time constant
	// of one tenth of the duration. Phase is the integral of frequency.
	phase := 0.0
	peak := 0.0
	for i := 0; i < n; i++ {
		t := Duration * float64(i) / float64(n)
		freq := spec.BaseFreq * math.Exp(-t/(Duration*0.1))
		phase += 2 * math.Pi * freq / SampleRate
		kick[i] = math.Sin(phase) * math.Exp(-t/spec.Decay)
	}

	// Noise click over the first 5 ms.
	clickSamples := SampleRate * 5 / 1000
	for i := 0; i < clickSamples && i < n; i++ {
		env := math.Exp(-10 * float64(i) / float64(clickSamples))
		kick[i] += rand.NormFloat64() * 0.3 * env
	}

	for _, v := range kick {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		peak = 1
	}

	out := make([]int16, n)
	for i, v := range kick {
		out[i] = int16(v / peak * 32767)
	}
	return out
}

// WriteWAV writes samples as a mono 16-bit PCM WAV stream.
func WriteWAV(w io.Writer, samples []int16) error {
	dataLen := uint32(len(samples) * 2)

	var header [44]byte
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], 36+dataLen)
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(header[20:], 1)  // PCM format
	binary.LittleEndian.PutUint16(header[22:], 1)  // mono
	binary.LittleEndian.PutUint32(header[24:], SampleRate)
	binary.LittleEndian.PutUint32(header[28:], SampleRate*2) // byte rate
	binary.LittleEndian.PutUint16(header[32:], 2)            // block align
	binary.LittleEndian.PutUint16(header[34:], 16)           // bits per sample
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], dataLen)

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	pcm := make([]byte, dataLen)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	return nil
}

// VolumeForIntensity maps a kick intensity (0..2) to playback volume (0..1).
func VolumeForIntensity(intensity float64) float64 {
	v := intensity / 2
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// KickForIntensity picks a stock kick for the given intensity, harder
// kicks getting the tighter, higher-pitched variations.
func KickForIntensity(intensity float64) KickSpec {
	idx := int(VolumeForIntensity(intensity) * float64(len(StockKicks)))
	if idx >= len(StockKicks) {
		idx = len(StockKicks) - 1
	}
	return StockKicks[idx]
}
