package frame

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kick_trigger/internal/imu"
)

// makeFrame builds a valid 20-byte frame from nine raw fields.
func makeFrame(fields [9]int16) []byte {
	buf := make([]byte, Length)
	buf[0] = 0x55
	buf[1] = 0x61
	for i, f := range fields {
		binary.LittleEndian.PutUint16(buf[2+2*i:], uint16(f))
	}
	return buf
}

func TestDecodeSingleFrame(t *testing.T) {
	// Raw frame from the wire: az = 0x00C8 = 200.
	buf := []byte{
		0x55, 0x61,
		0x00, 0x00, 0x00, 0x00, 0xC8, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	samples := Decode(buf)
	require.Len(t, samples, 1)
	assert.InDelta(t, 0.09765625, samples[0].AccelMagnitude, 1e-12)
	assert.Equal(t, 0.0, samples[0].CompensatedMagnitude)
}

func TestDecodeConcatenatedFrames(t *testing.T) {
	first := makeFrame([9]int16{100, 200, 300, 0, 0, 0, 0, 0, 0})
	second := makeFrame([9]int16{-100, -200, -300, 10, 20, 30, 40, 50, 60})

	buf := append(append([]byte{}, first...), second...)
	samples := Decode(buf)
	require.Len(t, samples, 2)

	// Each matches independent single-frame decoding, in order.
	assert.Equal(t, Decode(first)[0], samples[0])
	assert.Equal(t, Decode(second)[0], samples[1])
}

func TestDecodeResynchronizesAfterStrayBytes(t *testing.T) {
	valid := makeFrame([9]int16{1, 2, 3, 4, 5, 6, 7, 8, 9})

	// One stray byte before a valid frame.
	buf := append([]byte{0x00}, valid...)
	skipped := 0
	var samples []imu.Sample
	skipped = DecodeFunc(buf, func(s imu.Sample) { samples = append(samples, s) })
	require.Len(t, samples, 1)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, Decode(valid)[0], samples[0])

	// A lone 0x55 is not a header without the 0x61 that follows it.
	buf = append([]byte{0x55, 0x00, 0xFF}, valid...)
	samples = Decode(buf)
	require.Len(t, samples, 1)
}

func TestDecodeShortBuffer(t *testing.T) {
	assert.Empty(t, Decode(nil))
	assert.Empty(t, Decode([]byte{0x55, 0x61}))
	assert.Empty(t, Decode(makeFrame([9]int16{})[:Length-1]))
}

func TestDecodeTruncatedTrailingFrame(t *testing.T) {
	full := makeFrame([9]int16{1, 2, 3, 0, 0, 0, 0, 0, 0})
	buf := append(append([]byte{}, full...), full[:10]...)

	samples := Decode(buf)
	// The trailing partial frame yields nothing; no error, no panic.
	require.Len(t, samples, 1)
}

func TestAlignedPrefix(t *testing.T) {
	full := makeFrame([9]int16{1, 2, 3, 0, 0, 0, 0, 0, 0})

	tests := []struct {
		name string
		buf  []byte
		want int
	}{
		{"empty", nil, 0},
		{"shorter than a frame", full[:19], 0},
		{"exactly one frame", full, Length},
		{"frame plus partial tail", append(append([]byte{}, full...), full[:10]...), Length},
		{"junk then frame", append([]byte{0xDE, 0xAD}, full...), 2 + Length},
		{"junk tail held back", append(append([]byte{}, full...), 0xDE, 0xAD), Length},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AlignedPrefix(tc.buf))
		})
	}
}

func TestAlignedPrefixMatchesDecodeConsumption(t *testing.T) {
	// Delivering buf[:AlignedPrefix(buf)] must decode the same samples as
	// delivering buf whole.
	full := makeFrame([9]int16{10, 20, 30, 0, 0, 0, 0, 0, 0})
	buf := append([]byte{0x55}, full...) // lone header byte, then a frame
	buf = append(buf, full[:7]...)       // partial tail

	cut := AlignedPrefix(buf)
	assert.Equal(t, Decode(buf), Decode(buf[:cut]))
}

func TestDecodePureNoise(t *testing.T) {
	noise := make([]byte, 200)
	for i := range noise {
		noise[i] = byte(i * 7) // never forms the 0x55 0x61 header pair
	}
	var count int
	skipped := DecodeFunc(noise, func(imu.Sample) { count++ })
	assert.Zero(t, count)
	assert.Equal(t, len(noise)-Length+1, skipped)
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte{})
	f.Add(makeFrame([9]int16{1, 2, 3, 4, 5, 6, 7, 8, 9}))
	f.Add([]byte{0x55, 0x61, 0x55, 0x61})
	f.Fuzz(func(t *testing.T, buf []byte) {
		samples := Decode(buf)
		// A frame consumes 20 bytes, so the sample count is bounded by the
		// buffer length regardless of content.
		if len(samples) > len(buf)/Length {
			t.Fatalf("decoded %d samples from %d bytes", len(samples), len(buf))
		}
		for _, s := range samples {
			if s.CompensatedMagnitude < 0 {
				t.Fatalf("negative compensated magnitude %v", s.CompensatedMagnitude)
			}
		}
	})
}
