package serialport

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kick_trigger/internal/frame"
	"github.com/relabs-tech/kick_trigger/internal/imu"
)

// fakePort serves a preset byte stream in fixed-size read chunks, the way
// a real UART returns whatever happens to be in the FIFO.
type fakePort struct {
	data      []byte
	chunkSize int
	off       int
}

func (p *fakePort) Read(buf []byte) (int, error) {
	if p.off >= len(p.data) {
		return 0, io.EOF
	}
	n := p.chunkSize
	if n > len(buf) {
		n = len(buf)
	}
	if p.off+n > len(p.data) {
		n = len(p.data) - p.off
	}
	copy(buf, p.data[p.off:p.off+n])
	p.off += n
	return n, nil
}

func (p *fakePort) Write(buf []byte) (int, error) { return len(buf), nil }
func (p *fakePort) Close() error                  { return nil }

func frameWithAz(az int16) []byte {
	buf := make([]byte, frame.Length)
	buf[0], buf[1] = 0x55, 0x61
	binary.LittleEndian.PutUint16(buf[6:], uint16(az))
	return buf
}

func newTestTransport(port io.ReadWriteCloser) *Transport {
	return &Transport{
		port:    port,
		done:    make(chan struct{}),
		dropped: make(chan struct{}),
	}
}

// decodeAll runs the transport's read loop to exhaustion and decodes every
// delivered payload.
func decodeAll(t *testing.T, tr *Transport) []imu.Sample {
	t.Helper()

	var samples []imu.Sample
	require.NoError(t, tr.EnableNotifications("", func(buf []byte) {
		samples = append(samples, frame.Decode(buf)...)
	}))

	select {
	case <-tr.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not finish")
	}
	return samples
}

func TestReadLoopReassemblesSplitFrames(t *testing.T) {
	// Five valid frames delivered in 12-byte reads: every frame straddles
	// a read boundary, none may be lost.
	var data []byte
	for az := int16(1); az <= 5; az++ {
		data = append(data, frameWithAz(az*100)...)
	}

	tr := newTestTransport(&fakePort{data: data, chunkSize: 12})
	samples := decodeAll(t, tr)

	require.Len(t, samples, 5)
	for i, s := range samples {
		assert.InDelta(t, imu.ScaleAccel(int16(i+1)*100), s.Az, 1e-12, "frame %d", i)
	}
}

func TestReadLoopSingleByteReads(t *testing.T) {
	// Degenerate FIFO behavior: one byte per read.
	var data []byte
	data = append(data, frameWithAz(100)...)
	data = append(data, frameWithAz(200)...)

	tr := newTestTransport(&fakePort{data: data, chunkSize: 1})
	samples := decodeAll(t, tr)

	require.Len(t, samples, 2)
	assert.InDelta(t, imu.ScaleAccel(100), samples[0].Az, 1e-12)
	assert.InDelta(t, imu.ScaleAccel(200), samples[1].Az, 1e-12)
}

func TestReadLoopResyncsAcrossReadBoundary(t *testing.T) {
	// Line noise before a frame, split so the junk and the header arrive
	// in different reads.
	data := append([]byte{0xDE, 0xAD, 0xBE}, frameWithAz(300)...)
	data = append(data, frameWithAz(400)...)

	tr := newTestTransport(&fakePort{data: data, chunkSize: 7})
	samples := decodeAll(t, tr)

	require.Len(t, samples, 2)
	assert.InDelta(t, imu.ScaleAccel(300), samples[0].Az, 1e-12)
	assert.InDelta(t, imu.ScaleAccel(400), samples[1].Az, 1e-12)
}
