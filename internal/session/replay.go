package session

import (
	"sync"
	"time"
)

// ReplayTransport feeds a recorded notification log through the session
// without hardware. Delivery mimics the real link: the byte log is chunked
// into notification-sized payloads emitted on a fixed interval from a
// single goroutine, satisfying the serialized-delivery contract.
type ReplayTransport struct {
	data     []byte
	chunk    int
	interval time.Duration

	mu     sync.Mutex
	writes [][]byte

	done      chan struct{}
	exhausted chan struct{}
	closeOnce sync.Once
}

// NewReplayTransport replays data in chunk-sized notifications, one every
// interval. A chunk of 0 defaults to the frame length; the last chunk may
// be shorter than the rest.
func NewReplayTransport(data []byte, chunk int, interval time.Duration) *ReplayTransport {
	if chunk <= 0 {
		chunk = 20
	}
	return &ReplayTransport{
		data:      data,
		chunk:     chunk,
		interval:  interval,
		done:      make(chan struct{}),
		exhausted: make(chan struct{}),
	}
}

// DiscoverServices reports the device's known service layout.
func (r *ReplayTransport) DiscoverServices() (ServiceSet, error) {
	return ServiceSet{Services: []Service{{
		ID: ServiceUUID,
		Characteristics: []Characteristic{
			{ID: NotifyCharUUID, Notify: true},
			{ID: WriteCharUUID, Write: true},
		},
	}}}, nil
}

// WriteCharacteristic records the command so tests and tooling can verify
// the handshake byte-for-byte.
func (r *ReplayTransport) WriteCharacteristic(id string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, append([]byte(nil), payload...))
	return nil
}

// Writes returns every payload written so far, in order.
func (r *ReplayTransport) Writes() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.writes))
	copy(out, r.writes)
	return out
}

// EnableNotifications starts the replay goroutine.
func (r *ReplayTransport) EnableNotifications(id string, handler func(buf []byte)) error {
	go func() {
		defer close(r.exhausted)
		for off := 0; off < len(r.data); off += r.chunk {
			end := off + r.chunk
			if end > len(r.data) {
				end = len(r.data)
			}
			select {
			case <-r.done:
				return
			case <-time.After(r.interval):
				handler(r.data[off:end])
			}
		}
	}()
	return nil
}

// Disconnected is closed once the log has been fully replayed or the
// transport is closed, mirroring a dropped link.
func (r *ReplayTransport) Disconnected() <-chan struct{} {
	return r.exhausted
}

// Close stops the replay.
func (r *ReplayTransport) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}
