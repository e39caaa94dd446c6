// Package serialport drives the UART variant of the sensor. The wire
// framing and the configuration commands are identical to the BLE variant;
// a synthetic service set keeps the session handshake uniform.
package serialport

import (
	"fmt"
	"io"
	"log"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/kick_trigger/internal/frame"
	"github.com/relabs-tech/kick_trigger/internal/session"
)

// Transport is an open serial link to the sensor.
type Transport struct {
	port io.ReadWriteCloser

	handler   func([]byte)
	done      chan struct{}
	dropped   chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

// Open opens the sensor's serial port. 8N1 framing, matching the device's
// default UART configuration.
func Open(portName string, baudRate uint) (*Transport, error) {
	opts := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", portName, err)
	}
	log.Printf("serialport: opened %s at %d baud", portName, baudRate)

	return &Transport{
		port:    port,
		done:    make(chan struct{}),
		dropped: make(chan struct{}),
	}, nil
}

// DiscoverServices synthesizes the device's known service layout: a serial
// port has no GATT database, but the session protocol does not care.
func (t *Transport) DiscoverServices() (session.ServiceSet, error) {
	return session.ServiceSet{Services: []session.Service{{
		ID: session.ServiceUUID,
		Characteristics: []session.Characteristic{
			{ID: session.NotifyCharUUID, Notify: true},
			{ID: session.WriteCharUUID, Write: true},
		},
	}}}, nil
}

// WriteCharacteristic sends a command straight to the port.
func (t *Transport) WriteCharacteristic(id string, payload []byte) error {
	if _, err := t.port.Write(payload); err != nil {
		return fmt.Errorf("serialport: write: %w", err)
	}
	return nil
}

// EnableNotifications starts the read loop. The loop is the single
// producer, so delivery is serialized by construction.
func (t *Transport) EnableNotifications(id string, handler func(buf []byte)) error {
	t.handler = handler
	go t.readLoop()
	return nil
}

// readLoop reassembles the raw byte stream into frame-aligned notification
// payloads. Unlike the BLE link, a serial Read returns at arbitrary
// boundaries (MinimumReadSize is 1), so bytes past the last complete frame
// are carried over to the next read instead of being handed to the decoder,
// which would discard an incomplete tail.
func (t *Transport) readLoop() {
	buf := make([]byte, 256)
	var pending []byte
	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			select {
			case <-t.done:
			default:
				log.Printf("serialport: read error: %v", err)
			}
			t.dropOnce.Do(func() { close(t.dropped) })
			return
		}
		if n == 0 {
			continue
		}

		pending = append(pending, buf[:n]...)
		if cut := frame.AlignedPrefix(pending); cut > 0 {
			t.handler(pending[:cut])
			pending = append(pending[:0], pending[cut:]...)
		}
	}
}

// Disconnected is closed when the read loop dies (unplugged adapter, port
// error) or the transport is closed.
func (t *Transport) Disconnected() <-chan struct{} {
	return t.dropped
}

// Close stops the read loop and closes the port.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.port.Close()
		t.dropOnce.Do(func() { close(t.dropped) })
	})
	return err
}
