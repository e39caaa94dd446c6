// Package ble adapts a Bluetooth Low Energy central connection to the
// session's transport interface.
package ble

import (
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/relabs-tech/kick_trigger/internal/session"
)

// Transport is a connected BLE link to the sensor.
type Transport struct {
	device bluetooth.Device

	mu    sync.Mutex
	chars map[string]bluetooth.DeviceCharacteristic

	disconnected chan struct{}
	closeOnce    sync.Once
}

// Connect scans for the named sensor, connects, and returns a transport
// ready for service discovery. The scan is bounded by timeout; deciding how
// long to wait is the caller's job, not the session's.
func Connect(name string, timeout time.Duration) (*Transport, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	t := &Transport{
		chars:        make(map[string]bluetooth.DeviceCharacteristic),
		disconnected: make(chan struct{}),
	}

	adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if !connected {
			t.closeOnce.Do(func() { close(t.disconnected) })
		}
	})

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.LocalName() != name {
				return
			}
			a.StopScan()
			select {
			case found <- result:
			default:
			}
		})
	}()

	var result bluetooth.ScanResult
	select {
	case result = <-found:
	case err := <-scanErr:
		return nil, fmt.Errorf("ble: scan: %w", err)
	case <-time.After(timeout):
		adapter.StopScan()
		return nil, fmt.Errorf("ble: device %q not found within %s", name, timeout)
	}

	log.Printf("ble: found %q (%s, RSSI %d), connecting", name, result.Address, result.RSSI)

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", result.Address, err)
	}
	t.device = device
	return t, nil
}

// DiscoverServices enumerates every service and characteristic on the
// device. The GATT client API does not expose per-characteristic property
// bits, so capability flags default to permissive and the session's
// capability probe narrows the choice.
func (t *Transport) DiscoverServices() (session.ServiceSet, error) {
	services, err := t.device.DiscoverServices(nil)
	if err != nil {
		return session.ServiceSet{}, fmt.Errorf("ble: discover services: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var set session.ServiceSet
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return session.ServiceSet{}, fmt.Errorf("ble: discover characteristics of %s: %w", svc.UUID(), err)
		}
		entry := session.Service{ID: svc.UUID().String()}
		for _, c := range chars {
			id := c.UUID().String()
			t.chars[id] = c
			entry.Characteristics = append(entry.Characteristics, session.Characteristic{
				ID:     id,
				Notify: true,
				Write:  true,
			})
		}
		set.Services = append(set.Services, entry)
	}
	return set, nil
}

// WriteCharacteristic sends a command to the sensor. The stack's
// synchronous return is the completion acknowledgment.
func (t *Transport) WriteCharacteristic(id string, payload []byte) error {
	c, err := t.lookup(id)
	if err != nil {
		return err
	}
	if _, err := c.WriteWithoutResponse(payload); err != nil {
		return fmt.Errorf("ble: write %s: %w", id, err)
	}
	return nil
}

// EnableNotifications subscribes to the telemetry characteristic. The stack
// invokes handler serially from its own goroutine, which satisfies the
// session's in-order delivery requirement.
func (t *Transport) EnableNotifications(id string, handler func(buf []byte)) error {
	c, err := t.lookup(id)
	if err != nil {
		return err
	}
	if err := c.EnableNotifications(handler); err != nil {
		return fmt.Errorf("ble: enable notifications on %s: %w", id, err)
	}
	return nil
}

// Disconnected is closed when the peripheral drops the link.
func (t *Transport) Disconnected() <-chan struct{} {
	return t.disconnected
}

// Close drops the connection. Always safe; this is the only cancellation
// primitive the pipeline needs.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.disconnected) })
	return t.device.Disconnect()
}

func (t *Transport) lookup(id string) (bluetooth.DeviceCharacteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.chars[id]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: characteristic %s not discovered", id)
	}
	return c, nil
}
