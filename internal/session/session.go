// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session drives the strictly ordered handshake that brings the
// sensor transport from idle to streaming telemetry, then routes each
// notification payload through the frame decoder into the kick detector.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/relabs-tech/kick_trigger/internal/frame"
	"github.com/relabs-tech/kick_trigger/internal/imu"
	"github.com/relabs-tech/kick_trigger/internal/kick"
)

// GATT identifiers of the telemetry device. The UART transport synthesizes
// a service set with the same identifiers so the handshake stays uniform.
const (
	ServiceUUID    = "0000ffe5-0000-1000-8000-00805f9a34fb"
	NotifyCharUUID = "0000ffe4-0000-1000-8000-00805f9a34fb"
	WriteCharUUID  = "0000ffe9-0000-1000-8000-00805f9a34fb"
)

// Configuration commands written during the handshake. Opaque 5-byte
// sequences fixed by the device firmware.
var (
	cmdUnlock     = []byte{0xFF, 0xAA, 0x69, 0x88, 0xB5}
	cmdRate100Hz  = []byte{0xFF, 0xAA, 0x03, 0x09, 0x00}
	cmdSaveConfig = []byte{0xFF, 0xAA, 0x00, 0x00, 0x00}
)

// State is the session's configuration progress. It advances strictly
// forward on each acknowledged step and reverts to Disconnected on any
// failure or transport disconnect.
type State int32

const (
	Disconnected State = iota
	Discovering
	Unlocking
	SettingRate
	SavingConfig
	EnablingNotifications
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Unlocking:
		return "unlocking"
	case SettingRate:
		return "setting-rate"
	case SavingConfig:
		return "saving-config"
	case EnablingNotifications:
		return "enabling-notifications"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Characteristic describes one characteristic offered by a service.
type Characteristic struct {
	ID     string
	Notify bool
	Write  bool
}

// Service groups the characteristics discovered under one service.
type Service struct {
	ID              string
	Characteristics []Characteristic
}

// ServiceSet is everything the transport discovered on the device.
type ServiceSet struct {
	Services []Service
}

// Transport is the byte-level channel to the sensor. WriteCharacteristic
// and EnableNotifications block until the peer acknowledges the operation;
// the synchronous error return is the acknowledgment. Notification handlers
// are invoked serially from a single goroutine; the session relies on
// in-order delivery (reordering corrupts the hysteresis logic).
type Transport interface {
	DiscoverServices() (ServiceSet, error)
	WriteCharacteristic(id string, payload []byte) error
	EnableNotifications(id string, handler func(buf []byte)) error
	Close() error
}

// ErrCharacteristicsNotFound means the device was reachable but did not
// expose the telemetry characteristics, a protocol mismatch as opposed to
// the device not being found at all.
var ErrCharacteristicsNotFound = errors.New("session: required characteristics not found")

// StepError reports which handshake step failed. The session has already
// reverted to Disconnected; the caller may restart the whole sequence, but
// individual steps are never retried.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("session: %s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Stats are cumulative counters since the session was created.
type Stats struct {
	Frames       uint64 `json:"frames"`
	BytesDropped uint64 `json:"bytes_dropped"`
	Kicks        uint64 `json:"kicks"`
}

// Session owns the handshake state machine and the decode path. All state
// mutation happens either in Start (caller goroutine) or in the transport's
// notification goroutine; the two never overlap because notifications only
// begin after the final handshake step.
type Session struct {
	transport Transport
	detector  *kick.Detector
	onSample  func(imu.Sample)

	state        atomic.Int32
	frames       atomic.Uint64
	bytesDropped atomic.Uint64
	kicks        atomic.Uint64
}

// New wires a transport to a detector. onSample, if non-nil, sees every
// decoded sample before the detector does (diagnostics/UI feed).
func New(t Transport, d *kick.Detector, onSample func(imu.Sample)) *Session {
	return &Session{transport: t, detector: d, onSample: onSample}
}

// Start runs the configuration handshake: discover the telemetry
// characteristics, unlock the sensor, set the 100 Hz sample rate, persist
// the configuration, and enable notifications. On success the session is
// Streaming with a freshly re-armed detector; on any failure it reverts to
// Disconnected.
func (s *Session) Start() error {
	s.setState(Discovering)
	set, err := s.transport.DiscoverServices()
	if err != nil {
		s.setState(Disconnected)
		return &StepError{Step: Discovering, Err: err}
	}

	notifyID, writeID, ok := findCharacteristics(set)
	if !ok {
		s.setState(Disconnected)
		return ErrCharacteristicsNotFound
	}

	steps := []struct {
		state   State
		payload []byte
	}{
		{Unlocking, cmdUnlock},
		{SettingRate, cmdRate100Hz},
		{SavingConfig, cmdSaveConfig},
	}
	for _, step := range steps {
		s.setState(step.state)
		if err := s.transport.WriteCharacteristic(writeID, step.payload); err != nil {
			s.setState(Disconnected)
			return &StepError{Step: step.state, Err: err}
		}
	}

	// Re-arm before any notification can arrive, so a stale high reading
	// from before a disconnect cannot leave the detector stuck disarmed.
	s.detector.Reset()

	s.setState(EnablingNotifications)
	if err := s.transport.EnableNotifications(notifyID, s.handleNotification); err != nil {
		s.setState(Disconnected)
		return &StepError{Step: EnablingNotifications, Err: err}
	}

	s.setState(Streaming)
	log.Printf("session: streaming (notify=%s write=%s)", notifyID, writeID)
	return nil
}

// HandleDisconnect reverts the session to Disconnected. Safe to call from
// any goroutine at any state; disconnecting is the only cancellation
// primitive and is always safe.
func (s *Session) HandleDisconnect() {
	s.setState(Disconnected)
}

// State reports the current configuration progress.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stats reports cumulative decode counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:       s.frames.Load(),
		BytesDropped: s.bytesDropped.Load(),
		Kicks:        s.kicks.Load(),
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// handleNotification is the single-producer decode path: one inbound
// payload, zero or more samples, each fed to the detector in arrival order.
func (s *Session) handleNotification(buf []byte) {
	skipped := frame.DecodeFunc(buf, func(smp imu.Sample) {
		s.frames.Add(1)
		if s.onSample != nil {
			s.onSample(smp)
		}
		// The detector disarms only when it fires, so an armed-to-disarmed
		// transition counts exactly one kick.
		armed := s.detector.State() == kick.Armed
		s.detector.Process(smp.CompensatedMagnitude)
		if armed && s.detector.State() == kick.Disarmed {
			s.kicks.Add(1)
		}
	})
	if skipped > 0 {
		s.bytesDropped.Add(uint64(skipped))
	}
}

// findCharacteristics locates the notify and write characteristics: first
// by the device's known identifiers, then by capability-probing every
// advertised grouping (clone modules expose the same protocol under
// different UUIDs, sometimes on a single dual-role characteristic).
func findCharacteristics(set ServiceSet) (notifyID, writeID string, ok bool) {
	for _, svc := range set.Services {
		var n, w string
		for _, c := range svc.Characteristics {
			switch c.ID {
			case NotifyCharUUID:
				n = c.ID
			case WriteCharUUID:
				w = c.ID
			}
		}
		if n != "" && w != "" {
			return n, w, true
		}
	}

	for _, svc := range set.Services {
		var n, w string
		for _, c := range svc.Characteristics {
			if n == "" && c.Notify {
				n = c.ID
			}
			if w == "" && c.Write {
				w = c.ID
			}
		}
		if n != "" && w != "" {
			return n, w, true
		}
	}
	return "", "", false
}
