// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/kick_trigger/internal/ble"
	"github.com/relabs-tech/kick_trigger/internal/config"
	"github.com/relabs-tech/kick_trigger/internal/imu"
	"github.com/relabs-tech/kick_trigger/internal/kick"
	"github.com/relabs-tech/kick_trigger/internal/serialport"
	"github.com/relabs-tech/kick_trigger/internal/session"
)

// KickMessage is published on the kicks topic for every detected kick.
type KickMessage struct {
	Intensity float64 `json:"intensity"`
	Time      string  `json:"time"`
}

// SessionMessage is published on the session topic whenever the
// connection state changes.
type SessionMessage struct {
	State        string `json:"state"`
	Frames       uint64 `json:"frames"`
	BytesDropped uint64 `json:"bytes_dropped"`
	Kicks        uint64 `json:"kicks"`
	Time         string `json:"time"`
}

// linkTransport is what the producer needs from a sensor link: the
// session transport plus a signal that the link dropped.
type linkTransport interface {
	session.Transport
	Disconnected() <-chan struct{}
}

const reconnectDelay = 3 * time.Second

// RunKickProducer connects to the motion sensor, feeds decoded samples
// through the kick detector and publishes kicks, samples and session
// state over MQTT. It reconnects from scratch whenever the link drops
// and returns when ctx is cancelled.
func RunKickProducer(ctx context.Context) error {
	log.Println("starting kick-trigger producer")

	cfg := config.Get()

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDProducer)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("producer: connected to MQTT broker at %s", cfg.MQTTBroker)

	// The detector outlives individual connections so threshold changes
	// stick across reconnects. Each session re-arms it on start.
	detector := kick.NewDetector(func(intensity float64) {
		msg := KickMessage{
			Intensity: intensity,
			Time:      time.Now().Format(time.RFC3339Nano),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			log.Printf("producer: kick marshal error: %v", err)
			return
		}
		log.Printf("producer: KICK intensity=%.2f", intensity)
		client.Publish(cfg.TopicKicks, 0, false, payload)
	})
	detector.SetThresholds(cfg.UpperThreshold, cfg.LowerThreshold)

	// Threshold updates arrive over MQTT from the web UI.
	token := client.Subscribe(cfg.TopicThresholds, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var th kick.Thresholds
		if err := json.Unmarshal(msg.Payload(), &th); err != nil {
			log.Printf("producer: thresholds unmarshal error: %v", err)
			return
		}
		detector.SetThresholds(th.Upper, th.Lower)
		applied := detector.Thresholds()
		log.Printf("producer: thresholds set to upper=%.3f lower=%.3f", applied.Upper, applied.Lower)
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT subscribe error (thresholds): %w", token.Error())
	}
	log.Printf("producer: subscribed to %s", cfg.TopicThresholds)

	// Publish every Nth sample so the broker sees a manageable rate.
	sampleCount := 0
	onSample := func(s imu.Sample) {
		sampleCount++
		if sampleCount%cfg.SamplePublishDivider != 0 {
			return
		}
		payload, err := json.Marshal(s)
		if err != nil {
			log.Printf("producer: sample marshal error: %v", err)
			return
		}
		client.Publish(cfg.TopicSamples, 0, false, payload)
	}

	// --- connect/stream/reconnect loop ---
	for {
		transport, err := openTransport(cfg)
		if err != nil {
			log.Printf("producer: transport error: %v, retrying in %s", err, reconnectDelay)
			publishSessionState(client, cfg, session.Disconnected.String(), session.Stats{})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
				continue
			}
		}

		sess := session.New(transport, detector, onSample)
		if err := sess.Start(); err != nil {
			// No per-step retry: any handshake failure restarts the
			// whole discover/unlock/configure sequence.
			log.Printf("producer: session start error: %v, retrying in %s", err, reconnectDelay)
			transport.Close()
			publishSessionState(client, cfg, session.Disconnected.String(), sess.Stats())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
				continue
			}
		}

		log.Println("producer: streaming")
		publishSessionState(client, cfg, session.Streaming.String(), sess.Stats())

		select {
		case <-ctx.Done():
			transport.Close()
			publishSessionState(client, cfg, session.Disconnected.String(), sess.Stats())
			log.Println("producer: shutting down")
			return ctx.Err()

		case <-transport.Disconnected():
			sess.HandleDisconnect()
			transport.Close()
			stats := sess.Stats()
			log.Printf("producer: link dropped after %d frames (%d bytes resynced), reconnecting",
				stats.Frames, stats.BytesDropped)
			publishSessionState(client, cfg, session.Disconnected.String(), stats)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
		}
	}
}

func openTransport(cfg *config.Config) (linkTransport, error) {
	switch cfg.Transport {
	case "ble":
		return ble.Connect(cfg.BLEDeviceName, time.Duration(cfg.BLEScanTimeoutSec)*time.Second)
	case "serial":
		return serialport.Open(cfg.SerialPort, cfg.SerialBaudRate)
	case "replay":
		data, err := os.ReadFile(cfg.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read replay file: %w", err)
		}
		return session.NewReplayTransport(data, cfg.ReplayChunkBytes,
			time.Duration(cfg.ReplayIntervalMS)*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}

func publishSessionState(client mqtt.Client, cfg *config.Config, state string, stats session.Stats) {
	msg := SessionMessage{
		State:        state,
		Frames:       stats.Frames,
		BytesDropped: stats.BytesDropped,
		Kicks:        stats.Kicks,
		Time:         time.Now().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("producer: session marshal error: %v", err)
		return
	}
	// Retained so late subscribers see the current state.
	client.Publish(cfg.TopicSession, 0, true, payload)
}
