package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// Transport selection: "ble", "serial" or "replay"
	Transport string

	// BLE
	BLEDeviceName     string
	BLEScanTimeoutSec int

	// Serial
	SerialPort     string
	SerialBaudRate uint

	// Replay (development without hardware)
	ReplayFile       string
	ReplayChunkBytes int
	ReplayIntervalMS int

	// Kick detection thresholds (g)
	UpperThreshold float64
	LowerThreshold float64

	// Publish every Nth decoded sample to MQTT; kicks always publish.
	// At 100 Hz a divider of 10 keeps the sample topic at 10 msg/s.
	SamplePublishDivider int

	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	MQTTClientIDDisplay  string

	// Topics
	TopicKicks      string
	TopicSamples    string
	TopicSession    string
	TopicThresholds string

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for the process-global config:
//   - globalConfig is unexported so other packages cannot modify it directly.
//   - configOnce ensures InitGlobal() only runs once.
//   - configMu protects concurrent access; Get() takes a read lock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		BLEScanTimeoutSec:     30,
		SerialBaudRate:        115200,
		ReplayChunkBytes:      20,
		ReplayIntervalMS:      10,
		UpperThreshold:        1.5,
		LowerThreshold:        0.1,
		SamplePublishDivider:  10,
		TopicKicks:            "kick/events",
		TopicSamples:          "kick/samples",
		TopicSession:          "kick/session",
		TopicThresholds:       "kick/thresholds",
		WebServerPort:         8080,
		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 250,
	}
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Transport
	case "TRANSPORT":
		if value != "ble" && value != "serial" && value != "replay" {
			return fmt.Errorf("TRANSPORT must be ble, serial or replay, got %q", value)
		}
		c.Transport = value

	// BLE
	case "BLE_DEVICE_NAME":
		c.BLEDeviceName = value
	case "BLE_SCAN_TIMEOUT_SECONDS":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid BLE_SCAN_TIMEOUT_SECONDS %q: %w", value, err)
		}
		if secs <= 0 {
			return fmt.Errorf("BLE_SCAN_TIMEOUT_SECONDS must be positive, got %d", secs)
		}
		c.BLEScanTimeoutSec = secs

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		if rate <= 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE must be positive, got %d", rate)
		}
		c.SerialBaudRate = uint(rate)

	// Replay
	case "REPLAY_FILE":
		c.ReplayFile = value
	case "REPLAY_CHUNK_BYTES":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid REPLAY_CHUNK_BYTES %q: %w", value, err)
		}
		if n <= 0 {
			return fmt.Errorf("REPLAY_CHUNK_BYTES must be positive, got %d", n)
		}
		c.ReplayChunkBytes = n
	case "REPLAY_INTERVAL_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid REPLAY_INTERVAL_MS %q: %w", value, err)
		}
		if ms < 0 {
			return fmt.Errorf("REPLAY_INTERVAL_MS must not be negative, got %d", ms)
		}
		c.ReplayIntervalMS = ms

	// Thresholds
	case "UPPER_THRESHOLD":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid UPPER_THRESHOLD %q: %w", value, err)
		}
		if v <= 0 {
			return fmt.Errorf("UPPER_THRESHOLD must be positive, got %v", v)
		}
		c.UpperThreshold = v
	case "LOWER_THRESHOLD":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid LOWER_THRESHOLD %q: %w", value, err)
		}
		if v <= 0 {
			return fmt.Errorf("LOWER_THRESHOLD must be positive, got %v", v)
		}
		c.LowerThreshold = v

	case "SAMPLE_PUBLISH_DIVIDER":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_PUBLISH_DIVIDER %q: %w", value, err)
		}
		if n <= 0 {
			return fmt.Errorf("SAMPLE_PUBLISH_DIVIDER must be positive, got %d", n)
		}
		c.SamplePublishDivider = n

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_KICKS":
		c.TopicKicks = value
	case "TOPIC_SAMPLES":
		c.TopicSamples = value
	case "TOPIC_SESSION":
		c.TopicSession = value
	case "TOPIC_THRESHOLDS":
		c.TopicThresholds = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	switch c.Transport {
	case "":
		return fmt.Errorf("TRANSPORT is required")
	case "ble":
		if c.BLEDeviceName == "" {
			return fmt.Errorf("BLE_DEVICE_NAME is required when TRANSPORT=ble")
		}
	case "serial":
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required when TRANSPORT=serial")
		}
	case "replay":
		if c.ReplayFile == "" {
			return fmt.Errorf("REPLAY_FILE is required when TRANSPORT=replay")
		}
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once so repeated calls are harmless.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
