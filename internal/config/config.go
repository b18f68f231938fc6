// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/gps_i2c/internal/gps"
)

// maxI2CAddress is the highest 7-bit device address.
const maxI2CAddress = 0x7F

const (
	TransportI2C    = "i2c"
	TransportSerial = "serial"
)

// Config holds all application configuration values.
type Config struct {
	// Receiver
	Transport  string `toml:"transport" yaml:"transport"`
	I2CBus     int    `toml:"i2c_bus" yaml:"i2c_bus"`
	I2CAddress uint16 `toml:"i2c_address" yaml:"i2c_address"`
	SerialPort string `toml:"serial_port" yaml:"serial_port"`
	SerialBaud int    `toml:"serial_baud" yaml:"serial_baud"`

	// Validation
	MaxSentenceLength int      `toml:"max_sentence_length" yaml:"max_sentence_length"`
	ErrorMarkers      []string `toml:"error_markers" yaml:"error_markers"`

	// MQTT (disabled when MQTTBroker is empty)
	MQTTBroker   string `toml:"mqtt_broker" yaml:"mqtt_broker"`
	MQTTClientID string `toml:"mqtt_client_id" yaml:"mqtt_client_id"`
	MQTTTopic    string `toml:"mqtt_topic" yaml:"mqtt_topic"`

	LogLevel string `toml:"log_level" yaml:"log_level"`
}

// Default returns the configuration used when nothing is overridden:
// device 0-0042 on I2C.
func Default() *Config {
	return &Config{
		Transport:         TransportI2C,
		I2CBus:            0,
		I2CAddress:        0x42,
		SerialPort:        "/dev/serial0",
		SerialBaud:        9600,
		MaxSentenceLength: gps.MaxSentenceLength,
		ErrorMarkers:      append([]string(nil), gps.DefaultErrorMarkers...),
		MQTTClientID:      "gps-i2c",
		MQTTTopic:         "gps/nmea",
		LogLevel:          "info",
	}
}

// Load reads a TOML or YAML file over the defaults and validates the result.
// Keys missing from the file keep their default values.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if err := cfg.ReadFile(configPath); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile decodes configPath into c. The format is picked by extension.
func (c *Config) ReadFile(configPath string) error {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".toml":
		if _, err := toml.Decode(string(b), c); err != nil {
			return fmt.Errorf("config %s: %w", configPath, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, c); err != nil {
			return fmt.Errorf("config %s: %w", configPath, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported format %q (want .toml, .yaml or .yml)", configPath, ext)
	}
	return nil
}

// EnvKeys lists the environment variables ApplyEnv reads.
var EnvKeys = []string{
	"I2C_BUS",
	"I2C_ADDRESS",
	"GPS_TRANSPORT",
	"GPS_SERIAL_PORT",
	"GPS_BAUD_RATE",
	"MQTT_BROKER",
	"MQTT_TOPIC",
	"LOG_LEVEL",
}

// ApplyEnv overrides c from the environment. Unset or empty variables are
// skipped. It never fails: malformed numbers fall back to the current value.
func (c *Config) ApplyEnv(getenv func(string) string) {
	for _, key := range EnvKeys {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			c.setValue(key, value)
		}
	}
}

// setValue sets a config value based on the environment key.
func (c *Config) setValue(key, value string) {
	switch key {
	// Receiver
	case "I2C_BUS":
		c.I2CBus = ParseInt(value, c.I2CBus)
	case "I2C_ADDRESS":
		// out-of-range values would wrap in uint16; treat them as malformed
		if n := ParseInt(value, int(c.I2CAddress)); n >= 0 && n <= maxI2CAddress {
			c.I2CAddress = uint16(n)
		}
	case "GPS_TRANSPORT":
		c.Transport = strings.ToLower(value)
	case "GPS_SERIAL_PORT":
		c.SerialPort = value
	case "GPS_BAUD_RATE":
		c.SerialBaud = ParseInt(value, c.SerialBaud)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_TOPIC":
		c.MQTTTopic = value

	case "LOG_LEVEL":
		c.LogLevel = value
	}
}

// ParseInt parses value as decimal, then as hexadecimal (with or without a
// 0x prefix), and returns def when both fail. It never returns an error.
func ParseInt(value string, def int) int {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	hex := strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	if n, err := strconv.ParseInt(hex, 16, 0); err == nil {
		return int(n)
	}
	return def
}

// Validate checks that the values can drive the reader.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportI2C:
		if c.I2CBus < 0 {
			return fmt.Errorf("i2c_bus must be >= 0, got %d", c.I2CBus)
		}
		if c.I2CAddress > maxI2CAddress {
			return fmt.Errorf("i2c_address must be a 7-bit address, got 0x%X", c.I2CAddress)
		}
	case TransportSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("serial_port is required for transport %q", TransportSerial)
		}
		if c.SerialBaud <= 0 {
			return fmt.Errorf("serial_baud must be > 0, got %d", c.SerialBaud)
		}
	default:
		return fmt.Errorf("unknown transport %q (want %q or %q)", c.Transport, TransportI2C, TransportSerial)
	}

	if c.MaxSentenceLength <= 0 {
		return fmt.Errorf("max_sentence_length must be > 0, got %d", c.MaxSentenceLength)
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		return fmt.Errorf("mqtt_topic is required when mqtt_broker is set")
	}
	return nil
}

// Validator returns the sentence validator described by c.
func (c *Config) Validator() gps.Validator {
	return gps.Validator{MaxLength: c.MaxSentenceLength, ErrorMarkers: c.ErrorMarkers}
}
