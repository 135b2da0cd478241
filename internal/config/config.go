// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the owtemp configuration file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/onewire"
)

// Bus kinds.
const (
	BusDS248x = "ds248x"
	BusDS9097 = "ds9097"
)

// Config is the content of an owtemp configuration file.
type Config struct {
	Bus     BusConfig         `yaml:"bus"`
	Poll    PollConfig        `yaml:"poll"`
	Sensors map[string]string `yaml:"sensors"` // ROM as hex -> label
	Output  OutputConfig      `yaml:"output"`
}

// ---- BUS ----

// BusConfig selects and addresses the 1-wire bus master.
type BusConfig struct {
	Kind    string `yaml:"kind"`
	I2C     string `yaml:"i2c"`     // i2creg bus name, "" for the first one
	Address uint16 `yaml:"address"` // ds248x I²C address
	Channel int    `yaml:"channel"` // DS2482-800 only
	Serial  string `yaml:"serial"`  // ds9097 serial port
}

// ---- POLL ----

// PollConfig controls the sensor poller.
type PollConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Capacity   int           `yaml:"capacity"`
	Resolution int           `yaml:"resolution"` // bits, 0 keeps the devices' setting
	OneShot    bool          `yaml:"one_shot"`
}

// ---- OUTPUT ----

// OutputConfig selects where readings are shown besides the log.
type OutputConfig struct {
	Bar    bool    `yaml:"bar"`
	BarMin float64 `yaml:"bar_min"`
	BarMax float64 `yaml:"bar_max"`
	PNG    string  `yaml:"png"`
}

// Default returns the configuration used for missing fields.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Kind:    BusDS248x,
			Address: 0x18,
		},
		Poll: PollConfig{
			Interval: 100 * time.Millisecond,
			Capacity: 1,
		},
		Output: OutputConfig{
			BarMin: 10,
			BarMax: 30,
		},
	}
}

// Load reads and parses path on top of Default.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse parses a YAML document on top of Default.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Label returns the configured name of a sensor, or its ROM in hex.
func (c *Config) Label(a onewire.Address) string {
	for k, v := range c.Sensors {
		if n, err := strconv.ParseUint(k, 0, 64); err == nil && onewire.Address(n) == a {
			return v
		}
	}
	return fmt.Sprintf("%#016x", uint64(a))
}
