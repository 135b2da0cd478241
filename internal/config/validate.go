// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"strconv"
)

// Validate checks cfg and returns every problem found.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Bus.Kind {
	case BusDS248x:
		switch cfg.Bus.Address {
		case 0x18, 0x19, 0x20, 0x21:
		default:
			errs = append(errs, fmt.Errorf("bus.address: %#x is not a ds248x address", cfg.Bus.Address))
		}
		if cfg.Bus.Channel < 0 || cfg.Bus.Channel > 7 {
			errs = append(errs, fmt.Errorf("bus.channel: %d out of range 0..7", cfg.Bus.Channel))
		}
	case BusDS9097:
		if cfg.Bus.Serial == "" {
			errs = append(errs, errors.New("bus.serial: required for ds9097"))
		}
	default:
		errs = append(errs, fmt.Errorf("bus.kind: unknown %q", cfg.Bus.Kind))
	}

	if cfg.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval: must be positive"))
	}
	if cfg.Poll.Capacity < 1 {
		errs = append(errs, errors.New("poll.capacity: must be at least 1"))
	}
	if r := cfg.Poll.Resolution; r != 0 && (r < 9 || r > 12) {
		errs = append(errs, fmt.Errorf("poll.resolution: %d bits, expected 9..12", r))
	}

	for k := range cfg.Sensors {
		if _, err := strconv.ParseUint(k, 0, 64); err != nil {
			errs = append(errs, fmt.Errorf("sensors: invalid ROM %q", k))
		}
	}

	if cfg.Output.Bar && cfg.Output.BarMax <= cfg.Output.BarMin {
		errs = append(errs, errors.New("output.bar_max: must be above bar_min"))
	}
	return errors.Join(errs...)
}
