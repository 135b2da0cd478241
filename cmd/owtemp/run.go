// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/GermanBionicSystems/owtemp/ds18b20"
	"github.com/GermanBionicSystems/owtemp/ds248x"
	"github.com/GermanBionicSystems/owtemp/ds9097"
	"github.com/GermanBionicSystems/owtemp/internal/config"
	"github.com/GermanBionicSystems/owtemp/owbus"
	"github.com/GermanBionicSystems/owtemp/panel"
	"github.com/GermanBionicSystems/owtemp/thermobar"
)

// openBus opens the transport described by cfg.Bus.
func openBus(cfg *config.Config) (owbus.Bus, io.Closer, error) {
	switch cfg.Bus.Kind {
	case config.BusDS248x:
		b, err := i2creg.Open(cfg.Bus.I2C)
		if err != nil {
			return nil, nil, err
		}
		d, err := ds248x.New(b, cfg.Bus.Address, &ds248x.DefaultOpts)
		if err != nil {
			b.Close()
			return nil, nil, err
		}
		if cfg.Bus.Channel != 0 {
			if err := d.ChannelSelect(cfg.Bus.Channel); err != nil {
				b.Close()
				return nil, nil, err
			}
		}
		return d, b, nil
	case config.BusDS9097:
		d, err := ds9097.New(cfg.Bus.Serial, &ds9097.DefaultOpts)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}
	return nil, nil, fmt.Errorf("owtemp: unknown bus kind %q", cfg.Bus.Kind)
}

// reporter publishes a completed set of readings.
type reporter struct {
	cfg   *config.Config
	log   logrus.FieldLogger
	bar   *thermobar.Dev
	panel *panel.Panel
	now   func() time.Time
}

func newReporter(cfg *config.Config, log logrus.FieldLogger, w io.Writer) (*reporter, error) {
	r := &reporter{cfg: cfg, log: log, now: time.Now}
	if cfg.Output.Bar {
		r.bar = thermobar.New(&thermobar.Opts{Min: cfg.Output.BarMin, Max: cfg.Output.BarMax, W: w})
	}
	if cfg.Output.PNG != "" {
		p, err := panel.New(&panel.DefaultOpts)
		if err != nil {
			return nil, err
		}
		r.panel = p
	}
	return r, nil
}

func (r *reporter) report(devices []ds18b20.Device) error {
	temps := make([]float64, 0, len(devices))
	readings := make([]panel.Reading, 0, len(devices))
	for _, d := range devices {
		label := r.cfg.Label(d.Addr)
		r.log.WithFields(logrus.Fields{
			"addr":    fmt.Sprintf("%#016x", uint64(d.Addr)),
			"label":   label,
			"celsius": d.Celsius,
		}).Info("reading")
		temps = append(temps, d.Celsius)
		readings = append(readings, panel.Reading{Label: label, Celsius: d.Celsius})
	}
	if r.bar != nil {
		if err := r.bar.Show(temps); err != nil {
			return err
		}
	}
	if r.panel != nil {
		if err := r.panel.SavePNG(r.cfg.Output.PNG, readings, r.now()); err != nil {
			return err
		}
	}
	return nil
}

// halt leaves the thermometer strip's line.
func (r *reporter) halt() {
	if r.bar != nil {
		if err := r.bar.Halt(); err != nil {
			r.log.WithError(err).Warn("thermobar halt failed")
		}
	}
}

// run steps the poller on every tick until ctx is done, or until the first
// complete cycle when one-shot. The thermometer strip is written to w, or to
// stdout when nil.
func run(ctx context.Context, cfg *config.Config, bus owbus.Bus, log logrus.FieldLogger, w io.Writer) error {
	opts := ds18b20.Opts{
		Capacity: cfg.Poll.Capacity,
		OneShot:  cfg.Poll.OneShot,
		Logger:   log,
	}
	if cfg.Poll.Resolution != 0 {
		res, err := ds18b20.ResolutionFromBits(cfg.Poll.Resolution)
		if err != nil {
			return err
		}
		opts.Resolution = &res
	}
	p, err := ds18b20.New(bus, &opts)
	if err != nil {
		return err
	}
	rep, err := newReporter(cfg, log, w)
	if err != nil {
		return err
	}
	defer rep.halt()

	if parasite, err := p.IsParasitePowered(); err != nil {
		log.WithError(err).Warn("power supply check failed")
	} else {
		log.WithField("parasite", parasite).Info("power supply")
	}

	t := time.NewTicker(cfg.Poll.Interval)
	defer t.Stop()
	for {
		done, err := p.Step()
		switch {
		case err != nil:
			log.WithError(err).Warn("step failed")
		case done && p.Attached() > 0:
			if err := rep.report(p.Devices()); err != nil {
				return err
			}
		}
		if p.State() == ds18b20.StateDone {
			return nil
		}
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-t.C:
		}
	}
}
