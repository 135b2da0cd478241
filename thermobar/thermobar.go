// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thermobar shows temperatures on a terminal as a strip of colored
// blocks, one per sensor, from blue at Min to red at Max, followed by the
// values.
package thermobar

import (
	"bytes"
	"fmt"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

// Opts represents the options available for this display.
type Opts struct {
	Min, Max float64 // range of the gradient in °C
	Palette  *ansi256.Palette
	// W defaults to a colorable stdout.
	W io.Writer

	_ struct{}
}

// DefaultOpts is a room temperature range.
var DefaultOpts = Opts{Min: 10, Max: 30}

// Dev is a thermometer strip that outputs to the console.
type Dev struct {
	w        io.Writer
	min, max float64
	palette  ansi256.Palette

	buf bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	d := &Dev{w: w, min: opts.Min, max: opts.Max, palette: *p}
	if d.max <= d.min {
		d.max = d.min + 1
	}
	return d
}

func (d *Dev) String() string {
	return "ThermoBar"
}

// Halt implements conn.Resource.
//
// It moves to a new line and resets the terminal colors.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Show redraws the strip in place with one block per temperature.
func (d *Dev) Show(temps []float64) error {
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for _, t := range temps {
		_, _ = io.WriteString(&d.buf, d.palette.Block(d.Color(t)))
	}
	_, _ = d.buf.WriteString("\033[0m")
	for _, t := range temps {
		_, _ = fmt.Fprintf(&d.buf, " %.2f°C", t)
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

// Color returns the gradient color for t, clamped to the range.
func (d *Dev) Color(t float64) color.NRGBA {
	f := (t - d.min) / (d.max - d.min)
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return color.NRGBA{R: byte(255 * f), G: 0, B: byte(255 * (1 - f)), A: 255}
}

var _ fmt.Stringer = &Dev{}
