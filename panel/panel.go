// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package panel renders temperature readings as an image, for a display or
// a PNG snapshot.
package panel

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"periph.io/x/conn/v3/display"
)

// Reading is one line of the panel.
type Reading struct {
	Label   string
	Celsius float64
}

// Opts contains options to pass to the constructor.
type Opts struct {
	Width, Height int
	FontSize      float64 // in points
}

// DefaultOpts fits a 128x64 monochrome OLED.
var DefaultOpts = Opts{Width: 128, Height: 64, FontSize: 10}

// Panel draws black text on a white background.
type Panel struct {
	w, h int
	face font.Face
}

// New returns a Panel using the Go Mono font.
func New(opts *Opts) (*Panel, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Width <= 0 || opts.Height <= 0 || opts.FontSize <= 0 {
		return nil, errors.New("panel: invalid size")
	}
	f, err := truetype.Parse(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("panel: %w", err)
	}
	face := truetype.NewFace(f, &truetype.Options{Size: opts.FontSize})
	return &Panel{w: opts.Width, h: opts.Height, face: face}, nil
}

// Bounds returns the size of the rendered images.
func (p *Panel) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.w, p.h)
}

// Render draws one line per reading and a last line with the time.
//
// Lines that do not fit are dropped.
func (p *Panel) Render(readings []Reading, at time.Time) image.Image {
	dc := gg.NewContext(p.w, p.h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)
	dc.SetFontFace(p.face)
	lh := dc.FontHeight() * 1.2
	lines := make([]string, 0, len(readings)+1)
	for _, r := range readings {
		lines = append(lines, fmt.Sprintf("%s %.2f°C", r.Label, r.Celsius))
	}
	lines = append(lines, at.Format("15:04:05"))
	y := lh
	for _, l := range lines {
		if y > float64(p.h) {
			break
		}
		dc.DrawString(l, 2, y)
		y += lh
	}
	return dc.Image()
}

// DrawTo renders the readings onto a display.
func (p *Panel) DrawTo(d display.Drawer, readings []Reading, at time.Time) error {
	img := p.Render(readings, at)
	return d.Draw(d.Bounds(), img, image.Point{})
}

// SavePNG renders the readings into a PNG file.
func (p *Panel) SavePNG(path string, readings []Reading, at time.Time) error {
	return gg.SavePNG(path, p.Render(readings, at))
}
