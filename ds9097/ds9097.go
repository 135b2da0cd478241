// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds9097 drives a 1-wire bus through a serial port, as done by the
// DS9097U adapter and by a plain UART with TX and RX tied together through a
// diode.
//
// The UART generates the slots: a reset is the character 0xf0 sent at 9600
// baud, each bit slot is one character at 115200 baud, 0xff for a one or a
// read slot and 0x00 for a zero. A device answering 0 in a read slot pulls
// the line low and corrupts the echoed character.
//
// # Application note
//
// https://www.analog.com/en/technical-articles/using-a-uart-to-implement-a-1wire-bus-master.html
package ds9097

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/owtemp/owbus"
)

const (
	resetBaud = 9600
	dataBaud  = 115200
	resetChar = 0xf0
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// ReadTimeout bounds the wait for each echoed character.
	ReadTimeout time.Duration
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	ReadTimeout: time.Second,
}

// port is the subset of *serial.Port in use.
type port interface {
	io.ReadWriter
	Flush() error
	Close() error
}

// New opens the serial port name and returns a bus master on it.
func New(name string, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	timeout := opts.ReadTimeout
	open := func(baud int) (port, error) {
		p, err := serial.OpenPort(&serial.Config{
			Name:        name,
			Baud:        baud,
			ReadTimeout: timeout,
			Size:        serial.DefaultSize,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return newDev(name, open)
}

func newDev(name string, open func(baud int) (port, error)) (*Dev, error) {
	d := &Dev{name: name, open: open}
	if err := d.setBaud(dataBaud); err != nil {
		return nil, fmt.Errorf("ds9097: %w", err)
	}
	return d, nil
}

// Dev is a 1-wire bus master on a serial port. It implements owbus.Bus.
type Dev struct {
	sync.Mutex
	name   string
	open   func(baud int) (port, error)
	p      port
	baud   int
	closed bool
	search owbus.Searcher
}

func (d *Dev) String() string {
	return "DS9097{" + d.name + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Close closes the serial port.
func (d *Dev) Close() error {
	d.Lock()
	defer d.Unlock()
	d.closed = true
	if d.p == nil {
		return nil
	}
	err := d.p.Close()
	d.p = nil
	return err
}

// Reset implements owbus.Bus.
func (d *Dev) Reset() (bool, error) {
	d.Lock()
	defer d.Unlock()
	if err := d.setBaud(resetBaud); err != nil {
		return false, err
	}
	echo, err := d.slot(resetChar)
	if err2 := d.setBaud(dataBaud); err == nil {
		err = err2
	}
	if err != nil {
		return false, err
	}
	switch echo {
	case resetChar:
		return false, nil
	case 0x00:
		return false, shortedBusError("ds9097: bus has a short")
	default:
		return true, nil
	}
}

// WriteByte implements owbus.Bus.
func (d *Dev) WriteByte(b byte) error {
	d.Lock()
	defer d.Unlock()
	var w [8]byte
	for i := range w {
		if b&(1<<uint(i)) != 0 {
			w[i] = 0xff
		}
	}
	r, err := d.slots(w[:])
	if err != nil {
		return err
	}
	if r != w {
		return busError(fmt.Sprintf("ds9097: echo mismatch writing %#02x", b))
	}
	return nil
}

// ReadByte implements owbus.Bus.
func (d *Dev) ReadByte() (byte, error) {
	d.Lock()
	defer d.Unlock()
	w := [8]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	r, err := d.slots(w[:])
	if err != nil {
		return 0, err
	}
	var b byte
	for i, c := range r {
		if c == 0xff {
			b |= 1 << uint(i)
		}
	}
	return b, nil
}

// ReadBit implements owbus.Bus.
func (d *Dev) ReadBit() (byte, error) {
	d.Lock()
	defer d.Unlock()
	c, err := d.slot(0xff)
	if err != nil {
		return 0, err
	}
	if c == 0xff {
		return 1, nil
	}
	return 0, nil
}

// WriteBit implements owbus.BitBus.
func (d *Dev) WriteBit(b byte) error {
	d.Lock()
	defer d.Unlock()
	var c byte
	if b&1 != 0 {
		c = 0xff
	}
	echo, err := d.slot(c)
	if err != nil {
		return err
	}
	if echo != c {
		return busError("ds9097: echo mismatch writing a bit")
	}
	return nil
}

// SearchTriplet implements owbus.TripletBus.
func (d *Dev) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	return owbus.BitTriplet(d, direction)
}

// First implements owbus.Bus.
func (d *Dev) First(alarmOnly bool) (bool, error) {
	return d.search.First(d, alarmOnly)
}

// Next implements owbus.Bus.
func (d *Dev) Next() (bool, error) {
	return d.search.Next(d)
}

// Address implements owbus.Bus.
func (d *Dev) Address() onewire.Address {
	return d.search.Address()
}

//

// setBaud reopens the port at the given rate if needed.
func (d *Dev) setBaud(baud int) error {
	if d.closed {
		return errClosed
	}
	if d.p != nil && d.baud == baud {
		return nil
	}
	if d.p != nil {
		if err := d.p.Close(); err != nil {
			return err
		}
		d.p = nil
	}
	p, err := d.open(baud)
	if err != nil {
		return err
	}
	d.p = p
	d.baud = baud
	return nil
}

// slot sends one character and returns its echo.
func (d *Dev) slot(c byte) (byte, error) {
	var w = [1]byte{c}
	var r [1]byte
	if err := d.exchange(w[:], r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

// slots sends 8 characters and returns their echo.
func (d *Dev) slots(w []byte) ([8]byte, error) {
	var r [8]byte
	err := d.exchange(w, r[:len(w)])
	return r, err
}

func (d *Dev) exchange(w, r []byte) error {
	if d.closed || d.p == nil {
		return errClosed
	}
	// Drop anything left over from an interrupted exchange.
	if err := d.p.Flush(); err != nil {
		return err
	}
	if _, err := d.p.Write(w); err != nil {
		return err
	}
	if _, err := io.ReadFull(d.p, r); err != nil {
		return fmt.Errorf("ds9097: reading echo: %w", err)
	}
	return nil
}

var errClosed = errors.New("ds9097: port is closed")

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError string

func (e shortedBusError) Error() string   { return string(e) }
func (e shortedBusError) IsShorted() bool { return true }
func (e shortedBusError) BusError() bool  { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var _ conn.Resource = &Dev{}
var _ owbus.Bus = &Dev{}
var _ owbus.BitBus = &Dev{}
var _ owbus.TripletBus = &Dev{}
