// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds248x controls a Maxim DS2482-100, DS2482-800 or DS2483 1-wire
// bus master over I²C.
//
// Dev drives the bus both one slot at a time (owbus.Bus) and in whole
// transactions (onewire.Bus).
//
// # Datasheet
//
// https://datasheets.maximintegrated.com/en/ds/DS2483.pdf
package ds248x

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/owtemp/owbus"
)

// PupOhm controls the strength of the passive pull-up resistor
// on the 1-wire data line. The default value is 1000Ω.
type PupOhm uint8

const (
	// R500Ω passive pull-up resistor.
	R500Ω = 4
	// R1000Ω passive pull-up resistor.
	R1000Ω = 6
)

// Opts contains options to pass to the constructor.
type Opts struct {
	PassivePullup bool // false:use active pull-up, true: disable active pullup

	// The following options are only available on the ds2483 (not ds2482-100).
	// The actual value used is the closest possible value (rounded up or down).
	ResetLow       time.Duration // reset low time, range 440μs..740μs
	PresenceDetect time.Duration // presence detect sample time, range 58μs..76μs
	Write0Low      time.Duration // write zero low time, range 52μs..70μs
	Write0Recovery time.Duration // write zero recovery time, range 2750ns..25250ns
	PullupRes      PupOhm        // passive pull-up resistance, true: 500Ω, false: 1kΩ
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	PassivePullup:  false,
	ResetLow:       560 * time.Microsecond,
	PresenceDetect: 68 * time.Microsecond,
	Write0Low:      64 * time.Microsecond,
	Write0Recovery: 5250 * time.Nanosecond,
	PullupRes:      R1000Ω,
}

// New returns a device object that communicates over I²C to the DS2482/DS2483
// controller.
//
// Valid I²C addresses are 0x18, 0x19, 0x20 and 0x21.
func New(i i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	switch addr {
	case 0x18, 0x19, 0x20, 0x21:
	default:
		return nil, errors.New("ds248x: given address not supported by device")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{i2c: &i2c.Dev{Bus: i, Addr: addr}}
	if err := d.makeDev(opts); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a handle to a ds248x device. It implements owbus.Bus and
// onewire.Bus.
//
// Dev implements a persistent error model: if a fatal error is encountered it
// places itself into an error state and immediately returns the last error on
// all subsequent calls. A fresh Dev, which reinitializes the hardware, must be
// created to proceed.
//
// A persistent error is only set when there is a problem with the ds248x
// device itself (or the I²C bus used to access it). Errors on the 1-wire bus
// do not cause persistent errors and implement the onewire.BusError interface
// to indicate this fact.
type Dev struct {
	sync.Mutex                // lock for the bus while a transaction is in progress
	i2c        conn.Conn      // i2c device handle for the ds248x
	variant    variant        // which chip answered
	confReg    byte           // value written to configuration register
	tReset     time.Duration  // time to perform a 1-wire reset
	tSlot      time.Duration  // time to perform a 1-bit 1-wire read/write
	search     owbus.Searcher // state of First/Next
	err        error          // persistent error, device will no longer operate
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%s}", d.variant, d.i2c)
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Reset implements owbus.Bus.
func (d *Dev) Reset() (bool, error) {
	d.Lock()
	defer d.Unlock()
	return d.reset()
}

// WriteByte implements owbus.Bus.
func (d *Dev) WriteByte(b byte) error {
	d.Lock()
	defer d.Unlock()
	d.writeByte(b, false)
	return d.err
}

// ReadByte implements owbus.Bus.
func (d *Dev) ReadByte() (byte, error) {
	d.Lock()
	defer d.Unlock()
	b := d.readByte(false)
	return b, d.err
}

// ReadBit implements owbus.Bus.
//
// It generates a single read time slot with the 1-wire single bit command.
func (d *Dev) ReadBit() (byte, error) {
	d.Lock()
	defer d.Unlock()
	d.i2cTx([]byte{cmd1WBit, 0x80}, nil)
	status := d.waitIdle(d.tSlot)
	if status&statusSBR != 0 {
		return 1, d.err
	}
	return 0, d.err
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

// Tx performs a bus transaction, sending and receiving bytes, and ending by
// pulling the bus high either weakly or strongly depending on the value of
// power.
//
// A strong pull-up is typically required to power temperature conversion or
// EEPROM writes.
func (d *Dev) Tx(w, r []byte, power onewire.Pullup) error {
	d.Lock()
	defer d.Unlock()

	if present, err := d.reset(); err != nil {
		return err
	} else if !present {
		return busError("ds248x: no device present")
	}
	for i, b := range w {
		d.writeByte(b, power == onewire.StrongPullup && i == len(w)-1 && len(r) == 0)
	}
	for i := range r {
		r[i] = d.readByte(power == onewire.StrongPullup && i == len(r)-1)
	}
	return d.err
}

// Search performs a "search" cycle on the 1-wire bus and returns the addresses
// of all devices on the bus if alarmOnly is false and of all devices in alarm
// state if alarmOnly is true.
//
// If an error occurs during the search the already-discovered devices are
// returned with the error.
func (d *Dev) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(d, alarmOnly)
}

// SearchTriplet performs a single bit search triplet command on the bus, waits
// for it to complete and returns the outcome.
func (d *Dev) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	d.Lock()
	defer d.Unlock()
	var dir byte
	if direction != 0 {
		dir = 0x80
	}
	d.i2cTx([]byte{cmd1WTriplet, dir}, nil)
	// In theory 3*tSlot but it's actually overlapped.
	status := d.waitIdle(0)
	tr := onewire.TripletResult{
		GotZero: status&statusSBR == 0,
		GotOne:  status&statusTSB == 0,
		Taken:   status >> 7,
	}
	return tr, d.err
}

// ChannelSelect selects one of the eight 1-wire channels of a DS2482-800.
// On other chips it does nothing. The channel is clamped to 0..7.
func (d *Dev) ChannelSelect(ch int) error {
	if d.variant != isDS2482x800 {
		return nil
	}
	if ch < 0 {
		ch = 0
	}
	if ch > 7 {
		ch = 7
	}
	d.Lock()
	defer d.Unlock()
	if err := d.i2c.Tx([]byte{cmdChannelSelect, cscWrite[ch]}, nil); err != nil {
		return fmt.Errorf("ds2482-800: error while selecting channel: %w", err)
	}
	return nil
}

// SelectedChannel returns the 1-wire channel selected on a DS2482-800. On
// other chips it always returns 0.
func (d *Dev) SelectedChannel() (int, error) {
	if d.variant != isDS2482x800 {
		return 0, nil
	}
	d.Lock()
	defer d.Unlock()
	var sch [1]byte
	if err := d.i2c.Tx([]byte{cmdSetReadPtr, regCSR}, sch[:]); err != nil {
		return 0, fmt.Errorf("ds2482-800: error while reading channel: %w", err)
	}
	ch := bytes.IndexByte(cscRead[:], sch[0])
	if ch < 0 {
		return 0, fmt.Errorf("ds2482-800: invalid channel selection %#x", sch[0])
	}
	return ch, nil
}

//

// reset issues a reset signal on the 1-wire bus and returns true if any device
// responded with a presence pulse.
func (d *Dev) reset() (bool, error) {
	d.i2cTx([]byte{cmd1WReset}, nil)
	status := d.waitIdle(d.tReset)
	if d.err != nil {
		return false, d.err
	}
	if status&statusSD != 0 {
		return false, shortedBusError("onewire/ds248x: bus has a short")
	}
	return status&statusPPD != 0, nil
}

// writeByte writes one byte on the 1-wire bus, enabling the strong pull-up
// right after when power is set.
func (d *Dev) writeByte(b byte, power bool) {
	if power {
		d.strongPullup()
	}
	d.i2cTx([]byte{cmd1WWrite, b}, nil)
	d.waitIdle(7 * d.tSlot)
}

// readByte reads one byte from the 1-wire bus, enabling the strong pull-up
// right after when power is set.
func (d *Dev) readByte(power bool) byte {
	if power {
		d.strongPullup()
	}
	d.i2cTx([]byte{cmd1WRead}, nil)
	d.waitIdle(7 * d.tSlot)
	var b [1]byte
	d.i2cTx([]byte{cmdSetReadPtr, regRDR}, b[:])
	return b[0]
}

// strongPullup arms the strong pull-up for the end of the next byte.
func (d *Dev) strongPullup() {
	d.i2cTx([]byte{cmdWriteConfig, d.confReg&0xbf | 0x4}, nil)
}

// i2cTx is a helper function to call i2c.Tx and handle the error by persisting
// it.
func (d *Dev) i2cTx(w, r []byte) {
	if d.err != nil {
		return
	}
	d.err = d.i2c.Tx(w, r)
}

// waitIdle waits for the one wire bus to be idle.
//
// It initially sleeps for the delay and then polls the status register and
// sleeps for a tenth of the delay each time the status register indicates that
// the bus is still busy. The last read status byte is returned.
//
// An overall timeout of 3ms is applied to the whole procedure. waitIdle uses
// the persistent error model and returns 0 if there is an error.
func (d *Dev) waitIdle(delay time.Duration) byte {
	if d.err != nil {
		return 0
	}
	tOut := time.Now().Add(3 * time.Millisecond)
	sleep(delay)
	for {
		var status [1]byte
		d.i2cTx(nil, status[:])
		// This also returns if d.err!=nil because in that case status[0]==0.
		if status[0]&status1WB == 0 {
			return status[0]
		}
		// This is an error with the ds248x, not with devices on the 1-wire
		// bus, hence it is persistent.
		if time.Now().After(tOut) {
			d.err = errors.New("ds248x: timeout waiting for bus cycle to finish")
			return 0
		}
		sleep(delay / 10)
	}
}

func (d *Dev) makeDev(opts *Opts) error {
	d.tReset = 2 * opts.ResetLow
	d.tSlot = opts.Write0Low + opts.Write0Recovery

	if err := d.i2c.Tx([]byte{cmdReset}, nil); err != nil {
		return fmt.Errorf("ds248x: error while resetting: %w", err)
	}

	// Read the status register to confirm that we have a responding ds248x.
	var stat [1]byte
	if err := d.i2c.Tx([]byte{cmdSetReadPtr, regStatus}, stat[:]); err != nil {
		return fmt.Errorf("ds248x: error while reading status register: %w", err)
	}
	if stat[0] != 0x18 {
		return fmt.Errorf("ds248x: invalid status register value: %#x, expected 0x18", stat[0])
	}

	// Write the device configuration register to get the chip out of reset
	// state, immediately read it back to get confirmation.
	d.confReg = 0xe1 // standard-speed, no strong pullup, no powerdown, active pull-up
	if opts.PassivePullup {
		d.confReg ^= 0x11
	}
	var dcr [1]byte
	if err := d.i2c.Tx([]byte{cmdWriteConfig, d.confReg}, dcr[:]); err != nil {
		return fmt.Errorf("ds248x: error while writing device config register: %w", err)
	}
	// When reading back we only get the bottom nibble.
	if dcr[0] != d.confReg&0x0f {
		return fmt.Errorf("ds248x: failure to write device config register, wrote %#x got %#x back",
			d.confReg, dcr[0])
	}

	// Only the ds2483 has a port configuration register and only the
	// ds2482-800 a channel selection register; setting the read pointer to
	// a missing register fails.
	if d.i2c.Tx([]byte{cmdSetReadPtr, regPCR}, nil) == nil {
		d.variant = isDS2483
		buf := []byte{cmdAdjPort,
			byte(0x00 + ((opts.ResetLow/time.Microsecond - 430) / 20 & 0x0f)),
			byte(0x20 + ((opts.PresenceDetect/time.Microsecond - 55) / 2 & 0x0f)),
			byte(0x40 + ((opts.Write0Low/time.Microsecond - 51) / 2 & 0x0f)),
			byte(0x60 + (((opts.Write0Recovery-1250)/2500 + 5) & 0x0f)),
			byte(0x80 + (opts.PullupRes & 0x0f)),
		}
		if err := d.i2c.Tx(buf, nil); err != nil {
			return fmt.Errorf("ds248x: error while setting port config values: %w", err)
		}
		return nil
	}
	if d.i2c.Tx([]byte{cmdSetReadPtr, regCSR}, nil) == nil {
		d.variant = isDS2482x800
		if err := d.i2c.Tx([]byte{cmdChannelSelect, cscWrite[0]}, nil); err != nil {
			return fmt.Errorf("ds2482-800: error while selecting channel: %w", err)
		}
		return nil
	}
	d.variant = isDS2482x100
	return nil
}

// variant is the bridge model.
type variant int

const (
	isDS2482x100 variant = iota
	isDS2482x800
	isDS2483
)

func (v variant) String() string {
	switch v {
	case isDS2482x100:
		return "DS2482-100"
	case isDS2482x800:
		return "DS2482-800"
	case isDS2483:
		return "DS2483"
	default:
		return "Undefined"
	}
}

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError string

func (e shortedBusError) Error() string   { return string(e) }
func (e shortedBusError) IsShorted() bool { return true }
func (e shortedBusError) BusError() bool  { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ onewire.Bus = &Dev{}
var _ owbus.Bus = &Dev{}

const (
	cmdReset         = 0xf0 // reset ds248x
	cmdSetReadPtr    = 0xe1 // set the read pointer
	cmdWriteConfig   = 0xd2 // write the device configuration
	cmdAdjPort       = 0xc3 // adjust 1-wire port (ds2483)
	cmdChannelSelect = 0xc3 // channel select (ds2482-800)
	cmd1WReset       = 0xb4 // reset the 1-wire bus
	cmd1WBit         = 0x87 // perform a single-bit transaction on the 1-wire bus
	cmd1WWrite       = 0xa5 // perform a byte write on the 1-wire bus
	cmd1WRead        = 0x96 // perform a byte read on the 1-wire bus
	cmd1WTriplet     = 0x78 // perform a triplet operation (2 bit reads, a bit write)

	regStatus = 0xf0 // read ptr for status register
	regRDR    = 0xe1 // read ptr for read-data register
	regPCR    = 0xb4 // read ptr for port configuration register
	regCSR    = 0xd2 // read ptr for channel selection register

	status1WB = 0x01 // 1-wire busy
	statusPPD = 0x02 // presence pulse detected
	statusSD  = 0x04 // short detected
	statusSBR = 0x20 // single bit result
	statusTSB = 0x40 // triplet second bit
)

// ds2482-800 channel selection codes, written and read back.
var (
	cscWrite = [8]byte{0xf0, 0xe1, 0xd2, 0xc3, 0xb4, 0xa5, 0x96, 0x87}
	cscRead  = [8]byte{0xb8, 0xb1, 0xaa, 0xa3, 0x9c, 0x95, 0x8e, 0x87}
)
