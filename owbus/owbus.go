// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owbus defines a 1-wire bus master at the level of its primitive
// operations: reset, single bit and byte slots and the ROM search.
//
// periph.io/x/conn/v3/onewire.Bus works in whole transactions; Bus is what a
// bridge or bit-banged master offers underneath and what a caller needs to
// interleave single bit polls with other work.
package owbus

import (
	"periph.io/x/conn/v3/onewire"
)

// ROM and function commands common to all 1-wire devices.
const (
	SearchROM      = 0xf0
	AlarmSearchROM = 0xec
	MatchROM       = 0x55
	SkipROM        = 0xcc
	ReadROM        = 0x33
)

// Bus is a 1-wire bus master driven one slot at a time.
//
// Every transaction starts with Reset, followed by a ROM command and a
// function command written with WriteByte.
type Bus interface {
	// Reset issues a reset pulse and reports whether any device answered
	// with a presence pulse.
	Reset() (bool, error)
	// WriteByte writes 8 bits, LSB first.
	WriteByte(b byte) error
	// ReadByte reads 8 bits, LSB first.
	ReadByte() (byte, error)
	// ReadBit performs a single read slot and returns 0 or 1.
	ReadBit() (byte, error)
	// First restarts the ROM search and returns true if a device was found.
	// When alarmOnly is true only devices in alarm state take part.
	First(alarmOnly bool) (bool, error)
	// Next continues the search started by First.
	Next() (bool, error)
	// Address returns the ROM of the device found by the last successful
	// First or Next call.
	Address() onewire.Address
}

// TripletBus is the subset of a bus master needed to run a ROM search.
type TripletBus interface {
	Reset() (bool, error)
	WriteByte(b byte) error
	// SearchTriplet reads the bit and its complement at the current search
	// position and writes the chosen direction. direction is used when
	// devices disagree.
	SearchTriplet(direction byte) (onewire.TripletResult, error)
}

// BitBus is a bus master that can write single bits.
type BitBus interface {
	ReadBit() (byte, error)
	WriteBit(b byte) error
}

// BitTriplet performs a search triplet with two read slots and one write
// slot, for masters without a hardware triplet command.
func BitTriplet(b BitBus, direction byte) (onewire.TripletResult, error) {
	id, err := b.ReadBit()
	if err != nil {
		return onewire.TripletResult{}, err
	}
	cmp, err := b.ReadBit()
	if err != nil {
		return onewire.TripletResult{}, err
	}
	tr := onewire.TripletResult{
		GotZero: id == 0,
		GotOne:  cmp == 0,
	}
	switch {
	case tr.GotZero && tr.GotOne:
		tr.Taken = direction & 1
	case tr.GotOne:
		tr.Taken = 1
	case tr.GotZero:
		tr.Taken = 0
	default:
		// Nobody answered, no direction to write.
		return tr, nil
	}
	return tr, b.WriteBit(tr.Taken)
}

// AddressBytes returns the ROM in transmission order.
func AddressBytes(a onewire.Address) [8]byte {
	var b [8]byte
	for i := range b {
		b[i] = byte(a >> uint(8*i))
	}
	return b
}

// BusError implements error and onewire.BusError.
type BusError string

func (e BusError) Error() string  { return string(e) }
func (e BusError) BusError() bool { return true }

var _ onewire.BusError = BusError("")
