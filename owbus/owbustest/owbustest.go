// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owbustest is meant to be used to test drivers over a simulated
// 1-wire bus populated with DS18B20 temperature sensors.
package owbustest

import (
	"sync"

	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/owtemp/owbus"
)

// Function commands understood by the simulated devices.
const (
	cmdConvertT        = 0x44
	cmdReadScratchpad  = 0xbe
	cmdWriteScratchpad = 0x4e
	cmdReadPowerSupply = 0xb4
)

// IO registers the I/O happening between two reset pulses.
type IO struct {
	W []byte // bytes written
	R []byte // bytes read
	B []byte // single bits read
}

// Device is a simulated DS18B20.
type Device struct {
	Addr       onewire.Address
	Scratchpad [9]byte // scratchpad returned by Read Scratchpad
	Parasite   bool    // answers 0 to Read Power Supply
	Alarm      bool    // takes part in an alarm search
	Converts   int     // number of Convert T received
}

// MakeAddress returns a ROM with the given family code and 48 bit serial
// number and a valid CRC.
func MakeAddress(family byte, serial uint64) onewire.Address {
	a := onewire.Address(family) | onewire.Address(serial&0xffffffffffff)<<8
	b := owbus.AddressBytes(a)
	return a | onewire.Address(onewire.CalcCRC(b[:7]))<<56
}

// Sim implements owbus.Bus and owbus.TripletBus over simulated devices.
//
// Devices answer ROM and function commands the way a DS18B20 does; when
// several devices are selected their answers are wired-AND'ed.
type Sim struct {
	sync.Mutex
	Devices []*Device
	// BusyPolls is the number of read slots returning 0 after a Convert T,
	// before the conversion completes.
	BusyPolls int
	// Err, when set, is returned by every operation.
	Err error
	// Ops records each transaction, a new entry is started by Reset.
	Ops []IO

	mode     mode
	selected []*Device
	romBuf   []byte // match ROM address being received
	fn       byte   // current function command
	readIdx  int    // next scratchpad byte
	writeIdx int    // next scratchpad byte written by Write Scratchpad
	busy     int    // remaining busy read slots
	bit      int    // search position
	search   owbus.Searcher
}

type mode int

const (
	modeIdle mode = iota
	modeROM
	modeMatch
	modeSearch
	modeFunction
	modeData
)

func (s *Sim) String() string {
	return "sim"
}

// Reset implements owbus.Bus.
func (s *Sim) Reset() (bool, error) {
	s.Lock()
	defer s.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	s.Ops = append(s.Ops, IO{})
	s.mode = modeROM
	s.selected = nil
	s.romBuf = s.romBuf[:0]
	s.fn = 0
	s.readIdx = 0
	s.writeIdx = 0
	return len(s.Devices) != 0, nil
}

// WriteByte implements owbus.Bus.
func (s *Sim) WriteByte(b byte) error {
	s.Lock()
	defer s.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.op().W = append(s.op().W, b)
	switch s.mode {
	case modeROM:
		switch b {
		case owbus.SkipROM:
			s.selected = append(s.selected[:0], s.Devices...)
			s.mode = modeFunction
		case owbus.MatchROM:
			s.mode = modeMatch
		case owbus.SearchROM, owbus.AlarmSearchROM:
			s.selected = s.selected[:0]
			for _, d := range s.Devices {
				if b == owbus.SearchROM || d.Alarm {
					s.selected = append(s.selected, d)
				}
			}
			s.bit = 0
			s.mode = modeSearch
		default:
			s.mode = modeIdle
		}
	case modeMatch:
		s.romBuf = append(s.romBuf, b)
		if len(s.romBuf) == 8 {
			s.selected = s.selected[:0]
			for _, d := range s.Devices {
				if owbus.AddressBytes(d.Addr) == [8]byte(s.romBuf) {
					s.selected = append(s.selected, d)
				}
			}
			s.mode = modeFunction
		}
	case modeFunction:
		s.fn = b
		s.mode = modeData
		if b == cmdConvertT {
			for _, d := range s.selected {
				d.Converts++
			}
			if len(s.selected) != 0 {
				s.busy = s.BusyPolls
			}
		}
	case modeData:
		if s.fn == cmdWriteScratchpad && s.writeIdx < 3 {
			for _, d := range s.selected {
				d.Scratchpad[2+s.writeIdx] = b
			}
			s.writeIdx++
		}
	}
	return nil
}

// ReadByte implements owbus.Bus.
func (s *Sim) ReadByte() (byte, error) {
	s.Lock()
	defer s.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	v := byte(0xff)
	if s.mode == modeData && s.fn == cmdReadScratchpad && s.readIdx < 9 {
		for _, d := range s.selected {
			v &= d.Scratchpad[s.readIdx]
		}
		s.readIdx++
	}
	s.op().R = append(s.op().R, v)
	return v, nil
}

// ReadBit implements owbus.Bus.
func (s *Sim) ReadBit() (byte, error) {
	s.Lock()
	defer s.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	v := s.readBit()
	s.op().B = append(s.op().B, v)
	return v, nil
}

func (s *Sim) readBit() byte {
	if s.mode == modeData && s.fn == cmdReadPowerSupply {
		for _, d := range s.selected {
			if d.Parasite {
				return 0
			}
		}
		return 1
	}
	if s.busy > 0 {
		s.busy--
		return 0
	}
	return 1
}

// SearchTriplet implements owbus.TripletBus.
func (s *Sim) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	s.Lock()
	defer s.Unlock()
	if s.Err != nil {
		return onewire.TripletResult{}, s.Err
	}
	var tr onewire.TripletResult
	if s.mode != modeSearch || s.bit >= 64 {
		return tr, nil
	}
	for _, d := range s.selected {
		if (d.Addr>>uint(s.bit))&1 == 0 {
			tr.GotZero = true
		} else {
			tr.GotOne = true
		}
	}
	switch {
	case tr.GotZero && tr.GotOne:
		tr.Taken = direction & 1
	case tr.GotOne:
		tr.Taken = 1
	}
	kept := s.selected[:0]
	for _, d := range s.selected {
		if byte(d.Addr>>uint(s.bit))&1 == tr.Taken {
			kept = append(kept, d)
		}
	}
	s.selected = kept
	s.bit++
	return tr, nil
}

// First implements owbus.Bus.
func (s *Sim) First(alarmOnly bool) (bool, error) {
	return s.search.First(s, alarmOnly)
}

// Next implements owbus.Bus.
func (s *Sim) Next() (bool, error) {
	return s.search.Next(s)
}

// Address implements owbus.Bus.
func (s *Sim) Address() onewire.Address {
	return s.search.Address()
}

// Transactions returns the recorded transactions, leaving out ROM searches.
func (s *Sim) Transactions() []IO {
	s.Lock()
	defer s.Unlock()
	var out []IO
	for _, op := range s.Ops {
		if len(op.W) != 0 && (op.W[0] == owbus.SearchROM || op.W[0] == owbus.AlarmSearchROM) {
			continue
		}
		out = append(out, op)
	}
	return out
}

func (s *Sim) op() *IO {
	if len(s.Ops) == 0 {
		s.Ops = append(s.Ops, IO{})
	}
	return &s.Ops[len(s.Ops)-1]
}

var _ owbus.Bus = &Sim{}
var _ owbus.TripletBus = &Sim{}
