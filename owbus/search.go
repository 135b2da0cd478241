// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbus

import (
	"periph.io/x/conn/v3/onewire"
)

// Searcher walks the ROM search tree one device per call, remembering where
// the previous pass branched.
//
// The zero value is ready to use; call First before Next.
type Searcher struct {
	rom             onewire.Address // last ROM found
	lastDiscrepancy int             // bit where the last pass took 0 at a fork, -1 if none
	lastDevice      bool            // the previous pass found the last device
	alarmOnly       bool
	found           bool
}

// First resets the search state and looks for the first device.
func (s *Searcher) First(b TripletBus, alarmOnly bool) (bool, error) {
	s.reset()
	s.alarmOnly = alarmOnly
	return s.Next(b)
}

// Next looks for the following device. It returns false once all devices
// have been enumerated; First must be called to start over.
func (s *Searcher) Next(b TripletBus) (bool, error) {
	if s.lastDevice {
		s.found = false
		return false, nil
	}
	present, err := b.Reset()
	if err != nil {
		s.reset()
		return false, err
	}
	if !present {
		s.reset()
		return false, nil
	}
	cmd := byte(SearchROM)
	if s.alarmOnly {
		cmd = AlarmSearchROM
	}
	if err := b.WriteByte(cmd); err != nil {
		s.reset()
		return false, err
	}

	var rom onewire.Address
	lastZero := -1
	for i := 0; i < 64; i++ {
		var dir byte
		switch {
		case i < s.lastDiscrepancy:
			dir = byte(s.rom>>uint(i)) & 1
		case i == s.lastDiscrepancy:
			dir = 1
		}
		tr, err := b.SearchTriplet(dir)
		if err != nil {
			s.reset()
			return false, err
		}
		if !tr.GotZero && !tr.GotOne {
			// No device left participating, happens on an alarm search
			// without any device in alarm.
			s.reset()
			return false, nil
		}
		if tr.GotZero && tr.GotOne && tr.Taken == 0 {
			lastZero = i
		}
		rom |= onewire.Address(tr.Taken&1) << uint(i)
	}

	buf := AddressBytes(rom)
	if !onewire.CheckCRC(buf[:]) {
		s.reset()
		return false, BusError("owbus: search returned a ROM with an invalid CRC")
	}
	s.rom = rom
	s.found = true
	s.lastDiscrepancy = lastZero
	s.lastDevice = lastZero == -1
	return true, nil
}

// Address returns the ROM found by the last successful First or Next, or 0.
func (s *Searcher) Address() onewire.Address {
	if !s.found {
		return 0
	}
	return s.rom
}

func (s *Searcher) reset() {
	s.rom = 0
	s.lastDiscrepancy = -1
	s.lastDevice = false
	s.found = false
}
