// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// Family code of the specific device type
type Family byte

func (f Family) String() string {
	switch f {
	case DS18S20:
		return "DS18S20"
	case DS18B20:
		return "DS18B20"
	default:
		return "unknown"
	}
}

const DS18B20 Family = 0x28
const DS18S20 Family = 0x10

// Function commands, datasheet p.11.
const (
	cmdConvertT        = 0x44
	cmdReadScratchpad  = 0xbe
	cmdWriteScratchpad = 0x4e
	cmdReadPowerSupply = 0xb4
)

// ScratchpadSize is the number of bytes in the scratchpad, CRC included.
const ScratchpadSize = 9

// Resolution is the conversion resolution, as stored in bits 5-6 of the
// configuration register.
type Resolution uint8

const (
	Resolution9Bit  Resolution = 0 // 0.5°C
	Resolution10Bit Resolution = 1 // 0.25°C
	Resolution11Bit Resolution = 2 // 0.125°C
	Resolution12Bit Resolution = 3 // 0.0625°C, power up default
)

// ResolutionFromBits returns the Resolution for 9 to 12 bits.
func ResolutionFromBits(bits int) (Resolution, error) {
	if bits < 9 || bits > 12 {
		return 0, errors.New("ds18b20: invalid resolution bits")
	}
	return Resolution(bits - 9), nil
}

// Bits returns the number of bits, 9 to 12.
func (r Resolution) Bits() int {
	return int(r) + 9
}

// ConversionTime is the maximum time a conversion takes at this resolution:
// 9bits:94ms, 10bits:188ms, 11bits:376ms, 12bits:752ms, datasheet p.6.
func (r Resolution) ConversionTime() time.Duration {
	return (94 << uint(r)) * time.Millisecond
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dbits", r.Bits())
}

func (r Resolution) valid() bool {
	return r <= Resolution12Bit
}

// configByte is the value of the configuration register. The low 5 bits
// always read as 1.
func (r Resolution) configByte() byte {
	return byte(r)<<5 | 0x1f
}

// Device is the last known state of a sensor on the bus.
type Device struct {
	Addr    onewire.Address // ROM, 0 for an unpopulated slot
	Raw     int16           // temperature register from the last fetch
	Celsius float64         // Raw decoded in °C
}

// Family returns the family code from the ROM.
func (d *Device) Family() Family {
	return Family(d.Addr & 0xFF)
}

// Temperature returns the last reading as a physic.Temperature.
func (d *Device) Temperature() physic.Temperature {
	// Raw has 4 fractional bits, datasheet p.4.
	return physic.Temperature(d.Raw)*physic.Kelvin/16 + physic.ZeroCelsius
}

func (d *Device) String() string {
	return fmt.Sprintf("%s{%#016x}", d.Family(), uint64(d.Addr))
}

// Decode converts the two temperature register bytes, LSB first, into the
// raw register value and degrees Celsius.
//
// The scale is the 12 bits one; at lower resolutions the device leaves the
// undefined low bits at zero so the same scale applies.
func Decode(lsb, msb byte) (int16, float64) {
	raw := int16(msb)<<8 | int16(lsb)
	return raw, float64(raw) * 0.0625
}
