// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/GermanBionicSystems/owtemp/owbus"
)

// State is the step the Poller performs on the next call to Step.
type State uint8

const (
	// StateScan searches the bus for devices.
	StateScan State = iota
	// StateConvert pushes a pending resolution and starts a conversion on
	// all devices.
	StateConvert
	// StateWaitConvert polls the bus until the conversion completes.
	StateWaitConvert
	// StateFetchTemps reads back one device per step.
	StateFetchTemps
	// StateDone is reached after one cycle in one-shot mode.
	StateDone
	numStates
)

func (s State) String() string {
	switch s {
	case StateScan:
		return "scan"
	case StateConvert:
		return "convert"
	case StateWaitConvert:
		return "wait-convert"
	case StateFetchTemps:
		return "fetch-temps"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Opts contains options to pass to the constructor.
type Opts struct {
	// Capacity is the maximum number of devices recorded by a scan. Defaults
	// to 1, in which case devices are addressed with Skip ROM.
	Capacity int
	// OneShot stops the Poller in StateDone after the first completed cycle
	// instead of starting a new conversion.
	OneShot bool
	// Resolution, if set, is pushed to the devices on the first conversion.
	Resolution *Resolution
	// Logger receives state transitions at debug level. Defaults to
	// discarding everything.
	Logger logrus.FieldLogger
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Capacity: 1,
}

// Poller is a cooperative state machine polling every DS18B20 on a bus.
//
// All methods are safe for concurrent use, though the intended use is a
// single loop calling Step with SetResolution possibly called from
// elsewhere.
type Poller struct {
	mu         sync.Mutex
	bus        owbus.Bus
	log        logrus.FieldLogger
	oneShot    bool
	devices    []Device // fixed capacity registry
	attached   int      // valid entries at the start of devices
	truncated  bool     // the last scan left devices unrecorded
	state      State
	cursor     int // next device to fetch
	resolution Resolution
	dirty      bool // resolution must be pushed on the next conversion
}

// New returns a Poller over bus, ready to scan.
//
// The bus must already be initialized. No bus activity happens until the
// first call to Step.
func New(bus owbus.Bus, opts *Opts) (*Poller, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = 1
	}
	if capacity < 0 {
		return nil, errors.New("ds18b20: invalid capacity")
	}
	p := &Poller{
		bus:        bus,
		log:        opts.Logger,
		oneShot:    opts.OneShot,
		devices:    make([]Device, capacity),
		resolution: Resolution12Bit,
	}
	if p.log == nil {
		l := logrus.New()
		l.Out = io.Discard
		p.log = l
	}
	if opts.Resolution != nil {
		if err := p.SetResolution(*opts.Resolution); err != nil {
			return nil, err
		}
	}
	p.Init()
	return p, nil
}

func (p *Poller) String() string {
	return fmt.Sprintf("ds18b20.Poller{%s}", p.bus)
}

// Init forgets every device and goes back to scanning.
//
// It does not touch the bus, and does not cancel a pending resolution change.
func (p *Poller) Init() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.devices {
		p.devices[i] = Device{}
	}
	p.attached = 0
	p.truncated = false
	p.cursor = 0
	p.setState(StateScan)
}

// Step performs the work of the current state and returns true when it
// completed the readback of every attached device.
//
// In StateDone it keeps returning true without touching the bus.
//
// An error from the bus leaves the Poller in the same state so the same
// work is attempted again on the next call.
func (p *Poller) Step() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	done, err := steps[p.state](p)
	if err != nil {
		return false, fmt.Errorf("ds18b20: %s: %w", p.state, err)
	}
	return done, nil
}

// steps maps each State to its handler.
var steps = [numStates]func(p *Poller) (bool, error){
	StateScan:        (*Poller).stepScan,
	StateConvert:     (*Poller).stepConvert,
	StateWaitConvert: (*Poller).stepWaitConvert,
	StateFetchTemps:  (*Poller).stepFetchTemps,
	StateDone:        (*Poller).stepDone,
}

func (p *Poller) stepScan() (bool, error) {
	if err := p.scan(); err != nil {
		return false, err
	}
	if p.attached > 0 {
		p.setState(StateConvert)
	}
	return false, nil
}

func (p *Poller) stepConvert() (bool, error) {
	if p.dirty {
		if err := p.configureResolution(); err != nil {
			return false, err
		}
		p.dirty = false
	}
	if err := p.broadcast(cmdConvertT); err != nil {
		return false, err
	}
	p.setState(StateWaitConvert)
	return false, nil
}

func (p *Poller) stepWaitConvert() (bool, error) {
	// Devices hold the bus low until the conversion is done.
	b, err := p.bus.ReadBit()
	if err != nil {
		return false, err
	}
	if b != 0 {
		p.cursor = 0
		p.setState(StateFetchTemps)
	}
	return false, nil
}

func (p *Poller) stepFetchTemps() (bool, error) {
	if err := p.fetch(p.cursor); err != nil {
		return false, err
	}
	p.cursor++
	if p.cursor < p.attached {
		return false, nil
	}
	if p.oneShot {
		p.setState(StateDone)
	} else {
		p.setState(StateConvert)
	}
	return true, nil
}

func (p *Poller) stepDone() (bool, error) {
	return true, nil
}

// Temperature returns the last reading of device i in °C, or 0 when i is not
// an attached device.
func (p *Poller) Temperature(i int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= p.attached {
		return 0
	}
	return p.devices[i].Celsius
}

// Device returns the record of attached device i.
func (p *Poller) Device(i int) (Device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= p.attached {
		return Device{}, false
	}
	return p.devices[i], true
}

// Devices returns a copy of the attached devices' records.
func (p *Poller) Devices() []Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Device(nil), p.devices[:p.attached]...)
}

// Attached returns the number of devices found by the last scan.
func (p *Poller) Attached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// Capacity returns the maximum number of devices a scan records.
func (p *Poller) Capacity() int {
	return len(p.devices)
}

// Truncated reports whether the last scan found more devices than Capacity.
func (p *Poller) Truncated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.truncated
}

// State returns the state the next Step call will run.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetResolution requests a resolution change. It is written to the devices
// at the start of the next conversion, even if it is unchanged.
func (p *Poller) SetResolution(r Resolution) error {
	if !r.valid() {
		return errors.New("ds18b20: invalid resolution")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolution = r
	p.dirty = true
	return nil
}

// PendingResolution returns the requested resolution and whether it still
// has to be written to the devices.
func (p *Poller) PendingResolution() (Resolution, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolution, p.dirty
}

// IsParasitePowered issues Read Power Supply to all devices and returns
// true if any of them is parasite powered.
//
// It runs a bus transaction of its own; calling it while a conversion is
// in progress disturbs the completion poll.
func (p *Poller) IsParasitePowered() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.broadcast(cmdReadPowerSupply); err != nil {
		return false, fmt.Errorf("ds18b20: read power supply: %w", err)
	}
	// Parasite powered devices pull the bus low.
	b, err := p.bus.ReadBit()
	if err != nil {
		return false, fmt.Errorf("ds18b20: read power supply: %w", err)
	}
	return b == 0, nil
}

// ReadScratchpad returns the raw scratchpad of attached device i, CRC byte
// included and unchecked.
func (p *Poller) ReadScratchpad(i int) ([ScratchpadSize]byte, error) {
	var spad [ScratchpadSize]byte
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= p.attached {
		return spad, errors.New("ds18b20: no such device")
	}
	if err := p.selectDevice(i, cmdReadScratchpad); err != nil {
		return spad, fmt.Errorf("ds18b20: read scratchpad: %w", err)
	}
	for j := range spad {
		b, err := p.bus.ReadByte()
		if err != nil {
			return spad, fmt.Errorf("ds18b20: read scratchpad: %w", err)
		}
		spad[j] = b
	}
	return spad, nil
}

//

// scan rebuilds the registry from a ROM search.
func (p *Poller) scan() error {
	p.attached = 0
	p.truncated = false
	found, err := p.bus.First(false)
	for found && err == nil {
		if p.attached == len(p.devices) {
			p.truncated = true
			p.log.WithField("capacity", len(p.devices)).Warn("ds18b20: more devices on the bus than capacity")
			break
		}
		p.devices[p.attached] = Device{Addr: p.bus.Address()}
		p.attached++
		found, err = p.bus.Next()
	}
	if err != nil {
		p.attached = 0
		return err
	}
	p.log.WithField("devices", p.attached).Debug("ds18b20: scan")
	return nil
}

// configureResolution writes the configuration register of every device.
func (p *Poller) configureResolution() error {
	data := []byte{0x00, 0x00, p.resolution.configByte()}
	n := p.attached
	if p.skipROM() {
		n = 1
	}
	for i := 0; i < n; i++ {
		if err := p.selectDevice(i, cmdWriteScratchpad); err != nil {
			return err
		}
		for _, b := range data {
			if err := p.bus.WriteByte(b); err != nil {
				return err
			}
		}
	}
	p.log.WithField("resolution", p.resolution).Debug("ds18b20: configured")
	return nil
}

// fetch reads the temperature register of device i.
func (p *Poller) fetch(i int) error {
	if i >= p.attached || p.devices[i].Addr == 0 {
		return nil
	}
	if err := p.selectDevice(i, cmdReadScratchpad); err != nil {
		return err
	}
	var b [2]byte
	for j := range b {
		v, err := p.bus.ReadByte()
		if err != nil {
			return err
		}
		b[j] = v
	}
	d := &p.devices[i]
	d.Raw, d.Celsius = Decode(b[0], b[1])
	return nil
}

// skipROM returns true when a single device may be on the bus, in which case
// sending its ROM is unnecessary.
func (p *Poller) skipROM() bool {
	return len(p.devices) == 1
}

// selectDevice starts a transaction with device i and sends cmd.
func (p *Poller) selectDevice(i int, cmd byte) error {
	if p.skipROM() {
		return p.broadcast(cmd)
	}
	if _, err := p.bus.Reset(); err != nil {
		return err
	}
	if err := p.bus.WriteByte(owbus.MatchROM); err != nil {
		return err
	}
	rom := owbus.AddressBytes(p.devices[i].Addr)
	for _, b := range rom {
		if err := p.bus.WriteByte(b); err != nil {
			return err
		}
	}
	return p.bus.WriteByte(cmd)
}

// broadcast starts a transaction with all devices and sends cmd.
func (p *Poller) broadcast(cmd byte) error {
	if _, err := p.bus.Reset(); err != nil {
		return err
	}
	if err := p.bus.WriteByte(owbus.SkipROM); err != nil {
		return err
	}
	return p.bus.WriteByte(cmd)
}

func (p *Poller) setState(s State) {
	if s != p.state {
		p.log.WithFields(logrus.Fields{"from": p.state, "to": s}).Debug("ds18b20: state")
	}
	p.state = s
}
