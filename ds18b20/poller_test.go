// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"periph.io/x/conn/v3/onewire"

	"github.com/GermanBionicSystems/owtemp/owbus"
	"github.com/GermanBionicSystems/owtemp/owbus/owbustest"
)

func newDevice(serial uint64, lsb, msb byte) *owbustest.Device {
	return &owbustest.Device{
		Addr:       owbustest.MakeAddress(byte(DS18B20), serial),
		Scratchpad: [9]byte{lsb, msb, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10, 0x00},
	}
}

func matchROM(a onewire.Address, cmd byte) []byte {
	rom := owbus.AddressBytes(a)
	return append(append([]byte{owbus.MatchROM}, rom[:]...), cmd)
}

// runCycle steps p until a cycle completes and returns the number of steps.
func runCycle(t *testing.T, p *Poller, max int) int {
	for i := 1; i <= max; i++ {
		done, err := p.Step()
		if err != nil {
			t.Fatal(err)
		}
		if done {
			return i
		}
	}
	t.Fatalf("no completed cycle after %d steps, state %s", max, p.State())
	return 0
}

func TestPoller_singleDevice(t *testing.T) {
	sim := &owbustest.Sim{Devices: []*owbustest.Device{newDevice(1, 0x91, 0x01)}}
	p, err := New(sim, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []State{StateConvert, StateWaitConvert, StateFetchTemps}
	for i, s := range want {
		done, err := p.Step()
		if err != nil {
			t.Fatal(err)
		}
		if done {
			t.Fatalf("step %d: unexpected completion", i)
		}
		if got := p.State(); got != s {
			t.Fatalf("step %d: expected %s, got %s", i, s, got)
		}
	}
	if done, err := p.Step(); !done || err != nil {
		t.Fatal(done, err)
	}
	if s := p.State(); s != StateConvert {
		t.Fatalf("expected to start over, got %s", s)
	}
	if n := p.Attached(); n != 1 {
		t.Fatalf("expected 1 device, got %d", n)
	}
	if c := p.Temperature(0); c != 25.0625 {
		t.Fatalf("expected 25.0625, got %f", c)
	}
	d, ok := p.Device(0)
	if !ok || d.Addr != sim.Devices[0].Addr || d.Raw != 401 {
		t.Fatalf("unexpected record %+v", d)
	}
	// A single device is addressed with Skip ROM.
	expected := []owbustest.IO{
		{W: []byte{0xcc, 0x44}, B: []byte{1}},
		{W: []byte{0xcc, 0xbe}, R: []byte{0x91, 0x01}},
	}
	if got := sim.Transactions(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
}

func TestPoller_noDevice(t *testing.T) {
	sim := &owbustest.Sim{}
	p, err := New(sim, &Opts{Capacity: 4})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if done, err := p.Step(); done || err != nil {
			t.Fatal(done, err)
		}
	}
	if n := p.Attached(); n != 0 {
		t.Fatalf("expected no device, got %d", n)
	}
	if s := p.State(); s != StateScan {
		t.Fatalf("expected %s, got %s", StateScan, s)
	}
	// Device shows up later.
	sim.Devices = append(sim.Devices, newDevice(7, 0x08, 0x00))
	runCycle(t, p, 10)
	if c := p.Temperature(0); c != 0.5 {
		t.Fatalf("expected 0.5, got %f", c)
	}
}

func TestPoller_twoDevices(t *testing.T) {
	a := newDevice(1, 0x91, 0x01)
	b := newDevice(2, 0x6f, 0xfe)
	sim := &owbustest.Sim{Devices: []*owbustest.Device{a, b}}
	p, err := New(sim, &Opts{Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Step(); err != nil {
		t.Fatal(err)
	}
	if n := p.Attached(); n != 2 {
		t.Fatalf("expected 2 devices, got %d", n)
	}
	if p.Truncated() {
		t.Fatal("unexpected truncation")
	}
	sim.Ops = nil
	if n := runCycle(t, p, 10); n != 4 {
		t.Fatalf("expected completion after 4 steps, got %d", n)
	}
	devs := p.Devices()
	expected := []owbustest.IO{
		{W: []byte{0xcc, 0x44}, B: []byte{1}},
		{W: matchROM(devs[0].Addr, 0xbe), R: tempBytes(sim, devs[0].Addr)},
		{W: matchROM(devs[1].Addr, 0xbe), R: tempBytes(sim, devs[1].Addr)},
	}
	if got := sim.Transactions(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
	want := map[onewire.Address]float64{a.Addr: 25.0625, b.Addr: -25.0625}
	for i, d := range devs {
		if d.Celsius != want[d.Addr] {
			t.Errorf("%s: expected %f, got %f", &d, want[d.Addr], d.Celsius)
		}
		if c := p.Temperature(i); c != want[d.Addr] {
			t.Errorf("%d: expected %f, got %f", i, want[d.Addr], c)
		}
	}
}

// tempBytes returns the two temperature bytes of the simulated device.
func tempBytes(sim *owbustest.Sim, a onewire.Address) []byte {
	for _, s := range sim.Devices {
		if s.Addr == a {
			return []byte{s.Scratchpad[0], s.Scratchpad[1]}
		}
	}
	return nil
}

func TestPoller_temperatureOutOfRange(t *testing.T) {
	sim := &owbustest.Sim{Devices: []*owbustest.Device{newDevice(1, 0x91, 0x01), newDevice(2, 0x91, 0x01)}}
	p, err := New(sim, &Opts{Capacity: 3})
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{-1, 0, 1, 2, 3, 100} {
		if c := p.Temperature(i); c != 0 {
			t.Fatalf("%d: expected 0, got %f", i, c)
		}
	}
	runCycle(t, p, 10)
	for _, i := range []int{-1, 2, 3, 100} {
		if c := p.Temperature(i); c != 0 {
			t.Fatalf("%d: expected 0, got %f", i, c)
		}
		if _, ok := p.Device(i); ok {
			t.Fatalf("%d: unexpected device", i)
		}
	}
}

func TestPoller_init(t *testing.T) {
	sim := &owbustest.Sim{Devices: []*owbustest.Device{newDevice(1, 0x91, 0x01)}}
	p, err := New(sim, nil)
	if err != nil {
		t.Fatal(err)
	}
	runCycle(t, p, 10)
	ops := len(sim.Ops)
	p.Init()
	p.Init()
	if n := p.Attached(); n != 0 {
		t.Fatalf("expected no device, got %d", n)
	}
	if s := p.State(); s != StateScan {
		t.Fatalf("expected %s, got %s", StateScan, s)
	}
	if c := p.Temperature(0); c != 0 {
		t.Fatalf("expected 0, got %f", c)
	}
	if !reflect.DeepEqual(p.devices, []Device{{}}) {
		t.Fatalf("expected zeroed registry, got %+v", p.devices)
	}
	if len(sim.Ops) != ops {
		t.Fatal("Init must not touch the bus")
	}
}

func TestPoller_setResolution(t *testing.T) {
	sim := &owbustest.Sim{Devices: []*owbustest.Device{newDevice(1, 0x91, 0x01)}}
	p, err := New(sim, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetResolution(Resolution10Bit); err != nil {
		t.Fatal(err)
	}
	if r, dirty := p.PendingResolution(); r != Resolution10Bit || !dirty {
		t.Fatal(r, dirty)
	}
	// Scan, then convert.
	for i := 0; i < 2; i++ {
		if _, err := p.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if _, dirty := p.PendingResolution(); dirty {
		t.Fatal("resolution should have been written")
	}
	expected := []owbustest.IO{
		{W: []byte{0xcc, 0x4e, 0x00, 0x00, 0x3f}},
		{W: []byte{0xcc, 0x44}},
	}
	if got := sim.Transactions(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
	if c := sim.Devices[0].Scratchpad[4]; c != 0x3f {
		t.Fatalf("expected config 0x3f, got %#x", c)
	}
	runCycle(t, p, 10)

	// Setting the same value writes it again.
	if err := p.SetResolution(Resolution10Bit); err != nil {
		t.Fatal(err)
	}
	sim.Ops = nil
	if _, err := p.Step(); err != nil {
		t.Fatal(err)
	}
	if got := sim.Transactions(); len(got) != 2 || !reflect.DeepEqual(got[0].W, []byte{0xcc, 0x4e, 0x00, 0x00, 0x3f}) {
		t.Fatalf("expected the resolution to be written again, got %#v", got)
	}

	if err := p.SetResolution(Resolution(4)); err == nil {
		t.Fatal("invalid resolution")
	}
	if r, dirty := p.PendingResolution(); r != Resolution10Bit || dirty {
		t.Fatal(r, dirty)
	}
}

func TestPoller_setResolutionMatchROM(t *testing.T) {
	a := newDevice(1, 0x91, 0x01)
	b := newDevice(2, 0x91, 0x01)
	sim := &owbustest.Sim{Devices: []*owbustest.Device{a, b}}
	r := Resolution9Bit
	p, err := New(sim, &Opts{Capacity: 2, Resolution: &r})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := p.Step(); err != nil {
			t.Fatal(err)
		}
	}
	devs := p.Devices()
	expected := []owbustest.IO{
		{W: append(matchROM(devs[0].Addr, 0x4e), 0x00, 0x00, 0x1f)},
		{W: append(matchROM(devs[1].Addr, 0x4e), 0x00, 0x00, 0x1f)},
		{W: []byte{0xcc, 0x44}},
	}
	if got := sim.Transactions(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
	for _, d := range sim.Devices {
		if d.Scratchpad[4] != 0x1f {
			t.Fatalf("%#x: expected config 0x1f, got %#x", d.Addr, d.Scratchpad[4])
		}
		if d.Converts != 1 {
			t.Fatalf("%#x: expected one conversion, got %d", d.Addr, d.Converts)
		}
	}
}

func TestPoller_liveness(t *testing.T) {
	for k := 1; k <= 4; k++ {
		sim := &owbustest.Sim{BusyPolls: 3}
		for i := 0; i < k; i++ {
			sim.Devices = append(sim.Devices, newDevice(uint64(100+i), byte(16*i), 0))
		}
		p, err := New(sim, &Opts{Capacity: 4})
		if err != nil {
			t.Fatal(err)
		}
		// scan + convert + 4 polls + k fetches.
		if n := runCycle(t, p, 6+k); n != 6+k {
			t.Fatalf("%d devices: expected %d steps, got %d", k, 6+k, n)
		}
		// Following cycles skip the scan.
		if n := runCycle(t, p, 5+k); n != 5+k {
			t.Fatalf("%d devices: expected %d steps, got %d", k, 5+k, n)
		}
		if c := sim.Devices[0].Converts; c != 2 {
			t.Fatalf("expected 2 conversions, got %d", c)
		}
	}
}

func TestPoller_oneShot(t *testing.T) {
	sim := &owbustest.Sim{Devices: []*owbustest.Device{newDevice(1, 0x91, 0x01)}}
	p, err := New(sim, &Opts{OneShot: true})
	if err != nil {
		t.Fatal(err)
	}
	runCycle(t, p, 10)
	if s := p.State(); s != StateDone {
		t.Fatalf("expected %s, got %s", StateDone, s)
	}
	ops := len(sim.Ops)
	for i := 0; i < 3; i++ {
		if done, err := p.Step(); !done || err != nil {
			t.Fatal(done, err)
		}
	}
	if len(sim.Ops) != ops {
		t.Fatal("done state must not touch the bus")
	}
}

func TestPoller_truncated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sim := &owbustest.Sim{Devices: []*owbustest.Device{newDevice(1, 0x91, 0x01), newDevice(2, 0x91, 0x01)}}
	p, err := New(sim, &Opts{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Step(); err != nil {
		t.Fatal(err)
	}
	if n := p.Attached(); n != 1 {
		t.Fatalf("expected 1 device, got %d", n)
	}
	if !p.Truncated() {
		t.Fatal("expected truncation")
	}
	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a warning")
	}
}

func TestPoller_rescanReplaces(t *testing.T) {
	a := newDevice(1, 0x91, 0x01)
	b := newDevice(2, 0x91, 0x01)
	sim := &owbustest.Sim{Devices: []*owbustest.Device{a, b}}
	p, err := New(sim, &Opts{Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	runCycle(t, p, 10)
	sim.Devices = []*owbustest.Device{b}
	p.Init()
	runCycle(t, p, 10)
	if devs := p.Devices(); len(devs) != 1 || devs[0].Addr != b.Addr {
		t.Fatalf("expected only %#x, got %+v", b.Addr, devs)
	}
}

func TestPoller_skipsEmptySlot(t *testing.T) {
	sim := &owbustest.Sim{Devices: []*owbustest.Device{newDevice(1, 0x91, 0x01), newDevice(2, 0x91, 0x01)}}
	p, err := New(sim, &Opts{Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	for p.State() != StateFetchTemps {
		if _, err := p.Step(); err != nil {
			t.Fatal(err)
		}
	}
	p.devices[0].Addr = 0
	sim.Ops = nil
	if done, err := p.Step(); done || err != nil {
		t.Fatal(done, err)
	}
	if len(sim.Ops) != 0 {
		t.Fatalf("empty slot must not be fetched, got %#v", sim.Ops)
	}
	if done, err := p.Step(); !done || err != nil {
		t.Fatal(done, err)
	}
	if c := p.Temperature(0); c != 0 {
		t.Fatalf("expected 0, got %f", c)
	}
	if c := p.Temperature(1); c != 25.0625 {
		t.Fatalf("expected 25.0625, got %f", c)
	}
}

func TestPoller_busError(t *testing.T) {
	sim := &owbustest.Sim{Devices: []*owbustest.Device{newDevice(1, 0x91, 0x01)}}
	p, err := New(sim, nil)
	if err != nil {
		t.Fatal(err)
	}
	for p.State() != StateFetchTemps {
		if _, err := p.Step(); err != nil {
			t.Fatal(err)
		}
	}
	boom := errors.New("boom")
	sim.Err = boom
	done, err := p.Step()
	if done || !errors.Is(err, boom) {
		t.Fatal(done, err)
	}
	if s := p.State(); s != StateFetchTemps {
		t.Fatalf("expected to stay in %s, got %s", StateFetchTemps, s)
	}
	sim.Err = nil
	if done, err := p.Step(); !done || err != nil {
		t.Fatal(done, err)
	}

	// A failing scan leaves nothing attached.
	p.Init()
	sim.Err = boom
	if _, err := p.Step(); !errors.Is(err, boom) {
		t.Fatal(err)
	}
	if n := p.Attached(); n != 0 {
		t.Fatalf("expected no device, got %d", n)
	}
}

func TestPoller_isParasitePowered(t *testing.T) {
	dev := newDevice(1, 0x91, 0x01)
	sim := &owbustest.Sim{Devices: []*owbustest.Device{dev, newDevice(2, 0, 0)}}
	p, err := New(sim, nil)
	if err != nil {
		t.Fatal(err)
	}
	if parasite, err := p.IsParasitePowered(); parasite || err != nil {
		t.Fatal(parasite, err)
	}
	dev.Parasite = true
	if parasite, err := p.IsParasitePowered(); !parasite || err != nil {
		t.Fatal(parasite, err)
	}
	expected := []owbustest.IO{
		{W: []byte{0xcc, 0xb4}, B: []byte{1}},
		{W: []byte{0xcc, 0xb4}, B: []byte{0}},
	}
	if got := sim.Transactions(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
	if s := p.State(); s != StateScan {
		t.Fatalf("state changed to %s", s)
	}
	sim.Err = errors.New("boom")
	if _, err := p.IsParasitePowered(); err == nil {
		t.Fatal("expected error")
	}
}

func TestPoller_readScratchpad(t *testing.T) {
	dev := newDevice(1, 0x91, 0x01)
	sim := &owbustest.Sim{Devices: []*owbustest.Device{dev}}
	p, err := New(sim, &Opts{Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.ReadScratchpad(0); err == nil {
		t.Fatal("no device scanned yet")
	}
	if _, err := p.Step(); err != nil {
		t.Fatal(err)
	}
	spad, err := p.ReadScratchpad(0)
	if err != nil {
		t.Fatal(err)
	}
	if spad != dev.Scratchpad {
		t.Fatalf("expected %#v, got %#v", dev.Scratchpad, spad)
	}
	if _, err := p.ReadScratchpad(1); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_fail(t *testing.T) {
	if p, err := New(&owbustest.Sim{}, &Opts{Capacity: -1}); p != nil || err == nil {
		t.Fatal("invalid capacity")
	}
	r := Resolution(7)
	if p, err := New(&owbustest.Sim{}, &Opts{Resolution: &r}); p != nil || err == nil {
		t.Fatal("invalid resolution")
	}
	p, err := New(&owbustest.Sim{}, &Opts{})
	if err != nil {
		t.Fatal(err)
	}
	if c := p.Capacity(); c != 1 {
		t.Fatalf("expected default capacity 1, got %d", c)
	}
	if s := p.String(); s != "ds18b20.Poller{sim}" {
		t.Fatal(s)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateScan:        "scan",
		StateConvert:     "convert",
		StateWaitConvert: "wait-convert",
		StateFetchTemps:  "fetch-temps",
		StateDone:        "done",
		numStates:        "State(5)",
	} {
		if got := s.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}
