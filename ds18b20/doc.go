// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 polls Dallas Semi / Maxim DS18B20 temperature sensors on a
// 1-wire bus without ever waiting on the sensors.
//
// A Poller discovers the devices, starts a conversion on all of them, polls
// the bus until the conversion completes and then reads back one device per
// call. The caller drives it by calling Step from its own loop or ticker;
// Step returns true each time every attached device has a fresh reading.
//
// Conversion takes from 94ms at 9 bits to 750ms at 12 bits, during which
// Step only issues a single read slot per call.
//
// The devices must be bus powered for the completion poll to work: parasite
// powered devices do not pull the bus low while converting. Use
// IsParasitePowered to check.
//
// # Datasheet
//
// https://datasheets.maximintegrated.com/en/ds/DS18B20.pdf
package ds18b20
