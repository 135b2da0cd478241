// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owtemp polls DS18B20 temperature sensors on a 1-Wire bus without
// blocking.
//
// The sensor coordinator lives in ds18b20, the bus transports in ds248x
// (I²C bridge) and ds9097 (serial port), the bus abstraction in owbus.
// cmd/owtemp ties them together.
package owtemp
