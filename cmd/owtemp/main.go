// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// owtemp polls the DS18B20 sensors of a 1-Wire bus and reports their
// temperature.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/owtemp/internal/config"
)

func main() {
	var file string
	var verbose, once bool
	var interval time.Duration

	app := cli.App{
		Name:  "owtemp",
		Usage: "poll DS18B20 temperature sensors on a 1-Wire bus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Value:       "owtemp.yaml",
				Usage:       "configuration file",
				Destination: &file,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "log state transitions",
				Destination: &verbose,
			},
			&cli.BoolFlag{
				Name:        "once",
				Usage:       "stop after one complete reading of all sensors",
				Destination: &once,
			},
			&cli.DurationFlag{
				Name:        "interval",
				Usage:       "delay between two steps, overrides poll.interval",
				Destination: &interval,
			},
		},
		Action: func(c *cli.Context) error {
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			cfg, err := config.Load(file)
			if err != nil {
				return err
			}
			if once {
				cfg.Poll.OneShot = true
			}
			if interval > 0 {
				cfg.Poll.Interval = interval
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			if _, err := host.Init(); err != nil {
				return err
			}
			bus, closer, err := openBus(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, bus, log, nil)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
