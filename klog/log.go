// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package klog provides the subsystem loggers used across the kyoto
// light client. Each package that wants to log obtains its own tagged
// logger through Subsystem and stores it in a package-level var, the way
// btcsuite daemons wire up btclog.
package klog

import (
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Disabled is saved as a pointer to the backend's disabled logger so
// packages can default to a no-op logger before InitLogRotator is called.
var Disabled = btclog.Disabled

// loggers tracks every subsystem logger that has been created so that
// SetLevel/SetLevels can reach them after the fact (subsystems generally
// register before flags are parsed).
var loggers = make(map[string]btclog.Logger)

var backend = btclog.NewBackend(os.Stdout)

var logRotator *rotator.Rotator

// Subsystem returns the logger for the given tag, creating it the first
// time it's requested. Tag is a short upper-case subsystem name such as
// "CHAN", "CFHD", "PEER", "NODE", matching the convention btcd/dcrd use
// for their log tags.
func Subsystem(tag string) btclog.Logger {
	if l, ok := loggers[tag]; ok {
		return l
	}
	l := backend.Logger(tag)
	l.SetLevel(btclog.LevelInfo)
	loggers[tag] = l
	return l
}

// SetLevel updates the level of a single subsystem logger. Unknown tags
// are ignored, matching the tolerant behavior of btcd's setLogLevel.
func SetLevel(tag string, level btclog.Level) {
	if l, ok := loggers[tag]; ok {
		l.SetLevel(level)
	}
}

// SetLevels applies level to every registered subsystem logger.
func SetLevels(level btclog.Level) {
	for _, l := range loggers {
		l.SetLevel(level)
	}
}

// InitLogRotator initializes the rotating file logger and multiplexes
// all subsystem output to both stdout and the rotated file. maxRolls
// mirrors btcd's default of keeping a bounded number of historical log
// files around.
func InitLogRotator(logFile string, maxRolls int) error {
	r, err := rotator.New(logFile, 10*1024, false, maxRolls)
	if err != nil {
		return fmt.Errorf("failed to create log rotator: %w", err)
	}
	logRotator = r
	backend = btclog.NewBackend(io.MultiWriter(os.Stdout, logRotator))
	for tag, l := range loggers {
		nl := backend.Logger(tag)
		nl.SetLevel(l.Level())
		loggers[tag] = nl
	}
	return nil
}
