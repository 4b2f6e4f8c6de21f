// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command kyotod runs the kyoto light client as a standalone daemon: it
// loads configuration the way a btcsuite-lineage daemon does, starts the
// node coordinator, and logs every event it publishes until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/btcsuite/btclog"

	"github.com/kyotosync/kyoto/config"
	"github.com/kyotosync/kyoto/klog"
	"github.com/kyotosync/kyoto/node"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kyotod:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := klog.InitLogRotator(filepath.Join(cfg.LogDir, "kyoto.log"), cfg.MaxLogRolls); err != nil {
		return fmt.Errorf("initializing log rotator: %w", err)
	}
	if level, ok := btclog.LevelFromString(cfg.LogLevel); ok {
		klog.SetLevels(level)
	}

	log := klog.Subsystem("MAIN")

	co, client, err := node.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	go co.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	events := client.Events()
	for {
		select {
		case msg := <-events:
			logEvent(log, msg)
		case <-sigCh:
			log.Info("shutdown requested")
			client.Shutdown()
			return nil
		}
	}
}

func logEvent(log btclog.Logger, msg node.NodeMessage) {
	switch m := msg.(type) {
	case node.Dialog:
		log.Info(m.Text)
	case node.Warning:
		log.Warn(m.Text)
	case node.BlocksDisconnected:
		log.Warnf("reorg: disconnected blocks %d..%d", m.From, m.To)
	case node.Transaction:
		log.Infof("transaction %s in block %s at height %d", m.Tx.TxHash(), m.BlockHash, m.Height)
	case node.Synced:
		log.Infof("synced to height %d (%s)", m.Height, m.Hash)
	}
}
