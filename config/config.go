// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config loads the kyoto light client's ambient configuration:
// network selection, anchor checkpoint override, peer whitelist, and the
// sync knobs the node coordinator needs (required peer count, filter
// quorum size). It follows the btcsuite daemon convention of layering a
// config file on top of command-line flags via jessevdk/go-flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "kyoto.conf"
	defaultDataDirname    = "data"
	defaultLogFilename    = "kyoto.log"
	defaultLogLevel       = "info"

	// DefaultRequiredPeers is the steady-state number of live peers the
	// coordinator insists on once past the Behind phase.
	DefaultRequiredPeers = 2

	// DefaultQuorumRequired is the number of peers whose compact filter
	// header batches must agree before the quorum chain commits.
	DefaultQuorumRequired = 2
)

// Config mirrors the fields a btcd-style daemon parses out of its config
// file and flags, trimmed to what the light client core actually needs.
type Config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Directory to store headers and peer data"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	LogLevel   string `long:"loglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	Network string `long:"network" description:"Network to connect to {mainnet, testnet3, signet, regtest}"`

	Whitelist []string `long:"whitelist" description:"host:port of a peer to always try first"`
	Connect   []string `long:"connect" description:"host:port of a peer to connect to instead of discovering"`

	AnchorHeight int32  `long:"anchorheight" description:"Height of the checkpoint to anchor header sync at"`
	AnchorHash   string `long:"anchorhash" description:"Block hash of the checkpoint to anchor header sync at"`

	RequiredPeers   int `long:"requiredpeers" description:"Number of live peers required once past initial sync"`
	QuorumRequired  int `long:"quorum" description:"Number of peers whose filter headers must agree to commit"`
	MaxLogRolls     int `long:"maxlogrolls" description:"Number of rotated log files to retain"`
	Scripts         []string `long:"script" description:"Hex-encoded output script or address to watch from startup"`
	AllPeersRelay   bool `long:"allpeersrelay" description:"Not read by the node; each Client.BroadcastTx call names its own broadcast policy"`
}

// Default returns a Config populated with the same defaults a fresh
// install of a btcsuite-lineage daemon would compute before flags are
// parsed.
func Default() *Config {
	dataDir := defaultAppDataDir()
	return &Config{
		ConfigFile:     filepath.Join(dataDir, defaultConfigFilename),
		DataDir:        filepath.Join(dataDir, defaultDataDirname),
		LogDir:         dataDir,
		LogLevel:       defaultLogLevel,
		Network:        "mainnet",
		RequiredPeers:  DefaultRequiredPeers,
		QuorumRequired: DefaultQuorumRequired,
		MaxLogRolls:    3,
	}
}

// Load parses command-line arguments into a Config seeded with defaults.
// It parses args once to locate -C, merges in the config file if one
// exists there, and then parses args again so flags take precedence over
// the file.
func Load(args []string) (*Config, error) {
	cfg := Default()
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		iniParser := flags.NewIniParser(parser)
		if err := iniParser.ParseFile(cfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", cfg.ConfigFile, err)
		}
		// Re-apply flags so they take precedence over the config file.
		if _, err := parser.ParseArgs(args); err != nil {
			return nil, err
		}
	}

	if cfg.RequiredPeers < 1 {
		return nil, fmt.Errorf("requiredpeers must be >= 1, got %d", cfg.RequiredPeers)
	}
	if cfg.QuorumRequired < 1 {
		return nil, fmt.Errorf("quorum must be >= 1, got %d", cfg.QuorumRequired)
	}

	return cfg, nil
}

func defaultAppDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".kyoto")
	}
	return "."
}
