// Package config parses the command-line and INI configuration for the
// headerstored process: where to keep the headers directory, which
// network to run against, and the debug log level. It follows the same
// jessevdk/go-flags CLI-plus-INI pattern every dcrd command uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "headerstored.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"

	// LogFilename is the name of the rotated log file written under
	// Config.LogDir().
	LogFilename = "headerstored.log"
)

// Config holds the resolved configuration for a headerstored process.
type Config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDataDir string `short:"A" long:"appdata" description:"Directory to store data"`
	TestNet    bool   `long:"testnet" description:"Use the test network"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical"`
	NoFileLog  bool   `long:"nofilelogging" description:"Disable logging to a file"`
}

// HeadersDir returns the directory header files are stored under:
// <AppDataDir>/mainnet/headers, or <AppDataDir>/testnet/headers when
// TestNet is set.
func (c *Config) HeadersDir() string {
	net := "mainnet"
	if c.TestNet {
		net = "testnet"
	}
	return filepath.Join(c.AppDataDir, net, "headers")
}

// LogDir returns the directory log files are written to.
func (c *Config) LogDir() string {
	return filepath.Join(c.AppDataDir, "logs")
}

func defaultAppDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+defaultDataDirname)
	}
	return filepath.Join(homeDir, ".headerstored")
}

// Load parses command-line flags, optionally loading defaults from an INI
// file first (following go-flags' own documented two-pass idiom: parse
// once for -C/--configfile, then re-parse with the config file's defaults
// applied before the final command-line pass wins).
func Load() (*Config, error) {
	cfg := Config{
		AppDataDir: defaultAppDataDir(),
		DebugLevel: defaultLogLevel,
	}

	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := preParser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil, err
		}
		return nil, err
	}

	if preCfg.ConfigFile == "" {
		preCfg.ConfigFile = filepath.Join(preCfg.AppDataDir, defaultConfigFilename)
	}

	cfg = preCfg
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); err == nil {
		if err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", preCfg.ConfigFile, err)
		}
	}
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
