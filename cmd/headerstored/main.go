// Command headerstored bootstraps a header store from an existing
// headers directory and logs the resulting trunk height and chain count.
// It ingests no headers or chunks and owns no network transport of its
// own (out of scope per SPEC_FULL.md §1); it only wires configuration,
// logging, and the registry together the way a real client's process
// entrypoint would.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/slog"

	"github.com/go-equihash/headerchain/chain"
	"github.com/go-equihash/headerchain/chaincfg"
	"github.com/go-equihash/headerchain/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if !cfg.NoFileLog {
		logFile := filepath.Join(cfg.LogDir(), config.LogFilename)
		if err := initLogRotator(logFile); err != nil {
			return fmt.Errorf("headerstored: initializing log rotator: %w", err)
		}
	}
	if level, ok := slog.LevelFromString(cfg.DebugLevel); ok {
		setLogLevels(level)
	}

	params := chaincfg.MainNetParams()
	if cfg.TestNet {
		params.TestNet = true
	}

	log.Infof("headerstored: loading headers from %s", cfg.HeadersDir())
	reg, err := chain.ReadBlockchains(params, cfg.HeadersDir())
	if err != nil {
		return fmt.Errorf("headerstored: bootstrapping headers directory: %w", err)
	}

	trunk := reg.Trunk()
	log.Infof("headerstored: trunk at height %d (%d chains registered)", trunk.Height(), len(reg.All()))

	return nil
}
