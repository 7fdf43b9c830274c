package main

import (
	"os"
	"path/filepath"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"

	"github.com/go-equihash/headerchain/chain"
	"github.com/go-equihash/headerchain/retarget"
)

// logWriter implements io.Writer so that output goes to both stdout and a
// rotating log file, the same backend wiring every dcrd command uses.
type logWriter struct {
	fileRotator *rotator.Rotator
}

func (l logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if l.fileRotator != nil {
		l.fileRotator.Write(p)
	}
	return len(p), nil
}

var backendLog = slog.NewBackend(logWriter{})

var (
	log     = backendLog.Logger("HDRS")
	chanLog = backendLog.Logger("CHAN")
	rtrgLog = backendLog.Logger("RTRG")

	subsystemLoggers = map[string]slog.Logger{
		"HDRS": log,
		"CHAN": chanLog,
		"RTRG": rtrgLog,
	}
)

func init() {
	chain.UseLogger(chanLog)
	retarget.UseLogger(rtrgLog)
}

// initLogRotator opens (or creates) logFile and begins rotating it once
// it exceeds 10 MiB, keeping a handful of prior rotations, matching
// dcrd's own logrotate configuration.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return err
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return err
	}

	backendLog = slog.NewBackend(logWriter{fileRotator: r})
	log = backendLog.Logger("HDRS")
	chanLog = backendLog.Logger("CHAN")
	rtrgLog = backendLog.Logger("RTRG")
	subsystemLoggers["HDRS"] = log
	subsystemLoggers["CHAN"] = chanLog
	subsystemLoggers["RTRG"] = rtrgLog
	chain.UseLogger(chanLog)
	retarget.UseLogger(rtrgLog)

	return nil
}

// setLogLevels sets every subsystem logger to the given level.
func setLogLevels(level slog.Level) {
	for _, l := range subsystemLoggers {
		l.SetLevel(level)
	}
}
