package retarget

import "github.com/decred/slog"

// log is the package-level logger, disabled until UseLogger is called by
// the application's logging backend setup.
var log = slog.Disabled

// UseLogger sets the package-wide logger used by this package. It must be
// called before the retarget engine is used if logging output is desired.
func UseLogger(logger slog.Logger) {
	log = logger
}
