// Package logging provides the shared gopkg.in/op/go-logging.v1
// backend kvrelay's packages log through. Every caller gets its own
// named *logging.Logger off one process-wide backend, mirroring
// talek/replica/main.go's `logBackend.GetLogger("talek_replica")`
// calling convention.
package logging

import (
	"fmt"
	"os"

	"gopkg.in/op/go-logging.v1"
)

var format = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{level:.4s} %{module} %{color:reset} %{message}`,
)

// Init installs a single stderr-backed logging backend at level,
// which must be one of DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL.
// Subsequent calls to GetLogger share this backend.
func Init(level string) error {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return fmt.Errorf("logging: invalid level %q: %w", level, err)
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
	return nil
}

// GetLogger returns a named logger against the backend installed by
// Init. Safe to call before Init — go-logging buffers nothing and
// simply applies default level NOTICE until a backend is installed.
func GetLogger(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}
