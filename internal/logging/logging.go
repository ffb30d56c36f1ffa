// Package logging builds the process-wide structured logger. Every
// subsystem gets its own named child logger, the way
// rajsinghtech-tailscale's XDSServer names "xds-cache" / "xds-server"
// sub-loggers off one *zap.Logger.
package logging

import (
	"go.uber.org/zap"
)

// New builds the base logger for the process. In production mode it emits
// JSON; otherwise human-readable console output.
func New(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// Named returns a child logger scoped to a subsystem name.
func Named(base *zap.Logger, name string) *zap.Logger {
	return base.Named(name)
}
