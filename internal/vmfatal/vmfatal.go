// Package vmfatal centralises the one fatal-error reporter that every core
// subsystem (index hash table, callsite interner, GC orchestrator) consults
// when it observes a programmer-contract violation or an impossible
// concurrent state. It is process-wide, global mutable state, installed at
// VM construction — the same shape as the interner and GC counters it sits
// next to.
//
// © 2025 corevm authors. MIT License.
package vmfatal

import (
	"os"

	"go.uber.org/zap"
)

var logger = zap.NewNop()

// Init installs the logger backing Fatal. vm.New calls it on every
// instance construction, before that instance's subsystems can observe a
// violation; the most recent non-nil logger wins. A nil logger is ignored
// so repeated or accidental calls never downgrade an already installed
// logger to the no-op default.
func Init(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// Fatal reports an unrecoverable contract violation and terminates the
// process. logger.Fatal normally exits on its own, but a no-op logger
// (zap.NewNop, the default until Init installs one) never upgrades its
// CheckedEntry to a terminal action, so it would return instead of
// aborting. os.Exit(1) below is the actual termination guarantee; the
// Fatal call above it is best-effort logging on top.
func Fatal(msg string, fields ...zap.Field) {
	logger.Fatal(msg, fields...)
	os.Exit(1)
}
