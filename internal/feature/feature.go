// Package feature holds the parameter names of the workspace cleaner build
// feature and helpers to interpret them.
package feature

import "strings"

const (
	// Type is the build feature type of the workspace cleaner.
	Type = "swabra"

	// LockingProcesses selects what happens to processes holding files in the
	// checkout directory: "kill", "report" or "no".
	LockingProcesses = "swabra.locking.processes"

	// CleanCheckoutCauseBuildTypeID is reported by a finished build whose
	// checkout was wiped because of changes made by another configuration.
	CleanCheckoutCauseBuildTypeID = "swabra.clean.checkout.cause.build.type.id"
)

type LockingMode string

const (
	LockingNone   LockingMode = "no"
	LockingReport LockingMode = "report"
	LockingKill   LockingMode = "kill"
)

// Locking returns the locking-process mode configured in params.
func Locking(params map[string]string) LockingMode {
	switch LockingMode(strings.ToLower(strings.TrimSpace(params[LockingProcesses]))) {
	case LockingKill:
		return LockingKill
	case LockingReport:
		return LockingReport
	default:
		return LockingNone
	}
}

// IsLockingProcessesDetectionEnabled reports whether locking processes must be
// looked up after the build, either to report or to kill them.
func IsLockingProcessesDetectionEnabled(params map[string]string) bool {
	m := Locking(params)
	return m == LockingKill || m == LockingReport
}
