package domain

import "errors"

// Sentinel errors for the topology pipeline. None of them is process-fatal:
// orphans are dropped and logged, learning conflicts are surfaced to the
// caller, and reset failures travel back inside a reset_result event.
var (
	// ErrOrphanRecord marks an enumeration record whose declared parent is
	// absent from the same input set. Policy: drop the record and log, never
	// blank the whole tree.
	ErrOrphanRecord = errors.New("orphan record: parent address not present")

	// ErrAlreadyArmed is returned when a learning session is started while
	// another one is armed. No state changes.
	ErrAlreadyArmed = errors.New("learning session already armed")

	// ErrNotArmed is returned when stopping a session that was never started.
	ErrNotArmed = errors.New("no learning session armed")

	// ErrNotFound covers lookups of unknown addresses or group names.
	ErrNotFound = errors.New("not found")

	// ErrNotHub is returned by hub-only operations given a plain device or a
	// root hub.
	ErrNotHub = errors.New("not an external hub")

	// ErrResetFailed wraps collaborator-level hardware reset failures.
	ErrResetFailed = errors.New("device reset failed")
)
