// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import "fmt"

// ErrorKind enumerates the Sync error taxonomy from spec.md §4.2. Every
// value here maps directly to a disconnect decision at the coordinator,
// with CheckpointMismatch additionally banning the source peer per
// spec.md §7.
type ErrorKind int

const (
	// EmptyMessage is returned for a zero-length headers batch.
	EmptyMessage ErrorKind = iota
	// InvalidBits is returned when a header's bits don't match the
	// consensus retarget rule at its height.
	InvalidBits
	// InvalidHash is returned when a header's hash doesn't satisfy the
	// proof-of-work target implied by its own bits.
	InvalidHash
	// DoesNotLink is returned when a batch's first header doesn't chain
	// from any header this chain knows about.
	DoesNotLink
	// CheckpointMismatch is returned when a header at a compiled-in
	// checkpoint height doesn't match the checkpointed hash.
	CheckpointMismatch
	// LessWorkFork is returned when a competing suffix has equal or
	// lesser cumulative work than our current suffix.
	LessWorkFork
	// PreCheckpointFork is returned when a fork's point of divergence is
	// at or below the anchor checkpoint.
	PreCheckpointFork
)

func (k ErrorKind) String() string {
	switch k {
	case EmptyMessage:
		return "EmptyMessage"
	case InvalidBits:
		return "InvalidBits"
	case InvalidHash:
		return "InvalidHash"
	case DoesNotLink:
		return "DoesNotLink"
	case CheckpointMismatch:
		return "CheckpointMismatch"
	case LessWorkFork:
		return "LessWorkFork"
	case PreCheckpointFork:
		return "PreCheckpointFork"
	default:
		return "Unknown"
	}
}

// SyncError wraps an ErrorKind with the height it was detected at, so
// callers can report and (for CheckpointMismatch) act on specifics
// without parsing strings.
type SyncError struct {
	Kind   ErrorKind
	Height int32
	Reason string
}

func (e *SyncError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("chain: %s at height %d: %s", e.Kind, e.Height, e.Reason)
	}
	return fmt.Sprintf("chain: %s at height %d", e.Kind, e.Height)
}

// KindOf extracts the ErrorKind from err if it's a *SyncError.
func KindOf(err error) (ErrorKind, bool) {
	se, ok := err.(*SyncError)
	if !ok {
		return 0, false
	}
	return se.Kind, true
}
