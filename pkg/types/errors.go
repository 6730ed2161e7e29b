package types

import (
	"errors"
	"fmt"
)

// ErrTreeNotFound is returned by administrative calls that name a tree which does not exist.
// Eligibility lookups never return it: a missing wallet or tree is simply "not eligible".
var ErrTreeNotFound = errors.New("allocation tree not found")

// InvalidAllocationError rejects an import because of one malformed record.
// The whole import is aborted; nothing is persisted.
type InvalidAllocationError struct {
	Index         int
	WalletAddress string
	Amount        string
	Reason        string
}

func (e *InvalidAllocationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid allocation: %s", e.Reason)
	}
	return fmt.Sprintf("invalid allocation at record %d (wallet=%q amount=%q): %s",
		e.Index, e.WalletAddress, e.Amount, e.Reason)
}

// DuplicateNameError is returned when a tree name is already taken.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("allocation tree named %q already exists", e.Name)
}

// IntegrityError blocks activation of a tree that fails validation.
type IntegrityError struct {
	TreeID string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("allocation tree %s failed integrity validation: %s", e.TreeID, e.Reason)
}
