package paging

import (
	"context"
	"errors"

	"github.com/jtienhaara/musaico-sub031/memory/region"
)

// Construction errors.
var (
	ErrInvalidArgument = errors.New("paging: invalid argument")
	ErrNoSwapStates    = errors.New("paging: swap system has no swap states")
	ErrSpaceMismatch   = errors.New("paging: space mismatch")
)

// Lookup errors. Callers treat these as an absent Page.
var (
	ErrNoPage         = errors.New("paging: no page at position")
	ErrPageNotPresent = errors.New("paging: page not present in table")
)

// Integrity errors.
var (
	ErrInconsistent     = errors.New("paging: page table inconsistent")
	ErrOverlappingPages = errors.New("paging: incoming pages overlap each other")
)

// SwapState identifies the medium that currently holds a Page.
type SwapState interface {
	Name() string
	Space() *region.Space
}

// KernelPaging owns the dirty flags of the Pages it creates.
//
// Clean may write a Page back to its backing store.
type KernelPaging interface {
	IsDirty(p Page) bool
	Clean(ctx context.Context, p Page) error
	Dirty(p Page) error
}

// SwapSystem exposes the SwapStates that may back a Table. All of them share
// one Space.
type SwapSystem interface {
	SwapStates() []SwapState
}

// Page is one mapped sub-Region.
//
// Implementations must be comparable (typically pointers): the Table
// identifies Pages by ==.
type Page interface {
	Region() region.Region
	SwapState() SwapState
	Paging() KernelPaging
}

// HasState reports whether s is one of states.
func HasState(s SwapState, states ...SwapState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}
