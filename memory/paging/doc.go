// Package paging maps the Positions of one Space onto Pages.
//
// # Overview
//
// A Table owns an ordered list of Pages plus a cached SparseRegion that is
// always the union of the Pages' Regions. Because Pages never overlap and
// SparseRegion does not merge adjacent sections, section i of the cached
// region is exactly the Region of Page i, so position lookups are a binary
// search over the cache followed by an index into the Page list.
//
// # Put Is Replace
//
// Put inserts Pages at their sorted position and removes every stored Page
// whose Region intersects an incoming one, in one step under the table lock:
//
//	table holds [0-9] [20-29]
//	Put([15-24])
//	table holds [0-9] [15-24]
//
// # Swap States and Kernel Paging
//
// Every Page is tagged with the SwapState of the medium that currently holds
// it, and carries the KernelPaging authority that owns its dirty flag. The
// Table never inspects either; CleanRegion and DirtyRegion filter by them, and
// CleanAll and DirtyAll delegate to them.
//
// # Errors
//
// Construction errors (ErrInvalidArgument, ErrNoSwapStates, ErrSpaceMismatch)
// mean the caller broke a precondition. Lookup errors (ErrNoPage,
// ErrPageNotPresent) are recoverable: no Page at a Position is a hole, not a
// crash. ErrInconsistent and ErrOverlappingPages reject a Put without
// changing the table.
//
// # Thread Safety
//
// Table is safe for concurrent use. A single RWMutex guards the Page list and
// the cached region together.
package paging
