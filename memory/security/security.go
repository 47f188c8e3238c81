// Package security is the permission gate consulted before memory operations.
//
// A caller asks a Gate for the Permissions it needs; the Gate answers with
// the Permissions it is willing to grant, and the operation proceeds only if
// granted.IsAllowed(requested). Denials surface as ErrAccessDenied before any
// page table is touched.
package security

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrAccessDenied indicates that a Gate refused the requested permissions.
var ErrAccessDenied = errors.New("security: access denied")

// Credentials identify the caller of a memory operation.
type Credentials struct {
	ID   string
	Name string
}

// IsZero reports whether c identifies nobody.
func (c Credentials) IsZero() bool { return c.ID == "" }

func (c Credentials) String() string {
	if c.Name == "" {
		return c.ID
	}
	return c.Name + "(" + c.ID + ")"
}

// Flag is a set of operations.
type Flag uint16

const (
	FlagRead Flag = 1 << iota
	FlagWrite
	FlagResize
	FlagOpen
	FlagClose
	FlagAllocate
	FlagFree

	FlagNone Flag = 0
	FlagAll       = FlagRead | FlagWrite | FlagResize | FlagOpen | FlagClose | FlagAllocate | FlagFree
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{FlagRead, "read"},
	{FlagWrite, "write"},
	{FlagResize, "resize"},
	{FlagOpen, "open"},
	{FlagClose, "close"},
	{FlagAllocate, "allocate"},
	{FlagFree, "free"},
}

func (f Flag) String() string {
	if f == FlagNone {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Permissions ask for (or grant) Flags on a target for some Credentials.
type Permissions struct {
	Credentials Credentials
	Target      string
	Flags       Flag
}

// IsAllowed reports whether p grants everything requested asks for.
func (p Permissions) IsAllowed(requested Permissions) bool {
	return p.Credentials == requested.Credentials &&
		p.Target == requested.Target &&
		p.Flags&requested.Flags == requested.Flags
}

// Gate decides which of the requested permissions are granted.
type Gate interface {
	Request(requested Permissions) Permissions
}

// Check asks g for requested and returns an ErrAccessDenied error if the
// grant does not cover it.
func Check(g Gate, requested Permissions) error {
	granted := g.Request(requested)
	if granted.IsAllowed(requested) {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s %s", ErrAccessDenied,
		requested.Credentials, requested.Flags, requested.Target)
}

// AllowAll grants every request.
type AllowAll struct{}

// Request returns requested unchanged.
func (AllowAll) Request(requested Permissions) Permissions { return requested }

// ACL grants Flags per credential ID, optionally per target.
//
// Safe for concurrent use.
type ACL struct {
	mu      sync.RWMutex
	entries map[aclKey]Flag
}

type aclKey struct {
	id     string
	target string
}

// NewACL creates an ACL that grants nothing.
func NewACL() *ACL {
	return &ACL{entries: make(map[aclKey]Flag)}
}

// Grant adds flags for c on target. An empty target applies to every target.
func (a *ACL) Grant(c Credentials, target string, flags Flag) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := aclKey{id: c.ID, target: target}
	a.entries[k] |= flags
}

// Revoke removes flags for c on target.
func (a *ACL) Revoke(c Credentials, target string, flags Flag) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := aclKey{id: c.ID, target: target}
	a.entries[k] &^= flags
	if a.entries[k] == FlagNone {
		delete(a.entries, k)
	}
}

// Request grants the intersection of requested with what c holds on the
// target plus what it holds on every target.
func (a *ACL) Request(requested Permissions) Permissions {
	a.mu.RLock()
	defer a.mu.RUnlock()
	held := a.entries[aclKey{id: requested.Credentials.ID, target: requested.Target}] |
		a.entries[aclKey{id: requested.Credentials.ID}]
	granted := requested
	granted.Flags = requested.Flags & held
	return granted
}
