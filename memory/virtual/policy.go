package virtual

import (
	"fmt"

	"github.com/jtienhaara/musaico-sub031/internal/config"
)

// FailurePolicy decides what Buffer.Get and Buffer.Set do when a request
// fails. TryGet and TrySet always return the error.
type FailurePolicy int

const (
	// BestEffort logs the failure and degrades: Get returns NullField and
	// Set leaves memory unchanged. Later calls still issue requests.
	BestEffort FailurePolicy = iota
	// Strict keeps the first failure, reported by Buffer.Err. Once a Buffer
	// has failed, Get and Set degrade without issuing requests.
	Strict
)

func (p FailurePolicy) String() string {
	switch p {
	case BestEffort:
		return config.PolicyBestEffort
	case Strict:
		return config.PolicyStrict
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a config failure_policy value to a FailurePolicy.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch s {
	case config.PolicyBestEffort, "":
		return BestEffort, nil
	case config.PolicyStrict:
		return Strict, nil
	default:
		return BestEffort, fmt.Errorf("virtual: unknown failure policy %q", s)
	}
}
