package core

import (
	"errors"
	"fmt"
)

// Capability names the external collaborator that failed.
type Capability string

const (
	CapabilitySearch   Capability = "search"
	CapabilityIndex    Capability = "index"
	CapabilityRetrieve Capability = "retrieve"
	CapabilityDraft    Capability = "draft"
)

// CapabilityError wraps a failure of an external capability (search, index, draft).
type CapabilityError struct {
	Capability Capability
	Op         string
	Err        error
}

func (e *CapabilityError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s failed: %v", e.Capability, e.Err)
	}
	return fmt.Sprintf("%s failed during %s: %v", e.Capability, e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// SearchError marks err as a transport or quota failure of the Searcher.
func SearchError(op string, err error) error {
	return &CapabilityError{Capability: CapabilitySearch, Op: op, Err: err}
}

// ModelError marks err as a failure of the Drafter.
func ModelError(op string, err error) error {
	return &CapabilityError{Capability: CapabilityDraft, Op: op, Err: err}
}

// IndexError marks err as a failure of the Indexer.
func IndexError(op string, err error) error {
	return &CapabilityError{Capability: CapabilityIndex, Op: op, Err: err}
}

// IsSearchError reports whether err carries a Searcher failure.
func IsSearchError(err error) bool { return isCapability(err, CapabilitySearch) }

// IsModelError reports whether err carries a Drafter failure.
func IsModelError(err error) bool { return isCapability(err, CapabilityDraft) }

func isCapability(err error, c Capability) bool {
	var ce *CapabilityError
	return errors.As(err, &ce) && ce.Capability == c
}

// PlanIntegrityError reports a structurally invalid plan: dangling or cyclic
// dependencies, duplicate ids, or an empty plan from the Drafter.
type PlanIntegrityError struct {
	Plan       string
	ItemID     string
	Dependency string
	Reason     string
}

func (e *PlanIntegrityError) Error() string {
	switch {
	case e.Dependency != "":
		return fmt.Sprintf("%s plan integrity: item %s depends on missing item %s", e.Plan, e.ItemID, e.Dependency)
	case e.ItemID != "":
		return fmt.Sprintf("%s plan integrity: item %s: %s", e.Plan, e.ItemID, e.Reason)
	default:
		return fmt.Sprintf("%s plan integrity: %s", e.Plan, e.Reason)
	}
}

// ParseError is returned when Drafter output cannot be decoded into the
// expected structure. Raw keeps the untrusted text for diagnostics.
type ParseError struct {
	Target string
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Target, e.Reason)
}

// CeilingExceeded is the terminal error for the step ceiling and the
// consecutive-no-progress threshold.
type CeilingExceeded struct {
	Ceiling string
	Limit   int
	Value   int
}

func (e *CeilingExceeded) Error() string {
	return fmt.Sprintf("%s ceiling reached: %d of %d", e.Ceiling, e.Value, e.Limit)
}

const (
	CeilingSteps      = "steps"
	CeilingNoProgress = "no_progress"
)
