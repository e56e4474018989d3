package core

import (
	"fmt"
	"strings"
)

var allowedTransitions = map[ItemStatus][]ItemStatus{
	StatusPending:       {StatusReady, StatusBlocked, StatusFailed},
	StatusReady:         {StatusInProgress, StatusBlocked, StatusFailed},
	StatusInProgress:    {StatusCompleted, StatusNeedsRevision, StatusFailed},
	StatusNeedsRevision: {StatusInProgress},
	StatusFailed:        {StatusInProgress},
}

// NewPlanItem returns a pending stub with no content.
func NewPlanItem(id, description string, deps ...string) *PlanItem {
	return &PlanItem{
		ItemID:       id,
		Description:  description,
		Dependencies: append([]string(nil), deps...),
		Status:       StatusPending,
		ExecutionLog: []string{},
	}
}

// Transition moves the item to status to, rejecting moves outside the
// lifecycle table.
func (p *PlanItem) Transition(to ItemStatus) error {
	if p.Status == to {
		return nil
	}
	for _, next := range allowedTransitions[p.Status] {
		if next == to {
			p.Status = to
			return nil
		}
	}
	return fmt.Errorf("item %s: illegal transition %s -> %s", p.ItemID, p.Status, to)
}

// Log appends a trace entry.
func (p *PlanItem) Log(format string, args ...any) {
	p.ExecutionLog = append(p.ExecutionLog, fmt.Sprintf(format, args...))
}

// Digest is the bounded form of the item for downstream prompts.
func (p *PlanItem) Digest() string {
	if strings.TrimSpace(p.Summary) != "" {
		return p.Summary
	}
	return p.Content
}

// Exhausted reports whether a failed item has used up its attempts.
func (p *PlanItem) Exhausted(maxAttempts int) bool {
	return p.Status == StatusFailed && maxAttempts > 0 && p.AttemptCount >= maxAttempts
}

// Actionable reports whether the item can be picked by a workflow now.
func (p *PlanItem) Actionable(maxAttempts int) bool {
	switch p.Status {
	case StatusReady, StatusNeedsRevision:
		return true
	case StatusFailed:
		return !p.Exhausted(maxAttempts)
	default:
		return false
	}
}

// FindItem returns the item with id, or nil.
func FindItem(plan []*PlanItem, id string) *PlanItem {
	for _, it := range plan {
		if it.ItemID == id {
			return it
		}
	}
	return nil
}

// AllCompleted reports whether plan is non-empty and fully completed.
func AllCompleted(plan []*PlanItem) bool {
	if len(plan) == 0 {
		return false
	}
	for _, it := range plan {
		if it.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// CountStatus returns how many items are in status s.
func CountStatus(plan []*PlanItem, s ItemStatus) int {
	n := 0
	for _, it := range plan {
		if it.Status == s {
			n++
		}
	}
	return n
}

func statusIndex(plan []*PlanItem, external [][]*PlanItem) map[string]*PlanItem {
	idx := make(map[string]*PlanItem, len(plan))
	for _, ext := range external {
		for _, it := range ext {
			idx[it.ItemID] = it
		}
	}
	for _, it := range plan {
		idx[it.ItemID] = it
	}
	return idx
}

// RefreshReadiness promotes every pending item whose dependencies are all
// completed to ready. Dependencies resolve against plan and any external
// plans. The result does not depend on item order and a repeated call with no
// intervening completions changes nothing. A dependency id that resolves
// nowhere is a *PlanIntegrityError and leaves the plan untouched.
func RefreshReadiness(plan []*PlanItem, external ...[]*PlanItem) error {
	idx := statusIndex(plan, external)
	for _, it := range plan {
		for _, dep := range it.Dependencies {
			if _, ok := idx[dep]; !ok {
				return &PlanIntegrityError{Plan: "readiness", ItemID: it.ItemID, Dependency: dep}
			}
		}
	}
	// Decide against a snapshot so promotions made in this pass never feed
	// other promotions in the same pass.
	promote := make([]*PlanItem, 0)
	for _, it := range plan {
		if it.Status != StatusPending {
			continue
		}
		ready := true
		for _, dep := range it.Dependencies {
			if idx[dep].Status != StatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			promote = append(promote, it)
		}
	}
	for _, it := range promote {
		it.Status = StatusReady
	}
	return nil
}

// BlockUnreachable marks pending items blocked when a dependency is blocked or
// failed with no attempts left. It returns the ids it blocked.
func BlockUnreachable(plan []*PlanItem, maxAttempts int, external ...[]*PlanItem) []string {
	idx := statusIndex(plan, external)
	var blocked []string
	for changed := true; changed; {
		changed = false
		for _, it := range plan {
			if it.Status != StatusPending {
				continue
			}
			for _, dep := range it.Dependencies {
				d, ok := idx[dep]
				if !ok {
					continue
				}
				if d.Status == StatusBlocked || d.Exhausted(maxAttempts) {
					it.Status = StatusBlocked
					it.Log("blocked: dependency %s cannot complete", dep)
					blocked = append(blocked, it.ItemID)
					changed = true
					break
				}
			}
		}
	}
	return blocked
}

// ValidatePlan checks ids are unique and non-empty, that dependencies resolve
// within plan or external, and that plan has no dependency cycle.
func ValidatePlan(name string, plan []*PlanItem, external ...[]*PlanItem) error {
	if len(plan) == 0 {
		return &PlanIntegrityError{Plan: name, Reason: "plan has no items"}
	}
	seen := make(map[string]bool, len(plan))
	for _, it := range plan {
		if strings.TrimSpace(it.ItemID) == "" {
			return &PlanIntegrityError{Plan: name, Reason: "item without id"}
		}
		if seen[it.ItemID] {
			return &PlanIntegrityError{Plan: name, ItemID: it.ItemID, Reason: "duplicate item id"}
		}
		seen[it.ItemID] = true
	}
	idx := statusIndex(plan, external)
	for _, it := range plan {
		for _, dep := range it.Dependencies {
			if _, ok := idx[dep]; !ok {
				return &PlanIntegrityError{Plan: name, ItemID: it.ItemID, Dependency: dep}
			}
		}
	}
	return checkCycles(name, plan)
}

func checkCycles(name string, plan []*PlanItem) error {
	deps := make(map[string][]string, len(plan))
	for _, it := range plan {
		deps[it.ItemID] = it.Dependencies
	}
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var hasCycle func(string) bool
	hasCycle = func(id string) bool {
		if recStack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		recStack[id] = true
		for _, dep := range deps[id] {
			if hasCycle(dep) {
				return true
			}
		}
		recStack[id] = false
		return false
	}
	for _, it := range plan {
		if hasCycle(it.ItemID) {
			return &PlanIntegrityError{Plan: name, ItemID: it.ItemID, Reason: "circular dependency detected"}
		}
	}
	return nil
}

// MergePlanItems appends incoming stubs to existing, dropping items whose
// normalized description matches an existing one and renaming colliding ids.
// Dependencies of incoming items that pointed at a dropped duplicate are
// redirected to the surviving item.
func MergePlanItems(existing, incoming []*PlanItem) (merged []*PlanItem, added []*PlanItem) {
	byDesc := make(map[string]string, len(existing))
	ids := make(map[string]bool, len(existing))
	for _, it := range existing {
		byDesc[normalizeDescription(it.Description)] = it.ItemID
		ids[it.ItemID] = true
	}
	rename := make(map[string]string, len(incoming))
	for _, it := range incoming {
		key := normalizeDescription(it.Description)
		if key == "" {
			continue
		}
		if prior, ok := byDesc[key]; ok {
			rename[it.ItemID] = prior
			continue
		}
		id := it.ItemID
		for n := 2; id == "" || ids[id]; n++ {
			id = fmt.Sprintf("%s_%d", it.ItemID, n)
		}
		rename[it.ItemID] = id
		ids[id] = true
		byDesc[key] = id
		stub := NewPlanItem(id, strings.TrimSpace(it.Description), it.Dependencies...)
		added = append(added, stub)
	}
	for _, it := range added {
		for i, dep := range it.Dependencies {
			if to, ok := rename[dep]; ok {
				it.Dependencies[i] = to
			}
		}
		it.Dependencies = dedupeStrings(it.Dependencies, it.ItemID)
	}
	merged = append(append(make([]*PlanItem, 0, len(existing)+len(added)), existing...), added...)
	return merged, added
}

func normalizeDescription(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func dedupeStrings(in []string, skip string) []string {
	out := in[:0]
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == skip || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
