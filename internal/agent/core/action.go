package core

import "strings"

// MacroAction is a top-level routing decision. The zero value means no
// recommendation was made.
type MacroAction int

const (
	ActionNone MacroAction = iota
	ActionResearch
	ActionWriting
	ActionSynthesize
	ActionFinish
	ActionFail
	// ActionUnknown is an unrecognized signal; the router treats it as FAIL.
	ActionUnknown
)

func (a MacroAction) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionResearch:
		return "RESEARCH"
	case ActionWriting:
		return "WRITING"
	case ActionSynthesize:
		return "SYNTHESIZE"
	case ActionFinish:
		return "FINISH"
	case ActionFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the action ends the run.
func (a MacroAction) Terminal() bool {
	return a == ActionFinish || a == ActionFail || a == ActionUnknown
}

// MarshalText lets actions appear by name in JSON snapshots.
func (a MacroAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// ParseMacroAction maps a free-form signal to an action. Aliases emitted by
// older prompts (OUTLINE_PLANNER, WRITER_PLANNER, ...) are accepted.
func ParseMacroAction(s string) MacroAction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return ActionNone
	case "RESEARCH", "OUTLINE_PLANNER", "RESEARCHER":
		return ActionResearch
	case "WRITING", "WRITER", "WRITER_PLANNER":
		return ActionWriting
	case "SYNTHESIZE", "SYNTHESIS", "FINAL_ASSEMBLER":
		return ActionSynthesize
	case "FINISH", "DONE":
		return ActionFinish
	case "FAIL", "FAILED":
		return ActionFail
	default:
		return ActionUnknown
	}
}

// Outcome is what a sub-workflow hands back to the Supervisor.
type Outcome struct {
	Action       MacroAction
	TargetItemID string
	Reason       string
}

// Decision is one Supervisor routing choice and where it came from.
type Decision struct {
	Action       MacroAction `json:"action"`
	TargetItemID string      `json:"target_item_id,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	Source       string      `json:"source"`
}

const (
	SourceCeiling    = "ceiling"
	SourceNoProgress = "no_progress"
	SourceWorkflow   = "workflow"
	SourceRule       = "rule"
	SourceDrafter    = "drafter"
)
