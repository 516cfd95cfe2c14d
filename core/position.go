package core

import "fmt"

// Position tells where a provider's content is injected into a turn.
type Position int

const (
	// PositionSystemInstruction content is folded once at conversation start
	// and persists for the session.
	PositionSystemInstruction Position = iota
	// PositionAugmentedWorkspace content is recomputed on every turn, attached
	// to the outbound request and then discarded. It never enters history.
	PositionAugmentedWorkspace
)

// String returns the position name.
func (p Position) String() string {
	switch p {
	case PositionSystemInstruction:
		return "system_instruction"
	case PositionAugmentedWorkspace:
		return "augmented_workspace"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}
