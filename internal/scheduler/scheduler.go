// Package scheduler decides who speaks next in a discussion.
//
// It is pure decision logic: a function of the participant list, the
// turn cursor, and the intensity. It performs no I/O and never consults
// the generator or the context assembler, so replay is deterministic
// and the package is independently testable.
package scheduler

import "github.com/giron-ai/giron/internal/model"

// Decision is the scheduler's verdict for one scheduling step.
type Decision struct {
	// Complete is set once the intensity-keyed turn bound is reached.
	// It is a hard ceiling, not a judgment that the debate resolved.
	Complete bool
	// AgentID is the next speaker when Complete is false.
	AgentID string
}

// roundsPerIntensity maps each intensity to a multiple of the
// participant count: low gives every agent one turn, normal two,
// high four.
var roundsPerIntensity = map[model.Intensity]int{
	model.IntensityLow:    1,
	model.IntensityNormal: 2,
	model.IntensityHigh:   4,
}

// Bound returns the total turn ceiling for a discussion with the given
// intensity and participant count. Unknown intensities fall back to the
// low bound; creation-time validation makes that unreachable in
// practice.
func Bound(intensity model.Intensity, participants int) int {
	rounds, ok := roundsPerIntensity[intensity]
	if !ok {
		rounds = roundsPerIntensity[model.IntensityLow]
	}
	return rounds * participants
}

// Next selects the speaker for scheduling step cursor, or signals
// completion once cursor reaches the intensity bound.
//
// Speaker selection is round-robin over participants in creation order:
// participants[cursor mod len(participants)]. Every agent speaks with
// equal frequency (±1) and a given (participants, cursor) pair always
// yields the same speaker.
func Next(participants []string, cursor int, intensity model.Intensity) Decision {
	if len(participants) == 0 || cursor >= Bound(intensity, len(participants)) {
		return Decision{Complete: true}
	}
	return Decision{AgentID: participants[cursor%len(participants)]}
}
