package types

// statusRank orders statuses along the lifecycle. Consolidated and archived
// share a rank: they are alternative outcomes of the same decay stage.
var statusRank = map[Status]int{
	StatusCreated:      0,
	StatusActive:       1,
	StatusConsolidated: 2,
	StatusArchived:     2,
	StatusForgotten:    3,
}

// StatusRank returns the position of a status along the lifecycle ordering
// (created < active < {consolidated, archived} < forgotten). Unknown
// statuses return -1.
func StatusRank(s Status) int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// IsValidStatusTransition validates status transitions against the lifecycle
// state machine.
//
// Valid transitions:
//
//	created -> active | archived
//	active -> consolidated | archived
//	consolidated -> forgotten
//	archived -> forgotten
//	forgotten -> (terminal, no transitions out)
//
// A created memory that decays without ever being accessed skips activation
// and archives directly. Re-activation of a consolidated or archived memory
// on access is modeled as a score recompute guard, not a formal transition;
// the status itself never regresses.
func IsValidStatusTransition(current, next Status) bool {
	switch current {
	case StatusCreated:
		return next == StatusActive || next == StatusArchived

	case StatusActive:
		return next == StatusConsolidated || next == StatusArchived

	case StatusConsolidated:
		return next == StatusForgotten

	case StatusArchived:
		return next == StatusForgotten

	case StatusForgotten:
		return false // Terminal state, no transitions out

	default:
		return false // Unknown current status
	}
}
