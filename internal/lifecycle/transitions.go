package lifecycle

var transitions = map[Status][]Status{
	StatusRunning: {
		StatusPauseRequested, StatusPaused, StatusStopRequested, StatusKillRequested, StatusError,
	},
	StatusPauseRequested: {
		StatusPaused, StatusRunning, StatusStopRequested, StatusKillRequested, StatusError,
	},
	StatusPaused: {
		StatusRunning, StatusStopRequested, StatusKillRequested, StatusError,
	},
	StatusStopRequested:  {StatusStopInProgress, StatusKillRequested, StatusError},
	StatusStopInProgress: {StatusEndedGracefully, StatusKillRequested, StatusError},
	StatusKillRequested:  {StatusKillInProgress, StatusEndedGracefully, StatusError},
	StatusKillInProgress: {StatusKilled, StatusEndedGracefully, StatusError},
}

// CanTransition reports whether a write of to is legal while in from.
// Writing the current status again is always allowed and has no effect.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which to is reachable, including to
// itself so a repeated write matches.
func Predecessors(to Status) []Status {
	out := []Status{to}
	for _, from := range allStatuses {
		if from != to && CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
