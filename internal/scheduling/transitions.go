package scheduling

// transitionMap lists, per target status, the statuses an appointment may
// move from. Anything not listed is rejected at the boundary.
var transitionMap = map[AppointmentStatus][]AppointmentStatus{
	StatusConfirmed:  {StatusRequested},
	StatusCheckedIn:  {StatusConfirmed},
	StatusInProgress: {StatusCheckedIn},
	StatusCompleted:  {StatusInProgress},
	StatusCancelled:  {StatusRequested, StatusConfirmed, StatusCheckedIn, StatusInProgress},
	StatusNoShow:     {StatusConfirmed, StatusCheckedIn, StatusInProgress},
}

// ValidTransition reports whether from → to is an allowed status change.
func ValidTransition(from, to AppointmentStatus) bool {
	for _, allowed := range transitionMap[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions leave the status.
func IsTerminal(s AppointmentStatus) bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}
