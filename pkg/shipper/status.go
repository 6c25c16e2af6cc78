package shipper

import "strings"

// rank is the precedence of the main delivery sequence. Terminal branches
// (cancelled, rto) are deliberately absent.
var rank = map[ShipmentStatus]int{
	StatusCreated:         0,
	StatusPickupScheduled: 1,
	StatusInTransit:       2,
	StatusOutForDelivery:  3,
	StatusDelivered:       4,
}

// Rank returns the precedence of s along the main sequence and whether s is
// on it at all.
func Rank(s ShipmentStatus) (int, bool) {
	r, ok := rank[s]
	return r, ok
}

// IsTerminalBranch reports whether s is a side-branch terminal state.
func IsTerminalBranch(s ShipmentStatus) bool {
	return s == StatusCancelled || s == StatusRTO
}

// IsFinal reports whether no further transition may leave s.
func IsFinal(s ShipmentStatus) bool {
	return s == StatusDelivered || IsTerminalBranch(s)
}

// Valid reports whether s may be stored as a shipment status.
func (s ShipmentStatus) Valid() bool {
	_, ok := rank[s]
	return ok || IsTerminalBranch(s)
}

// Decision is the outcome of evaluating an incoming status against the
// currently stored one.
type Decision int

const (
	// Discard acknowledges the event but leaves the shipment untouched.
	Discard Decision = iota
	// Refresh keeps the status and replaces the stored raw payload.
	Refresh
	// Advance moves the shipment to the incoming status.
	Advance
)

func (d Decision) String() string {
	switch d {
	case Advance:
		return "applied"
	case Refresh:
		return "refreshed"
	default:
		return "stale"
	}
}

// Decide evaluates an incoming status against the stored one:
//   - equal statuses refresh the payload;
//   - a final status (delivered, cancelled, rto) is never left;
//   - cancelled/rto advance from any non-final state;
//   - main-sequence statuses advance only to a strictly higher rank;
//   - unrecognized vocabulary only refreshes the payload.
func Decide(current, incoming ShipmentStatus) Decision {
	if incoming == current {
		return Refresh
	}
	if incoming == StatusUpdated {
		return Refresh
	}
	if IsFinal(current) {
		return Discard
	}
	if IsTerminalBranch(incoming) {
		return Advance
	}
	in, ok := Rank(incoming)
	if !ok {
		return Discard
	}
	cur, ok := Rank(current)
	if !ok || in > cur {
		return Advance
	}
	return Discard
}

// Normalize maps free-form carrier status text to the closed local
// vocabulary. Rules are checked in order and the first match wins.
func Normalize(raw string) ShipmentStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", " ")

	switch {
	case strings.Contains(s, "cancel"):
		return StatusCancelled
	case strings.Contains(s, "rto"):
		return StatusRTO
	case strings.Contains(s, "delivered"):
		return StatusDelivered
	case strings.Contains(s, "in transit"), strings.Contains(s, "picked"):
		return StatusInTransit
	case strings.Contains(s, "out for delivery"):
		return StatusOutForDelivery
	default:
		return StatusUpdated
	}
}
