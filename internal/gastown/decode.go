package gastown

import "strings"

// MayorState is the decoded answer of `gt mayor status`
type MayorState int

const (
	MayorUnknown MayorState = iota
	MayorStopped
	MayorRunning
)

func (s MayorState) String() string {
	switch s {
	case MayorRunning:
		return "running"
	case MayorStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DecodeMayorState maps mayor status output to a state. A non-zero exit
// is never treated as running.
func DecodeMayorState(exitCode int, output string) MayorState {
	out := strings.ToLower(output)
	if exitCode != 0 {
		if containsAny(out, "not running", "stopped", "no session") {
			return MayorStopped
		}
		return MayorUnknown
	}
	switch {
	case containsAny(out, "not running", "stopped", "inactive"):
		return MayorStopped
	case containsAny(out, "running", "active"):
		return MayorRunning
	}
	return MayorUnknown
}

// DeliveryOutcome classifies the result of a nudge or mail send
type DeliveryOutcome int

const (
	Delivered DeliveryOutcome = iota
	Rejected
	NoTarget
)

func (o DeliveryOutcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case NoTarget:
		return "target not found"
	default:
		return "rejected"
	}
}

var noTargetMarkers = []string{
	"not found",
	"no such agent",
	"no such session",
	"unknown agent",
	"unknown target",
	"does not exist",
}

// DecodeDelivery classifies nudge and mail output. Exit 0 is delivered;
// otherwise an addressing complaint means NoTarget and anything else is a
// transport rejection.
func DecodeDelivery(exitCode int, output string) DeliveryOutcome {
	if exitCode == 0 {
		return Delivered
	}
	if containsAny(strings.ToLower(output), noTargetMarkers...) {
		return NoTarget
	}
	return Rejected
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
