package convoy

import (
	"strings"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// Decoder maps the status label reported for a work unit to a state.
// All label matching lives here.
type Decoder struct {
	Success []string
	Failure []string
}

// DefaultDecoder returns the token sets gt uses for convoys
func DefaultDecoder() Decoder {
	return Decoder{
		Success: []string{"landed", "closed"},
		Failure: []string{"failed", "cancelled", "abandoned"},
	}
}

// NewDecoder builds a Decoder, falling back to the defaults for any empty set
func NewDecoder(success, failure []string) Decoder {
	d := DefaultDecoder()
	if len(success) > 0 {
		d.Success = success
	}
	if len(failure) > 0 {
		d.Failure = failure
	}
	return d
}

// Decode returns the state for label. An empty label means the unit has
// not appeared yet.
func (d Decoder) Decode(label string) domain.WorkUnitState {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" || l == "pending" {
		return domain.StatePending
	}
	for _, tok := range d.Success {
		if l == strings.ToLower(tok) {
			return domain.StateLanded
		}
	}
	for _, tok := range d.Failure {
		if l == strings.ToLower(tok) {
			return domain.StateFailed
		}
	}
	return domain.StateRunning
}
