package convoy

import (
	"context"

	"github.com/hochfrequenz/gastown-harness/internal/gastown"
)

// StatusSource reports the current label of a work unit. An empty label
// with a nil error means the unit does not exist yet.
type StatusSource interface {
	Status(ctx context.Context, unit WorkUnit) (string, error)
}

// WorkUnit identifies the convoy being waited on
type WorkUnit struct {
	Name  string
	Match []string
}

// ConvoyLister is the part of the gt client a GastownSource needs
type ConvoyLister interface {
	Convoys(ctx context.Context) ([]gastown.Convoy, error)
}

// GastownSource reads convoy state from `gt convoy list --all --json`
type GastownSource struct {
	Lister  ConvoyLister
	Decoder Decoder
}

// Status implements StatusSource. When several convoys match, a terminal
// one wins so a landed convoy is not hidden by an older open one.
func (s GastownSource) Status(ctx context.Context, unit WorkUnit) (string, error) {
	convoys, err := s.Lister.Convoys(ctx)
	if err != nil {
		return "", err
	}
	terms := unit.Match
	if len(terms) == 0 && unit.Name != "" {
		terms = []string{unit.Name}
	}

	label := ""
	dec := s.Decoder
	if len(dec.Success) == 0 && len(dec.Failure) == 0 {
		dec = DefaultDecoder()
	}
	for _, cv := range convoys {
		if !cv.Matches(terms) {
			continue
		}
		if dec.Decode(cv.Status).IsTerminal() {
			return cv.Status, nil
		}
		if label == "" {
			label = cv.Status
		}
	}
	return label, nil
}

// SourceFunc adapts a function into a StatusSource
type SourceFunc func(ctx context.Context, unit WorkUnit) (string, error)

// Status implements StatusSource
func (f SourceFunc) Status(ctx context.Context, unit WorkUnit) (string, error) {
	return f(ctx, unit)
}
