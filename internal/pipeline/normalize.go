package pipeline

import (
	"fmt"
	"time"
)

// Normalizer converts UTC timestamps into the reporting timezone. The
// location is resolved once per run from the configured identifier.
type Normalizer struct {
	loc *time.Location
}

func NewNormalizer(tz string) (*Normalizer, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("resolve timezone %q: %w", tz, err)
	}
	return &Normalizer{loc: loc}, nil
}

// Localize shifts a UTC timestamp into the reporting timezone. A nil
// input short-circuits to nil.
func (n *Normalizer) Localize(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	local := t.In(n.loc)
	return &local
}
