package narration

import (
	"errors"
	"fmt"
)

// ErrNoUnits is returned when a narrative has no title and no body to read.
var ErrNoUnits = errors.New("narrative has nothing to narrate")

// SynthesisError reports a unit whose audio could not be produced. It aborts
// the run: a video missing a unit's narration is not usable.
type SynthesisError struct {
	Unit    string // unit name, e.g. "title" or "3"
	Part    int    // split part index, -1 when the unit was synthesized whole
	Backend string
	Err     error
}

func (e *SynthesisError) Error() string {
	if e.Part >= 0 {
		return fmt.Sprintf("synthesis failed for unit %q part %d (%s): %v", e.Unit, e.Part, e.Backend, e.Err)
	}
	return fmt.Sprintf("synthesis failed for unit %q (%s): %v", e.Unit, e.Backend, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// DurationProbeError is returned instead of a zero duration when the engine
// runs with ProbeAbort.
type DurationProbeError struct {
	Unit string
	Path string
	Err  error
}

func (e *DurationProbeError) Error() string {
	return fmt.Sprintf("could not probe duration of unit %q (%s): %v", e.Unit, e.Path, e.Err)
}

func (e *DurationProbeError) Unwrap() error { return e.Err }
