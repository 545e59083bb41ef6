package navigator

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned for any position read before Start.
var ErrNotStarted = errors.New("scenario not started")

// ConfigurationError means no resolvable start scene or start page. Fatal at
// initialization; no turn processing can proceed past it.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "scenario configuration error: " + e.Reason
}

// UnknownTargetError means a transition named a scene/page that does not
// exist in the graph. Non-fatal: the position is left unchanged and the
// conversation continues on the current page.
type UnknownTargetError struct {
	Target string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown transition target %q", e.Target)
}
