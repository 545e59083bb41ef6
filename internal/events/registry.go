package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// session
	"session.started": {},
	"session.reset":   {},
	"session.undo":    {},

	// turn
	"turn.started":   {},
	"turn.completed": {},
	"turn.failed":    {},
	"turn.degraded":  {},

	// navigation
	"page.transitioned":   {},
	"transition.rejected": {},
	"mood.coerced":        {},

	// voice
	"voice.turn_started":    {},
	"voice.turn_completed":  {},
	"voice.analysis_failed": {},

	// stage displays
	"display.connected":    {},
	"display.disconnected": {},

	// engine
	"scenario.loaded": {},
	"engine.startup":  {},
	"engine.shutdown": {},
	"engine.error":    {},

	// operator console
	"operator.move":    {},
	"operator.command": {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
