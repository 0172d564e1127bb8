package dom

import "golang.org/x/net/html"

const (
	EventClick = "click"
	EventKeyUp = "keyup"
	EventFocus = "focus"
)

// Listener handles an event while the document lock is held.
type Listener func(tx *Tx, ev *Event)

// Event is a synthetic DOM event.
type Event struct {
	Type          string
	Key           string
	Target        *html.Node
	CurrentTarget *html.Node

	defaultPrevented bool
	stopped          bool
	immediateStopped bool
}

func (e *Event) PreventDefault() { e.defaultPrevented = true }

func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

func (e *Event) StopPropagation() { e.stopped = true }

func (e *Event) StopImmediatePropagation() {
	e.stopped = true
	e.immediateStopped = true
}
