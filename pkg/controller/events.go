package controller

import "github.com/jdziat/campaign-genjobs/pkg/core"

// Events returns a channel for receiving lifecycle events of all jobs.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (c *Controller) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	c.evMu.Lock()
	c.eventSubs = append(c.eventSubs, ch)
	c.evMu.Unlock()
	return ch
}

// Unsubscribe removes a channel created by Events. The channel is not closed.
func (c *Controller) Unsubscribe(ch <-chan core.Event) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	for i, sub := range c.eventSubs {
		if sub == ch {
			c.eventSubs = append(c.eventSubs[:i], c.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit sends an event to all subscribers. Slow subscribers miss events
// rather than block the controller.
func (c *Controller) Emit(e core.Event) {
	c.evMu.RLock()
	subs := make([]chan core.Event, len(c.eventSubs))
	copy(subs, c.eventSubs)
	c.evMu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}
