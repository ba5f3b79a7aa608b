package socket

import (
	"sync"

	"colladoc/internal/document/model"
)

// Subscription is one party's interest in a document. Delivery is
// at-most-once with no replay: events published while a party is not
// subscribed are never seen, and a party that falls behind is dropped.
type Subscription struct {
	DocID   string
	ActorID string

	events  chan model.CommitEvent
	notices chan []byte // nil unless the party is a live viewer

	// lastRevision is only touched by the hub loop.
	lastRevision int64

	hub        *Hub
	registered chan struct{}
	cancelOnce sync.Once
	closeOnce  sync.Once
}

// Events yields remote commits for the document. The channel is closed when
// the subscription is cancelled, evicted, or the hub stops.
func (s *Subscription) Events() <-chan model.CommitEvent {
	return s.events
}

// Notices yields encoded presence, cursor and comment messages for live viewers.
func (s *Subscription) Notices() <-chan []byte {
	return s.notices
}

// Cancel releases the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

func (s *Subscription) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.events)
		if s.notices != nil {
			close(s.notices)
		}
	})
}
