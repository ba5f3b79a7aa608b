package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"colladoc/internal/document/model"
	"colladoc/pkg/logger"
)

const (
	UpdateType         = "UPDATE"          // Document title/content committed
	CursorType         = "CURSOR"          // User moved their cursor
	PresenceUpdateType = "PRESENCE_UPDATE" // A user joined or left
	CommentType        = "COMMENT"         // New comment added
	CommentUpdateType  = "COMMENT_UPDATE"  // Comment resolved/reopened
	CommentDeleteType  = "COMMENT_DELETE"  // Comment deleted
	MetadataType       = "METADATA"        // Document title and the viewer's role
	SavedType          = "SAVED"           // The viewer's own coalesced edit was committed
	ErrorType          = "ERROR"           // A request from the viewer was rejected

	DefaultBuffer = 256
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type UserStatus struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

// Relay forwards locally published events to other instances.
type Relay interface {
	Publish(ctx context.Context, ev model.CommitEvent) error
}

type eviction struct {
	docID   string
	actorID string // empty evicts the whole room
}

type notice struct {
	docID     string
	skipActor string
	payload   []byte
}

// Hub fans commit events out to every subscription of a document. A single
// Run loop owns all rooms, so each subscriber sees a document's events in the
// order they were published.
type Hub struct {
	rooms    map[string]map[*Subscription]bool
	presence map[string]map[*Subscription]UserStatus
	mu       sync.Mutex

	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan model.CommitEvent
	notices    chan notice
	evict      chan eviction
	done       chan struct{}

	buffer int
	relay  Relay
	// outbound holds events waiting for the relay, in publish order.
	outbound chan model.CommitEvent
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		rooms:      make(map[string]map[*Subscription]bool),
		presence:   make(map[string]map[*Subscription]UserStatus),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan model.CommitEvent, buffer),
		notices:    make(chan notice, buffer),
		evict:      make(chan eviction),
		done:       make(chan struct{}),
		buffer:     buffer,
		outbound:   make(chan model.CommitEvent, buffer),
	}
}

// SetRelay must be called before Run.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

// Run processes registrations and deliveries until ctx is cancelled, then
// closes every remaining subscription.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	if h.relay != nil {
		go h.forward(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-h.register:
			h.mu.Lock()
			if h.rooms[sub.DocID] == nil {
				h.rooms[sub.DocID] = make(map[*Subscription]bool)
			}
			h.rooms[sub.DocID][sub] = true
			if sub.notices != nil {
				if h.presence[sub.DocID] == nil {
					h.presence[sub.DocID] = make(map[*Subscription]UserStatus)
				}
				h.presence[sub.DocID][sub] = UserStatus{UserID: sub.ActorID, LastSeen: time.Now()}
			}
			h.mu.Unlock()
			close(sub.registered)
			if sub.notices != nil {
				h.broadcastPresenceUpdate(sub.DocID)
			}

		case sub := <-h.unregister:
			if h.remove(sub) && sub.notices != nil {
				h.broadcastPresenceUpdate(sub.DocID)
			}

		case ev := <-h.broadcast:
			h.deliver(ev)

		case n := <-h.notices:
			h.deliverNotice(n)

		case e := <-h.evict:
			h.mu.Lock()
			subs := make([]*Subscription, 0, len(h.rooms[e.docID]))
			for sub := range h.rooms[e.docID] {
				if e.actorID == "" || sub.ActorID == e.actorID {
					subs = append(subs, sub)
				}
			}
			h.mu.Unlock()
			viewers := false
			for _, sub := range subs {
				if h.remove(sub) && sub.notices != nil {
					viewers = true
				}
			}
			if e.actorID == "" {
				logger.Sugar.Infof("Closed room: %s", e.docID)
			} else if viewers {
				h.broadcastPresenceUpdate(e.docID)
			}
		}
	}
}

// Subscribe registers interest in docID on behalf of actorID. Events the
// actor committed itself are never delivered to it.
func (h *Hub) Subscribe(docID, actorID string) *Subscription {
	return h.subscribe(docID, actorID, 0, false)
}

func (h *Hub) subscribe(docID, actorID string, revision int64, viewer bool) *Subscription {
	sub := &Subscription{
		DocID:        docID,
		ActorID:      actorID,
		events:       make(chan model.CommitEvent, h.buffer),
		lastRevision: revision,
		hub:          h,
		registered:   make(chan struct{}),
	}
	if viewer {
		sub.notices = make(chan []byte, h.buffer)
	}
	select {
	case h.register <- sub:
		<-sub.registered
	case <-h.done:
		sub.closeChannels()
	}
	return sub
}

// Publish delivers a committed event to local subscribers and queues it for
// the relay. It never waits on the relay. Only the commit path calls it.
func (h *Hub) Publish(ev model.CommitEvent) {
	h.Deliver(ev)
	if h.relay == nil {
		return
	}
	select {
	case h.outbound <- ev:
	default:
		logger.Sugar.Warnf("Relay queue is full, dropping commit event for doc %s revision %d", ev.DocumentID, ev.Revision)
	}
}

// forward hands queued events to the relay one at a time.
func (h *Hub) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.outbound:
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := h.relay.Publish(pubCtx, ev); err != nil {
				logger.Sugar.Errorf("Failed to relay commit event for doc %s: %v", ev.DocumentID, err)
			}
			cancel()
		}
	}
}

// Deliver hands an event to local subscribers only.
func (h *Hub) Deliver(ev model.CommitEvent) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Notify sends an ephemeral message to the live viewers of a document,
// skipping skipActor. Nothing is stored.
func (h *Hub) Notify(docID, skipActor, msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s notice: %v", msgType, err)
		return
	}
	msg, _ := json.Marshal(WSMessage{Type: msgType, DocID: docID, UserID: skipActor, Payload: raw})
	select {
	case h.notices <- notice{docID: docID, skipActor: skipActor, payload: msg}:
	case <-h.done:
	}
}

// CloseRoom ends every subscription of a deleted document.
func (h *Hub) CloseRoom(docID string) {
	h.sendEviction(eviction{docID: docID})
}

// EvictActor ends the actor's subscriptions to docID, forcing its viewers to
// reconnect and be authorized again.
func (h *Hub) EvictActor(docID, actorID string) {
	if actorID == "" {
		return
	}
	h.sendEviction(eviction{docID: docID, actorID: actorID})
}

func (h *Hub) sendEviction(e eviction) {
	select {
	case h.evict <- e:
	case <-h.done:
	}
}

// roomSize reports the number of live subscriptions for docID.
func (h *Hub) roomSize(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[docID])
}

func (h *Hub) deliver(ev model.CommitEvent) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.rooms[ev.DocumentID]))
	for sub := range h.rooms[ev.DocumentID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if ev.Revision != 0 && ev.Revision <= sub.lastRevision {
			continue
		}
		if ev.Revision > sub.lastRevision {
			sub.lastRevision = ev.Revision
		}
		if ev.ActorID == sub.ActorID {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			// A lagging subscriber is dropped rather than allowed to block the
			// room; it has to reconnect and re-fetch.
			logger.Sugar.Warnf("Subscriber %s on doc %s is lagging. Unregistering.", sub.ActorID, sub.DocID)
			if h.remove(sub) && sub.notices != nil {
				h.broadcastPresenceUpdate(sub.DocID)
			}
		}
	}
}

func (h *Hub) deliverNotice(n notice) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.presence[n.docID]))
	for sub := range h.presence[n.docID] {
		if sub.ActorID != n.skipActor {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.notices <- n.payload:
		default:
			logger.Sugar.Warnf("Client %s's notice buffer is full, dropping notice.", sub.ActorID)
		}
	}
}

// remove unregisters sub and closes its channels. It reports false when sub
// was already gone.
func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[sub.DocID][sub]; !ok {
		return false
	}
	delete(h.rooms[sub.DocID], sub)
	if len(h.rooms[sub.DocID]) == 0 {
		delete(h.rooms, sub.DocID)
	}
	if sub.notices != nil {
		delete(h.presence[sub.DocID], sub)
		if len(h.presence[sub.DocID]) == 0 {
			delete(h.presence, sub.DocID)
		}
	}
	sub.closeChannels()
	return true
}

func (h *Hub) broadcastPresenceUpdate(docID string) {
	h.mu.Lock()
	userStatuses := make([]UserStatus, 0, len(h.presence[docID]))
	clientsToSend := make([]*Subscription, 0, len(h.presence[docID]))
	for sub, status := range h.presence[docID] {
		userStatuses = append(userStatuses, status)
		clientsToSend = append(clientsToSend, sub)
	}
	h.mu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}

	payload, err := json.Marshal(userStatuses)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	broadcastPayload, _ := json.Marshal(WSMessage{Type: PresenceUpdateType, DocID: docID, Payload: payload})

	for _, sub := range clientsToSend {
		select {
		case sub.notices <- broadcastPayload:
		default:
			logger.Sugar.Warnf("Client %s's send buffer was full during presence update.", sub.ActorID)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	var subs []*Subscription
	for _, room := range h.rooms {
		for sub := range room {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.remove(sub)
	}
}
