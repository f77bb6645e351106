package live

import (
	"sync"

	"github.com/terra-clan/challenge-board/internal/models"
)

// Event is one observable state change: a fresh participant snapshot, a
// completion record, or both (a completion always carries the refreshed
// participant alongside the new leaderboard entry).
type Event struct {
	Participant *models.Participant      `json:"participant,omitempty"`
	Completion  *models.LeaderboardEntry `json:"completion,omitempty"`
}

// Subscription is a live feed of events. Updates arrive on C until Cancel
// is called or the hub shuts down, at which point C is closed.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Hub fans out record changes to subscribers. Delivery is conflating: a
// subscriber that falls behind loses intermediate snapshots but always
// eventually receives the latest settled state.
type Hub struct {
	mu     sync.Mutex
	all    map[*Subscription]struct{}
	perID  map[string]map[*Subscription]struct{}
	relay  *Relay
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		all:   make(map[*Subscription]struct{}),
		perID: make(map[string]map[*Subscription]struct{}),
	}
}

// AttachRelay wires a cross-instance relay. Locally published events are
// forwarded to the relay; events the relay receives from other instances
// are injected with publishLocal.
func (h *Hub) AttachRelay(r *Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
}

// Subscribe delivers events concerning a single participant.
func (h *Hub) Subscribe(participantID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := h.newSubscription()
	if h.closed {
		close(sub.ch)
		return sub
	}

	set, ok := h.perID[participantID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.perID[participantID] = set
	}
	set[sub] = struct{}{}

	sub.cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := set[sub]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.perID, participantID)
			}
			close(sub.ch)
		}
	}
	return sub
}

// SubscribeAll delivers every event for every participant.
func (h *Hub) SubscribeAll() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := h.newSubscription()
	if h.closed {
		close(sub.ch)
		return sub
	}

	h.all[sub] = struct{}{}
	sub.cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.all[sub]; ok {
			delete(h.all, sub)
			close(sub.ch)
		}
	}
	return sub
}

// Publish fans an event out to local subscribers and, when a relay is
// attached, to other instances.
func (h *Hub) Publish(ev Event) {
	h.publish(ev, true)
}

// publishLocal injects an event received from another instance.
func (h *Hub) publishLocal(ev Event) {
	h.publish(ev, false)
}

func (h *Hub) publish(ev Event, broadcast bool) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	for sub := range h.all {
		sub.deliver(ev)
	}
	if ev.Participant != nil {
		for sub := range h.perID[ev.Participant.ID] {
			sub.deliver(ev)
		}
	} else if ev.Completion != nil {
		for sub := range h.perID[ev.Completion.ParticipantID] {
			sub.deliver(ev)
		}
	}
	relay := h.relay
	h.mu.Unlock()

	if broadcast && relay != nil {
		relay.Broadcast(ev)
	}
}

// Close detaches every subscriber and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.all {
		close(sub.ch)
		delete(h.all, sub)
	}
	for id, set := range h.perID {
		for sub := range set {
			close(sub.ch)
			delete(set, sub)
		}
		delete(h.perID, id)
	}
}

func (h *Hub) newSubscription() *Subscription {
	ch := make(chan Event, 16)
	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {}
	return sub
}

// deliver pushes an event without ever blocking the publisher. When the
// buffer is full the oldest pending event is dropped, so the channel
// always holds monotonically fresher snapshots.
func (s *Subscription) deliver(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}
