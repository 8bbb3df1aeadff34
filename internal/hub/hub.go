// internal/hub/hub.go
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quorumgames/lobbyd/internal/auth"
	"github.com/quorumgames/lobbyd/internal/clock"
	"github.com/quorumgames/lobbyd/internal/lobby"
	"github.com/quorumgames/lobbyd/internal/metrics"
)

// Heartbeat and cleanup cadence. The loop waits PongTimeout after each ping
// before partitioning responders, then PingInterval before the next round.
const (
	PongTimeout  = 15 * time.Second
	PingInterval = 10 * time.Second
	IdleTimeout  = 45 * time.Second

	sendTimeout = 5 * time.Second
)

// Engine is the narrow surface the hub needs to evict dead members and
// drive lobby teardown. *lobby.Engine satisfies it.
type Engine interface {
	LeaveLobby(ctx context.Context, gameID, lobbyID uuid.UUID, token string) (bool, error)
	LeaveLobbyByToken(ctx context.Context, gameID uuid.UUID, token string) (bool, error)
	GetLobbyMembers(ctx context.Context, gameID, lobbyID uuid.UUID) []lobby.Member
}

// EventJournal records fanned-out events for offline audit. Publish
// failures are swallowed; the hub never blocks on the journal.
type EventJournal interface {
	PublishEvent(ctx context.Context, gameID, lobbyID uuid.UUID, ev lobby.Event) error
}

// lobbyKey identifies one subscriber set.
type lobbyKey struct {
	gameID  uuid.UUID
	lobbyID uuid.UUID
}

// Hub maintains the live subscriber set of every lobby, fans events out to
// them, runs the per-lobby heartbeat loops, and reaps lobbies whose
// subscribers have all gone away.
type Hub struct {
	engine    Engine
	validator auth.Validator
	clock     clock.Clock

	// Journal, when set, receives a record of every non-ping event.
	Journal EventJournal

	mu          sync.Mutex
	subs        map[lobbyKey]map[*Subscriber]struct{}
	beating     map[lobbyKey]bool
	idlePending map[lobbyKey]bool

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Hub. The engine reference is the narrow eviction interface;
// the validator gates subscriber admission.
func New(engine Engine, validator auth.Validator, clk clock.Clock) *Hub {
	return &Hub{
		engine:      engine,
		validator:   validator,
		clock:       clk,
		subs:        make(map[lobbyKey]map[*Subscriber]struct{}),
		beating:     make(map[lobbyKey]bool),
		idlePending: make(map[lobbyKey]bool),
		done:        make(chan struct{}),
	}
}

// HandleConnection admits one subscriber and blocks until its transport
// dies. It validates the token, registers the subscriber, ensures the
// lobby's heartbeat loop is running, and runs the receive loop that
// recognizes heartbeat responses.
func (h *Hub) HandleConnection(ctx context.Context, gameID, lobbyID uuid.UUID, token string, tr Transport) {
	identity, err := h.validator.Validate(ctx, token)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"game_id":  gameID,
			"lobby_id": lobbyID,
			"token_fp": auth.Fingerprint(token),
		}).Warn("subscriber rejected: invalid session token")
		_ = tr.Close(websocket.StatusPolicyViolation, "invalid session token")
		return
	}

	key := lobbyKey{gameID, lobbyID}
	sub := newSubscriber(identity.UserID, token, tr, h.clock.Now())
	h.register(key, sub)
	go h.writePump(key, sub)

	logrus.WithFields(logrus.Fields{
		"game_id":  gameID,
		"lobby_id": lobbyID,
		"user_id":  identity.UserID,
	}).Info("subscriber connected")

	h.readLoop(ctx, sub)

	// Transport closed or read failed. Drop the subscriber and let the
	// write pump deliver any queued frames before closing.
	h.removeSubscriber(key, sub)
	sub.finish(websocket.StatusNormalClosure, "subscriber disconnected")
	logrus.WithFields(logrus.Fields{
		"game_id":  gameID,
		"lobby_id": lobbyID,
		"user_id":  identity.UserID,
	}).Info("subscriber disconnected")
}

// readLoop consumes inbound frames until the transport errors. Frames that
// parse as heartbeat responses advance the subscriber's high-water mark;
// everything else is ignored at this layer.
func (h *Hub) readLoop(ctx context.Context, sub *Subscriber) {
	for {
		frame, err := sub.transport.Receive(ctx)
		if err != nil {
			return
		}
		if isHeartbeatResponse(frame) {
			sub.setLastResponse(h.clock.Now())
		}
	}
}

// Broadcast serializes the event and fans it out to the lobby's current
// subscribers. It satisfies lobby.EventSink; engine wiring assigns it.
func (h *Hub) Broadcast(ctx context.Context, gameID, lobbyID uuid.UUID, ev lobby.Event) {
	if ctx != nil && ctx.Err() != nil {
		// The originating operation was cancelled after commit; skip the
		// fan-out but never the state change.
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).WithField("type", ev.Type).Error("failed to marshal event")
		return
	}

	key := lobbyKey{gameID, lobbyID}
	h.mu.Lock()
	set := h.subs[key]
	targets := make([]*Subscriber, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	metrics.EventsBroadcast.WithLabelValues(string(ev.Type)).Inc()
	if h.Journal != nil && ev.Type != lobby.EventPing {
		if err := h.Journal.PublishEvent(context.Background(), gameID, lobbyID, ev); err != nil {
			logrus.WithError(err).Debug("journal publish failed")
		}
	}

	for _, s := range targets {
		s.enqueue(payload)
	}

	if len(targets) == 0 {
		h.scheduleIdleCleanup(key)
	} else {
		h.ensureHeartbeat(key)
	}
}

// CloseLobby atomically drops the lobby's subscriber set, delivers a final
// lobby_deleted to every remaining transport, and closes them with normal
// closure. It satisfies the engine's OnEmpty hook. Only the first call for
// a registered set does anything; later calls find no set and return.
func (h *Hub) CloseLobby(gameID, lobbyID uuid.UUID) {
	key := lobbyKey{gameID, lobbyID}
	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, key)
	targets := make([]*Subscriber, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	ev := lobby.Event{Type: lobby.EventLobbyDeleted, Payload: lobby.LobbyDeletedPayload{
		LobbyID: lobbyID.String(),
		GameID:  gameID.String(),
	}}
	metrics.EventsBroadcast.WithLabelValues(string(lobby.EventLobbyDeleted)).Inc()
	if h.Journal != nil {
		if err := h.Journal.PublishEvent(context.Background(), gameID, lobbyID, ev); err != nil {
			logrus.WithError(err).Debug("journal publish failed")
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		payload = nil
	}
	for _, s := range targets {
		if payload != nil {
			s.enqueue(payload)
		}
		s.finish(websocket.StatusNormalClosure, "lobby closed")
		metrics.SubscribersActive.Dec()
	}

	if len(targets) > 0 {
		logrus.WithFields(logrus.Fields{
			"game_id":     gameID,
			"lobby_id":    lobbyID,
			"subscribers": len(targets),
		}).Info("lobby closed, subscribers released")
	}
}

// SubscriberCount reports the current subscriber set size of one lobby.
func (h *Hub) SubscriberCount(gameID, lobbyID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[lobbyKey{gameID, lobbyID}])
}

// Shutdown releases every subscriber set and stops the heartbeat loops.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	keys := make([]lobbyKey, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	h.mu.Unlock()
	for _, k := range keys {
		h.CloseLobby(k.gameID, k.lobbyID)
	}
	h.stopOnce.Do(func() { close(h.done) })
}

// register inserts the subscriber and makes sure the heartbeat loop runs.
func (h *Hub) register(key lobbyKey, sub *Subscriber) {
	h.mu.Lock()
	set := h.subs[key]
	if set == nil {
		set = make(map[*Subscriber]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.SubscribersActive.Inc()
	h.ensureHeartbeat(key)
}

// removeSubscriber drops the subscriber from its set and reports whether it
// was still present. The set's transition to empty arms idle cleanup.
func (h *Hub) removeSubscriber(key lobbyKey, sub *Subscriber) bool {
	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if _, present := set[sub]; !present {
		h.mu.Unlock()
		return false
	}
	delete(set, sub)
	empty := len(set) == 0
	if empty {
		delete(h.subs, key)
	}
	h.mu.Unlock()

	metrics.SubscribersActive.Dec()
	if empty {
		h.scheduleIdleCleanup(key)
	}
	return true
}

// snapshot copies the current subscriber set.
func (h *Hub) snapshot(key lobbyKey) []*Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[key]
	out := make([]*Subscriber, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// writePump drains the subscriber's outbound queue onto the transport. It
// exits once finish has been called and the queue is empty, then closes
// the transport with the recorded reason. A failed send drops the
// subscriber with normal closure.
func (h *Hub) writePump(key lobbyKey, sub *Subscriber) {
	var sendErr error
	for frame := range sub.out {
		if sendErr != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		sendErr = sub.transport.Send(ctx, frame)
		cancel()
		if sendErr != nil {
			logrus.WithError(sendErr).WithField("user_id", sub.UserID).Debug("subscriber send failed")
			h.removeSubscriber(key, sub)
			sub.finish(websocket.StatusNormalClosure, "send failed")
		}
	}
	code, reason := sub.closeInfo()
	_ = sub.transport.Close(code, reason)
}
