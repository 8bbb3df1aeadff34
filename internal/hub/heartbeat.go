// internal/hub/heartbeat.go
package hub

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/quorumgames/lobbyd/internal/lobby"
	"github.com/quorumgames/lobbyd/internal/metrics"
)

// ensureHeartbeat starts the lobby's heartbeat loop unless one is already
// running, the subscriber set is empty, or the hub is shutting down.
func (h *Hub) ensureHeartbeat(key lobbyKey) {
	select {
	case <-h.done:
		return
	default:
	}
	h.mu.Lock()
	if h.beating[key] || len(h.subs[key]) == 0 {
		h.mu.Unlock()
		return
	}
	h.beating[key] = true
	h.mu.Unlock()
	go h.heartbeatLoop(key)
}

// heartbeatLoop pings the lobby's subscribers, waits PongTimeout, then
// partitions the set by response high-water mark. Zero responders force the
// lobby closed; individual non-responders are evicted from the lobby and
// their transports closed. The loop exits when the set drains or the hub
// shuts down.
func (h *Hub) heartbeatLoop(key lobbyKey) {
	defer func() {
		h.mu.Lock()
		delete(h.beating, key)
		refilled := len(h.subs[key]) > 0
		h.mu.Unlock()
		// A subscriber may have registered while this loop was winding
		// down and seen the stale beating flag.
		if refilled {
			h.ensureHeartbeat(key)
		}
	}()

	log := logrus.WithFields(logrus.Fields{
		"game_id":  key.gameID,
		"lobby_id": key.lobbyID,
	})

	for {
		targets := h.snapshot(key)
		if len(targets) == 0 {
			return
		}

		pingSentAt := h.clock.Now()
		payload, err := json.Marshal(lobby.Event{
			Type:    lobby.EventPing,
			Payload: lobby.PingPayload{Ts: pingSentAt.UnixMilli()},
		})
		if err != nil {
			log.WithError(err).Error("failed to marshal ping")
			return
		}
		metrics.EventsBroadcast.WithLabelValues(string(lobby.EventPing)).Inc()
		for _, sub := range targets {
			sub.enqueue(payload)
		}

		select {
		case <-h.done:
			return
		case <-h.clock.After(PongTimeout):
		}

		// Partition the set as it stands at the deadline. Subscribers that
		// connected after the ping carry a connect-time high-water mark and
		// count as responders.
		current := h.snapshot(key)
		if len(current) == 0 {
			return
		}
		var responders, stale []*Subscriber
		for _, sub := range current {
			if sub.lastResponseAt().Before(pingSentAt) {
				stale = append(stale, sub)
			} else {
				responders = append(responders, sub)
			}
		}

		if len(responders) == 0 {
			log.WithField("subscribers", len(stale)).Warn("no heartbeat responders, forcing lobby closed")
			metrics.ForcedCloses.Inc()
			h.reapLobby(key)
			return
		}

		for _, sub := range stale {
			log.WithField("user_id", sub.UserID).Info("evicting unresponsive subscriber")
			metrics.HeartbeatEvictions.Inc()
			h.removeSubscriber(key, sub)
			sub.finish(websocket.StatusPolicyViolation, "heartbeat timeout")
			if _, err := h.engine.LeaveLobbyByToken(context.Background(), key.gameID, sub.Token); err != nil {
				log.WithError(err).WithField("user_id", sub.UserID).Debug("eviction leave failed")
			}
		}

		select {
		case <-h.done:
			return
		case <-h.clock.After(PingInterval):
		}
	}
}

// scheduleIdleCleanup arms a one-shot reap for a lobby whose subscriber set
// just drained. The reap aborts if anyone reconnects within the window.
func (h *Hub) scheduleIdleCleanup(key lobbyKey) {
	h.mu.Lock()
	if h.idlePending[key] {
		h.mu.Unlock()
		return
	}
	h.idlePending[key] = true
	h.mu.Unlock()

	go func() {
		select {
		case <-h.done:
			return
		case <-h.clock.After(IdleTimeout):
		}

		h.mu.Lock()
		delete(h.idlePending, key)
		repopulated := len(h.subs[key]) > 0
		h.mu.Unlock()
		if repopulated {
			return
		}

		logrus.WithFields(logrus.Fields{
			"game_id":  key.gameID,
			"lobby_id": key.lobbyID,
		}).Info("reaping idle lobby")
		metrics.IdleReaps.Inc()
		h.reapLobby(key)
	}()
}

// reapLobby evicts every remaining lobby member through the engine and then
// tears the subscriber set down. Member eviction emits the usual
// member_left / lobby_empty events before the final lobby_deleted.
func (h *Hub) reapLobby(key lobbyKey) {
	ctx := context.Background()
	for _, m := range h.engine.GetLobbyMembers(ctx, key.gameID, key.lobbyID) {
		if _, err := h.engine.LeaveLobby(ctx, key.gameID, key.lobbyID, m.SessionToken); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"game_id":  key.gameID,
				"lobby_id": key.lobbyID,
				"user_id":  m.UserID,
			}).Debug("reap leave failed")
		}
	}
	h.CloseLobby(key.gameID, key.lobbyID)
}

// isHeartbeatResponse recognizes the accepted heartbeat response forms: the
// bare keywords pong, hb, or heartbeat in any case with surrounding
// whitespace, or a JSON object whose type field carries one of them.
func isHeartbeatResponse(frame []byte) bool {
	text := strings.TrimSpace(string(frame))
	if isHeartbeatKeyword(text) {
		return true
	}
	if len(text) > 0 && text[0] == '{' {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(text), &probe); err == nil {
			return isHeartbeatKeyword(strings.TrimSpace(probe.Type))
		}
	}
	return false
}

func isHeartbeatKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "pong", "hb", "heartbeat":
		return true
	}
	return false
}
