// internal/lobby/events.go
package lobby

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// EventType is an enum-like type for notifications broadcast to lobby
// subscribers.
type EventType string

const (
	EventLobbyCreated  EventType = "lobby_created"
	EventMemberJoined  EventType = "member_joined"
	EventMemberLeft    EventType = "member_left"
	EventMemberReady   EventType = "member_ready"
	EventEveryoneReady EventType = "everyone_ready"
	EventLobbyData     EventType = "lobby_data"
	EventLobbyStarted  EventType = "lobby_started"
	EventLobbyEmpty    EventType = "lobby_empty"
	EventLobbyDeleted  EventType = "lobby_deleted"
	EventPing          EventType = "ping"
)

// Event is a typed notification produced after a mutation commits. The wire
// form is flat: {"type": ..., <payload fields>}. Payload must be a struct
// with camelCase json tags, or nil for events without fields.
type Event struct {
	Type    EventType
	Payload interface{}
}

// MarshalJSON flattens the payload fields beside "type". Map keys sort
// alphabetically, so equal events serialize identically.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := map[string]json.RawMessage{}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 && raw[0] == '{' {
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, err
			}
		}
	}
	t, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	obj["type"] = t
	return json.Marshal(obj)
}

// EventSink receives the events of one lobby after the originating mutation
// commits. The hub's broadcast is the production sink; wiring assigns it to
// Engine.Sink at startup.
type EventSink func(ctx context.Context, gameID, lobbyID uuid.UUID, ev Event)

// --- Event payload definitions ---

// LobbyCreatedPayload accompanies EventLobbyCreated.
type LobbyCreatedPayload struct {
	LobbyID          string `json:"lobbyId"`
	OwnerUserID      string `json:"ownerUserId"`
	OwnerDisplayName string `json:"ownerDisplayName"`
	MaxPlayers       int    `json:"maxPlayers"`
}

// MemberJoinedPayload accompanies EventMemberJoined.
type MemberJoinedPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// MemberLeftPayload accompanies EventMemberLeft. NewOwnerUserID is set only
// when the departure handed ownership off.
type MemberLeftPayload struct {
	UserID         string `json:"userId"`
	NewOwnerUserID string `json:"newOwnerUserId,omitempty"`
}

// MemberReadyPayload accompanies EventMemberReady.
type MemberReadyPayload struct {
	UserID  string `json:"userId"`
	IsReady bool   `json:"isReady"`
}

// EveryoneReadyPayload accompanies EventEveryoneReady.
type EveryoneReadyPayload struct {
	AffectedMembers []string `json:"affectedMembers"`
}

// LobbyDataPayload accompanies EventLobbyData with the sanitized key/value
// as stored.
type LobbyDataPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// LobbyDeletedPayload accompanies EventLobbyDeleted.
type LobbyDeletedPayload struct {
	LobbyID string `json:"lobbyId"`
	GameID  string `json:"gameId"`
}

// PingPayload accompanies EventPing. Ts is the server send time in Unix
// milliseconds.
type PingPayload struct {
	Ts int64 `json:"ts"`
}
