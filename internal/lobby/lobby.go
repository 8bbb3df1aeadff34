// internal/lobby/lobby.go
package lobby

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Member is one user participating in a lobby. SessionToken is the bearer
// presented at admission; it never leaves the process through views.
type Member struct {
	UserID       string
	DisplayName  string
	SessionToken string
	IsReady      bool
}

// Lobby is the authoritative state of one room.
type Lobby struct {
	ID          uuid.UUID
	Code        string
	GameID      uuid.UUID
	OwnerUserID string
	Name        string
	MaxPlayers  int
	CreatedAt   time.Time
	Started     bool

	// Properties holds game-defined key/value pairs. Keys match
	// case-insensitively; the stored key keeps the case first written.
	Properties map[string]string

	// Members is insertion ordered; index 0 is the longest-tenured member
	// and inherits ownership when the owner departs.
	Members []*Member

	// Mu protects every mutable field above. The engine holds it across
	// multi-step checks and releases it before emitting events.
	Mu sync.Mutex
}

// MemberView is the transport-safe projection of a Member.
type MemberView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsReady     bool   `json:"isReady"`
}

// LobbyView is the client-visible shape of a lobby. IsOwner is computed
// relative to the caller the view was projected for.
type LobbyView struct {
	LobbyID     string            `json:"lobbyId"`
	LobbyCode   string            `json:"lobbyCode"`
	GameID      string            `json:"gameId"`
	Name        string            `json:"name,omitempty"`
	OwnerUserID string            `json:"ownerUserId"`
	MaxPlayers  int               `json:"maxPlayers"`
	CreatedAt   time.Time         `json:"createdAtUtc"`
	Started     bool              `json:"started"`
	IsOwner     bool              `json:"isOwner"`
	Properties  map[string]string `json:"properties,omitempty"`
	Members     []MemberView      `json:"members"`
}

// memberByTokenUnsafe locates a member by session token. Assumes lock is held.
func (lobby *Lobby) memberByTokenUnsafe(token string) (*Member, int) {
	for i, m := range lobby.Members {
		if m.SessionToken == token {
			return m, i
		}
	}
	return nil, -1
}

// memberByUserUnsafe locates a member by user id. Assumes lock is held.
func (lobby *Lobby) memberByUserUnsafe(userID string) *Member {
	for _, m := range lobby.Members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// propLookupUnsafe finds a property case-insensitively and returns the
// stored key, its value, and whether it exists. Assumes lock is held.
func (lobby *Lobby) propLookupUnsafe(key string) (string, string, bool) {
	if v, ok := lobby.Properties[key]; ok {
		return key, v, true
	}
	for k, v := range lobby.Properties {
		if strings.EqualFold(k, key) {
			return k, v, true
		}
	}
	return "", "", false
}

// setPropUnsafe writes an already-sanitized property, overwriting any
// case-insensitive match in place. Returns false when a new key would
// exceed MaxProperties. Key "Name" also mirrors to the display name field.
// Assumes lock is held.
func (lobby *Lobby) setPropUnsafe(key, value string) bool {
	if stored, _, ok := lobby.propLookupUnsafe(key); ok {
		lobby.Properties[stored] = value
	} else {
		if len(lobby.Properties) >= MaxProperties {
			return false
		}
		lobby.Properties[key] = value
	}
	if strings.EqualFold(key, "Name") {
		lobby.Name = value
	}
	return true
}

// membersSnapshotUnsafe copies the member list, tokens included. Assumes
// lock is held.
func (lobby *Lobby) membersSnapshotUnsafe() []Member {
	out := make([]Member, 0, len(lobby.Members))
	for _, m := range lobby.Members {
		out = append(out, *m)
	}
	return out
}

// memberViewsUnsafe projects the member list without tokens. Assumes lock
// is held.
func (lobby *Lobby) memberViewsUnsafe() []MemberView {
	out := make([]MemberView, 0, len(lobby.Members))
	for _, m := range lobby.Members {
		out = append(out, MemberView{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			IsReady:     m.IsReady,
		})
	}
	return out
}

// viewUnsafe projects the lobby for one caller, identified by session
// token. An empty token yields IsOwner=false. Assumes lock is held.
func (lobby *Lobby) viewUnsafe(callerToken string) *LobbyView {
	props := make(map[string]string, len(lobby.Properties))
	for k, v := range lobby.Properties {
		props[k] = v
	}

	isOwner := false
	if callerToken != "" {
		if m, _ := lobby.memberByTokenUnsafe(callerToken); m != nil {
			isOwner = m.UserID == lobby.OwnerUserID
		}
	}

	return &LobbyView{
		LobbyID:     lobby.ID.String(),
		LobbyCode:   lobby.Code,
		GameID:      lobby.GameID.String(),
		Name:        lobby.Name,
		OwnerUserID: lobby.OwnerUserID,
		MaxPlayers:  lobby.MaxPlayers,
		CreatedAt:   lobby.CreatedAt,
		Started:     lobby.Started,
		IsOwner:     isOwner,
		Properties:  props,
		Members:     lobby.memberViewsUnsafe(),
	}
}

// matchFiltersUnsafe reports whether every filter key exists with a
// case-insensitively equal value. Assumes lock is held.
func (lobby *Lobby) matchFiltersUnsafe(filters map[string]string) bool {
	for k, want := range filters {
		_, got, ok := lobby.propLookupUnsafe(k)
		if !ok || !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}
