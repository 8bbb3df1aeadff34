// internal/lobby/engine.go
package lobby

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quorumgames/lobbyd/internal/auth"
	"github.com/quorumgames/lobbyd/internal/metrics"
)

// Engine is the authoritative in-process lobby registry. Every mutating
// operation validates the caller's token, arbitrates inside the target
// lobby's mutex, and emits events only after that mutex is released.
type Engine struct {
	validator auth.Validator

	reg   *registry
	codes *codeRegistry
	index *memberIndex

	// Sink receives events after each mutation commits. Assigned at wiring
	// time; nil drops events.
	Sink EventSink

	// OnEmpty is called after an emptied lobby has been removed from the
	// registry, with no locks held. The hub uses it to drop subscriber
	// bookkeeping and notify any remaining watchers.
	OnEmpty func(gameID, lobbyID uuid.UUID)
}

// NewEngine creates an Engine backed by the given token validator.
func NewEngine(validator auth.Validator) *Engine {
	return &Engine{
		validator: validator,
		reg:       newRegistry(),
		codes:     newCodeRegistry(),
		index:     newMemberIndex(),
	}
}

// authenticate resolves the caller's token, mapping validator failures to
// ErrUnauthorized.
func (e *Engine) authenticate(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" || len(token) > MaxTokenLen {
		return auth.Identity{}, fmt.Errorf("%w: bad session token", ErrInvalid)
	}
	identity, err := e.validator.Validate(ctx, token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return identity, nil
}

func validateScope(gameID uuid.UUID) error {
	if gameID == uuid.Nil {
		return fmt.Errorf("%w: empty game id", ErrInvalid)
	}
	return nil
}

func validateLobbyID(lobbyID uuid.UUID) error {
	if lobbyID == uuid.Nil {
		return fmt.Errorf("%w: empty lobby id", ErrInvalid)
	}
	return nil
}

// lookup fetches a lobby and checks its tenant scope. GameID is immutable
// after creation, so the read needs no lobby lock.
func (e *Engine) lookup(gameID, lobbyID uuid.UUID) (*Lobby, error) {
	l, ok := e.reg.get(lobbyID)
	if !ok || l.GameID != gameID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, lobbyID)
	}
	return l, nil
}

// emit delivers an event to the sink. Call with no lobby lock held.
func (e *Engine) emit(ctx context.Context, gameID, lobbyID uuid.UUID, ev Event) {
	if e.Sink == nil {
		return
	}
	e.Sink(ctx, gameID, lobbyID, ev)
}

// claimCode draws collision-checked lobby codes, falling back to a hex
// prefix after codeRetryLimit failed attempts.
func (e *Engine) claimCode(lobbyID uuid.UUID) string {
	for i := 0; i < codeRetryLimit; i++ {
		code, err := randomCode()
		if err != nil {
			break
		}
		if e.codes.claim(code, lobbyID) {
			return code
		}
	}
	code := fallbackCode()
	if !e.codes.claim(code, lobbyID) {
		logrus.WithField("code", code).Warn("lobby code fallback collided; issuing unregistered code")
	}
	return code
}

// CreateLobby registers a new lobby with the caller as sole member and
// owner. maxPlayers is clamped; properties are sanitized and capped.
func (e *Engine) CreateLobby(ctx context.Context, gameID uuid.UUID, token string, maxPlayers int, properties map[string]string) (*LobbyView, error) {
	if err := validateScope(gameID); err != nil {
		return nil, err
	}
	identity, err := e.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lobbyID := uuid.New()
	if prev, ok := e.index.reserve(gameID, token, lobbyID); !ok {
		return nil, fmt.Errorf("%w: session already in lobby %s", ErrConflict, prev)
	}

	lobby := &Lobby{
		ID:          lobbyID,
		Code:        e.claimCode(lobbyID),
		GameID:      gameID,
		OwnerUserID: identity.UserID,
		MaxPlayers:  clampMaxPlayers(maxPlayers),
		CreatedAt:   time.Now().UTC(),
		Properties:  make(map[string]string),
	}
	creator := &Member{
		UserID:       identity.UserID,
		DisplayName:  SanitizeDisplayName(identity.DisplayName),
		SessionToken: token,
	}
	lobby.Members = append(lobby.Members, creator)

	// Apply the initial properties in sorted key order so the surviving
	// subset under the cap is deterministic.
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := sanitizeKey(k)
		if key == "" {
			continue
		}
		lobby.setPropUnsafe(key, sanitizeValue(properties[k]))
	}

	// Project the view before publication; afterwards reads require the lock.
	view := lobby.viewUnsafe(token)
	e.reg.put(lobby)

	metrics.LobbiesCreated.Inc()
	metrics.LobbiesActive.Inc()
	metrics.MembersActive.Inc()
	logrus.WithFields(logrus.Fields{
		"lobby_id": lobbyID,
		"game_id":  gameID,
		"code":     lobby.Code,
		"owner":    identity.UserID,
	}).Debug("lobby created")

	e.emit(ctx, gameID, lobbyID, Event{Type: EventLobbyCreated, Payload: LobbyCreatedPayload{
		LobbyID:          lobbyID.String(),
		OwnerUserID:      identity.UserID,
		OwnerDisplayName: creator.DisplayName,
		MaxPlayers:       lobby.MaxPlayers,
	}})
	return view, nil
}

// JoinLobby admits the caller into an open lobby. Joining a lobby the
// caller already belongs to returns the current view without an event.
func (e *Engine) JoinLobby(ctx context.Context, gameID, lobbyID uuid.UUID, token string) (*LobbyView, error) {
	if err := validateScope(gameID); err != nil {
		return nil, err
	}
	if err := validateLobbyID(lobbyID); err != nil {
		return nil, err
	}
	identity, err := e.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, err := e.lookup(gameID, lobbyID)
	if err != nil {
		return nil, err
	}

	// No cross-lobby jumping without an explicit leave.
	if bound, ok := e.index.get(gameID, token); ok && bound != lobbyID {
		return nil, fmt.Errorf("%w: session bound to another lobby", ErrNotFound)
	}

	l.Mu.Lock()
	if l.Started {
		l.Mu.Unlock()
		return nil, fmt.Errorf("%w: lobby already started", ErrNotFound)
	}
	if m, _ := l.memberByTokenUnsafe(token); m != nil {
		view := l.viewUnsafe(token)
		l.Mu.Unlock()
		return view, nil
	}
	if len(l.Members) >= l.MaxPlayers {
		l.Mu.Unlock()
		return nil, fmt.Errorf("%w: lobby full", ErrNotFound)
	}
	if m := l.memberByUserUnsafe(identity.UserID); m != nil {
		l.Mu.Unlock()
		return nil, fmt.Errorf("%w: user already present under another session", ErrNotFound)
	}
	// Arbitrate the cross-lobby race while holding this lobby's mutex.
	if _, ok := e.index.reserve(gameID, token, lobbyID); !ok {
		l.Mu.Unlock()
		return nil, fmt.Errorf("%w: session bound to another lobby", ErrNotFound)
	}
	member := &Member{
		UserID:       identity.UserID,
		DisplayName:  SanitizeDisplayName(identity.DisplayName),
		SessionToken: token,
	}
	l.Members = append(l.Members, member)
	view := l.viewUnsafe(token)
	l.Mu.Unlock()

	metrics.MembersActive.Inc()
	e.emit(ctx, gameID, lobbyID, Event{Type: EventMemberJoined, Payload: MemberJoinedPayload{
		UserID:      member.UserID,
		DisplayName: member.DisplayName,
	}})
	return view, nil
}

// LeaveLobby removes the caller from a lobby. It reports false without
// error when the lobby, scope, or membership does not match. Removing the
// last member tears the lobby down and fires OnEmpty.
func (e *Engine) LeaveLobby(ctx context.Context, gameID, lobbyID uuid.UUID, token string) (bool, error) {
	if err := validateScope(gameID); err != nil {
		return false, err
	}
	if err := validateLobbyID(lobbyID); err != nil {
		return false, err
	}
	if _, err := e.authenticate(ctx, token); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l, err := e.lookup(gameID, lobbyID)
	if err != nil {
		return false, nil
	}

	l.Mu.Lock()
	m, idx := l.memberByTokenUnsafe(token)
	if m == nil {
		l.Mu.Unlock()
		return false, nil
	}
	l.Members = append(l.Members[:idx], l.Members[idx+1:]...)
	e.index.remove(gameID, token, lobbyID)

	var newOwner string
	if m.UserID == l.OwnerUserID && len(l.Members) > 0 {
		// Deterministic hand-off: the longest-tenured member inherits.
		l.OwnerUserID = l.Members[0].UserID
		newOwner = l.OwnerUserID
	}
	empty := len(l.Members) == 0
	if empty {
		// Remove before anyone can observe a memberless lobby.
		e.reg.remove(lobbyID)
		e.codes.release(l.Code, lobbyID)
	}
	l.Mu.Unlock()

	metrics.MembersActive.Dec()
	if empty {
		metrics.LobbiesActive.Dec()
		metrics.LobbiesDeleted.Inc()
		logrus.WithFields(logrus.Fields{
			"lobby_id": lobbyID,
			"game_id":  gameID,
		}).Debug("lobby emptied and removed")
		e.emit(ctx, gameID, lobbyID, Event{Type: EventLobbyEmpty})
		if e.OnEmpty != nil {
			e.OnEmpty(gameID, lobbyID)
		}
		return true, nil
	}

	e.emit(ctx, gameID, lobbyID, Event{Type: EventMemberLeft, Payload: MemberLeftPayload{
		UserID:         m.UserID,
		NewOwnerUserID: newOwner,
	}})
	return true, nil
}

// LeaveLobbyByToken resolves the caller's lobby through the membership
// index and delegates to LeaveLobby.
func (e *Engine) LeaveLobbyByToken(ctx context.Context, gameID uuid.UUID, token string) (bool, error) {
	if err := validateScope(gameID); err != nil {
		return false, err
	}
	lobbyID, ok := e.index.get(gameID, token)
	if !ok {
		return false, nil
	}
	return e.LeaveLobby(ctx, gameID, lobbyID, token)
}

// SetReady updates the caller's ready flag. Rejected once the lobby has
// started.
func (e *Engine) SetReady(ctx context.Context, gameID, lobbyID uuid.UUID, token string, isReady bool) (bool, error) {
	if err := validateScope(gameID); err != nil {
		return false, err
	}
	if err := validateLobbyID(lobbyID); err != nil {
		return false, err
	}
	if _, err := e.authenticate(ctx, token); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l, err := e.lookup(gameID, lobbyID)
	if err != nil {
		return false, err
	}

	l.Mu.Lock()
	if l.Started {
		l.Mu.Unlock()
		return false, fmt.Errorf("%w: lobby already started", ErrConflict)
	}
	m, _ := l.memberByTokenUnsafe(token)
	if m == nil {
		l.Mu.Unlock()
		return false, fmt.Errorf("%w: not a member", ErrNotFound)
	}
	m.IsReady = isReady
	userID := m.UserID
	l.Mu.Unlock()

	e.emit(ctx, gameID, lobbyID, Event{Type: EventMemberReady, Payload: MemberReadyPayload{
		UserID:  userID,
		IsReady: isReady,
	}})
	return true, nil
}

// SetEveryoneReady marks every member ready. Owner only.
func (e *Engine) SetEveryoneReady(ctx context.Context, gameID, lobbyID uuid.UUID, token string) (bool, error) {
	if err := validateScope(gameID); err != nil {
		return false, err
	}
	if err := validateLobbyID(lobbyID); err != nil {
		return false, err
	}
	identity, err := e.authenticate(ctx, token)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l, err := e.lookup(gameID, lobbyID)
	if err != nil {
		return false, err
	}

	l.Mu.Lock()
	// Re-check authority inside the mutex; the owner may have been handed
	// off between validation and now.
	if l.OwnerUserID != identity.UserID {
		l.Mu.Unlock()
		return false, fmt.Errorf("%w: owner only", ErrForbidden)
	}
	if l.Started {
		l.Mu.Unlock()
		return false, fmt.Errorf("%w: lobby already started", ErrConflict)
	}
	affected := make([]string, 0, len(l.Members))
	for _, m := range l.Members {
		m.IsReady = true
		affected = append(affected, m.UserID)
	}
	l.Mu.Unlock()

	e.emit(ctx, gameID, lobbyID, Event{Type: EventEveryoneReady, Payload: EveryoneReadyPayload{
		AffectedMembers: affected,
	}})
	return true, nil
}

// SetLobbyData writes one property. Owner only. Setting key "Name" also
// updates the lobby's display name. Permitted after start.
func (e *Engine) SetLobbyData(ctx context.Context, gameID, lobbyID uuid.UUID, token, key, value string) (bool, error) {
	if err := validateScope(gameID); err != nil {
		return false, err
	}
	if err := validateLobbyID(lobbyID); err != nil {
		return false, err
	}
	key = sanitizeKey(key)
	if key == "" {
		return false, fmt.Errorf("%w: missing property key", ErrInvalid)
	}
	value = sanitizeValue(value)
	identity, err := e.authenticate(ctx, token)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l, err := e.lookup(gameID, lobbyID)
	if err != nil {
		return false, err
	}

	l.Mu.Lock()
	if l.OwnerUserID != identity.UserID {
		l.Mu.Unlock()
		return false, fmt.Errorf("%w: owner only", ErrForbidden)
	}
	if !l.setPropUnsafe(key, value) {
		l.Mu.Unlock()
		return false, fmt.Errorf("%w: property cap reached", ErrConflict)
	}
	l.Mu.Unlock()

	e.emit(ctx, gameID, lobbyID, Event{Type: EventLobbyData, Payload: LobbyDataPayload{
		Key:   key,
		Value: value,
	}})
	return true, nil
}

// GetLobbyData reads one property case-insensitively. No auth.
func (e *Engine) GetLobbyData(ctx context.Context, gameID, lobbyID uuid.UUID, key string) (string, bool) {
	if gameID == uuid.Nil || lobbyID == uuid.Nil {
		return "", false
	}
	l, err := e.lookup(gameID, lobbyID)
	if err != nil {
		return "", false
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()
	_, value, ok := l.propLookupUnsafe(sanitizeKey(key))
	return value, ok
}

// GetLobbyMembers returns a snapshot of the lobby's members, session tokens
// included. Transport-facing callers must project to MemberView.
func (e *Engine) GetLobbyMembers(ctx context.Context, gameID, lobbyID uuid.UUID) []Member {
	if gameID == uuid.Nil || lobbyID == uuid.Nil {
		return nil
	}
	l, err := e.lookup(gameID, lobbyID)
	if err != nil {
		return nil
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()
	return l.membersSnapshotUnsafe()
}

// GetLobby projects the lobby for the caller. Visible to members only.
func (e *Engine) GetLobby(ctx context.Context, gameID, lobbyID uuid.UUID, token string) (*LobbyView, error) {
	if err := validateScope(gameID); err != nil {
		return nil, err
	}
	if err := validateLobbyID(lobbyID); err != nil {
		return nil, err
	}
	l, err := e.lookup(gameID, lobbyID)
	if err != nil {
		return nil, err
	}
	l.Mu.Lock()
	defer l.Mu.Unlock()
	if m, _ := l.memberByTokenUnsafe(token); m == nil {
		return nil, fmt.Errorf("%w: not a member", ErrNotFound)
	}
	return l.viewUnsafe(token), nil
}

// StartLobby flips the started flag. Owner only; irreversible.
func (e *Engine) StartLobby(ctx context.Context, gameID, lobbyID uuid.UUID, token string) (bool, error) {
	if err := validateScope(gameID); err != nil {
		return false, err
	}
	if err := validateLobbyID(lobbyID); err != nil {
		return false, err
	}
	identity, err := e.authenticate(ctx, token)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l, err := e.lookup(gameID, lobbyID)
	if err != nil {
		return false, err
	}

	l.Mu.Lock()
	if l.OwnerUserID != identity.UserID {
		l.Mu.Unlock()
		return false, fmt.Errorf("%w: owner only", ErrForbidden)
	}
	if l.Started {
		l.Mu.Unlock()
		return false, fmt.Errorf("%w: lobby already started", ErrConflict)
	}
	l.Started = true
	l.Mu.Unlock()

	e.emit(ctx, gameID, lobbyID, Event{Type: EventLobbyStarted})
	return true, nil
}

// SearchLobbies lists joinable lobbies in one game, newest first. Each
// filter key must match a property with a case-insensitively equal value.
// Views carry no caller context, so IsOwner is always false.
func (e *Engine) SearchLobbies(ctx context.Context, gameID uuid.UUID, maxRooms int, filters map[string]string) []LobbyView {
	if gameID == uuid.Nil {
		return nil
	}
	limit := clampMaxRooms(maxRooms)

	var out []LobbyView
	for _, l := range e.reg.snapshot() {
		if l.GameID != gameID {
			continue
		}
		l.Mu.Lock()
		match := !l.Started && len(l.Members) < l.MaxPlayers && l.matchFiltersUnsafe(filters)
		var view *LobbyView
		if match {
			view = l.viewUnsafe("")
		}
		l.Mu.Unlock()
		if view != nil {
			out = append(out, *view)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GlobalPlayerCount sums memberships across all lobbies.
func (e *Engine) GlobalPlayerCount() int {
	n := 0
	for _, l := range e.reg.snapshot() {
		l.Mu.Lock()
		n += len(l.Members)
		l.Mu.Unlock()
	}
	return n
}

// GlobalLobbyCount is the current registry cardinality.
func (e *Engine) GlobalLobbyCount() int {
	return e.reg.count()
}

// LobbyCountByGame counts lobbies in one game scope.
func (e *Engine) LobbyCountByGame(gameID uuid.UUID) int {
	n := 0
	for _, l := range e.reg.snapshot() {
		if l.GameID == gameID {
			n++
		}
	}
	return n
}

// ActivePlayersByGame returns the distinct members across a game's lobbies,
// de-duplicated by user id, ordered by user id.
func (e *Engine) ActivePlayersByGame(gameID uuid.UUID) []MemberView {
	seen := make(map[string]struct{})
	var out []MemberView
	for _, l := range e.reg.snapshot() {
		if l.GameID != gameID {
			continue
		}
		l.Mu.Lock()
		views := l.memberViewsUnsafe()
		l.Mu.Unlock()
		for _, v := range views {
			if _, dup := seen[v.UserID]; dup {
				continue
			}
			seen[v.UserID] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
