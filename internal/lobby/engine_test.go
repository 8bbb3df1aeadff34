// internal/lobby/engine_test.go
package lobby

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumgames/lobbyd/internal/auth"
)

var (
	testGameID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testGame2ID = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

// sinkRecorder collects engine events and OnEmpty callbacks instead of
// broadcasting them.
type sinkRecorder struct {
	mu      sync.Mutex
	events  []recordedEvent
	empties []uuid.UUID
}

type recordedEvent struct {
	GameID  uuid.UUID
	LobbyID uuid.UUID
	Event   Event
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{}
}

func (sr *sinkRecorder) sink(_ context.Context, gameID, lobbyID uuid.UUID, ev Event) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.events = append(sr.events, recordedEvent{GameID: gameID, LobbyID: lobbyID, Event: ev})
}

func (sr *sinkRecorder) onEmpty(_, lobbyID uuid.UUID) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.empties = append(sr.empties, lobbyID)
}

func (sr *sinkRecorder) byType(t EventType) []recordedEvent {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	var out []recordedEvent
	for _, e := range sr.events {
		if e.Event.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (sr *sinkRecorder) last() *recordedEvent {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if len(sr.events) == 0 {
		return nil
	}
	ev := sr.events[len(sr.events)-1]
	return &ev
}

func (sr *sinkRecorder) types() []EventType {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	out := make([]EventType, 0, len(sr.events))
	for _, e := range sr.events {
		out = append(out, e.Event.Type)
	}
	return out
}

func (sr *sinkRecorder) emptyCount() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.empties)
}

func testTokens() auth.TokenMap {
	m := auth.TokenMap{
		"t1": {UserID: "u1", DisplayName: "Alice"},
		"t2": {UserID: "u2", DisplayName: "Bob"},
		"t3": {UserID: "u3", DisplayName: "Cara"},
	}
	for i := 4; i <= 12; i++ {
		m[fmt.Sprintf("t%d", i)] = auth.Identity{
			UserID:      fmt.Sprintf("u%d", i),
			DisplayName: fmt.Sprintf("User %d", i),
		}
	}
	return m
}

// setupTestEngine builds an engine over a fixed token table with a
// recording sink.
func setupTestEngine(t *testing.T) (*Engine, *sinkRecorder) {
	t.Helper()
	sr := newSinkRecorder()
	e := NewEngine(testTokens())
	e.Sink = sr.sink
	e.OnEmpty = sr.onEmpty
	return e, sr
}

func TestCreateLobby(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	view, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)

	assert.Equal(t, "u1", view.OwnerUserID)
	assert.True(t, view.IsOwner)
	assert.Equal(t, 4, view.MaxPlayers)
	assert.False(t, view.Started)
	require.Len(t, view.Members, 1)
	assert.Equal(t, "Alice", view.Members[0].DisplayName)
	assert.False(t, view.Members[0].IsReady)

	require.Len(t, view.LobbyCode, LobbyCodeLength)
	for _, r := range view.LobbyCode {
		assert.Contains(t, LobbyCodeAlphabet, string(r))
	}

	created := sr.byType(EventLobbyCreated)
	require.Len(t, created, 1)
	payload := created[0].Event.Payload.(LobbyCreatedPayload)
	assert.Equal(t, view.LobbyID, payload.LobbyID)
	assert.Equal(t, "u1", payload.OwnerUserID)
	assert.Equal(t, "Alice", payload.OwnerDisplayName)
	assert.Equal(t, 4, payload.MaxPlayers)

	assert.Equal(t, 1, e.GlobalLobbyCount())
	assert.Equal(t, 1, e.GlobalPlayerCount())
}

func TestCreateLobbyClampsMaxPlayers(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	low, err := e.CreateLobby(ctx, testGameID, "t1", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, MinPlayers, low.MaxPlayers)

	high, err := e.CreateLobby(ctx, testGameID, "t2", 1000, nil)
	require.NoError(t, err)
	assert.Equal(t, MaxPlayersCap, high.MaxPlayers)
}

func TestCreateLobbyProperties(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	longKey := strings.Repeat("k", MaxKeyLen+10)
	view, err := e.CreateLobby(ctx, testGameID, "t1", 4, map[string]string{
		"Name":  "Friday Night",
		"mode":  "ranked",
		longKey: "v",
	})
	require.NoError(t, err)

	assert.Equal(t, "Friday Night", view.Name)
	assert.Equal(t, "Friday Night", view.Properties["Name"])
	assert.Equal(t, "ranked", view.Properties["mode"])

	lobbyID := uuid.MustParse(view.LobbyID)
	_, ok := e.GetLobbyData(ctx, testGameID, lobbyID, strings.Repeat("k", MaxKeyLen))
	assert.True(t, ok, "over-long key should be truncated, not dropped")
	_, ok = e.GetLobbyData(ctx, testGameID, lobbyID, longKey)
	assert.True(t, ok, "lookup sanitizes the key the same way")
}

func TestCreateLobbyPropertyCap(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	props := make(map[string]string)
	for i := 0; i < MaxProperties+5; i++ {
		props[fmt.Sprintf("key%02d", i)] = "v"
	}
	view, err := e.CreateLobby(ctx, testGameID, "t1", 4, props)
	require.NoError(t, err)
	assert.Len(t, view.Properties, MaxProperties)
}

func TestCreateWhileInLobbyConflicts(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)

	_, err = e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, e.GlobalLobbyCount())

	// A different game scope is an independent membership domain.
	_, err = e.CreateLobby(ctx, testGame2ID, "t1", 4, nil)
	assert.NoError(t, err)
}

func TestJoinLobby(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	view, err := e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)
	require.Len(t, view.Members, 2)
	assert.Equal(t, "u1", view.Members[0].UserID)
	assert.Equal(t, "u2", view.Members[1].UserID)
	assert.False(t, view.IsOwner)

	joined := sr.byType(EventMemberJoined)
	require.Len(t, joined, 1)
	payload := joined[0].Event.Payload.(MemberJoinedPayload)
	assert.Equal(t, "u2", payload.UserID)
	assert.Equal(t, "Bob", payload.DisplayName)
}

func TestJoinIdempotentForCurrentMember(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)

	again, err := e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)
	assert.Len(t, again.Members, 2)
	assert.Len(t, sr.byType(EventMemberJoined), 1, "re-join must not emit")
}

func TestJoinFullLobby(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 2, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)

	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t3")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, e.GlobalPlayerCount())
}

func TestJoinStartedLobby(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	ok, err := e.StartLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinCrossGameIsolation(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	_, err = e.JoinLobby(ctx, testGame2ID, lobbyID, "t2")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, e.SearchLobbies(ctx, testGame2ID, 10, nil))
	assert.Len(t, e.SearchLobbies(ctx, testGameID, 10, nil), 1)
}

func TestJoinSecondLobbyWithoutLeaving(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	other, err := e.CreateLobby(ctx, testGameID, "t2", 4, nil)
	require.NoError(t, err)

	_, err = e.JoinLobby(ctx, testGameID, uuid.MustParse(other.LobbyID), "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinDuplicateUserDifferentSession(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	tokens := testTokens()
	tokens["t1b"] = auth.Identity{UserID: "u1", DisplayName: "Alice's tablet"}
	e.validator = tokens

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)

	_, err = e.JoinLobby(ctx, testGameID, uuid.MustParse(created.LobbyID), "t1b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOwnerHandOff(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)
	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t3")
	require.NoError(t, err)

	left, err := e.LeaveLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)
	require.True(t, left)

	members := e.GetLobbyMembers(ctx, testGameID, lobbyID)
	require.Len(t, members, 2)
	assert.Equal(t, "u2", members[0].UserID)
	assert.Equal(t, "u3", members[1].UserID)

	view, err := e.GetLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)
	assert.Equal(t, "u2", view.OwnerUserID)
	assert.True(t, view.IsOwner)

	leftEvents := sr.byType(EventMemberLeft)
	require.Len(t, leftEvents, 1)
	payload := leftEvents[0].Event.Payload.(MemberLeftPayload)
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, "u2", payload.NewOwnerUserID)
}

func TestLeaveLastMemberRemovesLobby(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	left, err := e.LeaveLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)
	require.True(t, left)

	assert.Equal(t, 0, e.GlobalLobbyCount())
	assert.Equal(t, []EventType{EventLobbyCreated, EventLobbyEmpty}, sr.types())
	assert.Equal(t, 1, sr.emptyCount())

	// The token is free to create again immediately.
	_, err = e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	assert.NoError(t, err)
}

func TestLeaveNonMember(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	left, err := e.LeaveLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)
	assert.False(t, left)

	left, err = e.LeaveLobby(ctx, testGameID, uuid.New(), "t1")
	require.NoError(t, err)
	assert.False(t, left)
}

func TestLeaveByToken(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	_, err = e.JoinLobby(ctx, testGameID, uuid.MustParse(created.LobbyID), "t2")
	require.NoError(t, err)

	left, err := e.LeaveLobbyByToken(ctx, testGameID, "t2")
	require.NoError(t, err)
	assert.True(t, left)

	left, err = e.LeaveLobbyByToken(ctx, testGameID, "t2")
	require.NoError(t, err)
	assert.False(t, left, "index entry must be gone after leaving")
}

func TestLeaveRevalidatesToken(t *testing.T) {
	sr := newSinkRecorder()
	tokens := testTokens()
	e := NewEngine(tokens)
	e.Sink = sr.sink
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)

	delete(tokens, "t1")

	left, err := e.LeaveLobby(ctx, testGameID, uuid.MustParse(created.LobbyID), "t1")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, left)
	assert.Equal(t, 1, e.GlobalPlayerCount(), "revoked token cannot mutate membership")
}

func TestSetReady(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	ok, err := e.SetReady(ctx, testGameID, lobbyID, "t1", true)
	require.NoError(t, err)
	require.True(t, ok)

	// Setting the same flag again converges but still emits.
	ok, err = e.SetReady(ctx, testGameID, lobbyID, "t1", true)
	require.NoError(t, err)
	require.True(t, ok)

	ready := sr.byType(EventMemberReady)
	require.Len(t, ready, 2)
	payload := ready[1].Event.Payload.(MemberReadyPayload)
	assert.Equal(t, "u1", payload.UserID)
	assert.True(t, payload.IsReady)

	members := e.GetLobbyMembers(ctx, testGameID, lobbyID)
	require.Len(t, members, 1)
	assert.True(t, members[0].IsReady)
}

func TestSetReadyAfterStart(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	_, err = e.StartLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)

	ok, err := e.SetReady(ctx, testGameID, lobbyID, "t1", true)
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, ok)
}

func TestSetEveryoneReady(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)
	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)

	ok, err := e.SetEveryoneReady(ctx, testGameID, lobbyID, "t2")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, ok)

	ok, err = e.SetEveryoneReady(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	events := sr.byType(EventEveryoneReady)
	require.Len(t, events, 1)
	payload := events[0].Event.Payload.(EveryoneReadyPayload)
	assert.Equal(t, []string{"u1", "u2"}, payload.AffectedMembers)

	for _, m := range e.GetLobbyMembers(ctx, testGameID, lobbyID) {
		assert.True(t, m.IsReady)
	}
}

func TestSetLobbyData(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)
	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)

	ok, err := e.SetLobbyData(ctx, testGameID, lobbyID, "t1", "map", "Caverns")
	require.NoError(t, err)
	require.True(t, ok)

	value, found := e.GetLobbyData(ctx, testGameID, lobbyID, "map")
	require.True(t, found)
	assert.Equal(t, "Caverns", value)

	// Case-insensitive read and overwrite keep a single entry.
	value, found = e.GetLobbyData(ctx, testGameID, lobbyID, "MAP")
	require.True(t, found)
	assert.Equal(t, "Caverns", value)

	ok, err = e.SetLobbyData(ctx, testGameID, lobbyID, "t1", "MAP", "Harbor")
	require.NoError(t, err)
	require.True(t, ok)
	value, _ = e.GetLobbyData(ctx, testGameID, lobbyID, "map")
	assert.Equal(t, "Harbor", value)

	// Non-owner members may not write.
	ok, err = e.SetLobbyData(ctx, testGameID, lobbyID, "t2", "map", "Ruins")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, ok)

	// Empty key is malformed input.
	_, err = e.SetLobbyData(ctx, testGameID, lobbyID, "t1", "   ", "x")
	assert.ErrorIs(t, err, ErrInvalid)

	dataEvents := sr.byType(EventLobbyData)
	require.Len(t, dataEvents, 2)
	payload := dataEvents[0].Event.Payload.(LobbyDataPayload)
	assert.Equal(t, "map", payload.Key)
	assert.Equal(t, "Caverns", payload.Value)
}

func TestSetLobbyDataNameMirror(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	ok, err := e.SetLobbyData(ctx, testGameID, lobbyID, "t1", "name", "Midnight Run")
	require.NoError(t, err)
	require.True(t, ok)

	view, err := e.GetLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Midnight Run", view.Name)
}

func TestSetLobbyDataValueTruncated(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	long := strings.Repeat("v", MaxValueLen+50)
	ok, err := e.SetLobbyData(ctx, testGameID, lobbyID, "t1", "blob", long)
	require.NoError(t, err)
	require.True(t, ok)

	value, _ := e.GetLobbyData(ctx, testGameID, lobbyID, "blob")
	assert.Len(t, value, MaxValueLen)
}

func TestSetLobbyDataCap(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	for i := 0; i < MaxProperties; i++ {
		ok, err := e.SetLobbyData(ctx, testGameID, lobbyID, "t1", fmt.Sprintf("key%02d", i), "v")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := e.SetLobbyData(ctx, testGameID, lobbyID, "t1", "one-too-many", "v")
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, ok)

	// Overwriting an existing key still works at the cap.
	ok, err = e.SetLobbyData(ctx, testGameID, lobbyID, "t1", "key00", "updated")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetLobbyDataAfterStart(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	_, err = e.StartLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)

	ok, err := e.SetLobbyData(ctx, testGameID, lobbyID, "t1", "phase", "live")
	require.NoError(t, err)
	assert.True(t, ok, "lobby data stays writable after start")
}

func TestGetLobbyMembersOnly(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	_, err = e.GetLobby(ctx, testGameID, lobbyID, "t2")
	assert.ErrorIs(t, err, ErrNotFound)

	view, err := e.GetLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)
	assert.True(t, view.IsOwner)
}

func TestStartLobby(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)
	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)

	ok, err := e.StartLobby(ctx, testGameID, lobbyID, "t2")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, ok)

	ok, err = e.StartLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, sr.byType(EventLobbyStarted), 1)

	ok, err = e.StartLobby(ctx, testGameID, lobbyID, "t1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, ok)
}

func TestSearchLobbies(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	first, err := e.CreateLobby(ctx, testGameID, "t1", 4, map[string]string{"mode": "ranked"})
	require.NoError(t, err)
	second, err := e.CreateLobby(ctx, testGameID, "t2", 4, map[string]string{"mode": "casual"})
	require.NoError(t, err)
	third, err := e.CreateLobby(ctx, testGameID, "t3", 4, map[string]string{"mode": "ranked"})
	require.NoError(t, err)
	_, err = e.CreateLobby(ctx, testGame2ID, "t4", 4, map[string]string{"mode": "ranked"})
	require.NoError(t, err)

	all := e.SearchLobbies(ctx, testGameID, 10, nil)
	require.Len(t, all, 3)
	assert.Equal(t, third.LobbyID, all[0].LobbyID, "newest first")
	assert.Equal(t, second.LobbyID, all[1].LobbyID)
	assert.Equal(t, first.LobbyID, all[2].LobbyID)
	assert.False(t, all[0].IsOwner)

	ranked := e.SearchLobbies(ctx, testGameID, 10, map[string]string{"MODE": "RANKED"})
	require.Len(t, ranked, 2, "filter keys and values match case-insensitively")

	page := e.SearchLobbies(ctx, testGameID, 2, nil)
	assert.Len(t, page, 2)
	page = e.SearchLobbies(ctx, testGameID, 0, nil)
	assert.Len(t, page, 1, "maxRooms clamps up to 1")
}

func TestSearchExcludesStartedAndFull(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	started, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	_, err = e.StartLobby(ctx, testGameID, uuid.MustParse(started.LobbyID), "t1")
	require.NoError(t, err)

	full, err := e.CreateLobby(ctx, testGameID, "t2", 2, nil)
	require.NoError(t, err)
	_, err = e.JoinLobby(ctx, testGameID, uuid.MustParse(full.LobbyID), "t3")
	require.NoError(t, err)

	open, err := e.CreateLobby(ctx, testGameID, "t4", 4, nil)
	require.NoError(t, err)

	results := e.SearchLobbies(ctx, testGameID, 10, nil)
	require.Len(t, results, 1)
	assert.Equal(t, open.LobbyID, results[0].LobbyID)
}

func TestStats(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	tokens := testTokens()
	tokens["t1b"] = auth.Identity{UserID: "u1", DisplayName: "Alice's tablet"}
	e.validator = tokens

	l1, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	_, err = e.JoinLobby(ctx, testGameID, uuid.MustParse(l1.LobbyID), "t2")
	require.NoError(t, err)

	// Same user under a second session in a second lobby.
	_, err = e.CreateLobby(ctx, testGameID, "t1b", 4, nil)
	require.NoError(t, err)

	_, err = e.CreateLobby(ctx, testGame2ID, "t3", 4, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, e.GlobalLobbyCount())
	assert.Equal(t, 4, e.GlobalPlayerCount())
	assert.Equal(t, 2, e.LobbyCountByGame(testGameID))
	assert.Equal(t, 1, e.LobbyCountByGame(testGame2ID))

	players := e.ActivePlayersByGame(testGameID)
	require.Len(t, players, 2, "duplicate user ids collapse")
	assert.Equal(t, "u1", players[0].UserID)
	assert.Equal(t, "u2", players[1].UserID)
}

func TestConcurrentJoinCapacityRace(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 2, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	// One seat open, many concurrent joiners.
	contenders := []string{"t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, tok := range contenders {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			if _, err := e.JoinLobby(ctx, testGameID, lobbyID, token); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(tok)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one joiner wins the last seat")
	assert.Len(t, e.GetLobbyMembers(ctx, testGameID, lobbyID), 2)
	assert.Len(t, sr.byType(EventMemberJoined), 1)
}

func TestConcurrentJoinRespectsCapacity(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	contenders := []string{"t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10", "t11"}
	var wg sync.WaitGroup
	for _, tok := range contenders {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			_, _ = e.JoinLobby(ctx, testGameID, lobbyID, token)
		}(tok)
	}
	wg.Wait()

	members := e.GetLobbyMembers(ctx, testGameID, lobbyID)
	assert.Len(t, members, 4, "membership never exceeds maxPlayers")

	view, err := e.GetLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", view.OwnerUserID)
}

func TestLobbyCodesUnique(t *testing.T) {
	e, _ := setupTestEngine(t)
	ctx := context.Background()

	codes := make(map[string]bool)
	for i := 2; i <= 12; i++ {
		view, err := e.CreateLobby(ctx, testGameID, fmt.Sprintf("t%d", i), 4, nil)
		require.NoError(t, err)
		assert.False(t, codes[view.LobbyCode], "code %s reissued", view.LobbyCode)
		codes[view.LobbyCode] = true
	}
}

func TestCancelledContextBlocksMutation(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.Error(t, err)
	assert.Equal(t, 0, e.GlobalLobbyCount())
	assert.Nil(t, sr.last())
}

func TestEventOrderMatchesCommitOrder(t *testing.T) {
	e, sr := setupTestEngine(t)
	ctx := context.Background()

	created, err := e.CreateLobby(ctx, testGameID, "t1", 4, nil)
	require.NoError(t, err)
	lobbyID := uuid.MustParse(created.LobbyID)

	_, err = e.JoinLobby(ctx, testGameID, lobbyID, "t2")
	require.NoError(t, err)
	_, err = e.SetReady(ctx, testGameID, lobbyID, "t2", true)
	require.NoError(t, err)
	_, err = e.StartLobby(ctx, testGameID, lobbyID, "t1")
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventLobbyCreated,
		EventMemberJoined,
		EventMemberReady,
		EventLobbyStarted,
	}, sr.types())
}
