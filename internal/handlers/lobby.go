// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/quorumgames/lobbyd/internal/lobby"
)

const defaultSearchLimit = 50

type createLobbyRequest struct {
	Name       string            `json:"name"`
	MaxPlayers int               `json:"maxPlayers"`
	Properties map[string]string `json:"properties" validate:"omitempty,max=64"`
}

type setReadyRequest struct {
	IsReady bool `json:"isReady"`
}

type setDataRequest struct {
	Key   string `json:"key" validate:"required,max=4096"`
	Value string `json:"value" validate:"max=65536"`
}

type leftResponse struct {
	Left bool `json:"left"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// decodeBody decodes a JSON request body into dst. An empty body is fine,
// the caller's zero-valued struct stands in for it.
func (s *Server) decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: bad request payload", lobby.ErrInvalid)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", lobby.ErrInvalid, err)
	}
	return nil
}

func (s *Server) handleCreateLobby(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathUUID(r, "gameID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req createLobbyRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	props := req.Properties
	if req.Name != "" {
		if props == nil {
			props = map[string]string{}
		}
		props["Name"] = req.Name
	}

	view, err := s.engine.CreateLobby(r.Context(), gameID, requestToken(r), req.MaxPlayers, props)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleJoinLobby(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := s.engine.JoinLobby(r.Context(), gameID, lobbyID, requestToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLeaveLobby(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	left, err := s.engine.LeaveLobby(r.Context(), gameID, lobbyID, requestToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leftResponse{Left: left})
}

// handleLeaveByToken removes the caller from whichever lobby of this game
// they are in, without needing the lobby ID.
func (s *Server) handleLeaveByToken(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathUUID(r, "gameID")
	if err != nil {
		writeError(w, err)
		return
	}

	left, err := s.engine.LeaveLobbyByToken(r.Context(), gameID, requestToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leftResponse{Left: left})
}

func (s *Server) handleGetLobby(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := s.engine.GetLobby(r.Context(), gameID, lobbyID, requestToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetMembers(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	members := s.engine.GetLobbyMembers(r.Context(), gameID, lobbyID)
	views := make([]lobby.MemberView, 0, len(members))
	for _, m := range members {
		views = append(views, lobby.MemberView{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			IsReady:     m.IsReady,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSearchLobbies(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathUUID(r, "gameID")
	if err != nil {
		writeError(w, err)
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: malformed limit", lobby.ErrInvalid))
			return
		}
	}

	var filters map[string]string
	for key, vals := range r.URL.Query() {
		name, ok := strings.CutPrefix(key, "filter.")
		if !ok || len(vals) == 0 {
			continue
		}
		if filters == nil {
			filters = map[string]string{}
		}
		filters[name] = vals[0]
	}

	views := s.engine.SearchLobbies(r.Context(), gameID, limit, filters)
	if views == nil {
		views = []lobby.LobbyView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSetReady(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req setReadyRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ok, err := s.engine.SetReady(r.Context(), gameID, lobbyID, requestToken(r), req.IsReady)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (s *Server) handleSetEveryoneReady(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ok, err := s.engine.SetEveryoneReady(r.Context(), gameID, lobbyID, requestToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (s *Server) handleSetData(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req setDataRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ok, err := s.engine.SetLobbyData(r.Context(), gameID, lobbyID, requestToken(r), req.Key, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	key := mux.Vars(r)["key"]
	value, ok := s.engine.GetLobbyData(r.Context(), gameID, lobbyID, key)
	if !ok {
		writeError(w, fmt.Errorf("%w: no such key", lobby.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleStartLobby(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ok, err := s.engine.StartLobby(r.Context(), gameID, lobbyID, requestToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: ok})
}

// pathScope parses the gameID and lobbyID path variables together.
func pathScope(r *http.Request) (gameID, lobbyID uuid.UUID, err error) {
	gameID, err = pathUUID(r, "gameID")
	if err != nil {
		return
	}
	lobbyID, err = pathUUID(r, "lobbyID")
	return
}
