// internal/handlers/stats.go
package handlers

import (
	"net/http"

	"github.com/quorumgames/lobbyd/internal/lobby"
)

type globalStatsResponse struct {
	Lobbies int `json:"lobbies"`
	Players int `json:"players"`
}

type gameStatsResponse struct {
	Lobbies int                `json:"lobbies"`
	Players []lobby.MemberView `json:"players"`
}

func (s *Server) handleGlobalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, globalStatsResponse{
		Lobbies: s.engine.GlobalLobbyCount(),
		Players: s.engine.GlobalPlayerCount(),
	})
}

func (s *Server) handleGameStats(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathUUID(r, "gameID")
	if err != nil {
		writeError(w, err)
		return
	}

	players := s.engine.ActivePlayersByGame(gameID)
	if players == nil {
		players = []lobby.MemberView{}
	}
	writeJSON(w, http.StatusOK, gameStatsResponse{
		Lobbies: s.engine.LobbyCountByGame(gameID),
		Players: players,
	})
}
