// internal/handlers/api.go
package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/quorumgames/lobbyd/internal/auth"
	"github.com/quorumgames/lobbyd/internal/hub"
	"github.com/quorumgames/lobbyd/internal/lobby"
	"github.com/quorumgames/lobbyd/internal/middleware"
)

// Server bundles the lobby engine, the event hub, and the session validator
// behind the HTTP surface.
type Server struct {
	engine    *lobby.Engine
	hub       *hub.Hub
	validator auth.Validator
	logger    *logrus.Logger
	validate  *validator.Validate
}

// NewServer creates the HTTP server facade.
func NewServer(engine *lobby.Engine, h *hub.Hub, av auth.Validator, logger *logrus.Logger) *Server {
	return &Server{
		engine:    engine,
		hub:       h,
		validator: av,
		logger:    logger,
		validate:  validator.New(),
	}
}

// Router wires every route. The /v1 subtree carries the request logging
// middleware; health and metrics stay bare so probes do not spam the logs.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(middleware.LogMiddleware(s.logger))

	api.HandleFunc("/stats", s.handleGlobalStats).Methods(http.MethodGet)
	api.HandleFunc("/games/{gameID}/stats", s.handleGameStats).Methods(http.MethodGet)

	lobbies := api.PathPrefix("/games/{gameID}/lobbies").Subrouter()
	lobbies.HandleFunc("", s.handleCreateLobby).Methods(http.MethodPost)
	lobbies.HandleFunc("", s.handleSearchLobbies).Methods(http.MethodGet)
	lobbies.HandleFunc("/leave", s.handleLeaveByToken).Methods(http.MethodPost)
	lobbies.HandleFunc("/{lobbyID}", s.handleGetLobby).Methods(http.MethodGet)
	lobbies.HandleFunc("/{lobbyID}/join", s.handleJoinLobby).Methods(http.MethodPost)
	lobbies.HandleFunc("/{lobbyID}/leave", s.handleLeaveLobby).Methods(http.MethodPost)
	lobbies.HandleFunc("/{lobbyID}/members", s.handleGetMembers).Methods(http.MethodGet)
	lobbies.HandleFunc("/{lobbyID}/ready", s.handleSetReady).Methods(http.MethodPost)
	lobbies.HandleFunc("/{lobbyID}/ready/all", s.handleSetEveryoneReady).Methods(http.MethodPost)
	lobbies.HandleFunc("/{lobbyID}/data", s.handleSetData).Methods(http.MethodPut)
	lobbies.HandleFunc("/{lobbyID}/data/{key}", s.handleGetData).Methods(http.MethodGet)
	lobbies.HandleFunc("/{lobbyID}/start", s.handleStartLobby).Methods(http.MethodPost)
	lobbies.HandleFunc("/{lobbyID}/subscribe", s.handleSubscribe).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
