package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
}

// NewOutput creates a new Output formatter
func NewOutput(format string) *Output {
	return &Output{format: format}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Println(string(data))
	} else {
		fmt.Println(msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case Lobby:
		o.printLobby(v)
	case LobbyList:
		o.printLobbyList(v)
	case MemberList:
		o.printMemberList(v)
	case GlobalStats:
		o.printGlobalStats(v)
	case GameStats:
		o.printGameStats(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Member response type (matches API)
type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsReady     bool   `json:"isReady"`
}

// Lobby response type
type Lobby struct {
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
	Members     []Member          `json:"members"`
}

// LobbyList wraps search results so text output can tabulate them
type LobbyList []Lobby

// MemberList wraps member listings
type MemberList []Member

// GlobalStats response type
type GlobalStats struct {
	Lobbies int `json:"lobbies"`
	Players int `json:"players"`
}

// GameStats response type
type GameStats struct {
	Lobbies int      `json:"lobbies"`
	Players []Member `json:"players"`
}

// HealthResult response type
type HealthResult struct {
	Status string `json:"status"`
}

func (o *Output) printLobby(l Lobby) {
	fmt.Printf("Lobby: %s (code %s)\n", l.LobbyID, l.LobbyCode)
	if l.Name != "" {
		fmt.Printf("Name: %s\n", l.Name)
	}
	started := "waiting"
	if l.Started {
		started = "started"
	}
	fmt.Printf("State: %s\n", started)
	fmt.Printf("Capacity: %d/%d\n", len(l.Members), l.MaxPlayers)
	if len(l.Properties) > 0 {
		keys := make([]string, 0, len(l.Properties))
		for k := range l.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("Properties:")
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", k, l.Properties[k])
		}
	}
	fmt.Printf("Members (%d):\n", len(l.Members))
	for _, m := range l.Members {
		o.printMemberLine(m, l.OwnerUserID)
	}
}

func (o *Output) printMemberLine(m Member, ownerID string) {
	ownerStr := ""
	if m.UserID == ownerID {
		ownerStr = " [owner]"
	}
	readyStr := ""
	if m.IsReady {
		readyStr = " (ready)"
	}
	fmt.Printf("  - %s (%s)%s%s\n", m.DisplayName, m.UserID, readyStr, ownerStr)
}

func (o *Output) printLobbyList(lobbies LobbyList) {
	if len(lobbies) == 0 {
		fmt.Println("No joinable lobbies")
		return
	}
	for _, l := range lobbies {
		name := l.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%s  %s  %s  %d/%d\n", l.LobbyID, l.LobbyCode, name, len(l.Members), l.MaxPlayers)
	}
}

func (o *Output) printMemberList(members MemberList) {
	if len(members) == 0 {
		fmt.Println("No members")
		return
	}
	for _, m := range members {
		o.printMemberLine(m, "")
	}
}

func (o *Output) printGlobalStats(s GlobalStats) {
	fmt.Printf("Lobbies: %d\n", s.Lobbies)
	fmt.Printf("Players: %d\n", s.Players)
}

func (o *Output) printGameStats(s GameStats) {
	fmt.Printf("Lobbies: %d\n", s.Lobbies)
	fmt.Printf("Players (%d):\n", len(s.Players))
	for _, m := range s.Players {
		o.printMemberLine(m, "")
	}
}

func (o *Output) printHealthResult(h HealthResult) {
	fmt.Printf("Status: %s\n", h.Status)
}
