package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/quorumgames/lobbyd/internal/handlers"
)

func newWatchCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "watch <lobby-id>",
		Short: "Stream lobby events over WebSocket",
		Long: `Connect to the lobby's subscribe endpoint and stream events in real-time.

Events include:
  - lobby_created: Lobby came into existence
  - member_joined / member_left: Membership changed
  - member_ready / everyone_ready: Ready flags changed
  - lobby_data: A property was set
  - lobby_started: The lobby started
  - lobby_empty / lobby_deleted: The lobby wound down

Heartbeat pings are answered automatically so the watch is not evicted.
Press Ctrl+C to disconnect.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchLobby(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")

	return cmd
}

func watchLobby(lobbyID string, jsonOutput bool) error {
	base, err := gamePath()
	if err != nil {
		return err
	}

	wsBase := strings.TrimSuffix(cfg.ServerURL, "/")
	wsBase = "ws" + strings.TrimPrefix(wsBase, "http")
	target := fmt.Sprintf("%s%s/lobbies/%s/subscribe?token=%s",
		wsBase, base, lobbyID, url.QueryEscape(cfg.Token))

	// Set up cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	c, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		Subprotocols: []string{handlers.LobbySubprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "watch ended")

	if !jsonOutput {
		fmt.Printf("Watching lobby %s\n", lobbyID)
	}

	for {
		_, frame, err := c.Read(ctx)
		if err != nil {
			// Context cancellation is expected
			if ctx.Err() != nil {
				if !jsonOutput {
					fmt.Println("\nDisconnected")
				}
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure:
				if !jsonOutput {
					fmt.Println("Lobby closed")
				}
				return nil
			case websocket.StatusPolicyViolation:
				return fmt.Errorf("server closed the watch: %w", err)
			default:
				return fmt.Errorf("stream error: %w", err)
			}
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &probe); err != nil {
			continue
		}
		if probe.Type == "ping" {
			// Answer so the hub keeps us registered.
			if err := c.Write(ctx, websocket.MessageText, []byte("pong")); err != nil {
				return fmt.Errorf("failed to answer ping: %w", err)
			}
			continue
		}

		printWatchEvent(probe.Type, frame, jsonOutput)
	}
}

func printWatchEvent(eventType string, frame []byte, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(string(frame))
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	display := string(frame)
	if len(display) > 100 {
		display = display[:100] + "..."
	}
	fmt.Printf("[%s] %s: %s\n", timestamp, eventType, display)
}
