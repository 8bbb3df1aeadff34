package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newCreateCmd() *cobra.Command {
	var (
		name       string
		maxPlayers int
		props      []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new lobby",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gamePath()
			if err != nil {
				return err
			}

			req := map[string]any{}
			if name != "" {
				req["name"] = name
			}
			if maxPlayers > 0 {
				req["maxPlayers"] = maxPlayers
			}
			properties, err := parseProps(props)
			if err != nil {
				return err
			}
			if len(properties) > 0 {
				req["properties"] = properties
			}

			var result Lobby
			if err := client.Post(base+"/lobbies", req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the lobby")
	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "Member cap (default: server default)")
	cmd.Flags().StringArrayVar(&props, "prop", nil, "Lobby property as key=value (repeatable)")

	return cmd
}

func newJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <lobby-id>",
		Short: "Join a lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gamePath()
			if err != nil {
				return err
			}

			var result Lobby
			if err := client.Post(fmt.Sprintf("%s/lobbies/%s/join", base, args[0]), nil, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave [lobby-id]",
		Short: "Leave a lobby, or whichever lobby of the game you are in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gamePath()
			if err != nil {
				return err
			}

			path := base + "/lobbies/leave"
			if len(args) == 1 {
				path = fmt.Sprintf("%s/lobbies/%s/leave", base, args[0])
			}

			var result struct {
				Left bool `json:"left"`
			}
			if err := client.Post(path, nil, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			if result.Left {
				out.PrintMessage("Left lobby")
			} else {
				out.PrintMessage("Not in a lobby")
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var (
		limit   int
		filters []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List joinable lobbies, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gamePath()
			if err != nil {
				return err
			}

			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			parsed, err := parseProps(filters)
			if err != nil {
				return err
			}
			for k, v := range parsed {
				q.Set("filter."+k, v)
			}
			path := base + "/lobbies"
			if enc := q.Encode(); enc != "" {
				path += "?" + enc
			}

			var result []Lobby
			if err := client.Get(path, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(LobbyList(result))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum lobbies to return (default: server default)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Property filter as key=value (repeatable)")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <lobby-id>",
		Short: "Get a lobby you are a member of",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gamePath()
			if err != nil {
				return err
			}

			var result Lobby
			if err := client.Get(fmt.Sprintf("%s/lobbies/%s", base, args[0]), &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newMembersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members <lobby-id>",
		Short: "List a lobby's members in join order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gamePath()
			if err != nil {
				return err
			}

			var result []Member
			if err := client.Get(fmt.Sprintf("%s/lobbies/%s/members", base, args[0]), &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(MemberList(result))
			return nil
		},
	}
}

func newReadyCmd() *cobra.Command {
	var (
		notReady bool
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "ready <lobby-id>",
		Short: "Set your ready flag, or everyone's with --all (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gamePath()
			if err != nil {
				return err
			}

			if all {
				if notReady {
					return fmt.Errorf("--all cannot be combined with --not")
				}
				if err := client.Post(fmt.Sprintf("%s/lobbies/%s/ready/all", base, args[0]), nil, nil); err != nil {
					return err
				}
				NewOutput(cfg.Output).PrintMessage("Everyone marked ready")
				return nil
			}

			req := map[string]bool{"isReady": !notReady}
			if err := client.Post(fmt.Sprintf("%s/lobbies/%s/ready", base, args[0]), req, nil); err != nil {
				return err
			}

			msg := "Marked ready"
			if notReady {
				msg = "Marked not ready"
			}
			NewOutput(cfg.Output).PrintMessage(msg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&notReady, "not", false, "Clear the ready flag instead of setting it")
	cmd.Flags().BoolVar(&all, "all", false, "Mark every member ready (owner only)")

	return cmd
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <lobby-id>",
		Short: "Start a lobby (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gamePath()
			if err != nil {
				return err
			}

			if err := client.Post(fmt.Sprintf("%s/lobbies/%s/start", base, args[0]), nil, nil); err != nil {
				return err
			}
			NewOutput(cfg.Output).PrintMessage("Lobby started")
			return nil
		},
	}
}

func newSetDataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-data <lobby-id> <key> <value>",
		Short: "Set a lobby property (owner only)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := gamePath()
			if err != nil {
				return err
			}

			req := map[string]string{"key": args[1], "value": args[2]}
			if err := client.Put(fmt.Sprintf("%s/lobbies/%s/data", base, args[0]), req, nil); err != nil {
				return err
			}
			NewOutput(cfg.Output).PrintMessage(fmt.Sprintf("Set %s", args[1]))
			return nil
		},
	}
}

// parseProps turns repeated key=value flags into a map.
func parseProps(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed property %q, want key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
