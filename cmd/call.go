package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hari1098/snaptalks/internal/call"
	"github.com/hari1098/snaptalks/internal/config"
	"github.com/hari1098/snaptalks/internal/media"
	"github.com/hari1098/snaptalks/internal/signaling"
	"github.com/hari1098/snaptalks/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagRelayURL string
	flagSTUN     string
	flagRole     string
	flagVideo    bool
	flagUser     string
	flagPassword string
)

var callCmd = &cobra.Command{
	Use:     "call [room-id|link]",
	Aliases: []string{"c"},
	Short:   "Join a room and place or answer calls",
	Long: `Join a room on the relay and open the call screen.

The admin seat may omit the room to have the relay open a new one; the
client seat must name an existing room.

Examples:
  snaptalks call --role admin --video
  snaptalks call calm-harbor-hums
  snaptalks call https://talk.example.com/r/calm-harbor-hums --video`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var roomID string
		if len(args) == 1 {
			var err error
			if roomID, err = parseRoomInput(args[0]); err != nil {
				return err
			}
		}
		return runCall(cmd.Context(), roomID)
	},
}

func runCall(ctx context.Context, roomID string) error {
	role := signaling.Role(flagRole)
	if !role.Valid() {
		return fmt.Errorf("role must be %q or %q", signaling.RoleAdmin, signaling.RoleClient)
	}
	if roomID == "" && role == signaling.RoleClient {
		return fmt.Errorf("a room ID or link is required to join as client")
	}

	cfg, err := LoadConfig(config.Options{
		RelayURL:      flagRelayURL,
		STUNServers:   flagSTUN,
		AdminUsername: flagUser,
		AdminPassword: flagPassword,
	})
	if err != nil {
		return err
	}
	if !cfg.IsSecureContext() {
		ui.PrintWarning("The relay is neither wss:// nor local; calls will be refused.")
	}

	var token string
	if role == signaling.RoleAdmin {
		stop := ui.RunSpinner("Signing in...")
		token, err = login(ctx, cfg)
		stop()
		if err != nil {
			return err
		}
	}

	stopSpinner := ui.RunConnectSpinner("Connecting to relay...")
	conn, err := NewConnectionContext(ctx, cfg)
	stopSpinner()
	if err != nil {
		return err
	}
	defer conn.Close()

	joined, err := conn.Join(ctx, roomID, role, token)
	if err != nil {
		return err
	}

	engine, sub, err := newEngine(ctx, cfg, conn, joined.RoomID, role)
	if err != nil {
		return err
	}
	defer sub.Close()

	runCtx, cancel := context.WithCancel(ctx)
	go engine.Run(runCtx)

	err = ui.RunCallScreen(ctx, engine, ui.CallOptions{
		RoomID:      joined.RoomID,
		RoomLink:    cfg.GetRoomLink(joined.RoomID),
		Video:       flagVideo,
		PeerPresent: joined.PeerPresent,
		Presence:    conn.Presence(runCtx),
	})

	cancel()
	<-engine.Done()

	if summaries := engine.Summaries(); len(summaries) > 0 {
		fmt.Println()
		ui.RenderSummary(summaries)
	}
	return err
}

func newEngine(ctx context.Context, cfg *config.Config, conn *ConnectionContext, roomID string, role signaling.Role) (*call.Engine, signaling.Subscription, error) {
	source, err := media.NewDeviceSource()
	if err != nil {
		return nil, nil, call.WrapError("open media devices", call.ErrMediaAccess, err)
	}
	peers, err := call.NewPionPeers(cfg.GetSTUNServers())
	if err != nil {
		return nil, nil, call.NewError("create peer factory", err)
	}

	sub, err := conn.Handler.Subscribe(ctx, roomID)
	if err != nil {
		return nil, nil, call.WrapError("subscribe", call.ErrSignaling, err)
	}

	engine, err := call.NewEngine(call.Config{
		RoomID:    roomID,
		LocalRole: role,
		Signals:   sub,
		Publisher: conn.Handler,
		Offers:    conn.Handler,
		Media:     source,
		Peers:     peers,
		Secure:    cfg.IsSecureContext(),
		Logger:    slog.Default().With("room", roomID, "role", role),
	})
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	return engine, sub, nil
}

// parseRoomInput accepts a bare room ID or a room link ending in /r/<id>.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", call.NewError("parse room link", err)
	}
	parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("could not find a room ID in %s", input)
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVar(&flagRelayURL, "relay", "", "Relay websocket URL (env RELAY_URL)")
	callCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Comma separated STUN servers (env STUN_SERVERS)")
	callCmd.Flags().StringVarP(&flagRole, "role", "r", string(signaling.RoleClient), "Seat to take: admin or client")
	callCmd.Flags().BoolVarP(&flagVideo, "video", "v", false, "Send video as well as audio")
	callCmd.Flags().StringVarP(&flagUser, "user", "u", "", "Admin username (env ADMIN_USERNAME)")
	callCmd.Flags().StringVarP(&flagPassword, "password", "p", "", "Admin password (env ADMIN_PASSWORD)")
}
