package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hari1098/snaptalks/internal/ui"
	"github.com/hari1098/snaptalks/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "snaptalks",
	Short: "Two-party voice and video calls over WebRTC",
	Long: `SnapTalks places one-to-one voice and video calls between the two members of a room.
A small relay seats the room's admin and client and passes call signals between them;
media flows directly between the peers.`,
	Version: version.Version,
}

// Execute runs the root command. An interrupt cancels the command's context
// so a live call can say goodbye before the process exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
