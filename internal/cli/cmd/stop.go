package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/driftbg/driftbg/internal/ipc"
)

// StopCmd asks a running daemon to exit.
func StopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := ipc.SendCommand(ipc.Command{Type: ipc.CommandStop}); err != nil {
				log.Fatalf("failed to stop daemon: %v", err)
			}
			log.Info("daemon stopping")
		},
	}
}
