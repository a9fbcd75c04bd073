package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/driftbg/driftbg/internal/ipc"
)

// StatusCmd queries a running daemon.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Run: func(cmd *cobra.Command, args []string) {
			body, err := ipc.GetStatus()
			if err != nil {
				log.Fatalf("daemon not reachable: %v", err)
			}
			log.Info(string(pretty.Color(body, nil)))
		},
	}
}
