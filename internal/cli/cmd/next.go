package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/driftbg/driftbg/internal/ipc"
)

// NextCmd advances slideshows on a running daemon.
func NextCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Advance the slideshow to the next wallpaper",
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := ipc.SendCommand(ipc.Command{Type: ipc.CommandNext, Output: output}); err != nil {
				log.Fatalf("failed to send next command: %v", err)
			}
			log.Info("advanced wallpaper")
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Limit to one output name")
	return cmd
}
