// Command companion runs the expressive avatar companion: an animation loop
// driven by conversation turns read from stdin, streamed to viewers over
// WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time
var version = "dev"

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "companion",
		Short: "Expressive avatar companion",
		Long: `Companion animates an avatar from conversation: every turn sets its
emotion, triggers a gesture and lip-syncs the reply. Frames are streamed
to viewers over WebSocket.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ~/.cortexcompanion)")

	rootCmd.AddCommand(
		newRunCmd(&configDir),
		newClassifyCmd(),
		newInspectCmd(&configDir),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
