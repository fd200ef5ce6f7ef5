package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/shopreel/cmd/shopreel/commands"
	"github.com/teranos/shopreel/logger"
)

var rootCmd = &cobra.Command{
	Use:   "shopreel",
	Short: "ShopReel - Product image to marketing reel pipeline",
	Long: `ShopReel - Asynchronous media generation for shop listings.

ShopReel turns a product photo plus listing metadata into a short
marketing video: the source image is classified for human subjects,
edited or optimized accordingly, published to asset storage, scripted,
and handed to the video synthesis provider. Every job is a persisted
record that can be polled over the API or watched over WebSocket.

Available commands:
  serve  - Start the ShopReel daemon (workers + HTTP/WebSocket API)
  run    - Run a single reel job in the foreground
  jobs   - Inspect and manage reel jobs
  am     - Manage ShopReel configuration ("I am")
  db     - Manage ShopReel database operations

Examples:
  shopreel serve                 # Start daemon with API on :8787
  shopreel serve --workers 3     # Start with 3 concurrent workers
  shopreel jobs ls               # List recent reel jobs
  shopreel am show               # Show current configuration
  shopreel db stats              # Show database statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global logger before any command runs.
		// Skip for commands whose output is the payload (like 'am show').
		if cmd.Name() != "show" {
			if err := logger.Initialize(false); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
