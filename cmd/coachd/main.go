// Command coachd serves live sales-call coaching over websockets and replays recorded
// transcripts through the same engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "coachd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coachd",
		Short:         "Real-time sales call coaching engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(defaultServeDeps()))
	root.AddCommand(newReplayCmd(defaultServeDeps()))
	return root
}
