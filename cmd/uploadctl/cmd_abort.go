package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var abortCmd = &cobra.Command{
	Use:   "abort [media-id]",
	Short: "Abort an in-flight upload and discard its parts",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbort,
}

func runAbort(cmd *cobra.Command, args []string) error {
	client, _ := newClient(cmd)
	mediaID := args[0]

	if err := client.Abort(cmd.Context(), mediaID); err != nil {
		return fmt.Errorf("abort upload: %w", err)
	}
	fmt.Printf("✓ upload %s aborted\n", mediaID)
	return nil
}
