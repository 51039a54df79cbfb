package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [media-id]",
	Short: "Show the lifecycle status of a media item",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("download-url", false, "Also print a presigned download URL")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, _ := newClient(cmd)
	mediaID := args[0]

	record, err := client.Status(cmd.Context(), mediaID)
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}

	fmt.Printf("Media:        %s\n", record.MediaID)
	fmt.Printf("File:         %s (%s)\n", record.FileName, formatBytes(record.FileSize))
	fmt.Printf("Content type: %s\n", record.ContentType)
	fmt.Printf("Status:       %s\n", record.Status)
	fmt.Printf("Remote key:   %s\n", record.RemoteKey)
	fmt.Printf("Updated:      %s\n", record.UpdatedAt)
	if len(record.ProcessingMetadata) > 0 {
		fmt.Printf("Analysis:     %s\n", string(record.ProcessingMetadata))
	}

	if withURL, _ := cmd.Flags().GetBool("download-url"); withURL {
		grant, err := client.DownloadURL(cmd.Context(), mediaID)
		if err != nil {
			return fmt.Errorf("fetch download URL: %w", err)
		}
		fmt.Printf("Download:     %s (expires in %ds)\n", grant.URL, grant.ExpiresIn)
	}
	return nil
}
