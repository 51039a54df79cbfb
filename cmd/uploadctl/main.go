package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "uploadctl",
	Short:        "Resumable media uploads against an upload-api instance",
	Long:         `uploadctl drives chunked, resumable media uploads through the upload-api coordinator and inspects their lifecycle.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8290", "Base URL of the upload-api service")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for authenticated requests")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(abortCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
