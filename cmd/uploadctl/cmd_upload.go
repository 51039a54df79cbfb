package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"jan-server/services/upload-api/internal/domain/upload"
	"jan-server/services/upload-api/internal/uploader"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [files...]",
	Short: "Upload one or more media files",
	Long: `Upload media files through the coordinator. Large files are split into
parts and transferred with retries; interrupting the command pauses the
active transfers so they can be resumed by a later invocation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().Int64("chunk-size", 8*1024*1024, "Part size in bytes for multipart transfers")
	uploadCmd.Flags().Int("concurrency", 3, "Maximum files uploading at once")
	uploadCmd.Flags().Bool("quiet", false, "Suppress per-file progress output")
}

func runUpload(cmd *cobra.Command, args []string) error {
	chunkSize, _ := cmd.Flags().GetInt64("chunk-size")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	quiet, _ := cmd.Flags().GetBool("quiet")

	client, log := newClient(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if chunkSize < 5*1024*1024 {
		chunkSize = 5 * 1024 * 1024
	}
	deps := uploader.Deps{
		Coordinator: client,
		Executor:    uploader.NewExecutor(upload.DefaultRetryPolicy(), 200*time.Millisecond, log),
		Planner:     upload.NewPlanner(chunkSize, 5*1024*1024, 10000),
		Log:         log,
	}

	sessions := make([]*uploader.Session, 0, len(args))
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		mtype, err := mimetype.DetectFile(path)
		if err != nil {
			return fmt.Errorf("detect content type of %s: %w", path, err)
		}

		name := filepath.Base(path)
		sessions = append(sessions, uploader.NewSession(uploader.FileInfo{
			Name:        name,
			Size:        info.Size(),
			ContentType: mtype.String(),
		}, f, deps, uploader.SessionConfig{
			ChunkSize:  chunkSize,
			OnProgress: progressPrinter(name, quiet),
		}))
	}

	scheduler := uploader.NewScheduler(concurrency, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	for _, sess := range sessions {
		if err := scheduler.Submit(ctx, sess); err != nil {
			return fmt.Errorf("submit upload: %w", err)
		}
	}
	if err := scheduler.Wait(ctx); err != nil {
		fmt.Println("\n⚠ interrupted, pausing active transfers")
	}

	return printSummary(sessions)
}

// progressPrinter reports state changes and coarse progress for one file
func progressPrinter(name string, quiet bool) func(uploader.Snapshot) {
	if quiet {
		return nil
	}
	lastState := upload.State("")
	lastPct := int64(-1)
	return func(snap uploader.Snapshot) {
		if snap.State != lastState {
			lastState = snap.State
			fmt.Printf("%s: %s\n", name, snap.State)
		}
		if snap.State != upload.StateUploading || snap.TotalSize <= 0 {
			return
		}
		pct := snap.ProgressBytes * 100 / snap.TotalSize
		if pct/10 != lastPct/10 {
			lastPct = pct
			fmt.Printf("%s: %3d%% (%s / %s)\n", name, pct,
				formatBytes(snap.ProgressBytes), formatBytes(snap.TotalSize))
		}
	}
}

func printSummary(sessions []*uploader.Session) error {
	fmt.Println()
	failed := 0
	for _, sess := range sessions {
		snap := sess.Snapshot()
		switch snap.State {
		case upload.StateCompleted:
			status := ""
			if snap.Outcome != nil {
				status = snap.Outcome.Status
			}
			fmt.Printf("✓ %s uploaded, media %s (%s)\n", snap.FileName, snap.MediaID, status)
		case upload.StatePaused:
			fmt.Printf("⚠ %s paused at %s of %s, media %s\n", snap.FileName,
				formatBytes(snap.ProgressBytes), formatBytes(snap.TotalSize), snap.MediaID)
		default:
			failed++
			reason := "upload did not start"
			if snap.Error != nil {
				reason = snap.Error.Message
			}
			fmt.Printf("✗ %s failed: %s\n", snap.FileName, reason)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(sessions))
	}
	return nil
}
