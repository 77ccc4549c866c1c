package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/echotab/internal/output"
	"github.com/joescharf/echotab/internal/scheduler"
	"github.com/joescharf/echotab/internal/snapshot"
	"github.com/joescharf/echotab/internal/store"
)

var (
	snapshotTabID  string
	snapshotStage  bool
	snapshotOutput string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture and manage page snapshots",
	Long: `Capture page snapshots with the headless browser and manage staged
snapshots. Captures from the extension go through the server instead.`,
}

var snapshotCaptureCmd = &cobra.Command{
	Use:   "capture <url>",
	Short: "Capture a page with headless Chrome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotCaptureRun(cmd.Context(), args[0])
	},
}

var snapshotCommitCmd = &cobra.Command{
	Use:   "commit <tab-id>",
	Short: "Make a staged snapshot permanent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotCommitRun(args[0])
	},
}

var snapshotDiscardCmd = &cobra.Command{
	Use:   "discard <tab-id>",
	Short: "Drop a staged snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotDiscardRun(args[0])
	},
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <url>",
	Short: "Write the snapshot of a page to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotExportRun(args[0])
	},
}

var snapshotPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove staged snapshots older than snapshot.temp_ttl",
	RunE: func(cmd *cobra.Command, args []string) error {
		return snapshotPurgeRun(cmd.Context())
	},
}

func init() {
	snapshotCaptureCmd.Flags().StringVar(&snapshotTabID, "tab", "", "Tab id to attach the snapshot to (default: the saved tab with this URL)")
	snapshotCaptureCmd.Flags().BoolVar(&snapshotStage, "stage", false, "Leave the snapshot staged instead of committing it")
	snapshotExportCmd.Flags().StringVar(&snapshotTabID, "tab", "", "Tab id to use when the URL has no snapshot")
	snapshotExportCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "snapshot.jpg", "Output file")

	snapshotCmd.AddCommand(snapshotCaptureCmd)
	snapshotCmd.AddCommand(snapshotCommitCmd)
	snapshotCmd.AddCommand(snapshotDiscardCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotPurgeCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// snapshotService builds a service whose only strategy is the headless
// browser. The returned capturer must be closed by the caller.
func snapshotService() (*snapshot.Service, *snapshot.BrowserCapturer, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	browser := newBrowserCapturer(logger)
	var primary snapshot.Capturer
	if browser != nil {
		primary = browser
	}
	return snapshot.NewService(s, primary, nil, snapshotConfig(), logger), browser, nil
}

// resolveTabID returns the id of the saved tab with url.
func resolveTabID(ctx context.Context, url string) (string, error) {
	if snapshotTabID != "" {
		return snapshotTabID, nil
	}
	s, err := getStore()
	if err != nil {
		return "", err
	}
	tabs, err := s.ListTabs(ctx, store.TabListFilter{Query: url})
	if err != nil {
		return "", err
	}
	for _, t := range tabs {
		if t.URL == url {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("no saved tab with url %s (save it first or pass --tab)", url)
}

func snapshotCaptureRun(ctx context.Context, url string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !viper.GetBool("browser.enabled") {
		return fmt.Errorf("headless capture is disabled (browser.enabled is false)")
	}
	tabID, err := resolveTabID(ctx, url)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would capture %s for tab %s", url, tabID)
		return nil
	}

	svc, browser, err := snapshotService()
	if err != nil {
		return err
	}
	defer func() { _ = browser.Close() }()

	snap, err := svc.Capture(ctx, snapshot.Target{TabID: tabID, URL: url})
	if err != nil {
		return err
	}
	if snapshotStage {
		ui.Success("Staged %dx%d snapshot for tab %s (%d bytes)", snap.Width, snap.Height, output.Cyan(tabID), len(snap.Image))
		return nil
	}
	if _, err := svc.Commit(ctx, tabID); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	ui.Success("Saved %dx%d snapshot for tab %s (%d bytes)", snap.Width, snap.Height, output.Cyan(tabID), len(snap.Image))
	return nil
}

func snapshotCommitRun(tabID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would commit the staged snapshot of tab %s", tabID)
		return nil
	}
	snap, err := s.CommitSnapshot(context.Background(), tabID)
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	ui.Success("Committed snapshot %s for %s", snap.ID, snap.URL)
	return nil
}

func snapshotDiscardRun(tabID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would discard the staged snapshot of tab %s", tabID)
		return nil
	}
	if err := s.DiscardTempSnapshot(context.Background(), tabID); err != nil {
		return fmt.Errorf("discard snapshot: %w", err)
	}
	ui.Success("Discarded staged snapshot of tab %s", tabID)
	return nil
}

func snapshotExportRun(url string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	svc := snapshot.NewService(s, nil, nil, snapshotConfig(), logger)
	snap, err := svc.Get(context.Background(), url, snapshotTabID)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would write %d bytes to %s", len(snap.Image), snapshotOutput)
		return nil
	}
	if err := os.WriteFile(snapshotOutput, snap.Image, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	ui.Success("Wrote %s (%dx%d, %s)", snapshotOutput, snap.Width, snap.Height, snap.Source)
	return nil
}

func snapshotPurgeRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ttl := viper.GetDuration("snapshot.temp_ttl")
	if dryRun {
		ui.DryRunMsg("Would purge staged snapshots older than %s", ttl)
		return nil
	}
	return scheduler.PurgeJob(s, ttl, logger)(ctx)
}
