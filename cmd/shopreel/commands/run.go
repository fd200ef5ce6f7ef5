package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/shopreel/am"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/logger"
	"github.com/teranos/shopreel/pipeline"
	"github.com/teranos/shopreel/sym"
)

// RunCmd runs a single reel job in the foreground, without the daemon.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: sym.Reel + " Run a single reel job in the foreground",
	Long: sym.Reel + ` Run one reel job from trigger to terminal status.

Creates the job record, drives it through every pipeline stage, and
prints the resulting video URL. Useful for smoke-testing configuration
and for one-off reels without the daemon. No budget enforcement is
applied; the daemon is the place for sustained workloads.

Example:
  shopreel run --owner shop-1 --listing listing-42 \
    --title "Ceramic Mug" --image https://example.com/mug.jpg`,
	RunE: runOneShot,
}

var (
	runOwner       string
	runListing     string
	runTitle       string
	runDescription string
	runTags        []string
	runImageURL    string
	runDBPath      string
)

func init() {
	RunCmd.Flags().StringVar(&runOwner, "owner", "", "Shop owner identifier (required)")
	RunCmd.Flags().StringVar(&runListing, "listing", "", "Listing identifier (required)")
	RunCmd.Flags().StringVar(&runTitle, "title", "", "Product title (required)")
	RunCmd.Flags().StringVar(&runDescription, "description", "", "Product description")
	RunCmd.Flags().StringSliceVar(&runTags, "tags", nil, "Product tags (comma separated)")
	RunCmd.Flags().StringVar(&runImageURL, "image", "", "Source image URL (required)")
	RunCmd.Flags().StringVar(&runDBPath, "db-path", "", "Custom database path (overrides config)")
	RunCmd.MarkFlagRequired("owner")
	RunCmd.MarkFlagRequired("listing")
	RunCmd.MarkFlagRequired("title")
	RunCmd.MarkFlagRequired("image")
}

func runOneShot(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}

	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase(runDBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	// Ctrl+C cancels the run; the job record keeps whatever stage it
	// reached and the daemon's orphan recovery can fail it later.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collab, err := buildCollaborators(ctx, cfg, database, verbosity)
	if err != nil {
		return err
	}

	queue := pipeline.NewQueue(database)
	orchestrator := pipeline.NewOrchestrator(queue, collab, orchestratorConfigFromAm(cfg), logger.Logger)

	job, err := queue.Enqueue(pipeline.JobRequest{
		Owner:              runOwner,
		ListingID:          runListing,
		ProductTitle:       runTitle,
		ProductDescription: runDescription,
		ProductTags:        runTags,
		SourceImageURL:     runImageURL,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create reel job")
	}

	pterm.Info.Printf("%s Reel job %s created, running...\n", sym.Reel, job.ID)

	videoURL, err := orchestrator.Run(ctx, job.ID)
	if err != nil {
		final, getErr := queue.GetJob(job.ID)
		if getErr == nil {
			pterm.Error.Printf("%s Job %s %s: %s\n",
				sym.StatusGlyph(string(final.Status)), job.ID, final.Status, final.ErrorMessage)
		}
		return errors.Wrap(err, "reel job failed")
	}

	final, err := queue.GetJob(job.ID)
	if err != nil {
		return errors.Wrap(err, "job finished but could not be re-read")
	}

	pterm.Success.Printf("%s Reel ready\n", sym.StatusGlyph(string(final.Status)))
	fmt.Printf("  Video:     %s\n", videoURL)
	if final.ThumbnailURL != "" {
		fmt.Printf("  Thumbnail: %s\n", final.ThumbnailURL)
	}
	if final.ProcessedImageURL != "" {
		fmt.Printf("  Image:     %s\n", final.ProcessedImageURL)
	}
	if final.RetryCount > 0 {
		fmt.Printf("  Script rewrites after policy rejections: %d\n", final.RetryCount)
	}
	return nil
}
