package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/internal/util"
	"github.com/teranos/shopreel/pipeline"
	"github.com/teranos/shopreel/sym"
)

// JobsCmd groups reel job inspection and maintenance.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Reel + " Inspect and manage reel jobs",
	Long: sym.Reel + ` jobs — Inspect and manage reel jobs

Examples:
  shopreel jobs ls                     # List recent jobs
  shopreel jobs ls --status failed     # Only failed jobs
  shopreel jobs ls --owner shop-1      # One owner's jobs
  shopreel jobs show REEL_A1B2C3       # Full record for one job
  shopreel jobs cleanup --days 30      # Delete terminal jobs older than 30 days`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List reel jobs, newest first",
	RunE:  runJobsLs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show the full record for one reel job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete completed and failed jobs past the retention window",
	RunE:  runJobsCleanup,
}

var (
	jobsStatusFlag  string
	jobsOwnerFlag   string
	jobsLimitFlag   int
	jobsCleanupDays int
)

func init() {
	jobsLsCmd.Flags().StringVar(&jobsStatusFlag, "status", "", "Filter by status (pending, completed, failed, ...)")
	jobsLsCmd.Flags().StringVar(&jobsOwnerFlag, "owner", "", "Filter by owner")
	jobsLsCmd.Flags().IntVar(&jobsLimitFlag, "limit", 20, "Maximum jobs to list")
	jobsCleanupCmd.Flags().IntVar(&jobsCleanupDays, "days", 30, "Delete terminal jobs older than this many days")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsCleanupCmd)
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()
	queue := pipeline.NewQueue(database)

	var statusFilter *pipeline.JobStatus
	if jobsStatusFlag != "" {
		if !pipeline.IsValidStatus(jobsStatusFlag) {
			return fmt.Errorf("unknown status %q", jobsStatusFlag)
		}
		status := pipeline.JobStatus(jobsStatusFlag)
		statusFilter = &status
	}

	var jobs []*pipeline.Job
	if jobsOwnerFlag != "" {
		jobs, err = queue.ListJobsByOwner(jobsOwnerFlag, jobsLimitFlag)
	} else {
		jobs, err = queue.ListJobs(statusFilter, jobsLimitFlag)
	}
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}

	if len(jobs) == 0 {
		fmt.Println("No reel jobs found")
		return nil
	}

	fmt.Printf("%-2s %-14s %-18s %-20s %-24s %s\n", "", "ID", "STATUS", "LISTING", "CREATED", "TITLE")
	for _, job := range jobs {
		title := util.Truncate(job.ProductTitle, 40)
		fmt.Printf("%-2s %-14s %-18s %-20s %-24s %s\n",
			sym.StatusGlyph(string(job.Status)),
			job.ID,
			job.Status,
			job.ListingID,
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			title)
	}
	fmt.Printf("\n%d job(s)\n", len(jobs))
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()
	queue := pipeline.NewQueue(database)

	job, err := queue.GetJob(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to get job %s", args[0])
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to render job")
	}
	fmt.Println(string(data))

	if job.Status == pipeline.JobStatusFailed && job.ErrorMessage != "" {
		fmt.Printf("\n%s %s\n", sym.StatusGlyph("failed"), strings.TrimSpace(job.ErrorMessage))
	}
	return nil
}

func runJobsCleanup(cmd *cobra.Command, args []string) error {
	if jobsCleanupDays <= 0 {
		return fmt.Errorf("--days must be positive, got %d", jobsCleanupDays)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()
	queue := pipeline.NewQueue(database)

	deleted, err := queue.CleanupOldJobs(time.Duration(jobsCleanupDays) * 24 * time.Hour)
	if err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Printf("%s Deleted %d terminal job(s) older than %d day(s)\n", sym.DB, deleted, jobsCleanupDays)
	return nil
}
