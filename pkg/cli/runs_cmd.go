package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"labelsync/internal/db"
	"labelsync/internal/db/repository"
	"labelsync/internal/domain"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the upload run ledger",
	}
	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsGetCmd())
	cmd.AddCommand(newRunsErrorsCmd())
	return cmd
}

// withRunRepo opens the ledger named by the resolved config for one command.
func withRunRepo(fn func(repo *repository.UploadRunRepo) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := db.OpenLedger(cfg.LedgerDBPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close() //nolint:errcheck
	return fn(repository.NewUploadRunRepo(ledger.Write, ledger.Read))
}

func newRunsListCmd() *cobra.Command {
	var (
		jobName    string
		status     string
		maxResults int
		pageToken  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upload runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.UploadRunFilter{Page: domain.PageRequest{MaxResults: maxResults, PageToken: pageToken}}
			if jobName != "" {
				filter.JobName = &jobName
			}
			if status != "" {
				st := domain.RunStatus(status)
				switch st {
				case domain.RunStatusSuccess, domain.RunStatusPartial, domain.RunStatusFailed:
					filter.Status = &st
				default:
					return domain.ErrValidation("invalid status %q: use success, partial or failed", status)
				}
			}

			return withRunRepo(func(repo *repository.UploadRunRepo) error {
				page, err := repo.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				runs, next := page.Runs, page.NextPageToken
				if getOutputFormat(cmd) == "json" {
					for i := range runs {
						runs[i].Result = nil
					}
					return printJSON(os.Stdout, map[string]any{
						"runs": runs, "total": page.Total, "next_page_token": next,
					})
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.ID, r.JobName, string(r.Status),
						strconv.Itoa(r.PlannedRecords), strconv.Itoa(r.CreatedRecords), strconv.Itoa(r.FailedTargets),
						r.StartedAt.Local().Format(time.DateTime),
					})
				}
				if err := printTable(os.Stdout,
					[]string{"RUN ID", "JOB", "STATUS", "PLANNED", "CREATED", "FAILED TARGETS", "STARTED"}, rows); err != nil {
					return err
				}
				if next != "" {
					_, _ = fmt.Fprintf(os.Stdout, "\nMore runs: --page-token %s\n", next)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&jobName, "job", "", "Only runs of this job")
	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status (success, partial, failed)")
	cmd.Flags().IntVar(&maxResults, "max-results", 20, "Page size")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Page token from a previous listing")
	return cmd
}

func newRunsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get RUN_ID",
		Short: "Show one upload run with its full result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunRepo(func(repo *repository.UploadRunRepo) error {
				run, err := repo.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					return printJSON(os.Stdout, run)
				}
				rows := [][]string{
					{"id", run.ID},
					{"job", run.JobName},
					{"status", string(run.Status)},
					{"rows", strconv.Itoa(run.RowCount)},
					{"planned records", strconv.Itoa(run.PlannedRecords)},
					{"created records", strconv.Itoa(run.CreatedRecords)},
					{"duplicate keys", strconv.Itoa(run.DuplicateKeys)},
					{"conversion errors", strconv.Itoa(run.ConversionErrors)},
					{"failed targets", strconv.Itoa(run.FailedTargets)},
					{"started", run.StartedAt.Local().Format(time.DateTime)},
					{"duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()},
				}
				return printTable(os.Stdout, []string{"FIELD", "VALUE"}, rows)
			})
		},
	}
}

func newRunsErrorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors RUN_ID",
		Short: "List the recorded failures of an upload run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunRepo(func(repo *repository.UploadRunRepo) error {
				if _, err := repo.GetByID(cmd.Context(), args[0]); err != nil {
					return err
				}
				errs, err := repo.ListErrors(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					if errs == nil {
						errs = []domain.RunError{}
					}
					return printJSON(os.Stdout, errs)
				}
				rows := make([][]string, 0, len(errs))
				for _, e := range errs {
					rows = append(rows, []string{e.Stage, e.Target, e.GlobalKey, e.Reason, e.Message})
				}
				return printTable(os.Stdout, []string{"STAGE", "TARGET", "GLOBAL KEY", "REASON", "MESSAGE"}, rows)
			})
		},
	}
}
