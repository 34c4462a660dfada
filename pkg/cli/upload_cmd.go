package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"labelsync/internal/app"
	"labelsync/internal/db"
	"labelsync/internal/domain"
)

// maxPrintedConversionErrors bounds the conversion errors listed in table output.
const maxPrintedConversionErrors = 10

// jobResult is one line of upload output.
type jobResult struct {
	Job              string               `json:"job"`
	RunID            string               `json:"run_id"`
	Status           domain.RunStatus     `json:"status"`
	PlannedRecords   int                  `json:"planned_records"`
	CreatedRecords   int                  `json:"created_records"`
	FailedTargets    int                  `json:"failed_targets"`
	ConversionErrors int                  `json:"conversion_errors"`
	DuplicateKeys    int                  `json:"duplicate_keys"`
	Result           *domain.UploadResult `json:"result"`
}

func newJobResult(job string, res *domain.UploadResult) jobResult {
	return jobResult{
		Job:              job,
		RunID:            res.RunID,
		Status:           res.Status(),
		PlannedRecords:   res.PlannedRecords,
		CreatedRecords:   res.Creation.Count(),
		FailedTargets:    res.FailedTargets(),
		ConversionErrors: len(res.ConversionErrors),
		DuplicateKeys:    res.DuplicateKeys,
		Result:           res,
	}
}

func newUploadCmd() *cobra.Command {
	var (
		flags    jobFlags
		noLedger bool
	)

	cmd := &cobra.Command{
		Use:   "upload [JOB_FILE]",
		Short: "Upload a table to the platform",
		Long: "Runs the jobs of a job file (or directory of job files), or an ad-hoc job described by flags.\n" +
			"Row and stage failures are reported per run; the command fails when any run fails outright.",
		Example: "  labelsync upload jobs/nightly.yaml\n" +
			"  labelsync upload --source rows.csv --dataset ds-1 --project p-1 --upload-method mal",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := flags.jobs(args)
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			deps := app.Deps{Cfg: cfg, Logger: logger}
			if !noLedger {
				ledger, err := db.OpenLedger(cfg.LedgerDBPath)
				if err != nil {
					return fmt.Errorf("open ledger: %w", err)
				}
				defer ledger.Close() //nolint:errcheck
				deps.Ledger = ledger
			}
			a, err := app.New(deps)
			if err != nil {
				return err
			}

			results := make([]jobResult, 0, len(jobs))
			failed := 0
			for _, j := range jobs {
				res, err := a.Runner.Run(cmd.Context(), j)
				if err != nil {
					return fmt.Errorf("job %q: %w", j.Name, err)
				}
				r := newJobResult(j.Name, res)
				if r.Status == domain.RunStatusFailed {
					failed++
				}
				results = append(results, r)
			}

			if err := printJobResults(cmd, results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d run(s) failed", failed, len(results))
			}
			return nil
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().BoolVar(&noLedger, "no-ledger", false, "Do not record runs in the ledger")
	return cmd
}

func printJobResults(cmd *cobra.Command, results []jobResult) error {
	if getOutputFormat(cmd) == "json" {
		return printJSON(os.Stdout, results)
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Job, r.RunID, string(r.Status),
			strconv.Itoa(r.PlannedRecords), strconv.Itoa(r.CreatedRecords),
			strconv.Itoa(r.FailedTargets), strconv.Itoa(r.ConversionErrors), strconv.Itoa(r.DuplicateKeys),
		})
	}
	if err := printTable(os.Stdout,
		[]string{"JOB", "RUN ID", "STATUS", "PLANNED", "CREATED", "FAILED TARGETS", "CONVERSION ERRORS", "DUPLICATES"},
		rows); err != nil {
		return err
	}
	for _, r := range results {
		printConversionErrors(r.Job, r.Result.ConversionErrors)
	}
	return nil
}

func printConversionErrors(job string, errs []domain.ConversionError) {
	if len(errs) == 0 {
		return
	}
	_, _ = fmt.Fprintf(os.Stdout, "\n%s: %d row(s) could not be converted:\n", job, len(errs))
	for i := range errs {
		if i == maxPrintedConversionErrors {
			_, _ = fmt.Fprintf(os.Stdout, "  ... and %d more\n", len(errs)-i)
			break
		}
		_, _ = fmt.Fprintf(os.Stdout, "  %s\n", errs[i].Error())
	}
}
