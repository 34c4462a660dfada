package cli

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"labelsync/internal/config"
)

type validatedJob struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Schedule string `json:"schedule,omitempty"`
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate JOB_FILE",
		Short: "Validate job files offline",
		Long:  "Reads a job file or directory of job files and checks jobs and cron schedules without contacting the platform.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := config.LoadJobs(args[0])
			if err != nil {
				return err
			}

			var problems []string
			out := make([]validatedJob, 0, len(jobs))
			for _, j := range jobs {
				if j.Schedule != "" {
					if _, err := cron.ParseStandard(j.Schedule); err != nil {
						problems = append(problems, fmt.Sprintf("job %q: invalid schedule %q: %v", j.Name, j.Schedule, err))
					}
				}
				src := j.Source.Path
				if src == "" {
					src = j.Source.ResolvedFormat() + " query"
				}
				out = append(out, validatedJob{Name: j.Name, Source: src, Schedule: j.Schedule})
			}

			if len(problems) > 0 {
				if getOutputFormat(cmd) == "json" {
					_ = printJSON(os.Stdout, map[string]any{"valid": false, "errors": problems})
				} else {
					fmt.Fprintf(os.Stderr, "Job files have %d error(s):\n", len(problems))
					for _, p := range problems {
						fmt.Fprintf(os.Stderr, "  - %s\n", p)
					}
				}
				return fmt.Errorf("%d invalid schedule(s)", len(problems))
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]any{"valid": true, "jobs": out})
			}
			_, _ = fmt.Fprintf(os.Stdout, "%d job(s) valid.\n", len(out))
			rows := make([][]string, 0, len(out))
			for _, j := range out {
				rows = append(rows, []string{j.Name, j.Source, j.Schedule})
			}
			return printTable(os.Stdout, []string{"JOB", "SOURCE", "SCHEDULE"}, rows)
		},
	}
}
