package cli

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"labelsync/internal/app"
	"labelsync/internal/service/upload"
)

type jobPlan struct {
	Job  string             `json:"job"`
	Plan *upload.PlanReport `json:"plan"`
}

func newPlanCmd() *cobra.Command {
	var flags jobFlags

	cmd := &cobra.Command{
		Use:   "plan [JOB_FILE]",
		Short: "Show what an upload would do without changing the platform",
		Long: "Loads the table, resolves column roles and actions and converts every row. " +
			"Ontologies and the metadata schema are read from the platform; nothing is created.",
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
			a, err := app.New(app.Deps{Cfg: cfg, Logger: logger})
			if err != nil {
				return err
			}

			plans := make([]jobPlan, 0, len(jobs))
			for _, j := range jobs {
				p, err := a.Runner.Plan(cmd.Context(), j)
				if err != nil {
					return fmt.Errorf("job %q: %w", j.Name, err)
				}
				plans = append(plans, jobPlan{Job: j.Name, Plan: p})
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, plans)
			}
			for _, p := range plans {
				printPlan(p)
			}
			return nil
		},
	}

	flags.register(cmd.Flags())
	return cmd
}

func printPlan(p jobPlan) {
	r := p.Plan
	_, _ = fmt.Fprintf(os.Stdout, "Job %s: %d record(s), %d duplicate key(s), %d conversion error(s)\n",
		p.Job, r.PlannedRecords, r.DuplicateKeys, len(r.ConversionErrors))
	_, _ = fmt.Fprintf(os.Stdout, "  actions: %s\n", describeActions(r))

	datasets := make([]string, 0, len(r.Datasets))
	for id := range r.Datasets {
		datasets = append(datasets, id)
	}
	sort.Strings(datasets)
	for _, id := range datasets {
		_, _ = fmt.Fprintf(os.Stdout, "  dataset %s: %d record(s)\n", id, r.Datasets[id])
	}
	if len(r.PendingModels) > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "  model runs to create for: %s\n", strings.Join(r.PendingModels, ", "))
	}
	if len(r.PendingMetadata) > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "  metadata to create: %s\n", strings.Join(r.PendingMetadata, ", "))
	}
	if len(r.MetadataFields) > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "  metadata: %s\n", strings.Join(r.MetadataFields, ", "))
	}
	printConversionErrors(p.Job, r.ConversionErrors)
}

func describeActions(r *upload.PlanReport) string {
	var parts []string
	if r.Actions.Create {
		parts = append(parts, "create")
	}
	if r.Actions.Batch {
		parts = append(parts, "batch")
	}
	if r.Actions.Annotating() {
		parts = append(parts, "annotate("+strconv.Quote(string(r.Actions.Annotate))+")")
	}
	if r.Actions.Predict {
		parts = append(parts, "predict")
	}
	return strings.Join(parts, ", ")
}
