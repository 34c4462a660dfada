package cli

import (
	"fmt"

	"github.com/spf13/pflag"

	"labelsync/internal/config"
	"labelsync/internal/domain"
)

// jobFlags describes an ad-hoc job on the command line, or selects jobs from
// a job file.
type jobFlags struct {
	name        string
	job         config.Job
	localFiles  string
	localPrefix string
}

func (f *jobFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.name, "job", "", "Job name: selects one job from the file, or names the ad-hoc job")
	fs.StringVar(&f.job.Source.Path, "source", "", "Source table file (csv, tsv, xlsx, parquet, json)")
	fs.StringVar(&f.job.Source.Format, "format", "", "Source format; inferred from the file extension when empty")
	fs.StringVar(&f.job.Source.Sheet, "sheet", "", "Excel sheet name")
	fs.StringVar(&f.job.Source.Query, "query", "", "SQL query for duckdb and postgres sources")
	fs.StringVar(&f.job.Source.DSN, "dsn", "", "Postgres connection string (default DATABASE_URL)")
	fs.StringToStringVar(&f.job.Rename, "rename", nil, "Column renames as old=new")
	fs.StringVar(&f.localFiles, "local-files", "", "Column of local file paths to upload to object storage first")
	fs.StringVar(&f.localPrefix, "local-prefix", "", "Object key prefix for uploaded local files")

	req := &f.job.Request
	fs.StringVar(&req.DatasetID, "dataset", "", "Default dataset id")
	fs.StringVar(&req.ProjectID, "project", "", "Default project id")
	fs.StringVar(&req.ModelID, "model", "", "Default model id")
	fs.StringVar(&req.ModelRunID, "model-run", "", "Default model run id")
	fs.StringVar(&req.UploadMethod, "upload-method", "", "Upload method: empty, mal, import or ground-truth")
	fs.BoolVar(&req.SkipDuplicates, "skip-duplicates", false, "Skip records whose global key already exists")
	fs.IntVar(&req.Priority, "priority", 0, "Batch priority, 1 (highest) to 5")
	fs.StringVar(&req.Divider, "divider", "", "Separator for nested column names")
	fs.IntVar(&req.Workers, "workers", 0, "Row conversion workers")
}

func (f *jobFlags) adHoc() bool {
	return f.job.Source.Path != "" || f.job.Source.Query != ""
}

// jobs resolves the jobs to run: every job of the file in args (or the one
// named by --job), or the ad-hoc job built from flags.
func (f *jobFlags) jobs(args []string) ([]config.Job, error) {
	if len(args) > 0 {
		if f.adHoc() {
			return nil, domain.ErrValidation("pass either a job file or --source/--query, not both")
		}
		jobs, err := config.LoadJobs(args[0])
		if err != nil {
			return nil, err
		}
		if f.name == "" {
			if len(jobs) == 0 {
				return nil, domain.ErrValidation("%s defines no jobs", args[0])
			}
			return jobs, nil
		}
		for _, j := range jobs {
			if j.Name == f.name {
				return []config.Job{j}, nil
			}
		}
		return nil, domain.ErrNotFound("job %q not found in %s", f.name, args[0])
	}

	if !f.adHoc() {
		return nil, domain.ErrValidation("a job file or --source/--query is required")
	}
	j := f.job
	j.Name = f.name
	if j.Name == "" {
		j.Name = "adhoc"
	}
	if f.localFiles != "" {
		j.LocalFiles = &config.LocalFiles{Column: f.localFiles, Prefix: f.localPrefix}
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("ad-hoc job: %w", err)
	}
	return []config.Job{j}, nil
}
