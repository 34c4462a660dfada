package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"labelsync/internal/domain"
	"labelsync/internal/table"
)

// LocalFiles asks for local files to be uploaded to object storage before
// the table is converted.
type LocalFiles struct {
	Column string `json:"column" yaml:"column"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// Job is one declarative upload: where the table comes from, how to reshape
// it and what to do with it on the platform.
type Job struct {
	Name       string               `json:"name" yaml:"name"`
	Schedule   string               `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Source     table.Spec           `json:"source" yaml:"source"`
	Rename     map[string]string    `json:"rename,omitempty" yaml:"rename,omitempty"`
	LocalFiles *LocalFiles          `json:"local_files,omitempty" yaml:"local_files,omitempty"`
	Request    domain.UploadRequest `json:"request" yaml:"request"`
}

// Validate checks the job without touching the source or the platform.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return domain.ErrValidation("job name is required")
	}
	if err := j.Source.Validate(); err != nil {
		return domain.ErrValidation("job %q: %s", j.Name, err.Error())
	}
	if j.LocalFiles != nil && j.LocalFiles.Column == "" {
		return domain.ErrValidation("job %q: local_files.column is required", j.Name)
	}
	if _, err := j.Request.WithDefaults(); err != nil {
		return domain.ErrValidation("job %q: %s", j.Name, err.Error())
	}
	return nil
}

// jobFile is the on-disk shape: either a single job or a "jobs" list.
type jobFile struct {
	Job  `yaml:",inline"`
	Jobs []Job `yaml:"jobs"`
}

// ParseJobs decodes one YAML document holding a job or a list of jobs.
// Unknown keys are rejected.
func ParseJobs(r io.Reader) ([]Job, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f jobFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode job file: %w", err)
	}
	jobs := f.Jobs
	if f.Job.Name != "" || f.Job.Source != (table.Spec{}) {
		jobs = append([]Job{f.Job}, jobs...)
	}
	return jobs, nil
}

// LoadJobs reads jobs from a YAML file, or from every *.yaml / *.yml file in
// a directory (in name order). Job names must be unique.
func LoadJobs(path string) ([]Job, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat jobs path: %w", err)
	}
	files := []string{path}
	if info.IsDir() {
		files = nil
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(path, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
		sort.Strings(files)
	}

	var all []Job
	seen := map[string]string{}
	for _, file := range files {
		data, err := os.ReadFile(file) //nolint:gosec // path is caller-controlled
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		jobs, err := ParseJobs(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		for i := range jobs {
			if err := jobs[i].Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if prev, ok := seen[jobs[i].Name]; ok {
				return nil, domain.ErrConflict("job %q defined in both %s and %s", jobs[i].Name, prev, file)
			}
			seen[jobs[i].Name] = file
		}
		all = append(all, jobs...)
	}
	return all, nil
}
