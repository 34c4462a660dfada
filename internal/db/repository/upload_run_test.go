package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "labelsync/internal/db"
	"labelsync/internal/domain"
)

func setupUploadRunRepo(t *testing.T) *UploadRunRepo {
	t.Helper()
	l := internaldb.OpenTestLedger(t)
	return NewUploadRunRepo(l.Write, l.Read)
}

func sampleRun(id, job string, status domain.RunStatus, started time.Time) *domain.UploadRun {
	return &domain.UploadRun{
		ID:      id,
		JobName: job,
		Status:  status,
		Request: domain.UploadRequest{
			Targets:      domain.Targets{DatasetID: "ds-1", ProjectID: "p-1"},
			UploadMethod: "mal",
			Priority:     5,
		},
		RowCount:       3,
		PlannedRecords: 3,
		CreatedRecords: 3,
		Result: &domain.UploadResult{
			RunID:          id,
			PlannedRecords: 3,
			Creation:       &domain.StageReport{Targets: []domain.TargetResult{{Target: "ds-1", Count: 3}}},
		},
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}
}

func TestUploadRun_CreateAndGet(t *testing.T) {
	repo := setupUploadRunRepo(t)
	ctx := context.Background()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, sampleRun("run-1", "nightly", domain.RunStatusSuccess, started)))

	got, err := repo.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.JobName)
	assert.Equal(t, domain.RunStatusSuccess, got.Status)
	assert.Equal(t, "ds-1", got.Request.DatasetID)
	assert.Equal(t, "mal", got.Request.UploadMethod)
	assert.Equal(t, 3, got.CreatedRecords)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, 2*time.Second, got.FinishedAt.Sub(got.StartedAt))
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.Creation.Count())
	assert.Nil(t, got.Result.Batches)
}

func TestUploadRun_GetNotFound(t *testing.T) {
	repo := setupUploadRunRepo(t)
	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*domain.NotFoundError))
}

func TestUploadRun_DuplicateID(t *testing.T) {
	repo := setupUploadRunRepo(t)
	ctx := context.Background()
	run := sampleRun("run-1", "", domain.RunStatusSuccess, time.Now())
	require.NoError(t, repo.Create(ctx, run))

	err := repo.Create(ctx, run)
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*domain.ConflictError))
}

func TestUploadRun_CreateAssignsID(t *testing.T) {
	repo := setupUploadRunRepo(t)
	run := sampleRun("", "", domain.RunStatusSuccess, time.Now())
	require.NoError(t, repo.Create(context.Background(), run))
	assert.NotEmpty(t, run.ID)
}

func TestUploadRun_List(t *testing.T) {
	repo := setupUploadRunRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, sampleRun("a", "nightly", domain.RunStatusSuccess, base)))
	require.NoError(t, repo.Create(ctx, sampleRun("b", "nightly", domain.RunStatusPartial, base.Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, sampleRun("c", "adhoc", domain.RunStatusSuccess, base.Add(2*time.Hour))))

	t.Run("all_newest_first", func(t *testing.T) {
		page, err := repo.List(ctx, domain.UploadRunFilter{})
		require.NoError(t, err)
		assert.EqualValues(t, 3, page.Total)
		assert.Equal(t, []string{"c", "b", "a"}, runIDs(page.Runs))
		assert.Empty(t, page.NextPageToken)
	})

	t.Run("by_job", func(t *testing.T) {
		job := "nightly"
		page, err := repo.List(ctx, domain.UploadRunFilter{JobName: &job})
		require.NoError(t, err)
		assert.EqualValues(t, 2, page.Total)
		assert.Len(t, page.Runs, 2)
	})

	t.Run("by_job_and_status", func(t *testing.T) {
		job := "nightly"
		status := domain.RunStatusPartial
		page, err := repo.List(ctx, domain.UploadRunFilter{JobName: &job, Status: &status})
		require.NoError(t, err)
		assert.EqualValues(t, 1, page.Total)
		assert.Equal(t, []string{"b"}, runIDs(page.Runs))
	})

	t.Run("paginated", func(t *testing.T) {
		page, err := repo.List(ctx, domain.UploadRunFilter{Page: domain.PageRequest{MaxResults: 2}})
		require.NoError(t, err)
		assert.EqualValues(t, 3, page.Total)
		assert.Equal(t, []string{"c", "b"}, runIDs(page.Runs))
		require.NotEmpty(t, page.NextPageToken)

		next, err := repo.List(ctx, domain.UploadRunFilter{Page: domain.PageRequest{MaxResults: 2, PageToken: page.NextPageToken}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, runIDs(next.Runs))
		assert.Empty(t, next.NextPageToken)
	})

	t.Run("new_runs_do_not_shift_pages", func(t *testing.T) {
		repo := setupUploadRunRepo(t)
		for i, id := range []string{"a", "b", "c", "d"} {
			require.NoError(t, repo.Create(ctx, sampleRun(id, "", domain.RunStatusSuccess, base.Add(time.Duration(i)*time.Hour))))
		}
		first, err := repo.List(ctx, domain.UploadRunFilter{Page: domain.PageRequest{MaxResults: 2}})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c"}, runIDs(first.Runs))

		require.NoError(t, repo.Create(ctx, sampleRun("e", "", domain.RunStatusSuccess, base.Add(10*time.Hour))))

		second, err := repo.List(ctx, domain.UploadRunFilter{Page: domain.PageRequest{MaxResults: 2, PageToken: first.NextPageToken}})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, runIDs(second.Runs))
		assert.EqualValues(t, 5, second.Total)
	})

	t.Run("same_start_time_ordered_by_id", func(t *testing.T) {
		repo := setupUploadRunRepo(t)
		for _, id := range []string{"x1", "x2", "x3"} {
			require.NoError(t, repo.Create(ctx, sampleRun(id, "", domain.RunStatusSuccess, base)))
		}
		first, err := repo.List(ctx, domain.UploadRunFilter{Page: domain.PageRequest{MaxResults: 2}})
		require.NoError(t, err)
		assert.Equal(t, []string{"x3", "x2"}, runIDs(first.Runs))

		second, err := repo.List(ctx, domain.UploadRunFilter{Page: domain.PageRequest{MaxResults: 2, PageToken: first.NextPageToken}})
		require.NoError(t, err)
		assert.Equal(t, []string{"x1"}, runIDs(second.Runs))
	})

	t.Run("invalid_token", func(t *testing.T) {
		_, err := repo.List(ctx, domain.UploadRunFilter{Page: domain.PageRequest{PageToken: "not-a-token"}})
		require.Error(t, err)
		assert.ErrorAs(t, err, new(*domain.ValidationError))
	})
}

func runIDs(runs []domain.UploadRun) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestUploadRun_ListErrors(t *testing.T) {
	repo := setupUploadRunRepo(t)
	ctx := context.Background()

	run := sampleRun("run-1", "", domain.RunStatusPartial, time.Now())
	run.Result.ConversionErrors = []domain.ConversionError{
		{Row: 2, GlobalKey: "k2", Reason: domain.ReasonMetadata, Message: "bad number"},
	}
	run.Result.UnresolvedKeys = []string{"k3"}
	run.Result.Batches = &domain.StageReport{Targets: []domain.TargetResult{
		{Target: "p-1", Error: "quota exceeded"},
		{Target: "p-2", Count: 1, Failures: []domain.RecordFailure{{GlobalKey: "k4", Message: "rejected"}}},
	}}
	require.NoError(t, repo.Create(ctx, run))

	errs, err := repo.ListErrors(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.RunError{
		{Stage: "convert", GlobalKey: "k2", Reason: "metadata", Message: "bad number"},
		{Stage: domain.StageResolveIDs, GlobalKey: "k3", Message: "global key did not resolve to a record"},
		{Stage: domain.StageBatch, Target: "p-1", Message: "quota exceeded"},
		{Stage: domain.StageBatch, Target: "p-2", GlobalKey: "k4", Message: "rejected"},
	}, errs)

	none, err := repo.ListErrors(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
