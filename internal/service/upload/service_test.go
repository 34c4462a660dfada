package upload

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelsync/internal/domain"
	"labelsync/internal/testutil"
)

// newTestService creates a Service with the given mocks and a discard logger.
func newTestService(platform *testutil.MockPlatform, runs *testutil.MockUploadRunRepo) *Service {
	logger := slog.New(slog.DiscardHandler)
	var repo domain.UploadRunRepository
	if runs != nil {
		repo = runs
	}
	return NewService(platform, &testutil.MockMetadataProcessor{}, &testutil.MockEncoder{}, repo, nil, logger)
}

func threeRowTable(extra ...string) *domain.Table {
	cols := append([]string{"row_data", "global_key"}, extra...)
	t := &domain.Table{Columns: cols}
	for _, k := range []string{"a", "b", "c"} {
		row := domain.Row{"row_data": "s3://bucket/" + k + ".jpg", "global_key": k}
		for _, c := range extra {
			row[c] = "red"
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func stageKeys(t *testing.T, result *domain.UploadResult) []string {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	var keys []string
	for _, k := range []string{"creation_results", "batch_results", "annotation_results", "ground_truth_results", "prediction_results"} {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestService_UploadTable_Scenarios(t *testing.T) {
	t.Run("create_only", func(t *testing.T) {
		platform := &testutil.MockPlatform{}
		svc := newTestService(platform, nil)

		result, err := svc.UploadTable(context.Background(), threeRowTable(),
			domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"creation_results"}, stageKeys(t, result))
		assert.Equal(t, 3, result.Creation.Count())
		assert.Equal(t, domain.RunStatusSuccess, result.Status())
		assert.NotEmpty(t, result.RunID)
		assert.Zero(t, platform.CallCount("ResolveIDs"))
	})

	t.Run("create_and_batch_without_method", func(t *testing.T) {
		platform := &testutil.MockPlatform{}
		svc := newTestService(platform, nil)

		result, err := svc.UploadTable(context.Background(), threeRowTable("annotation///color"),
			domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds", ProjectID: "p"}, Priority: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"creation_results", "batch_results"}, stageKeys(t, result))
		assert.Equal(t, 3, result.Batches.Count())
		assert.Zero(t, platform.CallCount("UploadLabels"))
		assert.Zero(t, platform.CallCount("ProjectOntology"))
	})

	t.Run("ground_truth_and_predictions", func(t *testing.T) {
		var mu sync.Mutex
		var labelPayloads []domain.Payload
		var labelMode domain.AnnotateMode
		platform := &testutil.MockPlatform{
			UploadLabelsFn: func(_ context.Context, _ string, payloads []domain.Payload, mode domain.AnnotateMode) (*domain.ImportResult, error) {
				mu.Lock()
				defer mu.Unlock()
				labelPayloads, labelMode = payloads, mode
				return &domain.ImportResult{Accepted: len(payloads)}, nil
			},
		}
		svc := newTestService(platform, nil)

		result, err := svc.UploadTable(context.Background(), threeRowTable("annotation///color", "prediction///color"),
			domain.UploadRequest{
				Targets:      domain.Targets{DatasetID: "ds", ProjectID: "p", ModelID: "m"},
				UploadMethod: "ground-truth",
			})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"creation_results", "batch_results", "annotation_results", "ground_truth_results", "prediction_results",
		}, stageKeys(t, result))
		assert.Equal(t, domain.RunStatusSuccess, result.Status())

		assert.Equal(t, []string{
			"MetadataSchema",
			"ProjectOntology:p",
			"CreateModelRun:m",
			"ModelRunOntology:run-m",
			"CreateRecords:ds",
			"ResolveIDs",
			"CreateBatch:p",
			"UploadLabels:p",
			"PromoteGroundTruth:run-m/p",
			"UploadPredictions:run-m",
		}, platform.Calls())

		assert.Equal(t, domain.AnnotateSubmit, labelMode)
		require.Len(t, labelPayloads, 3)
		assert.Equal(t, map[string]any{"id": "id-a"}, labelPayloads[0][domain.PayloadRecordKey])
		assert.Equal(t, "run-m/p", result.GroundTruth.Targets[0].Target)
		assert.Equal(t, 3, result.Predictions.Count())
	})
}

func TestService_UploadTable_PredictAttachesUnpromotedRecords(t *testing.T) {
	var attached []string
	platform := &testutil.MockPlatform{
		AttachRecordsFn: func(_ context.Context, _ string, ids []string) error {
			attached = ids
			return nil
		},
	}
	table := &domain.Table{
		Columns: []string{"row_data", "annotation///color", "prediction///color"},
		Rows: []domain.Row{
			{"row_data": "a", "annotation///color": "red", "prediction///color": "red"},
			{"row_data": "b", "annotation///color": "", "prediction///color": "blue"},
		},
	}
	svc := newTestService(platform, nil)

	result, err := svc.UploadTable(context.Background(), table, domain.UploadRequest{
		Targets:      domain.Targets{DatasetID: "ds", ProjectID: "p", ModelRunID: "run-1"},
		UploadMethod: "ground-truth",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.GroundTruth.Count())
	assert.Equal(t, []string{"id-b"}, attached)
	assert.Zero(t, platform.CallCount("CreateModelRun"))
}

func TestService_UploadTable_KeyRepeatedAcrossDatasets(t *testing.T) {
	var mu sync.Mutex
	created := map[string][]string{}
	var batched []string
	platform := &testutil.MockPlatform{}
	platform.CreateRecordsFn = func(_ context.Context, datasetID string, records []domain.RecordBody, _ bool) (*domain.CreateResult, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range records {
			created[datasetID] = append(created[datasetID], r.GlobalKey)
		}
		return &domain.CreateResult{Created: len(records)}, nil
	}
	platform.ResolveIDsFn = func(_ context.Context, keys []string) (map[string]string, error) {
		out := map[string]string{}
		for _, k := range keys {
			out[k] = "id-" + k
		}
		return out, nil
	}
	platform.CreateBatchFn = func(_ context.Context, _ string, ids []string, _ int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		batched = append(batched, ids...)
		return "batch-1", nil
	}
	svc := newTestService(platform, nil)

	table := &domain.Table{
		Columns: []string{"row_data", "global_key", "dataset_id"},
		Rows: []domain.Row{
			{"row_data": "s3://one", "global_key": "A", "dataset_id": "ds1"},
			{"row_data": "s3://two", "global_key": "A", "dataset_id": "ds2"},
		},
	}
	result, err := svc.UploadTable(context.Background(), table, domain.UploadRequest{Targets: domain.Targets{ProjectID: "p"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.DuplicateKeys)
	assert.Equal(t, 1, result.PlannedRecords)
	assert.Equal(t, 1, result.Creation.Count())
	assert.Equal(t, map[string][]string{"ds2": {"A"}}, created)
	assert.Equal(t, []string{"id-A"}, batched)
}

func TestService_UploadTable_Failures(t *testing.T) {
	t.Run("batch_failure_isolated_per_project", func(t *testing.T) {
		platform := &testutil.MockPlatform{
			CreateBatchFn: func(_ context.Context, projectID string, _ []string, _ int) (string, error) {
				if projectID == "p1" {
					return "", errors.New("project archived")
				}
				return "batch", nil
			},
		}
		table := &domain.Table{
			Columns: []string{"row_data", "project_id", "annotation///color"},
			Rows: []domain.Row{
				{"row_data": "a", "project_id": "p1", "annotation///color": "red"},
				{"row_data": "b", "project_id": "p2", "annotation///color": "red"},
			},
		}
		svc := newTestService(platform, nil)

		result, err := svc.UploadTable(context.Background(), table, domain.UploadRequest{
			Targets: domain.Targets{DatasetID: "ds"}, UploadMethod: "mal",
		})
		require.NoError(t, err)
		require.Len(t, result.Batches.Targets, 2)
		assert.True(t, result.Batches.Targets[0].Failed())
		assert.False(t, result.Batches.Targets[1].Failed())

		require.Len(t, result.Annotations.Targets, 2)
		assert.Contains(t, result.Annotations.Targets[0].Error, "batch creation failed")
		assert.Equal(t, 1, result.Annotations.Targets[1].Count)
		assert.Equal(t, 1, platform.CallCount("UploadLabels"))
		assert.Equal(t, domain.RunStatusPartial, result.Status())
	})

	t.Run("resolve_failure_halts_later_stages", func(t *testing.T) {
		platform := &testutil.MockPlatform{
			ResolveIDsFn: func(context.Context, []string) (map[string]string, error) {
				return nil, errors.New("timeout")
			},
		}
		svc := newTestService(platform, nil)

		result, err := svc.UploadTable(context.Background(), threeRowTable(),
			domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds", ProjectID: "p"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"creation_results"}, stageKeys(t, result))
		assert.Equal(t, "timeout", result.ResolveError)
		assert.Equal(t, []string{"a", "b", "c"}, result.UnresolvedKeys)
		assert.Zero(t, platform.CallCount("CreateBatch"))
		assert.Equal(t, domain.RunStatusPartial, result.Status())
	})

	t.Run("unresolved_keys_dropped", func(t *testing.T) {
		var batched []string
		platform := &testutil.MockPlatform{
			ResolveIDsFn: func(context.Context, []string) (map[string]string, error) {
				return map[string]string{"a": "id-a", "c": "id-c"}, nil
			},
			CreateBatchFn: func(_ context.Context, _ string, ids []string, _ int) (string, error) {
				batched = ids
				return "batch", nil
			},
		}
		svc := newTestService(platform, nil)

		result, err := svc.UploadTable(context.Background(), threeRowTable(),
			domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds", ProjectID: "p"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, result.UnresolvedKeys)
		assert.Equal(t, []string{"id-a", "id-c"}, batched)
	})

	t.Run("creation_failure_everywhere", func(t *testing.T) {
		platform := &testutil.MockPlatform{
			CreateRecordsFn: func(context.Context, string, []domain.RecordBody, bool) (*domain.CreateResult, error) {
				return nil, errors.New("dataset not found")
			},
		}
		svc := newTestService(platform, nil)

		result, err := svc.UploadTable(context.Background(), threeRowTable(),
			domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds", ProjectID: "p"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"creation_results"}, stageKeys(t, result))
		assert.Zero(t, platform.CallCount("ResolveIDs"))
		assert.Equal(t, domain.RunStatusFailed, result.Status())
	})

	t.Run("ground_truth_without_model_run", func(t *testing.T) {
		platform := &testutil.MockPlatform{}
		svc := newTestService(platform, nil)

		result, err := svc.UploadTable(context.Background(), threeRowTable("annotation///color"),
			domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds", ProjectID: "p"}, UploadMethod: "ground-truth"})
		require.NoError(t, err)
		require.Len(t, result.GroundTruth.Targets, 1)
		assert.Equal(t, "-/p", result.GroundTruth.Targets[0].Target)
		assert.Contains(t, result.GroundTruth.Targets[0].Error, "no model run")
		assert.Zero(t, platform.CallCount("PromoteGroundTruth"))
	})
}

func TestService_UploadTable_Validation(t *testing.T) {
	tests := []struct {
		name    string
		table   *domain.Table
		req     domain.UploadRequest
		errType any
	}{
		{
			name:    "no_dataset",
			table:   threeRowTable(),
			req:     domain.UploadRequest{Targets: domain.Targets{ProjectID: "p"}},
			errType: new(*domain.ConfigError),
		},
		{
			name:    "empty_table",
			table:   &domain.Table{Columns: []string{"row_data"}},
			req:     domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds"}},
			errType: new(*domain.ValidationError),
		},
		{
			name:    "missing_row_data",
			table:   &domain.Table{Columns: []string{"url"}, Rows: []domain.Row{{"url": "x"}}},
			req:     domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds"}},
			errType: new(*domain.ConfigError),
		},
		{
			name:    "bad_priority",
			table:   threeRowTable(),
			req:     domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds"}, Priority: 9},
			errType: new(*domain.ValidationError),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			platform := &testutil.MockPlatform{}
			svc := newTestService(platform, nil)
			_, err := svc.UploadTable(context.Background(), tc.table, tc.req)
			require.Error(t, err)
			assert.ErrorAs(t, err, tc.errType)
			assert.Empty(t, platform.Calls(), "no platform call before validation passes")
		})
	}
}

func TestService_UploadTable_Ledger(t *testing.T) {
	t.Run("records_run", func(t *testing.T) {
		runs := &testutil.MockUploadRunRepo{}
		svc := newTestService(&testutil.MockPlatform{}, runs)

		result, err := svc.UploadTable(context.Background(), threeRowTable(),
			domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds"}}, WithJobName("nightly"))
		require.NoError(t, err)

		run := runs.LastRun()
		require.NotNil(t, run)
		assert.Equal(t, result.RunID, run.ID)
		assert.Equal(t, "nightly", run.JobName)
		assert.Equal(t, domain.RunStatusSuccess, run.Status)
		assert.Equal(t, 3, run.RowCount)
		assert.Equal(t, 3, run.CreatedRecords)
		assert.Equal(t, domain.DefaultDivider, run.Request.Divider)
	})

	t.Run("ledger_failure_does_not_fail_upload", func(t *testing.T) {
		runs := &testutil.MockUploadRunRepo{
			CreateFn: func(context.Context, *domain.UploadRun) error { return errors.New("disk full") },
		}
		svc := newTestService(&testutil.MockPlatform{}, runs)

		_, err := svc.UploadTable(context.Background(), threeRowTable(),
			domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds"}})
		require.NoError(t, err)
		assert.Nil(t, runs.LastRun())
	})

	t.Run("all_rows_fail_conversion", func(t *testing.T) {
		runs := &testutil.MockUploadRunRepo{}
		platform := &testutil.MockPlatform{}
		svc := newTestService(platform, runs)
		table := &domain.Table{Columns: []string{"row_data"}, Rows: []domain.Row{{"row_data": ""}}}

		result, err := svc.UploadTable(context.Background(), table,
			domain.UploadRequest{Targets: domain.Targets{DatasetID: "ds"}})
		require.NoError(t, err)
		assert.Nil(t, result.Creation)
		assert.Len(t, result.ConversionErrors, 1)
		assert.Equal(t, domain.RunStatusFailed, runs.LastRun().Status)
		assert.Zero(t, platform.CallCount("CreateRecords"))
	})
}

func TestService_Plan(t *testing.T) {
	platform := &testutil.MockPlatform{}
	svc := newTestService(platform, nil)
	table := threeRowTable("prediction///color")

	report, err := svc.Plan(context.Background(), table, domain.UploadRequest{
		Targets: domain.Targets{DatasetID: "ds", ModelID: "m"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ds": 3}, report.Datasets)
	assert.Equal(t, 3, report.PlannedRecords)
	assert.True(t, report.Actions.Predict)
	assert.Equal(t, []string{"m"}, report.PendingModels)
	assert.Zero(t, platform.CallCount("CreateRecords"))
	assert.Zero(t, platform.CallCount("CreateModelRun"))
}
