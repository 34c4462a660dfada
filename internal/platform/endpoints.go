package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"labelsync/internal/domain"
)

var _ domain.Platform = (*Client)(nil)

const idempotencyKeyHeader = "Idempotency-Key"

type bulkCreateRequest struct {
	Records        []domain.RecordBody `json:"records"`
	SkipDuplicates bool                `json:"skip_duplicates"`
}

type bulkCreateResponse struct {
	Created  int                    `json:"created"`
	Failures []domain.RecordFailure `json:"failures"`
}

// CreateRecords bulk-creates records in a dataset, chunked by ChunkSize.
// A failed chunk fails the call; counts from earlier chunks are kept in the
// error message. Each chunk carries its own Idempotency-Key, reused on
// retries, so a retried chunk whose first attempt landed is not created
// twice.
func (c *Client) CreateRecords(ctx context.Context, datasetID string, records []domain.RecordBody, skipDuplicates bool) (*domain.CreateResult, error) {
	path := fmt.Sprintf("/v1/datasets/%s/records:bulkCreate", url.PathEscape(datasetID))
	out := &domain.CreateResult{}
	for _, chunk := range chunks(records, c.cfg.ChunkSize) {
		var resp bulkCreateResponse
		header := http.Header{idempotencyKeyHeader: {uuid.NewString()}}
		req := bulkCreateRequest{Records: chunk, SkipDuplicates: skipDuplicates}
		if err := c.doWithHeader(ctx, http.MethodPost, path, header, req, &resp); err != nil {
			return nil, fmt.Errorf("create records in dataset %s (%d created before failure): %w", datasetID, out.Created, err)
		}
		out.Created += resp.Created
		out.Failures = append(out.Failures, resp.Failures...)
	}
	return out, nil
}

type resolveRequest struct {
	GlobalKeys []string `json:"global_keys"`
}

type resolveResponse struct {
	IDs map[string]string `json:"ids"`
}

// ResolveIDs maps global keys to record ids.
func (c *Client) ResolveIDs(ctx context.Context, globalKeys []string) (map[string]string, error) {
	out := make(map[string]string, len(globalKeys))
	for _, chunk := range chunks(globalKeys, c.cfg.ChunkSize) {
		var resp resolveResponse
		if err := c.do(ctx, http.MethodPost, "/v1/records:resolve", resolveRequest{GlobalKeys: chunk}, &resp); err != nil {
			return nil, fmt.Errorf("resolve record ids: %w", err)
		}
		for k, id := range resp.IDs {
			out[k] = id
		}
	}
	return out, nil
}

type batchRequest struct {
	Name      string   `json:"name"`
	RecordIDs []string `json:"record_ids"`
	Priority  int      `json:"priority"`
}

type idResponse struct {
	ID string `json:"id"`
}

// CreateBatch queues records into a project under a generated batch name.
func (c *Client) CreateBatch(ctx context.Context, projectID string, recordIDs []string, priority int) (string, error) {
	req := batchRequest{Name: "labelsync-" + uuid.NewString(), RecordIDs: recordIDs, Priority: priority}
	var resp idResponse
	path := fmt.Sprintf("/v1/projects/%s/batches", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", fmt.Errorf("create batch in project %s: %w", projectID, err)
	}
	return resp.ID, nil
}

type importRequest struct {
	Name     string           `json:"name"`
	Mode     string           `json:"mode,omitempty"`
	Payloads []domain.Payload `json:"payloads"`
}

type importResponse struct {
	Accepted int                    `json:"accepted"`
	Failures []domain.RecordFailure `json:"failures"`
}

func (r importResponse) result() *domain.ImportResult {
	return &domain.ImportResult{Accepted: r.Accepted, Failures: r.Failures}
}

// withUUIDs returns the payloads with a fresh "uuid" on each payload lacking one.
func withUUIDs(payloads []domain.Payload) []domain.Payload {
	out := make([]domain.Payload, len(payloads))
	for i, p := range payloads {
		if _, ok := p["uuid"]; ok {
			out[i] = p
			continue
		}
		cp := make(domain.Payload, len(p)+1)
		for k, v := range p {
			cp[k] = v
		}
		cp["uuid"] = uuid.NewString()
		out[i] = cp
	}
	return out
}

// UploadLabels imports annotation payloads into a project.
func (c *Client) UploadLabels(ctx context.Context, projectID string, payloads []domain.Payload, mode domain.AnnotateMode) (*domain.ImportResult, error) {
	req := importRequest{
		Name:     fmt.Sprintf("labelsync-%s-%s", mode, uuid.NewString()),
		Mode:     string(mode),
		Payloads: withUUIDs(payloads),
	}
	var resp importResponse
	path := fmt.Sprintf("/v1/projects/%s/labels:import", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("import labels into project %s: %w", projectID, err)
	}
	return resp.result(), nil
}

// UploadPredictions uploads prediction payloads to a model run.
func (c *Client) UploadPredictions(ctx context.Context, modelRunID string, payloads []domain.Payload) (*domain.ImportResult, error) {
	req := importRequest{Name: "labelsync-predictions-" + uuid.NewString(), Payloads: withUUIDs(payloads)}
	var resp importResponse
	path := fmt.Sprintf("/v1/model-runs/%s/predictions", url.PathEscape(modelRunID))
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("upload predictions to model run %s: %w", modelRunID, err)
	}
	return resp.result(), nil
}

type modelRunRequest struct {
	Name string `json:"name"`
}

// CreateModelRun creates a run on a model, named after the current time.
func (c *Client) CreateModelRun(ctx context.Context, modelID string) (string, error) {
	req := modelRunRequest{Name: "labelsync-" + time.Now().UTC().Format("20060102T150405Z")}
	var resp idResponse
	path := fmt.Sprintf("/v1/models/%s/runs", url.PathEscape(modelID))
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return "", fmt.Errorf("create run for model %s: %w", modelID, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create run for model %s: empty run id in response", modelID)
	}
	return resp.ID, nil
}

type recordIDsRequest struct {
	ProjectID string   `json:"project_id,omitempty"`
	RecordIDs []string `json:"record_ids"`
}

// AttachRecords adds records to a model run.
func (c *Client) AttachRecords(ctx context.Context, modelRunID string, recordIDs []string) error {
	path := fmt.Sprintf("/v1/model-runs/%s/records", url.PathEscape(modelRunID))
	for _, chunk := range chunks(recordIDs, c.cfg.ChunkSize) {
		if err := c.do(ctx, http.MethodPost, path, recordIDsRequest{RecordIDs: chunk}, nil); err != nil {
			return fmt.Errorf("attach records to model run %s: %w", modelRunID, err)
		}
	}
	return nil
}

// PromoteGroundTruth promotes the project's submitted labels on the given
// records to ground truth on the model run. Promoted records become members
// of the run.
func (c *Client) PromoteGroundTruth(ctx context.Context, modelRunID, projectID string, recordIDs []string) (*domain.ImportResult, error) {
	var resp importResponse
	path := fmt.Sprintf("/v1/model-runs/%s/labels:promote", url.PathEscape(modelRunID))
	if err := c.do(ctx, http.MethodPost, path, recordIDsRequest{ProjectID: projectID, RecordIDs: recordIDs}, &resp); err != nil {
		return nil, fmt.Errorf("promote ground truth on model run %s: %w", modelRunID, err)
	}
	return resp.result(), nil
}
