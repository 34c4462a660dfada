package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"labelsync/internal/domain"
)

type metadataOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type metadataField struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Kind    string           `json:"kind"`
	Options []metadataOption `json:"options"`
}

type metadataSchemaResponse struct {
	Fields []metadataField `json:"fields"`
}

func optionIDs(options []metadataOption) map[string]string {
	out := make(map[string]string, len(options))
	for _, o := range options {
		out[o.Name] = o.ID
	}
	return out
}

// MetadataSchema returns field name → schema id, with enum options keyed as
// "field<divider>option".
func (c *Client) MetadataSchema(ctx context.Context, divider string) (map[string]string, error) {
	var resp metadataSchemaResponse
	if err := c.do(ctx, http.MethodGet, "/v1/metadata/schema", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch metadata schema: %w", err)
	}
	out := make(map[string]string)
	for _, f := range resp.Fields {
		out[f.Name] = f.ID
		for _, o := range f.Options {
			out[f.Name+divider+o.Name] = o.ID
		}
	}
	return out, nil
}

type createMetadataFieldRequest struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Options []string `json:"options,omitempty"`
}

// CreateMetadataField adds a field to the metadata schema. Enum fields are
// created with the given options.
func (c *Client) CreateMetadataField(ctx context.Context, name, kind string, options []string) (*domain.MetadataFieldRef, error) {
	var resp metadataField
	req := createMetadataFieldRequest{Name: name, Kind: kind, Options: options}
	if err := c.do(ctx, http.MethodPost, "/v1/metadata/schema/fields", req, &resp); err != nil {
		return nil, fmt.Errorf("create metadata field %q: %w", name, err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("create metadata field %q: empty field id in response", name)
	}
	return &domain.MetadataFieldRef{ID: resp.ID, Options: optionIDs(resp.Options)}, nil
}

type addMetadataOptionsRequest struct {
	Options []string `json:"options"`
}

type addMetadataOptionsResponse struct {
	Options []metadataOption `json:"options"`
}

// AddMetadataOptions adds options to an enum metadata field.
func (c *Client) AddMetadataOptions(ctx context.Context, fieldID string, options []string) (map[string]string, error) {
	var resp addMetadataOptionsResponse
	path := fmt.Sprintf("/v1/metadata/schema/fields/%s/options", url.PathEscape(fieldID))
	if err := c.do(ctx, http.MethodPost, path, addMetadataOptionsRequest{Options: options}, &resp); err != nil {
		return nil, fmt.Errorf("add options to metadata field %s: %w", fieldID, err)
	}
	return optionIDs(resp.Options), nil
}

// ontologyNode is one feature or option. Options and nested features are
// both children in the name path.
type ontologyNode struct {
	SchemaID string         `json:"schema_id"`
	Name     string         `json:"name"`
	Options  []ontologyNode `json:"options"`
	Features []ontologyNode `json:"features"`
}

type ontologyResponse struct {
	Features []ontologyNode `json:"features"`
}

func indexOntology(features []ontologyNode, divider string) domain.OntologyIndex {
	idx := domain.OntologyIndex{}
	var walk func(prefix string, nodes []ontologyNode)
	walk = func(prefix string, nodes []ontologyNode) {
		for _, n := range nodes {
			path := n.Name
			if prefix != "" {
				path = prefix + divider + n.Name
			}
			idx[path] = n.SchemaID
			walk(path, n.Options)
			walk(path, n.Features)
		}
	}
	walk("", features)
	return idx
}

// ProjectOntology returns the name-path index of a project's ontology.
func (c *Client) ProjectOntology(ctx context.Context, projectID, divider string) (domain.OntologyIndex, error) {
	var resp ontologyResponse
	path := fmt.Sprintf("/v1/projects/%s/ontology", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch ontology for project %s: %w", projectID, err)
	}
	return indexOntology(resp.Features, divider), nil
}

// ModelRunOntology returns the name-path index of a model run's ontology.
func (c *Client) ModelRunOntology(ctx context.Context, modelRunID, divider string) (domain.OntologyIndex, error) {
	var resp ontologyResponse
	path := fmt.Sprintf("/v1/model-runs/%s/ontology", url.PathEscape(modelRunID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch ontology for model run %s: %w", modelRunID, err)
	}
	return indexOntology(resp.Features, divider), nil
}
