package domain

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Ledger listing page sizes.
const (
	DefaultMaxResults = 20
	MaxMaxResults     = 500
)

// PageRequest asks for one page of the newest-first run listing. An empty
// token starts at the newest run.
type PageRequest struct {
	MaxResults int
	PageToken  string
}

// Limit returns the effective page size, clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	if p.MaxResults <= 0 {
		return DefaultMaxResults
	}
	if p.MaxResults > MaxMaxResults {
		return MaxMaxResults
	}
	return p.MaxResults
}

// RunCursor is the position after which a page starts: the start time and
// id of the last run on the previous page. Runs sort by started_at, then
// id, both descending.
type RunCursor struct {
	StartedAt time.Time `json:"s"`
	ID        string    `json:"i"`
}

// Cursor decodes the page token. It returns nil for an empty token and a
// ValidationError for a token this ledger did not issue.
func (p PageRequest) Cursor() (*RunCursor, error) {
	if p.PageToken == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(p.PageToken)
	if err != nil {
		return nil, ErrValidation("invalid page token")
	}
	var c RunCursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" || c.StartedAt.IsZero() {
		return nil, ErrValidation("invalid page token")
	}
	return &c, nil
}

// Token encodes the cursor as an opaque page token.
func (c RunCursor) Token() string {
	raw, _ := json.Marshal(RunCursor{StartedAt: c.StartedAt.UTC(), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// UploadRunPage is one page of the run listing. Total counts every run
// matching the filter; NextPageToken is empty on the last page.
type UploadRunPage struct {
	Runs          []UploadRun
	Total         int64
	NextPageToken string
}
