package models

import "fmt"

// QueryRequest is the body of a client question.
type QueryRequest struct {
	ClientID int64  `json:"client_id"`
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// Validate checks required fields and applies the default top_k.
func (q *QueryRequest) Validate() error {
	if q.ClientID < 1 {
		return fmt.Errorf("client_id must be positive")
	}
	if len(q.Question) < 3 {
		return fmt.Errorf("question too short")
	}
	if q.TopK == 0 {
		q.TopK = 5
	}
	if q.TopK < 0 {
		q.TopK = 1
	}
	if q.TopK > 20 {
		q.TopK = 20
	}
	return nil
}

// QueryResponse is the grounded answer plus the store keys ("chunk_<i>") of
// the retrieved chunks, in ranked order.
type QueryResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status  string         `json:"status"`
	Tenants []TenantStatus `json:"providers"`
}

// UploadStatus acknowledges a stored upload.
type UploadStatus struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}
