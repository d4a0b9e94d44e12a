// Package models defines core data structures for tenants, chunks, and query responses.
package models

// TenantMetadata is the contact/service record parsed from a tenant's
// metadata workbook. All fields are optional; a missing or unreadable
// workbook yields the zero value.
type TenantMetadata struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	ServicesSummary string `json:"services_summary"`
	Charges         string `json:"charges"`
}

// Chunk is one window of a tenant's normalized combined text, the unit of
// retrieval. IDs are sequential from 0 and re-assigned wholesale on rebuild.
type Chunk struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// TenantStatus reports per-tenant index presence for health checks.
type TenantStatus struct {
	Name     string `json:"name"`
	HasIndex bool   `json:"has_index"`
}
