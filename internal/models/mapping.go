package models

import "time"

// MappingStatus tracks the outcome of a Stage 2 resolution attempt.
type MappingStatus string

const (
	MappingStatusPending  MappingStatus = "pending"
	MappingStatusResolved MappingStatus = "resolved"
	MappingStatusError    MappingStatus = "error"
)

// CompanyIdMapping records how a StagingCompany's orgnr was resolved to the
// upstream's opaque companyId. Key is (jobId, orgnr).
type CompanyIdMapping struct {
	ID              string        `json:"id"`
	JobID           string        `json:"job_id"`
	Orgnr           string        `json:"orgnr"`
	CompanyID       string        `json:"company_id"`
	Source          string        `json:"source"` // which candidate URL produced the hit
	ConfidenceScore float64       `json:"confidence_score"`
	Status          MappingStatus `json:"status"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// MappingKey builds the composite staging-store key for a mapping row.
func MappingKey(jobID, orgnr string) string {
	return jobID + "|" + orgnr
}
