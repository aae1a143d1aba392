package models

import "time"

// CompanyStatus tracks a StagingCompany's progress through the pipeline.
// Transitions are monotonic — pending -> id_resolved -> financials_fetched
// — except that any state may transition into error.
type CompanyStatus string

const (
	CompanyStatusPending            CompanyStatus = "pending"
	CompanyStatusIDResolved         CompanyStatus = "id_resolved"
	CompanyStatusFinancialsFetched  CompanyStatus = "financials_fetched"
	CompanyStatusError              CompanyStatus = "error"
)

// StagingCompany is one row produced by Stage 1 segmentation and enriched
// by Stages 2 and 3. Key is orgnr, unique within a job (jobId, orgnr).
type StagingCompany struct {
	// ID is the composite primary key "<jobId>|<orgnr>" used by the Badger
	// staging store; orgnr alone is only unique within a single job.
	ID                string        `json:"id"`
	JobID             string        `json:"job_id"`
	Orgnr             string        `json:"orgnr"`
	CompanyName       string        `json:"company_name"`
	CompanyID         string        `json:"company_id,omitempty"`
	CompanyIDHint     string        `json:"company_id_hint,omitempty"`
	Homepage          string        `json:"homepage,omitempty"`
	NaceCategories    []string      `json:"nace_categories,omitempty"`
	SegmentName       []string      `json:"segment_name,omitempty"`
	RevenueSek        *int64        `json:"revenue_sek,omitempty"`
	ProfitSek         *int64        `json:"profit_sek,omitempty"`
	FoundationYear    *int          `json:"foundation_year,omitempty"`
	AccountsLastYear  *int          `json:"accounts_last_year,omitempty"`
	ScrapedAt         time.Time     `json:"scraped_at"`
	Status            CompanyStatus `json:"status"`
	LastError         string        `json:"last_error,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// CompanyKey builds the composite staging-store key for a company row.
func CompanyKey(jobID, orgnr string) string {
	return jobID + "|" + orgnr
}
