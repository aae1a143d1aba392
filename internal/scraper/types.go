// Package scraper implements Stages 1-3 (C6 Segmentation, C7 Company-ID
// Resolution, C8 Financial Fetch): the pipeline that turns a Filters
// value into StagingCompany, CompanyIdMapping, and FinancialRecord rows.
package scraper

import "encoding/json"

// segmentationPageDTO is the shape of one /_next/data/<buildId>/segmentation.json
// response. Upstream is a moving target — fields this struct doesn't name
// are simply dropped by encoding/json rather than erroring, which is the
// forgiving behaviour this wire layer needs.
type segmentationPageDTO struct {
	PageProps struct {
		Companies     []companySegmentDTO `json:"companies"`
		NumberOfHits  *int                `json:"numberOfHits"`
		Limits        *segmentationLimits `json:"limits"`
	} `json:"pageProps"`
}

type segmentationLimits struct {
	ProfitMin *float64 `json:"profitMin"`
	ProfitMax *float64 `json:"profitMax"`
}

type companySegmentDTO struct {
	OrganisationNumber          string   `json:"organisationNumber"`
	DisplayName                 string   `json:"displayName"`
	Name                        string   `json:"name"`
	CompanyID                  string   `json:"companyId"`
	HomePage                    string   `json:"homePage"`
	NaceCategories              []string `json:"naceCategories"`
	ProffIndustries             []struct {
		Name string `json:"name"`
	} `json:"proffIndustries"`
	Revenue                     json.RawMessage `json:"revenue"`
	Profit                      json.RawMessage `json:"profit"`
	FoundationYear              json.RawMessage `json:"foundationYear"`
	CompanyAccountsLastUpdatedDate string        `json:"companyAccountsLastUpdatedDate"`
}

// searchResultDTO is the shared shape of bransch-sok.json/search.json/sok.json
// candidates: a list of company stubs with an orgnr to match against.
type searchResultDTO struct {
	PageProps struct {
		Companies []searchCandidateDTO `json:"companies"`
		Results   []searchCandidateDTO `json:"results"`
	} `json:"pageProps"`
}

type searchCandidateDTO struct {
	OrganisationNumber string `json:"organisationNumber"`
	CompanyID          string `json:"companyId"`
	DisplayName        string `json:"displayName"`
}

// companyFinancialsDTO is the /_next/data/<buildId>/company/<companyId>.json
// response shape, trimmed to what Stage 3 consumes.
type companyFinancialsDTO struct {
	PageProps struct {
		Company struct {
			Employees        json.RawMessage `json:"employees"`
			Description      string      `json:"description"`
			Phone            string      `json:"phone"`
			Email            string      `json:"email"`
			LegalName        string      `json:"legalName"`
			Domicile         string      `json:"domicile"`
			Signatory        string      `json:"signatory"`
			Directors        []string    `json:"directors"`
			FoundationDate   string      `json:"foundationDate"`
			BusinessUnitType string      `json:"businessUnitType"`
			Industries       []string    `json:"industries"`
			Certificates     []string    `json:"certificates"`
			ExternalLinks    []string    `json:"externalLinks"`
			CompanyAccounts  []json.RawMessage `json:"companyAccounts"`
		} `json:"company"`
	} `json:"pageProps"`
}

// CompanyMetadata is the non-financial enrichment Stage 3 extracts
// alongside FinancialRecords, for later surfacing by listCompanies.
type CompanyMetadata struct {
	Employees        *int64
	Description      string
	Phone            string
	Email            string
	LegalName        string
	Domicile         string
	Signatory        string
	Directors        []string
	FoundationDate   string
	BusinessUnitType string
	Industries       []string
	Certificates     []string
	ExternalLinks    []string
}
