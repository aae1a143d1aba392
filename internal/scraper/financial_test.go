package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/allabolag/scraper/internal/checkpoint"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// fakeFinancialStorage is an in-memory interfaces.FinancialStorage.
type fakeFinancialStorage struct {
	rows map[string]*models.FinancialRecord
}

func newFakeFinancialStorage() *fakeFinancialStorage {
	return &fakeFinancialStorage{rows: make(map[string]*models.FinancialRecord)}
}

func (f *fakeFinancialStorage) UpsertFinancials(ctx context.Context, records []*models.FinancialRecord) error {
	for _, r := range records {
		f.rows[r.ID] = r
	}
	return nil
}

func (f *fakeFinancialStorage) ListFinancialsByCompany(ctx context.Context, companyID string) ([]*models.FinancialRecord, error) {
	var out []*models.FinancialRecord
	for _, r := range f.rows {
		if r.CompanyID == companyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeFinancialStorage) ListFinancialsByJob(ctx context.Context, jobID string, status models.ValidationStatus) ([]*models.FinancialRecord, error) {
	return nil, nil
}

func (f *fakeFinancialStorage) UpdateValidation(ctx context.Context, recordID string, status models.ValidationStatus, errs, warns []string) error {
	return nil
}

// idResolvedCompanyStorage serves ListCompaniesByStatus for
// CompanyStatusIDResolved, mirroring pendingCompanyStorage's approach.
type idResolvedCompanyStorage struct {
	*fakeCompanyStorage
	order []string
}

func newIDResolvedCompanyStorage() *idResolvedCompanyStorage {
	return &idResolvedCompanyStorage{fakeCompanyStorage: newFakeCompanyStorage()}
}

func (p *idResolvedCompanyStorage) seed(jobID string, rows []*models.StagingCompany) {
	for _, r := range rows {
		p.rows[r.ID] = r
		p.order = append(p.order, r.ID)
	}
}

func (p *idResolvedCompanyStorage) ListCompaniesByStatus(ctx context.Context, jobID string, status models.CompanyStatus, page, limit int) ([]*models.StagingCompany, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.StagingCompany
	for _, id := range p.order {
		c, ok := p.rows[id]
		if !ok || c.JobID != jobID || c.Status != status {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *idResolvedCompanyStorage) UpdateCompanyStatus(ctx context.Context, jobID, orgnr string, status models.CompanyStatus, errMsg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.rows[models.CompanyKey(jobID, orgnr)]
	if !ok {
		return nil
	}
	c.Status = status
	c.LastError = errMsg
	return nil
}

// financialHandler serves companyAccounts for companyId "hascompany", a 404
// for "nofilings", and a 500 for anything else.
func financialHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		companyID := r.URL.Query().Get("companyId")
		switch companyID {
		case "hascompany":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"pageProps":{"company":{"employees":"42","companyAccounts":[
				{"year":2024,"period":"12","periodStart":"2024-01-01","periodEnd":"2024-12-31","currency":"SEK","accounts":[
					{"code":"SDI","amount":"44212"},
					{"code":"EK","amount":"5666"}
				]}
			]}}}`)
		case "nofilings":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

func newTestFetcher(t *testing.T, handler http.HandlerFunc) (*Fetcher, *idResolvedCompanyStorage, *fakeFinancialStorage, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	proxyURL, _ := url.Parse(server.URL)
	gateway := &testGateway{client: &http.Client{Transport: &http.Transport{Proxy: func(*http.Request) (*url.URL, error) { return proxyURL, nil }}}}

	companies := newIDResolvedCompanyStorage()
	financials := newFakeFinancialStorage()
	jobs := newFakeJobStorage()
	cpStore := newFakeCheckpointStore()
	mgr := checkpoint.NewManager(arbor.NewLogger(), cpStore, 10)

	f := NewFetcher(arbor.NewLogger(), gateway, fakeSession{}, passthroughLimiter{}, companies, financials, jobs, mgr, server.URL)
	return f, companies, financials, server
}

func TestFetcherNormalizesFinancialAccounts(t *testing.T) {
	f, companies, financials, server := newTestFetcher(t, financialHandler(t))
	defer server.Close()

	job := &models.Job{ID: "job1", Stage: models.StageFinancials}
	companies.seed(job.ID, []*models.StagingCompany{
		{ID: models.CompanyKey(job.ID, "5560001234"), JobID: job.ID, Orgnr: "5560001234", CompanyName: "Has Company AB", CompanyID: "hascompany", Status: models.CompanyStatusIDResolved},
	})

	done, err := f.Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !done {
		t.Fatal("expected financial fetch to complete")
	}

	rec := financials.rows[models.FinancialKey("hascompany", 2024, "12")]
	if rec == nil {
		t.Fatal("expected a financial record to be recorded")
	}
	if rec.Accounts.SDI == nil || *rec.Accounts.SDI != 44212 {
		t.Errorf("expected SDI 44212, got %v", rec.Accounts.SDI)
	}
	if rec.Accounts.EK == nil || *rec.Accounts.EK != 5666 {
		t.Errorf("expected EK 5666, got %v", rec.Accounts.EK)
	}
	if rec.Revenue == nil || *rec.Revenue != 44212 {
		t.Errorf("expected revenue mirror 44212, got %v", rec.Revenue)
	}
	if rec.Profit != nil {
		t.Errorf("expected profit mirror nil (no DR account), got %v", *rec.Profit)
	}

	c := companies.rows[models.CompanyKey(job.ID, "5560001234")]
	if c.Status != models.CompanyStatusFinancialsFetched {
		t.Errorf("expected company status financials_fetched, got %s", c.Status)
	}
}

func TestFetcherTreats404AsNoFilings(t *testing.T) {
	f, companies, financials, server := newTestFetcher(t, financialHandler(t))
	defer server.Close()

	job := &models.Job{ID: "job2", Stage: models.StageFinancials}
	companies.seed(job.ID, []*models.StagingCompany{
		{ID: models.CompanyKey(job.ID, "5560009999"), JobID: job.ID, Orgnr: "5560009999", CompanyName: "No Filings AB", CompanyID: "nofilings", Status: models.CompanyStatusIDResolved},
	})

	done, err := f.Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !done {
		t.Fatal("expected financial fetch to complete")
	}

	if len(financials.rows) != 0 {
		t.Errorf("expected no financial records for a 404 company, got %d", len(financials.rows))
	}

	c := companies.rows[models.CompanyKey(job.ID, "5560009999")]
	if c.Status != models.CompanyStatusFinancialsFetched {
		t.Errorf("expected company status financials_fetched even with no filings, got %s", c.Status)
	}
}

func TestFetcherRecordsFailureOn5xx(t *testing.T) {
	f, companies, _, server := newTestFetcher(t, financialHandler(t))
	defer server.Close()

	job := &models.Job{ID: "job3", Stage: models.StageFinancials}
	companies.seed(job.ID, []*models.StagingCompany{
		{ID: models.CompanyKey(job.ID, "5560005555"), JobID: job.ID, Orgnr: "5560005555", CompanyName: "Broken AB", CompanyID: "broken", Status: models.CompanyStatusIDResolved},
	})

	done, err := f.Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !done {
		t.Fatal("expected financial fetch to complete even with failures")
	}

	c := companies.rows[models.CompanyKey(job.ID, "5560005555")]
	if c.Status != models.CompanyStatusError {
		t.Errorf("expected company status error, got %s", c.Status)
	}
}

var _ interfaces.CompanyStorage = (*idResolvedCompanyStorage)(nil)
var _ interfaces.FinancialStorage = (*fakeFinancialStorage)(nil)
