package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/allabolag/scraper/internal/checkpoint"
	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// financialPageSize bounds one ListCompaniesByStatus page of id-resolved
// companies; mirrors idResolutionPageSize's page-0-every-time pattern since
// resolved rows drop out of the id_resolved filter once fetched.
const financialPageSize = 50

// financialWidth is the dispatch width per page, matching idResolutionWidth.
const financialWidth = 15

// Fetcher implements C8, Stage 3: retrieving and normalizing each
// id-resolved StagingCompany's multi-year financial accounts.
type Fetcher struct {
	gateway     interfaces.ProxyGateway
	sess        upstreamSession
	limiter     interfaces.StageRateLimiter
	companies   interfaces.CompanyStorage
	financials  interfaces.FinancialStorage
	jobs        interfaces.JobStorage
	checkpoints *checkpoint.Manager
	baseURL     string
	logger      arbor.ILogger
}

// NewFetcher wires a Fetcher from its collaborators.
func NewFetcher(
	logger arbor.ILogger,
	gateway interfaces.ProxyGateway,
	sess upstreamSession,
	limiter interfaces.StageRateLimiter,
	companies interfaces.CompanyStorage,
	financials interfaces.FinancialStorage,
	jobs interfaces.JobStorage,
	checkpoints *checkpoint.Manager,
	baseURL string,
) *Fetcher {
	return &Fetcher{
		gateway:     gateway,
		sess:        sess,
		limiter:     limiter,
		companies:   companies,
		financials:  financials,
		jobs:        jobs,
		checkpoints: checkpoints,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// fetchResult is one company's financial-fetch outcome.
type fetchResult struct {
	orgnr   string
	records []*models.FinancialRecord
	noFiling bool
	err     error
}

// Run fetches financial accounts for every id-resolved StagingCompany in
// job, paging financialWidth at a time, until no id-resolved rows remain.
// cancelled is polled between pages for cooperative pause/stop.
func (f *Fetcher) Run(ctx context.Context, job *models.Job, cancelled func() bool) (done bool, err error) {
	processed := 0

	for {
		if cancelled != nil && cancelled() {
			return false, nil
		}

		pending, listErr := f.companies.ListCompaniesByStatus(ctx, job.ID, models.CompanyStatusIDResolved, 0, financialPageSize)
		if listErr != nil {
			return false, &engineerrors.StorageError{Op: "list id-resolved companies", Err: listErr}
		}
		if len(pending) == 0 {
			break
		}

		results := f.fetchBatch(ctx, job, pending)
		for _, res := range results {
			processed++
			if res.err != nil {
				if err := f.companies.UpdateCompanyStatus(ctx, job.ID, res.orgnr, models.CompanyStatusError, res.err.Error()); err != nil {
					return false, &engineerrors.StorageError{Op: "mark company financials failed", Err: err}
				}
				f.jobs.UpdateJobProgress(ctx, job.ID, 0, 0, 1, job.LastPage)
				continue
			}

			if len(res.records) > 0 {
				if err := f.financials.UpsertFinancials(ctx, res.records); err != nil {
					return false, &engineerrors.StorageError{Op: "upsert financial records", Err: err}
				}
			}
			if err := f.companies.UpdateCompanyStatus(ctx, job.ID, res.orgnr, models.CompanyStatusFinancialsFetched, ""); err != nil {
				return false, &engineerrors.StorageError{Op: "mark company financials fetched", Err: err}
			}
			f.jobs.UpdateJobProgress(ctx, job.ID, 1, 0, 0, job.LastPage)
		}

		f.jobs.UpdateJobHeartbeat(ctx, job.ID)
		cp := &models.Checkpoint{JobID: job.ID, Stage: job.Stage, ProcessedCount: processed}
		if err := f.checkpoints.MaybeSave(ctx, cp, false); err != nil {
			f.logger.Warn().Err(err).Msg("checkpoint save failed, continuing")
		}
	}

	cp := &models.Checkpoint{JobID: job.ID, Stage: job.Stage, ProcessedCount: processed}
	if err := f.checkpoints.MaybeSave(ctx, cp, true); err != nil {
		f.logger.Warn().Err(err).Msg("checkpoint save failed, continuing")
	}
	return true, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, job *models.Job, rows []*models.StagingCompany) []fetchResult {
	width := financialWidth
	if width > len(rows) {
		width = len(rows)
	}
	if width < 1 {
		width = 1
	}

	in := make(chan *models.StagingCompany, len(rows))
	for _, c := range rows {
		in <- c
	}
	close(in)

	out := make(chan fetchResult, len(rows))
	workersDone := make(chan struct{})
	for w := 0; w < width; w++ {
		go func() {
			for c := range in {
				records, noFiling, err := f.fetchCompany(ctx, job, c)
				out <- fetchResult{orgnr: c.Orgnr, records: records, noFiling: noFiling, err: err}
			}
			workersDone <- struct{}{}
		}()
	}
	go func() {
		for w := 0; w < width; w++ {
			<-workersDone
		}
		close(out)
	}()

	results := make([]fetchResult, 0, len(rows))
	for res := range out {
		results = append(results, res)
	}
	return results
}

// fetchCompany retrieves and normalizes one company's financial accounts. A
// 404 is not an error: it means the company has no filings, and
// fetchCompany returns an empty, nil-error result.
func (f *Fetcher) fetchCompany(ctx context.Context, job *models.Job, company *models.StagingCompany) ([]*models.FinancialRecord, bool, error) {
	var records []*models.FinancialRecord
	var noFiling bool

	err := f.limiter.Execute(ctx, func(ctx context.Context) (int, error) {
		status := 0
		opErr := f.sess.WithSession(ctx, func(ctx context.Context, sess *models.Session) error {
			buildID, err := f.sess.BuildID(ctx, sess)
			if err != nil {
				return err
			}

			reqURL := f.companyURL(buildID, company)
			resp, err := f.gateway.Fetch(ctx, reqURL, &interfaces.FetchOptions{Headers: f.sess.Headers(sess)})
			if err != nil {
				// A 404 means the company has no filings, not a failure:
				// the gateway already turns it into an UpstreamStatusError
				// since it never returns a *http.Response for non-2xx.
				var upstreamErr *engineerrors.UpstreamStatusError
				if errors.As(err, &upstreamErr) && upstreamErr.Status == http.StatusNotFound {
					status = http.StatusNotFound
					noFiling = true
					return nil
				}
				return err
			}
			defer resp.Body.Close()
			status = resp.StatusCode

			if status == http.StatusNotFound {
				noFiling = true
				return nil
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return &engineerrors.ParseError{Context: fmt.Sprintf("financials body for %s", company.Orgnr), Err: err}
			}

			var dto companyFinancialsDTO
			if err := json.Unmarshal(body, &dto); err != nil {
				return &engineerrors.ParseError{Context: fmt.Sprintf("financials for %s", company.Orgnr), Err: err}
			}

			meta := metadataFromDTO(dto)
			for _, report := range dto.PageProps.Company.CompanyAccounts {
				records = append(records, toFinancialRecord(job.ID, company.Orgnr, company.CompanyID, report, meta.Employees))
			}
			return nil
		})
		return status, opErr
	})
	if err != nil {
		return nil, false, err
	}
	return records, noFiling, nil
}

// companyURL builds the /_next/data/<buildId>/company/<companyId>.json URL,
// carrying the name/industry hints upstream's page expects.
func (f *Fetcher) companyURL(buildID string, company *models.StagingCompany) string {
	industry := ""
	if len(company.SegmentName) > 0 {
		industry = company.SegmentName[0]
	}

	q := url.Values{}
	q.Set("companyId", company.CompanyID)
	q.Set("name", company.CompanyName)
	q.Set("industry", industry)
	q.Set("location", "-")

	return fmt.Sprintf("%s/_next/data/%s/company/%s.json?%s", f.baseURL, buildID, company.CompanyID, q.Encode())
}
