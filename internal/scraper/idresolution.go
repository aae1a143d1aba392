package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/allabolag/scraper/internal/checkpoint"
	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// idResolutionPageSize bounds one ListCompaniesByStatus page. Resolved
// rows drop out of the pending filter as they're processed, so Resolver
// always re-lists page 0 rather than advancing an offset.
const idResolutionPageSize = 50

// idResolutionWidth is the dispatch width per page of pending companies,
// the same default chunk concurrency Stage 1 uses (spec.md names it only
// for segmentation, but nothing suggests Stage 2 should be narrower).
const idResolutionWidth = 15

// htmlHitConfidence/jsonHitConfidence are the confidence scores recorded
// on a resolved CompanyIdMapping, per spec.md §4.7: "confidence 1.0 for
// HTML hits, lower otherwise".
const (
	htmlHitConfidence = 1.0
	jsonHitConfidence = 0.8
)

var foretagIDPattern = regexp.MustCompile(`/foretag/[^"?#]*?/([A-Za-z0-9]+)/?(?:["?#]|$)`)
var orgnrDigitsPattern = regexp.MustCompile(`\d[\d\s-]{8,14}\d`)

// Resolver implements C7, Stage 2: resolving each pending StagingCompany's
// orgnr to the upstream's opaque companyId via an ordered list of search
// candidates.
type Resolver struct {
	gateway     interfaces.ProxyGateway
	sess        upstreamSession
	limiter     interfaces.StageRateLimiter
	companies   interfaces.CompanyStorage
	mappings    interfaces.MappingStorage
	jobs        interfaces.JobStorage
	checkpoints *checkpoint.Manager
	baseURL     string
	logger      arbor.ILogger
}

// NewResolver wires a Resolver from its collaborators.
func NewResolver(
	logger arbor.ILogger,
	gateway interfaces.ProxyGateway,
	sess upstreamSession,
	limiter interfaces.StageRateLimiter,
	companies interfaces.CompanyStorage,
	mappings interfaces.MappingStorage,
	jobs interfaces.JobStorage,
	checkpoints *checkpoint.Manager,
	baseURL string,
) *Resolver {
	return &Resolver{
		gateway:     gateway,
		sess:        sess,
		limiter:     limiter,
		companies:   companies,
		mappings:    mappings,
		jobs:        jobs,
		checkpoints: checkpoints,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// resolveResult is one company's resolution outcome.
type resolveResult struct {
	orgnr   string
	mapping *models.CompanyIdMapping
	err     error
}

// Run resolves every pending StagingCompany in job in pages of
// idResolutionPageSize, idResolutionWidth at a time, until no pending rows
// remain. cancelled is polled between pages for cooperative pause/stop.
func (r *Resolver) Run(ctx context.Context, job *models.Job, cancelled func() bool) (done bool, err error) {
	processed := 0

	for {
		if cancelled != nil && cancelled() {
			return false, nil
		}

		pending, listErr := r.companies.ListCompaniesByStatus(ctx, job.ID, models.CompanyStatusPending, 0, idResolutionPageSize)
		if listErr != nil {
			return false, &engineerrors.StorageError{Op: "list pending companies", Err: listErr}
		}
		if len(pending) == 0 {
			break
		}

		results := r.resolveBatch(ctx, job, pending)
		for _, res := range results {
			processed++
			if res.err != nil {
				if err := r.companies.UpdateCompanyStatus(ctx, job.ID, res.orgnr, models.CompanyStatusError, res.err.Error()); err != nil {
					return false, &engineerrors.StorageError{Op: "mark company resolution failed", Err: err}
				}
				if err := r.mappings.UpsertMapping(ctx, &models.CompanyIdMapping{
					ID:           models.MappingKey(job.ID, res.orgnr),
					JobID:        job.ID,
					Orgnr:        res.orgnr,
					Status:       models.MappingStatusError,
					ErrorMessage: res.err.Error(),
					CreatedAt:    time.Now(),
					UpdatedAt:    time.Now(),
				}); err != nil {
					return false, &engineerrors.StorageError{Op: "upsert failed company id mapping", Err: err}
				}
				r.jobs.UpdateJobProgress(ctx, job.ID, 0, 0, 1, job.LastPage)
				continue
			}

			if err := r.mappings.UpsertMapping(ctx, res.mapping); err != nil {
				return false, &engineerrors.StorageError{Op: "upsert company id mapping", Err: err}
			}
			if err := r.companies.SetCompanyID(ctx, job.ID, res.orgnr, res.mapping.CompanyID); err != nil {
				return false, &engineerrors.StorageError{Op: "set company id", Err: err}
			}
			r.jobs.UpdateJobProgress(ctx, job.ID, 1, 0, 0, job.LastPage)
		}

		r.jobs.UpdateJobHeartbeat(ctx, job.ID)
		cp := &models.Checkpoint{
			JobID:          job.ID,
			Stage:          job.Stage,
			ProcessedCount: processed,
		}
		if err := r.checkpoints.MaybeSave(ctx, cp, false); err != nil {
			r.logger.Warn().Err(err).Msg("checkpoint save failed, continuing")
		}
	}

	cp := &models.Checkpoint{JobID: job.ID, Stage: job.Stage, ProcessedCount: processed}
	if err := r.checkpoints.MaybeSave(ctx, cp, true); err != nil {
		r.logger.Warn().Err(err).Msg("checkpoint save failed, continuing")
	}
	return true, nil
}

func (r *Resolver) resolveBatch(ctx context.Context, job *models.Job, rows []*models.StagingCompany) []resolveResult {
	width := idResolutionWidth
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

	out := make(chan resolveResult, len(rows))
	workersDone := make(chan struct{})
	for w := 0; w < width; w++ {
		go func() {
			for c := range in {
				mapping, err := r.resolveCompany(ctx, job, c)
				out <- resolveResult{orgnr: c.Orgnr, mapping: mapping, err: err}
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

	results := make([]resolveResult, 0, len(rows))
	for res := range out {
		results = append(results, res)
	}
	return results
}

// resolveCompany tries the ordered candidate list: HTML search first, then
// the three JSON fallbacks, accepting the first candidate whose result set
// contains the target orgnr.
func (r *Resolver) resolveCompany(ctx context.Context, job *models.Job, company *models.StagingCompany) (*models.CompanyIdMapping, error) {
	var mapping *models.CompanyIdMapping

	err := r.limiter.Execute(ctx, func(ctx context.Context) (int, error) {
		status := 0
		opErr := r.sess.WithSession(ctx, func(ctx context.Context, sess *models.Session) error {
			buildID, err := r.sess.BuildID(ctx, sess)
			if err != nil {
				return err
			}

			candidates := r.searchCandidates(buildID, company.CompanyName)
			for _, cand := range candidates {
				resp, err := r.gateway.Fetch(ctx, cand.url, &interfaces.FetchOptions{Headers: r.sess.Headers(sess)})
				if err != nil {
					return err
				}
				status = resp.StatusCode
				body, readErr := io.ReadAll(resp.Body)
				resp.Body.Close()
				if readErr != nil {
					return &engineerrors.ParseError{Context: "id resolution search body", Err: readErr}
				}

				var companyID string
				var ok bool
				if cand.html {
					companyID, ok = matchHTMLCandidate(body, company.Orgnr)
				} else {
					companyID, ok = matchJSONCandidate(body, company.Orgnr)
				}
				if !ok {
					continue
				}

				confidence := jsonHitConfidence
				if cand.html {
					confidence = htmlHitConfidence
				}
				mapping = &models.CompanyIdMapping{
					ID:              models.MappingKey(job.ID, company.Orgnr),
					JobID:           job.ID,
					Orgnr:           company.Orgnr,
					CompanyID:       companyID,
					Source:          cand.url,
					ConfidenceScore: confidence,
					Status:          models.MappingStatusResolved,
					CreatedAt:       time.Now(),
					UpdatedAt:       time.Now(),
				}
				return nil
			}

			return fmt.Errorf("no search candidate matched orgnr %s", company.Orgnr)
		})
		return status, opErr
	})
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

type searchCandidate struct {
	url  string
	html bool
}

// searchCandidates builds the ordered list spec.md §4.7 names: HTML
// bransch-sok first, then three JSON fallbacks.
func (r *Resolver) searchCandidates(buildID, companyName string) []searchCandidate {
	q := url.QueryEscape(companyName)
	return []searchCandidate{
		{url: fmt.Sprintf("%s/bransch-sok?q=%s", r.baseURL, q), html: true},
		{url: fmt.Sprintf("%s/_next/data/%s/bransch-sok.json?q=%s", r.baseURL, buildID, q), html: false},
		{url: fmt.Sprintf("%s/_next/data/%s/search.json?q=%s", r.baseURL, buildID, q), html: false},
		{url: fmt.Sprintf("%s/_next/data/%s/sok.json?q=%s", r.baseURL, buildID, q), html: false},
	}
}

// matchHTMLCandidate scrapes href="/foretag/.../<companyId>" anchors and
// matches back to the target orgnr via org-number proximity: the digits
// found in the anchor's enclosing result item must normalize to the same
// value as the target orgnr.
func matchHTMLCandidate(body []byte, targetOrgnr string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", false
	}

	target := normalizeOrgnr(targetOrgnr)
	var hit string
	doc.Find(`a[href*="/foretag/"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		m := foretagIDPattern.FindStringSubmatch(href)
		if m == nil {
			return true
		}
		companyID := m[1]

		container := sel.Closest("li")
		if container.Length() == 0 {
			container = sel.Parent().Parent()
		}
		text := container.Text()
		for _, digits := range orgnrDigitsPattern.FindAllString(text, -1) {
			if normalizeOrgnr(digits) == target {
				hit = companyID
				return false
			}
		}
		return true
	})

	return hit, hit != ""
}

// matchJSONCandidate parses one of the bransch-sok.json/search.json/
// sok.json shapes and accepts the first candidate whose organisation
// number equals the target.
func matchJSONCandidate(body []byte, targetOrgnr string) (string, bool) {
	var dto searchResultDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return "", false
	}

	target := normalizeOrgnr(targetOrgnr)
	candidates := append(append([]searchCandidateDTO{}, dto.PageProps.Companies...), dto.PageProps.Results...)
	for _, c := range candidates {
		if normalizeOrgnr(c.OrganisationNumber) == target && c.CompanyID != "" {
			return c.CompanyID, true
		}
	}
	return "", false
}

var nonDigitPattern = regexp.MustCompile(`\D`)

func normalizeOrgnr(s string) string {
	return nonDigitPattern.ReplaceAllString(s, "")
}
