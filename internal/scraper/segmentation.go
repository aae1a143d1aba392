package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"

	"github.com/allabolag/scraper/internal/checkpoint"
	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// upstreamSession is the slice of interfaces.UpstreamSession plus the
// header-building helper this package needs; defined at point of use so
// tests can fake it without importing the concrete session package.
type upstreamSession interface {
	Acquire(ctx context.Context) (*models.Session, error)
	BuildID(ctx context.Context, sess *models.Session) (string, error)
	WithSession(ctx context.Context, op func(ctx context.Context, sess *models.Session) error) error
	Headers(sess *models.Session) map[string]string
}

// Segmenter implements C6, Stage 1: paginating the filter-bounded
// segmentation listing and staging every row it yields.
type Segmenter struct {
	gateway     interfaces.ProxyGateway
	sess        upstreamSession
	limiter     interfaces.StageRateLimiter
	companies   interfaces.CompanyStorage
	jobs        interfaces.JobStorage
	checkpoints *checkpoint.Manager
	cfg         common.SegmentationConfig
	baseURL     string
	logger      arbor.ILogger
}

// NewSegmenter wires a Segmenter from its collaborators.
func NewSegmenter(
	logger arbor.ILogger,
	gateway interfaces.ProxyGateway,
	sess upstreamSession,
	limiter interfaces.StageRateLimiter,
	companies interfaces.CompanyStorage,
	jobs interfaces.JobStorage,
	checkpoints *checkpoint.Manager,
	cfg common.SegmentationConfig,
	baseURL string,
) *Segmenter {
	return &Segmenter{
		gateway:     gateway,
		sess:        sess,
		limiter:     limiter,
		companies:   companies,
		jobs:        jobs,
		checkpoints: checkpoints,
		cfg:         cfg,
		baseURL:     baseURL,
		logger:      logger,
	}
}

// pageResult is one page's outcome, collected from a batch's workers and
// resolved back into page order before the batch is evaluated for the
// empty-page termination rule.
type pageResult struct {
	page         int
	companyCount int
	numberOfHits *int
	err          error
}

// Run paginates from job.LastPage+1 (or 1 for a fresh job) in batches of
// cfg.BatchSize with cfg.ChunkConcurrency workers per batch, dispatched
// through the Stage 1 rate limiter and proxy gateway. cancelled is polled
// between batches for cooperative pause/stop. Returns done=true if the job
// ran out of pages/hit maxEmptyPages naturally; a non-nil error means the
// stage hit an unrecoverable failure and the caller should mark the job
// status=error, preserving the checkpoint Run has already saved.
func (s *Segmenter) Run(ctx context.Context, job *models.Job, cancelled func() bool) (done bool, err error) {
	startPage := job.LastPage + 1
	if startPage < 1 {
		startPage = 1
	}

	consecutiveEmpty := 0
	lastPage := job.LastPage

	for page := startPage; page <= s.cfg.MaxPages; page += s.cfg.BatchSize {
		if cancelled != nil && cancelled() {
			return false, nil
		}

		batchEnd := page + s.cfg.BatchSize - 1
		if batchEnd > s.cfg.MaxPages {
			batchEnd = s.cfg.MaxPages
		}
		pages := make([]int, 0, batchEnd-page+1)
		for p := page; p <= batchEnd; p++ {
			pages = append(pages, p)
		}

		results := s.fetchBatch(ctx, job, pages)

		for _, r := range results {
			if r.err != nil {
				s.jobs.UpdateJobProgress(ctx, job.ID, 0, 0, 1, lastPage)
				cp := &models.Checkpoint{
					JobID:             job.ID,
					Stage:             job.Stage,
					LastProcessedPage: lastPage,
					ProcessedCount:    job.ProcessedCount,
					LastError:         r.err.Error(),
				}
				s.logCheckpointErr(s.checkpoints.MaybeSave(ctx, cp, true))
				return false, r.err
			}

			lastPage = r.page
			job.ProcessedCount += r.companyCount
			job.LastPage = lastPage

			if r.numberOfHits != nil && job.TotalCompanies < *r.numberOfHits {
				job.TotalCompanies = *r.numberOfHits
			}

			if r.companyCount == 0 {
				consecutiveEmpty++
			} else {
				consecutiveEmpty = 0
			}

			if err := s.jobs.UpdateJobProgress(ctx, job.ID, r.companyCount, 0, 0, lastPage); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist segmentation progress")
			}
			s.jobs.UpdateJobHeartbeat(ctx, job.ID)

			cp := &models.Checkpoint{
				JobID:             job.ID,
				Stage:             job.Stage,
				LastProcessedPage: lastPage,
				ProcessedCount:    job.ProcessedCount,
			}
			s.logCheckpointErr(s.checkpoints.MaybeSave(ctx, cp, false))

			if consecutiveEmpty >= s.cfg.MaxEmptyPages {
				cp.Data = checkpoint.EncodeData(map[string]int{"stopped_at_page": lastPage})
				s.logCheckpointErr(s.checkpoints.MaybeSave(ctx, cp, true))
				return true, nil
			}
		}
	}

	cp := &models.Checkpoint{
		JobID:             job.ID,
		Stage:             job.Stage,
		LastProcessedPage: lastPage,
		ProcessedCount:    job.ProcessedCount,
	}
	s.logCheckpointErr(s.checkpoints.MaybeSave(ctx, cp, true))
	return true, nil
}

func (s *Segmenter) logCheckpointErr(err error) {
	if err != nil {
		s.logger.Warn().Err(err).Msg("checkpoint save failed, continuing")
	}
}

// fetchBatch dispatches pages across cfg.ChunkConcurrency workers and
// returns results sorted back into page order.
func (s *Segmenter) fetchBatch(ctx context.Context, job *models.Job, pages []int) []pageResult {
	width := s.cfg.ChunkConcurrency
	if width > len(pages) {
		width = len(pages)
	}
	if width < 1 {
		width = 1
	}

	in := make(chan int, len(pages))
	for _, p := range pages {
		in <- p
	}
	close(in)

	out := make(chan pageResult, len(pages))
	done := make(chan struct{})
	for w := 0; w < width; w++ {
		go func() {
			for p := range in {
				count, hits, err := s.fetchPage(ctx, job, p)
				out <- pageResult{page: p, companyCount: count, numberOfHits: hits, err: err}
			}
			done <- struct{}{}
		}()
	}
	go func() {
		for w := 0; w < width; w++ {
			<-done
		}
		close(out)
	}()

	results := make([]pageResult, 0, len(pages))
	for r := range out {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].page < results[j].page })
	return results
}

// fetchPage runs one page's fetch-parse-stage cycle through the session
// wrapper (for cookie/build-id management) and the stage rate limiter (for
// concurrency, pacing, and the retry ladder).
func (s *Segmenter) fetchPage(ctx context.Context, job *models.Job, page int) (companyCount int, numberOfHits *int, err error) {
	execErr := s.limiter.Execute(ctx, func(ctx context.Context) (int, error) {
		status := 0
		opErr := s.sess.WithSession(ctx, func(ctx context.Context, sess *models.Session) error {
			buildID, err := s.sess.BuildID(ctx, sess)
			if err != nil {
				return err
			}

			reqURL := s.pageURL(buildID, job.Params.Normalize(), page)
			resp, err := s.gateway.Fetch(ctx, reqURL, &interfaces.FetchOptions{Headers: s.sess.Headers(sess)})
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			status = resp.StatusCode

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return &engineerrors.ParseError{Context: fmt.Sprintf("segmentation page %d body", page), Err: err}
			}

			var dto segmentationPageDTO
			if err := json.Unmarshal(body, &dto); err != nil {
				return &engineerrors.ParseError{Context: fmt.Sprintf("segmentation page %d", page), Err: err}
			}

			if page == 1 && len(dto.PageProps.Companies) == 0 {
				return &interfaces.EmptyResultError{Reason: "first segmentation page returned no companies"}
			}

			rows := make([]*models.StagingCompany, 0, len(dto.PageProps.Companies))
			for _, c := range dto.PageProps.Companies {
				row, ok := toStagingCompany(job.ID, c)
				if !ok {
					s.logger.Warn().Str("job_id", job.ID).Int("page", page).Msg("skipping segmentation row with no orgnr")
					continue
				}
				rows = append(rows, row)
			}

			if len(rows) > 0 {
				if err := s.companies.UpsertCompanies(ctx, rows); err != nil {
					return &engineerrors.StorageError{Op: "upsert segmentation companies", Err: err}
				}
			}

			companyCount = len(rows)
			numberOfHits = dto.PageProps.NumberOfHits
			return nil
		})
		return status, opErr
	})
	return companyCount, numberOfHits, execErr
}

// pageURL builds the /_next/data/<buildId>/segmentation.json URL for one
// page, carrying the normalized filter bounds.
func (s *Segmenter) pageURL(buildID string, nf models.NormalizedFilters, page int) string {
	return segmentationPageURL(s.baseURL, buildID, nf, page)
}

// segmentationPageURL builds the /_next/data/<buildId>/segmentation.json
// URL for one page, shared by Segmenter and Previewer (which samples the
// same endpoint without staging results).
func segmentationPageURL(baseURL, buildID string, nf models.NormalizedFilters, page int) string {
	q := url.Values{}
	q.Set("revenueFrom", strconv.FormatInt(nf.RevenueFromKSEK, 10))
	q.Set("revenueTo", strconv.FormatInt(nf.RevenueToKSEK, 10))
	if nf.ProfitFromKSEK != nil {
		q.Set("profitFrom", strconv.FormatInt(*nf.ProfitFromKSEK, 10))
	}
	if nf.ProfitToKSEK != nil {
		q.Set("profitTo", strconv.FormatInt(*nf.ProfitToKSEK, 10))
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("companyType", nf.CompanyType)

	return fmt.Sprintf("%s/_next/data/%s/segmentation.json?%s", baseURL, buildID, q.Encode())
}
