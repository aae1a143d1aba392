package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/allabolag/scraper/internal/checkpoint"
	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// passthroughLimiter runs the operation once with no pacing or retries,
// standing in for interfaces.StageRateLimiter in tests that don't care
// about adaptive tuning.
type passthroughLimiter struct{}

func (passthroughLimiter) Execute(ctx context.Context, op interfaces.Operation) error {
	_, err := op(ctx)
	return err
}

func (passthroughLimiter) Stats() interfaces.LimiterStats { return interfaces.LimiterStats{} }

// fakeSession is a no-op upstreamSession: a fixed build id, no cookies to
// carry, and a single pass-through attempt (no refresh logic needed for
// these tests).
type fakeSession struct{}

func (fakeSession) Acquire(ctx context.Context) (*models.Session, error) {
	return &models.Session{}, nil
}

func (fakeSession) BuildID(ctx context.Context, sess *models.Session) (string, error) {
	return "build123", nil
}

func (fakeSession) WithSession(ctx context.Context, op func(ctx context.Context, sess *models.Session) error) error {
	return op(ctx, &models.Session{BuildID: "build123"})
}

func (fakeSession) Headers(sess *models.Session) map[string]string {
	return map[string]string{}
}

// fakeCompanyStorage is an in-memory interfaces.CompanyStorage, enough to
// observe what Segmenter upserts.
type fakeCompanyStorage struct {
	mu   sync.Mutex
	rows map[string]*models.StagingCompany
}

func newFakeCompanyStorage() *fakeCompanyStorage {
	return &fakeCompanyStorage{rows: make(map[string]*models.StagingCompany)}
}

func (f *fakeCompanyStorage) UpsertCompanies(ctx context.Context, companies []*models.StagingCompany) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range companies {
		f.rows[c.ID] = c
	}
	return nil
}

func (f *fakeCompanyStorage) GetCompany(ctx context.Context, jobID, orgnr string) (*models.StagingCompany, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[models.CompanyKey(jobID, orgnr)], nil
}

func (f *fakeCompanyStorage) ListCompaniesByStatus(ctx context.Context, jobID string, status models.CompanyStatus, page, limit int) ([]*models.StagingCompany, error) {
	return nil, nil
}

func (f *fakeCompanyStorage) ListCompanies(ctx context.Context, jobID string, search string, page, limit int) ([]*models.StagingCompany, int, error) {
	return nil, 0, nil
}

func (f *fakeCompanyStorage) CountCompanies(ctx context.Context, jobID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), nil
}

func (f *fakeCompanyStorage) UpdateCompanyStatus(ctx context.Context, jobID, orgnr string, status models.CompanyStatus, errMsg string) error {
	return nil
}

func (f *fakeCompanyStorage) SetCompanyID(ctx context.Context, jobID, orgnr, companyID string) error {
	return nil
}

func (f *fakeCompanyStorage) ListFailures(ctx context.Context, jobID string) ([]*models.StagingCompany, error) {
	return nil, nil
}

// fakeJobStorage is an in-memory interfaces.JobStorage sufficient for
// observing Segmenter's progress writes.
type fakeJobStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeJobStorage() *fakeJobStorage {
	return &fakeJobStorage{jobs: make(map[string]*models.Job)}
}

func (f *fakeJobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID], nil
}

func (f *fakeJobStorage) ListJobs(ctx context.Context, opts *models.JobListOptions) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeJobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errMsg string) error {
	return nil
}

func (f *fakeJobStorage) UpdateJobStage(ctx context.Context, jobID string, stage models.Stage) error {
	return nil
}

func (f *fakeJobStorage) UpdateJobProgress(ctx context.Context, jobID string, processedDelta, totalDelta, errorDelta int, lastPage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil
	}
	j.ProcessedCount += processedDelta
	j.TotalCompanies += totalDelta
	j.ErrorCount += errorDelta
	j.LastPage = lastPage
	return nil
}

func (f *fakeJobStorage) UpdateJobHeartbeat(ctx context.Context, jobID string) error { return nil }

func (f *fakeJobStorage) GetStaleJobs(ctx context.Context, olderThanMinutes int) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeJobStorage) MarkRunningJobsAsPaused(ctx context.Context, reason string) (int, error) {
	return 0, nil
}

// fakeCheckpointStore is an in-memory interfaces.CheckpointStorage.
type fakeCheckpointStore struct {
	mu   sync.Mutex
	rows map[string]*models.Checkpoint
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{rows: make(map[string]*models.Checkpoint)}
}

func (f *fakeCheckpointStore) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[models.CheckpointKey(cp.JobID, cp.Stage)] = cp
	return nil
}

func (f *fakeCheckpointStore) LoadCheckpoint(ctx context.Context, jobID string, stage models.Stage) (*models.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[models.CheckpointKey(jobID, stage)], nil
}

// segmentationPageHandler serves a fixed number of companies per page,
// going empty from emptyFrom onward, mimicking the upstream's
// pageProps.companies/numberOfHits shape.
func segmentationPageHandler(t *testing.T, perPage int, emptyFrom int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			fmt.Sscanf(p, "%d", &page)
		}

		w.Header().Set("Content-Type", "application/json")
		if page >= emptyFrom {
			w.Write([]byte(`{"pageProps":{"companies":[]}}`))
			return
		}

		companies := make([]string, 0, perPage)
		for i := 0; i < perPage; i++ {
			orgnr := fmt.Sprintf("55600%05d", page*1000+i)
			companies = append(companies, fmt.Sprintf(`{"organisationNumber":%q,"displayName":"Company %s"}`, orgnr, orgnr))
		}
		body := `{"pageProps":{"companies":[`
		for i, c := range companies {
			if i > 0 {
				body += ","
			}
			body += c
		}
		body += `]}}`
		w.Write([]byte(body))
	}
}

func newTestSegmenter(t *testing.T, handler http.HandlerFunc, cfg common.SegmentationConfig) (*Segmenter, *fakeJobStorage, *fakeCompanyStorage, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	proxyURL, _ := url.Parse(server.URL)
	gateway := &testGateway{client: &http.Client{Transport: &http.Transport{Proxy: func(*http.Request) (*url.URL, error) { return proxyURL, nil }}}}

	companies := newFakeCompanyStorage()
	jobs := newFakeJobStorage()
	cpStore := newFakeCheckpointStore()
	mgr := checkpoint.NewManager(arbor.NewLogger(), cpStore, 10)

	seg := NewSegmenter(arbor.NewLogger(), gateway, fakeSession{}, passthroughLimiter{}, companies, jobs, mgr, cfg, server.URL)
	return seg, jobs, companies, server
}

// testGateway adapts a plain *http.Client (already routed to the test
// server via its Transport's Proxy func) to interfaces.ProxyGateway.
type testGateway struct {
	client *http.Client
}

func (g *testGateway) Fetch(ctx context.Context, reqURL string, opts *interfaces.FetchOptions) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return g.client.Do(req)
}

func (g *testGateway) Stats() interfaces.GatewayStats { return interfaces.GatewayStats{} }

func TestSegmenterStopsAfterMaxEmptyPages(t *testing.T) {
	cfg := common.SegmentationConfig{BatchSize: 20, ChunkConcurrency: 5, MaxPages: 3000, MaxEmptyPages: 3}
	seg, jobs, companies, server := newTestSegmenter(t, segmentationPageHandler(t, 10, 51), cfg)
	defer server.Close()

	job := &models.Job{
		ID:     "job1",
		Stage:  models.StageSegmentation,
		Params: models.Filters{RevenueFromMSEK: 1, RevenueToMSEK: 100, CompanyType: "AB"},
	}
	jobs.SaveJob(context.Background(), job)

	done, err := seg.Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !done {
		t.Fatal("expected segmentation to complete naturally")
	}
	if job.LastPage != 53 {
		t.Errorf("expected LastPage 53, got %d", job.LastPage)
	}
	if job.ProcessedCount != 500 {
		t.Errorf("expected ProcessedCount 500, got %d", job.ProcessedCount)
	}
	count, _ := companies.CountCompanies(context.Background(), "job1")
	if count != 500 {
		t.Errorf("expected 500 staged companies, got %d", count)
	}
}

func TestSegmenterResumesFromLastPage(t *testing.T) {
	cfg := common.SegmentationConfig{BatchSize: 20, ChunkConcurrency: 5, MaxPages: 3000, MaxEmptyPages: 3}
	seg, jobs, _, server := newTestSegmenter(t, segmentationPageHandler(t, 10, 51), cfg)
	defer server.Close()

	job := &models.Job{
		ID:       "job2",
		Stage:    models.StageSegmentation,
		LastPage: 220,
		Params:   models.Filters{RevenueFromMSEK: 1, RevenueToMSEK: 100, CompanyType: "AB"},
	}
	jobs.SaveJob(context.Background(), job)

	done, err := seg.Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !done {
		t.Fatal("expected segmentation to complete naturally")
	}
	if job.LastPage != 223 {
		t.Errorf("a resumed run starting past emptyFrom should stop after 3 consecutive empty pages from page 221, got LastPage %d", job.LastPage)
	}
}

func TestSegmenterHonorsCancellation(t *testing.T) {
	cfg := common.SegmentationConfig{BatchSize: 20, ChunkConcurrency: 5, MaxPages: 3000, MaxEmptyPages: 3}
	seg, jobs, _, server := newTestSegmenter(t, segmentationPageHandler(t, 10, 51), cfg)
	defer server.Close()

	job := &models.Job{
		ID:     "job3",
		Stage:  models.StageSegmentation,
		Params: models.Filters{RevenueFromMSEK: 1, RevenueToMSEK: 100, CompanyType: "AB"},
	}
	jobs.SaveJob(context.Background(), job)

	done, err := seg.Run(context.Background(), job, func() bool { return true })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if done {
		t.Fatal("expected an immediately-cancelled run to report not done")
	}
	if job.LastPage != 0 {
		t.Errorf("expected no pages processed, got LastPage %d", job.LastPage)
	}
}
