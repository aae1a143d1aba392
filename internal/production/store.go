// Package production implements interfaces.ProductionStore: the HTTP
// client Migrator uses to reach the external production warehouse's
// `company_accounts_by_id` collection (spec.md §1, §4.10).
package production

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/httpclient"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// Store is a thin REST adapter over the production warehouse: HEAD to
// check existence, PUT to upsert a row. It deliberately knows nothing
// about the warehouse's storage engine — only the HTTP contract spec.md
// §1 frames as "a key-value/SQL system reachable via a minimal interface".
type Store struct {
	baseURL string
	client  *http.Client
	logger  arbor.ILogger
}

// New wires a Store from config.
func New(logger arbor.ILogger, cfg common.ProductionConfig) *Store {
	return &Store{
		baseURL: cfg.BaseURL,
		client:  httpclient.NewDefaultHTTPClient(cfg.Timeout),
		logger:  logger,
	}
}

func (s *Store) recordURL(companyID string, year int) string {
	return fmt.Sprintf("%s/company_accounts_by_id/%s/%d", s.baseURL, url.PathEscape(companyID), year)
}

// Exists reports whether a row for (companyId, year) already exists.
func (s *Store) Exists(ctx context.Context, companyID string, year int) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.recordURL(companyID, year), nil)
	if err != nil {
		return false, &engineerrors.ConfigurationError{Reason: fmt.Sprintf("build production Exists request: %v", err)}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, &engineerrors.NetworkError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &engineerrors.UpstreamStatusError{URL: req.URL.String(), Status: resp.StatusCode}
	}
}

// Write upserts one financial record's account codes into the production
// collection via PUT, the same verb the teacher's other external-API
// clients use for idempotent upserts.
func (s *Store) Write(ctx context.Context, record *models.FinancialRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return &engineerrors.ConfigurationError{Reason: fmt.Sprintf("marshal production record: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.recordURL(record.CompanyID, record.Year), bytes.NewReader(body))
	if err != nil {
		return &engineerrors.ConfigurationError{Reason: fmt.Sprintf("build production Write request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &engineerrors.NetworkError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &engineerrors.UpstreamStatusError{URL: req.URL.String(), Status: resp.StatusCode}
	}
	return nil
}
