package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

// previewSampleExtra is how many pages beyond the first are sampled when
// upstream doesn't hand back an exact numberOfHits.
const previewSampleExtra = 4

// previewExpectedPagesFactor is the lower-bound multiplier applied to the
// sampled average companies/page when no exact count is available. This is
// a known-inaccurate estimate for small result sets (spec.md's REDESIGN
// FLAGS note); it is documented to the caller via IsEstimated rather than
// presented as authoritative.
const previewExpectedPagesFactor = 10

// ProfitLimits is the upstream-learned profit range for a segment, scraped
// from the first preview response's limits block.
type ProfitLimits struct {
	Min *float64
	Max *float64
}

// PreviewResult is previewSegmentation's return value.
type PreviewResult struct {
	Count              int
	IsExact            bool
	IsEstimated        bool
	ActualProfitLimits *ProfitLimits
}

// Previewer implements the previewSegmentation verb: a cheap, non-paging
// sample of a filter's expected result size, run ahead of starting a full
// job. It shares the Segmenter's session/gateway/limiter stack but never
// writes to the staging store.
type Previewer struct {
	gateway interfaces.ProxyGateway
	sess    upstreamSession
	limiter interfaces.StageRateLimiter
	baseURL string
	logger  arbor.ILogger
}

// NewPreviewer wires a Previewer from its collaborators.
func NewPreviewer(logger arbor.ILogger, gateway interfaces.ProxyGateway, sess upstreamSession, limiter interfaces.StageRateLimiter, baseURL string) *Previewer {
	return &Previewer{gateway: gateway, sess: sess, limiter: limiter, baseURL: baseURL, logger: logger}
}

// Preview samples the segmentation listing for filters and estimates its
// size without staging anything. If filters carries no explicit profit
// bounds and the first response's limits block names learned bounds, a
// second preview fetch is issued with those bounds for an authoritative
// count.
func (p *Previewer) Preview(ctx context.Context, filters models.Filters) (*PreviewResult, error) {
	result, limits, err := p.sampleNormalized(ctx, filters.Normalize())
	if err != nil {
		return nil, err
	}

	if limits != nil {
		result.ActualProfitLimits = limits
	}

	if result.IsExact {
		return result, nil
	}

	if filters.ProfitFromMSEK == nil && filters.ProfitToMSEK == nil && limits != nil && (limits.Min != nil || limits.Max != nil) {
		nf := filters.Normalize()
		if limits.Min != nil {
			v := int64(*limits.Min)
			nf.ProfitFromKSEK = &v
		}
		if limits.Max != nil {
			v := int64(*limits.Max)
			nf.ProfitToKSEK = &v
		}

		authoritative, _, err := p.sampleNormalized(ctx, nf)
		if err != nil {
			p.logger.Warn().Err(err).Msg("learned-bounds preview fetch failed, returning the unbounded estimate")
			return result, nil
		}
		authoritative.ActualProfitLimits = limits
		return authoritative, nil
	}

	return result, nil
}

func (p *Previewer) sampleNormalized(ctx context.Context, nf models.NormalizedFilters) (*PreviewResult, *ProfitLimits, error) {
	first, err := p.fetchPreviewPage(ctx, nf, 1)
	if err != nil {
		return nil, nil, err
	}

	var limits *ProfitLimits
	if first.PageProps.Limits != nil {
		limits = &ProfitLimits{Min: first.PageProps.Limits.ProfitMin, Max: first.PageProps.Limits.ProfitMax}
	}

	if first.PageProps.NumberOfHits != nil {
		return &PreviewResult{Count: *first.PageProps.NumberOfHits, IsExact: true, IsEstimated: false}, limits, nil
	}

	total := len(first.PageProps.Companies)
	samples := 1
	for page := 2; page <= 1+previewSampleExtra; page++ {
		dto, err := p.fetchPreviewPage(ctx, nf, page)
		if err != nil {
			return nil, nil, err
		}
		total += len(dto.PageProps.Companies)
		samples++
		if dto.PageProps.NumberOfHits != nil {
			return &PreviewResult{Count: *dto.PageProps.NumberOfHits, IsExact: true, IsEstimated: false}, limits, nil
		}
	}

	avg := float64(total) / float64(samples)
	estimate := int(avg * previewExpectedPagesFactor)

	return &PreviewResult{Count: estimate, IsExact: false, IsEstimated: true}, limits, nil
}

func (p *Previewer) fetchPreviewPage(ctx context.Context, nf models.NormalizedFilters, page int) (*segmentationPageDTO, error) {
	var dto segmentationPageDTO

	err := p.limiter.Execute(ctx, func(ctx context.Context) (int, error) {
		status := 0
		opErr := p.sess.WithSession(ctx, func(ctx context.Context, sess *models.Session) error {
			buildID, err := p.sess.BuildID(ctx, sess)
			if err != nil {
				return err
			}

			reqURL := segmentationPageURL(p.baseURL, buildID, nf, page)
			resp, err := p.gateway.Fetch(ctx, reqURL, &interfaces.FetchOptions{Headers: p.sess.Headers(sess)})
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			status = resp.StatusCode

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return &engineerrors.ParseError{Context: fmt.Sprintf("preview page %d body", page), Err: err}
			}

			if err := json.Unmarshal(body, &dto); err != nil {
				return &engineerrors.ParseError{Context: fmt.Sprintf("preview page %d", page), Err: err}
			}
			return nil
		})
		return status, opErr
	})
	if err != nil {
		return nil, err
	}
	return &dto, nil
}
