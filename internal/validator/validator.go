// Package validator implements C10's Validator half: a pure, ordered,
// cumulative rule pass over a FinancialRecord, plus the validateJob control
// verb that runs it across a job's staged financials and persists the
// outcome.
package validator

import (
	"context"
	"fmt"

	"github.com/allabolag/scraper/internal/engineerrors"
	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
	"github.com/ternarybob/arbor"
)

const (
	minValidYear      = 2000
	largeAmountKSEK   = 1_000_000_000
	largeNegativeKSEK = -1_000_000_000
	profitMarginWarn  = 0.5
)

// Validator runs spec.md §4.10's rule set against staged financial
// records. MinYear configures the warn-below threshold (spec.md default
// 2010, `ValidatorConfig.MinYear`); the [2000, now+1] hard bound is fixed.
type Validator struct {
	minYear int
	staging interfaces.StagingStoreFactory
	logger  arbor.ILogger
}

// New wires a Validator from its collaborators. staging opens the
// per-job staging store ValidateJob reads/writes financials through —
// financials live in a separate BadgerDB per job, not one shared store.
func New(logger arbor.ILogger, staging interfaces.StagingStoreFactory, minYear int) *Validator {
	return &Validator{logger: logger, staging: staging, minYear: minYear}
}

// Summary is validateJob's return value: per-status counts plus the
// per-record outcomes that produced them.
type Summary struct {
	Valid   int
	Warning int
	Invalid int
	Rows    []RowResult
}

// RowResult is one FinancialRecord's validation outcome.
type RowResult struct {
	RecordID string
	CompanyID string
	Year      int
	Status    models.ValidationStatus
	Errors    []string
	Warnings  []string
}

func currentYearPlusOne(nowYear int) int {
	return nowYear + 1
}

// Validate runs the rule set against rec and returns its status plus the
// errors/warnings that produced it. nowYear is the current calendar year,
// injected by the caller (never computed internally — this keeps Validate
// a pure function of its inputs, per spec.md's "pure function" framing).
func Validate(rec *models.FinancialRecord, minYear int, nowYear int) (models.ValidationStatus, []string, []string) {
	var errs, warns []string

	if rec.CompanyID == "" {
		errs = append(errs, "missing company_id")
	}
	if rec.Orgnr == "" {
		errs = append(errs, "missing orgnr")
	}
	if rec.Period == "" {
		errs = append(errs, "missing period")
	}

	maxYear := currentYearPlusOne(nowYear)
	if rec.Year < minValidYear || rec.Year > maxYear {
		errs = append(errs, fmt.Sprintf("year %d out of range [%d, %d]", rec.Year, minValidYear, maxYear))
	} else if rec.Year < minYear {
		warns = append(warns, fmt.Sprintf("year %d is before %d", rec.Year, minYear))
	}

	sdi := rec.Accounts.SDI
	if sdi != nil {
		if *sdi < 0 {
			errs = append(errs, "SDI (revenue) is negative")
		} else if *sdi == 0 {
			warns = append(warns, "SDI (revenue) is zero")
		} else if *sdi > largeAmountKSEK {
			warns = append(warns, "SDI (revenue) exceeds 1e9 kSEK")
		}
	}

	if dr := rec.Accounts.DR; dr != nil && *dr > largeAmountKSEK {
		warns = append(warns, "DR (profit) exceeds 1e9 kSEK")
	}

	if ors := rec.Accounts.ORS; ors != nil && *ors > largeAmountKSEK {
		warns = append(warns, "ORS (EBITDA) exceeds 1e9 kSEK")
	}

	if ek := rec.Accounts.EK; ek != nil {
		if *ek < largeNegativeKSEK {
			warns = append(warns, "EK (equity) is below -1e9 kSEK")
		} else if *ek > largeAmountKSEK {
			warns = append(warns, "EK (equity) exceeds 1e9 kSEK")
		}
	}

	if isZeroOrAbsent(rec.Accounts.SDI) && isZeroOrAbsent(rec.Accounts.DR) &&
		isZeroOrAbsent(rec.Accounts.ORS) && isZeroOrAbsent(rec.Accounts.EK) {
		warns = append(warns, "SDI, DR, ORS and EK are all zero: record looks incomplete")
	}

	if sdi != nil && *sdi > 0 && rec.Accounts.DR != nil {
		margin := float64(*rec.Accounts.DR) / float64(*sdi)
		if margin > profitMarginWarn {
			warns = append(warns, "profit margin exceeds 50%: verify")
		}
	}

	if rec.Currency != "" && rec.Currency != "SEK" {
		warns = append(warns, fmt.Sprintf("currency %q is not SEK", rec.Currency))
	}

	switch {
	case len(errs) > 0:
		return models.ValidationStatusInvalid, errs, warns
	case len(warns) > 0:
		return models.ValidationStatusWarning, errs, warns
	default:
		return models.ValidationStatusValid, errs, warns
	}
}

func isZeroOrAbsent(v *int64) bool {
	return v == nil || *v == 0
}

// ValidateJob validates every financial record staged for jobID (all
// statuses, so a re-run re-validates previously warning/invalid rows too),
// persists each outcome, and returns the run's aggregate summary, per
// spec.md §6's `validateJob(jobId) → validation summary`.
func (v *Validator) ValidateJob(ctx context.Context, jobID string, nowYear int) (*Summary, error) {
	store, err := v.staging.Open(jobID)
	if err != nil {
		return nil, &engineerrors.StorageError{Op: "open staging store for validation", Err: err}
	}
	financials := store.Financials()

	records, err := financials.ListFinancialsByJob(ctx, jobID, "")
	if err != nil {
		return nil, &engineerrors.StorageError{Op: "list financials for validation", Err: err}
	}

	summary := &Summary{Rows: make([]RowResult, 0, len(records))}
	for _, rec := range records {
		status, errs, warns := Validate(rec, v.minYear, nowYear)

		if err := financials.UpdateValidation(ctx, rec.ID, status, errs, warns); err != nil {
			return nil, &engineerrors.StorageError{Op: "persist validation outcome", Err: err}
		}

		switch status {
		case models.ValidationStatusValid:
			summary.Valid++
		case models.ValidationStatusWarning:
			summary.Warning++
		case models.ValidationStatusInvalid:
			summary.Invalid++
		}

		summary.Rows = append(summary.Rows, RowResult{
			RecordID:  rec.ID,
			CompanyID: rec.CompanyID,
			Year:      rec.Year,
			Status:    status,
			Errors:    errs,
			Warnings:  warns,
		})
	}

	v.logger.Info().Str("job_id", jobID).Int("valid", summary.Valid).Int("warning", summary.Warning).
		Int("invalid", summary.Invalid).Msg("job validation complete")

	return summary, nil
}
