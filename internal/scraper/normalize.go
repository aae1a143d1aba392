package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/allabolag/scraper/internal/models"
	"github.com/tidwall/gjson"
)

var spacePattern = regexp.MustCompile(`[\s\x{00A0}]+`)

// coerceInt64 parses a raw JSON scalar (number or quoted string, upstream
// sends both) into an int64, stripping thousands-separator whitespace
// first. Non-finite or unparseable values normalize to nil rather than
// erroring out the whole row.
func coerceInt64(raw []byte) *int64 {
	if len(raw) == 0 {
		return nil
	}
	s := strings.Trim(string(raw), `"`)
	s = spacePattern.ReplaceAllString(s, "")
	if s == "" || s == "null" {
		return nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		v := int64(f)
		return &v
	}
	return nil
}

func coerceIntPtr(raw []byte) *int {
	v := coerceInt64(raw)
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}

// toStagingCompany maps one upstream segmentation DTO into a StagingCompany
// row. Returns false if the row has no organisation number and should be
// skipped with a warning.
func toStagingCompany(jobID string, dto companySegmentDTO) (*models.StagingCompany, bool) {
	orgnr := strings.TrimSpace(dto.OrganisationNumber)
	if orgnr == "" {
		return nil, false
	}

	name := dto.DisplayName
	if name == "" {
		name = dto.Name
	}

	segments := make([]string, 0, len(dto.ProffIndustries))
	for _, p := range dto.ProffIndustries {
		if p.Name != "" {
			segments = append(segments, p.Name)
		}
	}

	c := &models.StagingCompany{
		ID:               models.CompanyKey(jobID, orgnr),
		JobID:            jobID,
		Orgnr:            orgnr,
		CompanyName:      name,
		CompanyIDHint:    dto.CompanyID,
		Homepage:         dto.HomePage,
		NaceCategories:   dto.NaceCategories,
		SegmentName:      segments,
		RevenueSek:       coerceInt64(dto.Revenue),
		ProfitSek:        coerceInt64(dto.Profit),
		FoundationYear:   coerceIntPtr(dto.FoundationYear),
		Status:           models.CompanyStatusPending,
	}
	if dto.CompanyAccountsLastUpdatedDate != "" {
		if y := extractYear(dto.CompanyAccountsLastUpdatedDate); y != nil {
			c.AccountsLastYear = y
		}
	}
	return c, true
}

var yearPattern = regexp.MustCompile(`\d{4}`)

func extractYear(s string) *int {
	m := yearPattern.FindString(s)
	if m == "" {
		return nil
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &y
}

var eqKapitalPattern = regexp.MustCompile(`(?i)eget.*kapital`)

// toFinancialRecord parses one companyAccounts[i] report blob into a
// FinancialRecord. The accounts array is walked with gjson rather than a
// typed struct because upstream freely mixes numeric and string amounts
// and uses account codes this module doesn't all know by name.
func toFinancialRecord(jobID, orgnr, companyID string, report []byte, employees *int64) *models.FinancialRecord {
	year := int(gjson.GetBytes(report, "year").Int())
	period := gjson.GetBytes(report, "period").String()

	rec := &models.FinancialRecord{
		ID:          models.FinancialKey(companyID, year, period),
		JobID:       jobID,
		CompanyID:   companyID,
		Orgnr:       orgnr,
		Year:        year,
		Period:      period,
		PeriodStart: gjson.GetBytes(report, "periodStart").String(),
		PeriodEnd:   gjson.GetBytes(report, "periodEnd").String(),
		Currency:    gjson.GetBytes(report, "currency").String(),
		RawData:     append([]byte(nil), report...),
		Employees:   employees,
	}

	var eqKapitalCandidate *int64
	gjson.GetBytes(report, "accounts").ForEach(func(_, account gjson.Result) bool {
		code := account.Get("code").String()
		amountRaw := account.Get("amount")
		amount := coerceFloatResult(amountRaw)
		if amount == nil {
			return true
		}
		rec.Accounts.SetAccount(code, *amount)

		label := account.Get("name").String()
		if label == "" {
			label = account.Get("label").String()
		}
		if eqKapitalCandidate == nil && eqKapitalPattern.MatchString(label) {
			eqKapitalCandidate = amount
		}
		return true
	})

	if rec.Accounts.EK == nil && eqKapitalCandidate != nil {
		rec.Accounts.EK = eqKapitalCandidate
	}

	rec.ApplyMirrors()
	return rec
}

// coerceFloatResult converts a gjson amount field (number, numeric string,
// or "NaN") to an int64 pointer, dropping fractional kSEK precision the
// same way coerceInt64 does.
func coerceFloatResult(r gjson.Result) *int64 {
	switch r.Type {
	case gjson.Number:
		f := r.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		v := int64(f)
		return &v
	case gjson.String:
		s := strings.TrimSpace(r.String())
		if s == "" || strings.EqualFold(s, "nan") {
			return nil
		}
		f, err := strconv.ParseFloat(spacePattern.ReplaceAllString(s, ""), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		v := int64(f)
		return &v
	default:
		return nil
	}
}

func metadataFromDTO(dto companyFinancialsDTO) CompanyMetadata {
	c := dto.PageProps.Company
	return CompanyMetadata{
		Employees:        coerceInt64(c.Employees),
		Description:      c.Description,
		Phone:            c.Phone,
		Email:            c.Email,
		LegalName:        c.LegalName,
		Domicile:         c.Domicile,
		Signatory:        c.Signatory,
		Directors:        c.Directors,
		FoundationDate:   c.FoundationDate,
		BusinessUnitType: c.BusinessUnitType,
		Industries:       c.Industries,
		Certificates:     c.Certificates,
		ExternalLinks:    c.ExternalLinks,
	}
}
