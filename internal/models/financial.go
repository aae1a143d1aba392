package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// ValidationStatus is the outcome of the Validator's rule pass over a
// FinancialRecord.
type ValidationStatus string

const (
	ValidationStatusPending ValidationStatus = "pending"
	ValidationStatusValid   ValidationStatus = "valid"
	ValidationStatusWarning ValidationStatus = "warning"
	ValidationStatusInvalid ValidationStatus = "invalid"
)

// AccountCodes holds the ~50 named line items of a Swedish statutory
// financial report, each a nullable integer in kSEK. Fields correspond to
// upstream account `code` values one-to-one; an account present upstream
// but not named here is preserved in Other instead of being dropped,
// following the "canonical wire schema ... forgiving parser" design note.
type AccountCodes struct {
	SDI    *int64 `json:"SDI,omitempty"` // net revenue
	DR     *int64 `json:"DR,omitempty"`  // net profit
	ORS    *int64 `json:"ORS,omitempty"` // EBITDA
	RG     *int64 `json:"RG,omitempty"`  // EBIT
	EK     *int64 `json:"EK,omitempty"`  // equity
	FK     *int64 `json:"FK,omitempty"`
	ADI    *int64 `json:"ADI,omitempty"`
	ADK    *int64 `json:"ADK,omitempty"`
	ADR    *int64 `json:"ADR,omitempty"`
	AK     *int64 `json:"AK,omitempty"`
	ANT    *int64 `json:"ANT,omitempty"`
	FI     *int64 `json:"FI,omitempty"`
	GG     *int64 `json:"GG,omitempty"`
	KBP    *int64 `json:"KBP,omitempty"`
	LG     *int64 `json:"LG,omitempty"`
	SAP    *int64 `json:"SAP,omitempty"`
	SED    *int64 `json:"SED,omitempty"`
	SI     *int64 `json:"SI,omitempty"`
	SEK    *int64 `json:"SEK,omitempty"`
	SF     *int64 `json:"SF,omitempty"`
	SFA    *int64 `json:"SFA,omitempty"`
	SGE    *int64 `json:"SGE,omitempty"`
	SIA    *int64 `json:"SIA,omitempty"`
	SIK    *int64 `json:"SIK,omitempty"`
	SKG    *int64 `json:"SKG,omitempty"`
	SKGKI  *int64 `json:"SKGKI,omitempty"`
	SKO    *int64 `json:"SKO,omitempty"`
	SLG    *int64 `json:"SLG,omitempty"`
	SOM    *int64 `json:"SOM,omitempty"`
	SUB    *int64 `json:"SUB,omitempty"`
	SV     *int64 `json:"SV,omitempty"`
	SVD    *int64 `json:"SVD,omitempty"`
	UTR    *int64 `json:"UTR,omitempty"`
	FSD    *int64 `json:"FSD,omitempty"`
	KB     *int64 `json:"KB,omitempty"`
	AWA    *int64 `json:"AWA,omitempty"`
	IAC    *int64 `json:"IAC,omitempty"`
	MIN    *int64 `json:"MIN,omitempty"`
	BE     *int64 `json:"BE,omitempty"` // employees, mirrored separately too
	TR     *int64 `json:"TR,omitempty"`

	// Other carries any account code the upstream sends that isn't named
	// above, keyed by the upstream `code` value.
	Other map[string]int64 `json:"other,omitempty"`
}

// fieldSetters maps an account code to the setter that stores its amount on
// an *AccountCodes. Built once; used by normalize.go to assign parsed
// amounts without a 40-branch switch.
var fieldSetters = map[string]func(*AccountCodes, int64){
	"SDI": func(a *AccountCodes, v int64) { a.SDI = &v },
	"DR":  func(a *AccountCodes, v int64) { a.DR = &v },
	"ORS": func(a *AccountCodes, v int64) { a.ORS = &v },
	"RG":  func(a *AccountCodes, v int64) { a.RG = &v },
	"EK":  func(a *AccountCodes, v int64) { a.EK = &v },
	"FK":  func(a *AccountCodes, v int64) { a.FK = &v },
	"ADI": func(a *AccountCodes, v int64) { a.ADI = &v },
	"ADK": func(a *AccountCodes, v int64) { a.ADK = &v },
	"ADR": func(a *AccountCodes, v int64) { a.ADR = &v },
	"AK":  func(a *AccountCodes, v int64) { a.AK = &v },
	"ANT": func(a *AccountCodes, v int64) { a.ANT = &v },
	"FI":  func(a *AccountCodes, v int64) { a.FI = &v },
	"GG":  func(a *AccountCodes, v int64) { a.GG = &v },
	"KBP": func(a *AccountCodes, v int64) { a.KBP = &v },
	"LG":  func(a *AccountCodes, v int64) { a.LG = &v },
	"SAP": func(a *AccountCodes, v int64) { a.SAP = &v },
	"SED": func(a *AccountCodes, v int64) { a.SED = &v },
	"SI":  func(a *AccountCodes, v int64) { a.SI = &v },
	"SEK": func(a *AccountCodes, v int64) { a.SEK = &v },
	"SF":  func(a *AccountCodes, v int64) { a.SF = &v },
	"SFA": func(a *AccountCodes, v int64) { a.SFA = &v },
	"SGE": func(a *AccountCodes, v int64) { a.SGE = &v },
	"SIA": func(a *AccountCodes, v int64) { a.SIA = &v },
	"SIK": func(a *AccountCodes, v int64) { a.SIK = &v },
	"SKG": func(a *AccountCodes, v int64) { a.SKG = &v },
	"SKGKI": func(a *AccountCodes, v int64) { a.SKGKI = &v },
	"SKO": func(a *AccountCodes, v int64) { a.SKO = &v },
	"SLG": func(a *AccountCodes, v int64) { a.SLG = &v },
	"SOM": func(a *AccountCodes, v int64) { a.SOM = &v },
	"SUB": func(a *AccountCodes, v int64) { a.SUB = &v },
	"SV":  func(a *AccountCodes, v int64) { a.SV = &v },
	"SVD": func(a *AccountCodes, v int64) { a.SVD = &v },
	"UTR": func(a *AccountCodes, v int64) { a.UTR = &v },
	"FSD": func(a *AccountCodes, v int64) { a.FSD = &v },
	"KB":  func(a *AccountCodes, v int64) { a.KB = &v },
	"AWA": func(a *AccountCodes, v int64) { a.AWA = &v },
	"IAC": func(a *AccountCodes, v int64) { a.IAC = &v },
	"MIN": func(a *AccountCodes, v int64) { a.MIN = &v },
	"BE":  func(a *AccountCodes, v int64) { a.BE = &v },
	"TR":  func(a *AccountCodes, v int64) { a.TR = &v },
}

// SetAccount assigns an amount to the named code, falling back to Other for
// any code this wire schema doesn't recognize by name.
func (a *AccountCodes) SetAccount(code string, amount int64) {
	if setter, ok := fieldSetters[code]; ok {
		setter(a, amount)
		return
	}
	if a.Other == nil {
		a.Other = make(map[string]int64)
	}
	a.Other[code] = amount
}

// FinancialRecord is one (companyId, year, period) report, upserted by
// Stage 3. Key is companyId+year+period.
type FinancialRecord struct {
	ID               string           `json:"id"`
	JobID            string           `json:"job_id"`
	CompanyID        string           `json:"company_id"`
	Orgnr            string           `json:"orgnr"`
	Year             int              `json:"year"`
	Period           string           `json:"period"`
	PeriodStart      string           `json:"period_start"`
	PeriodEnd        string           `json:"period_end"`
	Currency         string           `json:"currency"`
	Accounts         AccountCodes     `json:"accounts"`
	Revenue          *int64           `json:"revenue,omitempty"` // mirrors Accounts.SDI
	Profit           *int64           `json:"profit,omitempty"`  // mirrors Accounts.DR
	Employees        *int64           `json:"employees,omitempty"`
	Be               *int64           `json:"be,omitempty"`
	Tr               *int64           `json:"tr,omitempty"`
	RawData          json.RawMessage  `json:"raw_data,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidationErrors []string         `json:"validation_errors,omitempty"`
	ValidationWarnings []string       `json:"validation_warnings,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ApplyMirrors sets Revenue/Profit/Be/Tr from the underlying account codes.
// Called once after normalization so the mirror fields never drift from
// their source.
func (r *FinancialRecord) ApplyMirrors() {
	r.Revenue = r.Accounts.SDI
	r.Profit = r.Accounts.DR
	r.Be = r.Accounts.BE
	r.Tr = r.Accounts.TR
}

// FinancialKey builds the composite staging-store key for a financial row.
func FinancialKey(companyID string, year int, period string) string {
	return companyID + "|" + strconv.Itoa(year) + "|" + period
}
