package scraper

import (
	"encoding/json"
	"testing"
)

func TestToStagingCompanySkipsMissingOrgnr(t *testing.T) {
	_, ok := toStagingCompany("job1", companySegmentDTO{DisplayName: "No Orgnr AB"})
	if ok {
		t.Fatal("expected row with no orgnr to be skipped")
	}
}

func TestToStagingCompanyCoercesSpacedRevenue(t *testing.T) {
	dto := companySegmentDTO{
		OrganisationNumber: "5560001234",
		DisplayName:        "Example AB",
		Revenue:            json.RawMessage(`"12 345"`),
		Profit:             json.RawMessage(`678`),
	}
	c, ok := toStagingCompany("job1", dto)
	if !ok {
		t.Fatal("expected row to be accepted")
	}
	if c.RevenueSek == nil || *c.RevenueSek != 12345 {
		t.Errorf("expected revenue 12345, got %v", c.RevenueSek)
	}
	if c.ProfitSek == nil || *c.ProfitSek != 678 {
		t.Errorf("expected profit 678, got %v", c.ProfitSek)
	}
}

func TestToStagingCompanyNonFiniteRevenueIsNil(t *testing.T) {
	dto := companySegmentDTO{
		OrganisationNumber: "5560009999",
		Revenue:            json.RawMessage(`"NaN"`),
	}
	c, ok := toStagingCompany("job1", dto)
	if !ok {
		t.Fatal("expected row to be accepted")
	}
	if c.RevenueSek != nil {
		t.Errorf("expected nil revenue for NaN, got %v", *c.RevenueSek)
	}
}

func TestToFinancialRecordParsesAccountsAndMirrors(t *testing.T) {
	report := []byte(`{
		"year": 2023,
		"period": "12",
		"periodStart": "2023-01-01",
		"periodEnd": "2023-12-31",
		"currency": "SEK",
		"accounts": [
			{"code": "SDI", "name": "Revenue", "amount": 1000},
			{"code": "DR", "name": "Profit", "amount": "250"},
			{"code": "ZZZ", "name": "Unnamed line item", "amount": 5}
		]
	}`)

	rec := toFinancialRecord("job1", "5560001234", "c-1", report, nil)

	if rec.Year != 2023 || rec.Period != "12" {
		t.Errorf("unexpected year/period: %d/%s", rec.Year, rec.Period)
	}
	if rec.Revenue == nil || *rec.Revenue != 1000 {
		t.Errorf("expected Revenue mirror 1000, got %v", rec.Revenue)
	}
	if rec.Profit == nil || *rec.Profit != 250 {
		t.Errorf("expected Profit mirror 250, got %v", rec.Profit)
	}
	if rec.Accounts.Other["ZZZ"] != 5 {
		t.Errorf("expected unknown code ZZZ preserved in Other, got %v", rec.Accounts.Other)
	}
}

func TestToFinancialRecordFallsBackToEgetKapitalScan(t *testing.T) {
	report := []byte(`{
		"year": 2022,
		"period": "12",
		"accounts": [
			{"code": "XYZ123", "name": "Eget kapital totalt", "amount": 9000}
		]
	}`)

	rec := toFinancialRecord("job1", "5560001234", "c-1", report, nil)
	if rec.Accounts.EK == nil || *rec.Accounts.EK != 9000 {
		t.Errorf("expected EK fallback 9000, got %v", rec.Accounts.EK)
	}
}

func TestToFinancialRecordSkipsNaNAmount(t *testing.T) {
	report := []byte(`{
		"year": 2022,
		"period": "12",
		"accounts": [
			{"code": "SDI", "name": "Revenue", "amount": "NaN"}
		]
	}`)

	rec := toFinancialRecord("job1", "5560001234", "c-1", report, nil)
	if rec.Accounts.SDI != nil {
		t.Errorf("expected SDI nil for NaN amount, got %v", *rec.Accounts.SDI)
	}
}
