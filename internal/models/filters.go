package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Filters is the value type the operator submits to bound a segmentation
// run. Monetary bounds are expressed in mSEK by the caller (millions of
// Swedish crowns) and normalized to kSEK (thousands) before use, matching
// the unit the upstream site and this engine's staging store work in.
type Filters struct {
	RevenueFromMSEK int64  `json:"revenue_from_msek" validate:"required,gte=0"`
	RevenueToMSEK   int64  `json:"revenue_to_msek" validate:"required,gtefield=RevenueFromMSEK"`
	ProfitFromMSEK  *int64 `json:"profit_from_msek,omitempty"`
	ProfitToMSEK    *int64 `json:"profit_to_msek,omitempty"`
	CompanyType     string `json:"company_type" validate:"required,eq=AB"`
}

// NormalizedFilters is the kSEK-denominated, upstream-query-ready form of
// Filters. All downstream components (segmentation query building,
// filterHash) operate on this, never on the raw mSEK input.
type NormalizedFilters struct {
	RevenueFromKSEK int64  `json:"revenueFrom"`
	RevenueToKSEK   int64  `json:"revenueTo"`
	ProfitFromKSEK  *int64 `json:"profitFrom,omitempty"`
	ProfitToKSEK    *int64 `json:"profitTo,omitempty"`
	CompanyType     string `json:"companyType"`
}

const mSEKToKSEKFactor = 1000

// Normalize multiplies the mSEK bounds by 1000 to produce the kSEK form the
// upstream API and staging store use. Idempotence: calling Normalize on an
// already-normalized value and re-deriving Filters from it must round-trip,
// so this is the single place the ×1000 conversion happens.
func (f Filters) Normalize() NormalizedFilters {
	n := NormalizedFilters{
		RevenueFromKSEK: f.RevenueFromMSEK * mSEKToKSEKFactor,
		RevenueToKSEK:   f.RevenueToMSEK * mSEKToKSEKFactor,
		CompanyType:     f.CompanyType,
	}
	if f.ProfitFromMSEK != nil {
		v := *f.ProfitFromMSEK * mSEKToKSEKFactor
		n.ProfitFromKSEK = &v
	}
	if f.ProfitToMSEK != nil {
		v := *f.ProfitToMSEK * mSEKToKSEKFactor
		n.ProfitToKSEK = &v
	}
	return n
}

// Hash computes filterHash: a 256-bit hash over the sorted-key JSON of the
// normalized structure. Two Filters values that normalize identically
// produce the same hash regardless of input key order.
func (f Filters) Hash() (string, error) {
	n := f.Normalize()

	m := map[string]interface{}{
		"revenueFrom": n.RevenueFromKSEK,
		"revenueTo":   n.RevenueToKSEK,
		"companyType": n.CompanyType,
	}
	if n.ProfitFromKSEK != nil {
		m["profitFrom"] = *n.ProfitFromKSEK
	}
	if n.ProfitToKSEK != nil {
		m["profitTo"] = *n.ProfitToKSEK
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 256)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return "", fmt.Errorf("marshal filter key: %w", err)
		}
		valJSON, err := json.Marshal(m[k])
		if err != nil {
			return "", fmt.Errorf("marshal filter value: %w", err)
		}
		ordered = append(ordered, keyJSON...)
		ordered = append(ordered, ':')
		ordered = append(ordered, valJSON...)
	}
	ordered = append(ordered, '}')

	sum := sha256.Sum256(ordered)
	return hex.EncodeToString(sum[:]), nil
}
