// Package etl shapes raw connector rows into typed records and links them
// across sources.
package etl

import (
	"fmt"
	"strings"

	"ipopipe/internal/domain"
)

// NormalizeListingRows maps raw KIND rows to ListingRow. Nothing is
// validated here; bad values survive for the quality engine to flag.
func NormalizeListingRows(rows []map[string]any) []domain.ListingRow {
	out := make([]domain.ListingRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ListingRow{
			CorpName:           text(row, "corp_name"),
			Market:             optText(row, "market"),
			Stage:              text(row, "stage"),
			ListingDate:        optText(row, "listing_date"),
			SubscriptionDate:   optText(row, "subscription_date"),
			DemandForecastDate: optText(row, "demand_forecast_date"),
			LeadManager:        optText(row, "lead_manager"),
		})
	}
	return out
}

// NormalizeDisclosureRows maps raw DART list rows to DisclosureRow.
func NormalizeDisclosureRows(rows []map[string]any) []domain.DisclosureRow {
	out := make([]domain.DisclosureRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.DisclosureRow{
			CorpCode: optText(row, "corp_code"),
			CorpName: text(row, "corp_name"),
			RceptNo:  optText(row, "rcept_no"),
			ReportNm: optText(row, "report_nm"),
			RceptDt:  optText(row, "rcept_dt"),
		})
	}
	return out
}

func text(row map[string]any, key string) string {
	if v := optText(row, key); v != nil {
		return *v
	}
	return ""
}

// optText returns nil for absent or null values. Present values are kept,
// even when they trim to "".
func optText(row map[string]any, key string) *string {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	return &s
}
