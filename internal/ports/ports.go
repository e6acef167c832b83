package ports

import (
	"context"

	"ipopipe/internal/domain"
)

// ListingSource returns raw KIND listing-status rows.
type ListingSource interface {
	FetchListingRows(ctx context.Context) ([]map[string]any, error)
}

// DisclosureQuery selects a page of DART filings for one company.
type DisclosureQuery struct {
	CorpCode     string
	PageNo       int
	PageCount    int
	LastReportAt string
	BeginDate    string
	EndDate      string
}

// DisclosureSource returns raw DART filing rows.
type DisclosureSource interface {
	FetchDisclosureRows(ctx context.Context, q DisclosureQuery) ([]map[string]any, error)
}

// DatasetFetcher fetches one KRX API path. Errors are classified with
// UpstreamError so callers can tell access denials from auth failures.
type DatasetFetcher interface {
	FetchDataset(ctx context.Context, apiPath string, params map[string]string) (map[string]any, error)
}

// BldFetcher fetches a KRX data portal dataset by bld identifier.
type BldFetcher interface {
	FetchBld(ctx context.Context, bld string, params map[string]string) (map[string]any, error)
}

// QualityGate evaluates a normalized batch.
type QualityGate interface {
	Run(kind []domain.ListingRow, dart []domain.DisclosureRow, krx []domain.KrxDatasetPayload) domain.GateResult
}
