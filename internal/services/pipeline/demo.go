package pipeline

import (
	"context"

	"ipopipe/internal/domain"
)

const DemoBatchID = "demo-seed-batch"

// DemoBatch is a single clean KIND/DART pair used to populate empty stores.
func DemoBatch() domain.Batch {
	return domain.Batch{
		BatchID: DemoBatchID,
		ListingRows: []map[string]any{{
			"corp_name":    "alpha-tech",
			"market":       "KOSDAQ",
			"stage":        "offering",
			"listing_date": "2026-03-15",
			"lead_manager": "future-securities",
		}},
		DisclosureRows: []map[string]any{{
			"corp_code": "00126380",
			"corp_name": "alpha-tech",
			"rcept_no":  "20260214000001",
			"report_nm": "securities filing",
			"rcept_dt":  "20260214",
		}},
		KrxRows: []domain.KrxDatasetPayload{},
	}
}

// EnsureDemoIfEmpty seeds DemoBatch when no pipeline items exist. It reports
// whether a seed run happened. Concurrent callers are serialized so only
// one of them seeds.
func (s *Service) EnsureDemoIfEmpty(ctx context.Context) (bool, error) {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	n, err := s.store.CountPipelineItems(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := s.Run(ctx, DemoBatch()); err != nil {
		return false, err
	}
	return true, nil
}
