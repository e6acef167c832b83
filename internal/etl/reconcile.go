package etl

import "ipopipe/internal/domain"

// Reconcile links each listing row to the disclosure row with the same
// corp_name. On duplicate names the last disclosure row wins. Output keeps
// the listing order; unmatched rows get nil corp_code and rcept_no.
func Reconcile(listing []domain.ListingRow, disclosures []domain.DisclosureRow) []domain.ReconciledItem {
	byName := make(map[string]domain.DisclosureRow, len(disclosures))
	for _, d := range disclosures {
		byName[d.CorpName] = d
	}
	out := make([]domain.ReconciledItem, 0, len(listing))
	for _, row := range listing {
		item := domain.ReconciledItem{ListingRow: row}
		if d, ok := byName[row.CorpName]; ok {
			item.CorpCode = d.CorpCode
			item.SourceDartRceptNo = d.RceptNo
		}
		out = append(out, item)
	}
	return out
}
