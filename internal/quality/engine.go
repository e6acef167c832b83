package quality

import (
	"ipopipe/internal/domain"
)

// Engine runs every evaluator over a batch.
type Engine struct {
	catalog *Catalog
}

// NewEngine fails if an evaluator could emit a code the catalog does not list.
func NewEngine(catalog *Catalog) (*Engine, error) {
	if err := catalog.Validate(EmittedRuleCodes); err != nil {
		return nil, err
	}
	return &Engine{catalog: catalog}, nil
}

func (e *Engine) Catalog() *Catalog { return e.catalog }

// Run evaluates DART rows, then KIND rows, then KRX payloads, then the
// cross-source rules. The order is fixed so fixtures stay reproducible.
func (e *Engine) Run(kind []domain.ListingRow, dart []domain.DisclosureRow, krx []domain.KrxDatasetPayload) domain.GateResult {
	var issues []domain.QualityIssue
	for _, row := range dart {
		issues = append(issues, EvaluateDart(row, Target{
			Source:     domain.SourceDART,
			EntityType: "disclosure",
			EntityKey:  orUnknown(domain.Deref(row.CorpCode)),
		})...)
	}
	for _, row := range kind {
		issues = append(issues, EvaluateKind(row, Target{
			Source:     domain.SourceKIND,
			EntityType: "ipo",
			EntityKey:  orUnknown(row.CorpName),
		})...)
	}
	for _, p := range krx {
		issues = append(issues, EvaluateKrx(p, Target{
			Source:     domain.SourceKRX,
			EntityType: "dataset",
			EntityKey:  orUnknown(p.DatasetKey),
		})...)
	}
	issues = append(issues, EvaluateCross(kind, dart, krx)...)
	return domain.GateResult{Issues: issues}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
