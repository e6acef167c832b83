// Package pipeline runs one batch through normalization, reconciliation and
// the quality gate, then publishes or blocks it.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"ipopipe/internal/domain"
	"ipopipe/internal/etl"
	"ipopipe/internal/logging"
	"ipopipe/internal/ports"
)

const (
	SnapshotType       = "ipo_pipeline"
	BlockedQualityFail = "quality_fail"
	defaultStage       = "offering"
)

type State string

const (
	StateNormalizing State = "NORMALIZING"
	StateReconciling State = "RECONCILING"
	StateEvaluating  State = "EVALUATING"
	StatePublishing  State = "PUBLISHING"
	StateBlocked     State = "BLOCKED"
)

type RunResult struct {
	Published bool                  `json:"published"`
	Issues    []domain.QualityIssue `json:"issues"`
}

type Service struct {
	store ports.Store
	gate  ports.QualityGate
	now   func() time.Time

	seedMu sync.Mutex
}

func NewService(store ports.Store, gate ports.QualityGate) *Service {
	return &Service{store: store, gate: gate, now: time.Now}
}

// Evaluate runs the quality gate over a raw batch without persisting anything.
func (s *Service) Evaluate(b domain.Batch) domain.GateResult {
	return s.gate.Run(etl.NormalizeListingRows(b.ListingRows), etl.NormalizeDisclosureRows(b.DisclosureRows), b.KrxRows)
}

// Run is the single pipeline entry point. Quality failures are reported in
// the result; the error is reserved for persistence failures.
func (s *Service) Run(ctx context.Context, b domain.Batch) (RunResult, error) {
	log := logging.FromContext(ctx).With().Str("batch_id", b.BatchID).Logger()
	trace := func(st State) { log.Debug().Str("state", string(st)).Msg("pipeline state") }

	trace(StateNormalizing)
	kind := etl.NormalizeListingRows(b.ListingRows)
	dart := etl.NormalizeDisclosureRows(b.DisclosureRows)

	trace(StateReconciling)
	merged := etl.Reconcile(kind, dart)

	trace(StateEvaluating)
	gate := s.gate.Run(kind, dart, b.KrxRows)
	issues := gate.Issues
	if issues == nil {
		issues = []domain.QualityIssue{}
	}

	batchID := domain.StrPtr(b.BatchID)
	entry := domain.PublishLogEntry{
		SnapshotType: SnapshotType,
		EntityKey:    b.BatchID,
		BatchID:      batchID,
		PublishedAt:  s.now().UTC(),
	}
	if entry.EntityKey == "" {
		entry.EntityKey = "unknown"
	}

	if gate.HasFail() {
		trace(StateBlocked)
		reason := BlockedQualityFail
		entry.BlockedReason = &reason
		err := s.store.WithTx(ctx, func(tx ports.Tx) error {
			if err := tx.InsertIssues(ctx, batchID, issues, entry.PublishedAt); err != nil {
				return err
			}
			return tx.InsertPublishLog(ctx, entry)
		})
		if err != nil {
			return RunResult{}, fmt.Errorf("persist blocked batch %s: %w", entry.EntityKey, err)
		}
		log.Info().Int("issues", len(issues)).Msg("batch blocked")
		return RunResult{Published: false, Issues: issues}, nil
	}

	trace(StatePublishing)
	items := buildItems(merged)
	entry.Published = true
	err := s.store.WithTx(ctx, func(tx ports.Tx) error {
		if err := tx.InsertIssues(ctx, batchID, issues, entry.PublishedAt); err != nil {
			return err
		}
		if err := tx.UpsertPipelineItems(ctx, items); err != nil {
			return err
		}
		return tx.InsertPublishLog(ctx, entry)
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("publish batch %s: %w", entry.EntityKey, err)
	}
	log.Info().Int("items", len(items)).Int("issues", len(issues)).Msg("batch published")
	return RunResult{Published: true, Issues: issues}, nil
}

func buildItems(merged []domain.ReconciledItem) []domain.PipelineItem {
	items := make([]domain.PipelineItem, 0, len(merged))
	for i, row := range merged {
		ordinal := strconv.Itoa(i + 1)
		stage := row.Stage
		if stage == "" {
			stage = defaultStage
		}
		items = append(items, domain.PipelineItem{
			PipelineID:        row.CorpName + "-" + ordinal,
			CorpName:          row.CorpName,
			CorpCode:          row.CorpCode,
			Market:            row.Market,
			Stage:             stage,
			KeyDates:          map[string]*string{"listing_date": row.ListingDate},
			LeadManager:       row.LeadManager,
			SourceKindRowID:   &ordinal,
			SourceDartRceptNo: row.SourceDartRceptNo,
			ListingDate:       parseListingDate(row.ListingDate),
		})
	}
	return items
}

// parseListingDate accepts YYYYMMDD or YYYY-MM-DD; anything else is nil.
func parseListingDate(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	cleaned := strings.ReplaceAll(*raw, "-", "")
	if len(cleaned) != 8 {
		return nil
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return nil
		}
	}
	d, err := time.Parse("20060102", cleaned)
	if err != nil {
		return nil
	}
	return &d
}

func (s *Service) ListItems(ctx context.Context) ([]domain.PipelineItem, error) {
	return s.store.ListPipelineItems(ctx)
}

// GetItem returns ports.ErrNotFound for unknown ids.
func (s *Service) GetItem(ctx context.Context, pipelineID string) (domain.PipelineItem, error) {
	return s.store.GetPipelineItem(ctx, pipelineID)
}
