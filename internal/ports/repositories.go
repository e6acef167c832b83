package ports

import (
	"context"
	"time"

	"ipopipe/internal/domain"
)

// IssueFilter narrows quality issue queries. Zero values mean "any".
type IssueFilter struct {
	Source    domain.Source
	Severity  domain.Severity
	RuleCode  string
	EntityKey string
	BatchID   string
	From      time.Time
	To        time.Time
}

type SummaryFilter struct {
	Source domain.Source
	From   time.Time
	To     time.Time
}

type PublishLogFilter struct {
	SnapshotType string
	EntityKey    string
	BatchID      string
}

// SeverityCounts is keyed by source, then severity.
type SeverityCounts map[domain.Source]map[domain.Severity]int

// Tx is the write side of the store, scoped to one transaction.
type Tx interface {
	InsertIssues(ctx context.Context, batchID *string, issues []domain.QualityIssue, observedAt time.Time) error
	InsertPublishLog(ctx context.Context, entry domain.PublishLogEntry) error
	UpsertPipelineItems(ctx context.Context, items []domain.PipelineItem) error
	// CountIssues counts issues observed in [from, to).
	CountIssues(ctx context.Context, from, to time.Time) (SeverityCounts, error)
	ReplaceDailySummaries(ctx context.Context, day time.Time, rows []domain.DailyQualitySummary) error
}

// Store is the persistence collaborator.
type Store interface {
	// WithTx runs fn in one transaction, committing only if fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ListPipelineItems(ctx context.Context) ([]domain.PipelineItem, error)
	GetPipelineItem(ctx context.Context, pipelineID string) (domain.PipelineItem, error)
	CountPipelineItems(ctx context.Context) (int, error)

	ListIssues(ctx context.Context, f IssueFilter) ([]domain.StoredIssue, error)
	ListSummaries(ctx context.Context, f SummaryFilter) ([]domain.DailyQualitySummary, error)
	ListPublishLog(ctx context.Context, f PublishLogFilter) ([]domain.PublishLogEntry, error)

	GetDataset(ctx context.Context, datasetKey string) (domain.DatasetRegistryEntry, error)
	UpsertDataset(ctx context.Context, entry domain.DatasetRegistryEntry) error

	InsertRawPayloads(ctx context.Context, payloads []domain.RawPayload) error

	Close()
}
