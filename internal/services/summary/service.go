// Package summary rolls quality issues up into per-day, per-source counts.
package summary

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ipopipe/internal/domain"
	"ipopipe/internal/logging"
	"ipopipe/internal/ports"
)

type Service struct {
	store ports.Store
	loc   *time.Location
}

// NewService aggregates calendar days in loc; nil means UTC.
func NewService(store ports.Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, loc: loc}
}

// AggregateDaily replaces the summary rows for day's calendar date and
// returns how many sources were summarised. A day without issues writes
// nothing and returns 0.
func (s *Service) AggregateDaily(ctx context.Context, day time.Time) (int, error) {
	y, m, d := day.In(s.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 0, 1)
	summaryDate := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var n int
	err := s.store.WithTx(ctx, func(tx ports.Tx) error {
		counts, err := tx.CountIssues(ctx, start.UTC(), end.UTC())
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			return nil
		}
		rows := Summarize(summaryDate, counts)
		n = len(rows)
		return tx.ReplaceDailySummaries(ctx, summaryDate, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("aggregate %s: %w", summaryDate.Format(time.DateOnly), err)
	}
	logging.FromContext(ctx).Info().Str("summary_date", summaryDate.Format(time.DateOnly)).Int("sources", n).Msg("daily quality summary")
	return n, nil
}

// Summarize turns severity counts into summary rows ordered by source.
func Summarize(day time.Time, counts ports.SeverityCounts) []domain.DailyQualitySummary {
	rows := make([]domain.DailyQualitySummary, 0, len(counts))
	for source, bySeverity := range counts {
		row := domain.DailyQualitySummary{
			SummaryDate: day,
			Source:      source,
			PassCount:   bySeverity[domain.SeverityPass],
			WarnCount:   bySeverity[domain.SeverityWarn],
			FailCount:   bySeverity[domain.SeverityFail],
		}
		if total := row.PassCount + row.WarnCount + row.FailCount; total > 0 {
			row.FailRate = float64(row.FailCount) / float64(total)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Source < rows[j].Source })
	return rows
}

// List reads stored summaries with inclusive date bounds.
func (s *Service) List(ctx context.Context, f ports.SummaryFilter) ([]domain.DailyQualitySummary, error) {
	return s.store.ListSummaries(ctx, f)
}
