package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ipopipe/internal/domain"
	"ipopipe/internal/ports"
)

// WithTx runs fn inside one transaction; every write of a pipeline run goes
// through here so issues, the publish log and items commit together.
func (db *DB) WithTx(ctx context.Context, fn func(tx ports.Tx) error) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit: %w", cerr)
		}
	}()
	return fn(&txn{tx: tx})
}

type txn struct {
	tx pgx.Tx
}

func (t *txn) InsertIssues(ctx context.Context, batchID *string, issues []domain.QualityIssue, observedAt time.Time) error {
	if len(issues) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, is := range issues {
		batch.Queue(`
            INSERT INTO data_quality_issue (source, rule_code, severity, entity_type, entity_key, message, batch_id, observed_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        `, string(is.Source), is.RuleCode, string(is.Severity), is.EntityType, is.EntityKey, is.Message, batchID, observedAt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txn) InsertPublishLog(ctx context.Context, e domain.PublishLogEntry) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO snapshot_publish_log (snapshot_type, entity_key, published, blocked_reason, batch_id, published_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, e.SnapshotType, e.EntityKey, e.Published, e.BlockedReason, e.BatchID, e.PublishedAt)
	return err
}

func (t *txn) UpsertPipelineItems(ctx context.Context, items []domain.PipelineItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
            INSERT INTO ipo_pipeline_item (
                pipeline_id, corp_name, corp_code, expected_stock_code, market, stage, key_dates,
                offer_price, offer_amount, lead_manager, source_kind_row_id, source_dart_rcept_no, listing_date
            ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
            ON CONFLICT (pipeline_id) DO UPDATE SET
                corp_name = EXCLUDED.corp_name,
                corp_code = EXCLUDED.corp_code,
                expected_stock_code = EXCLUDED.expected_stock_code,
                market = EXCLUDED.market,
                stage = EXCLUDED.stage,
                key_dates = EXCLUDED.key_dates,
                offer_price = EXCLUDED.offer_price,
                offer_amount = EXCLUDED.offer_amount,
                lead_manager = EXCLUDED.lead_manager,
                source_kind_row_id = EXCLUDED.source_kind_row_id,
                source_dart_rcept_no = EXCLUDED.source_dart_rcept_no,
                listing_date = EXCLUDED.listing_date
        `, it.PipelineID, it.CorpName, it.CorpCode, it.ExpectedStockCode, it.Market, it.Stage, it.KeyDates,
			it.OfferPrice, it.OfferAmount, it.LeadManager, it.SourceKindRowID, it.SourceDartRceptNo, it.ListingDate)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txn) CountIssues(ctx context.Context, from, to time.Time) (ports.SeverityCounts, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT source, severity, COUNT(*)
        FROM data_quality_issue
        WHERE observed_at >= $1 AND observed_at < $2
        GROUP BY source, severity
    `, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := ports.SeverityCounts{}
	for rows.Next() {
		var source, severity string
		var n int
		if err := rows.Scan(&source, &severity, &n); err != nil {
			return nil, err
		}
		src := domain.Source(source)
		if out[src] == nil {
			out[src] = map[domain.Severity]int{}
		}
		out[src][domain.Severity(severity)] += n
	}
	return out, rows.Err()
}

func (t *txn) ReplaceDailySummaries(ctx context.Context, day time.Time, summaries []domain.DailyQualitySummary) error {
	for _, row := range summaries {
		if _, err := t.tx.Exec(ctx, `DELETE FROM data_quality_summary_daily WHERE summary_date = $1 AND source = $2`, day, string(row.Source)); err != nil {
			return err
		}
	}
	for _, row := range summaries {
		if _, err := t.tx.Exec(ctx, `
            INSERT INTO data_quality_summary_daily (summary_date, source, pass_count, warn_count, fail_count, fail_rate)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, day, string(row.Source), row.PassCount, row.WarnCount, row.FailCount, row.FailRate); err != nil {
			return err
		}
	}
	return nil
}
