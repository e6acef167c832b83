package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"ipopipe/internal/domain"
	"ipopipe/internal/ports"
)

// PipelineRepository

const pipelineColumns = `pipeline_id, corp_name, corp_code, expected_stock_code, market, stage, key_dates,
    offer_price, offer_amount, lead_manager, source_kind_row_id, source_dart_rcept_no, listing_date`

func scanPipelineItem(row pgx.Row) (domain.PipelineItem, error) {
	var it domain.PipelineItem
	err := row.Scan(&it.PipelineID, &it.CorpName, &it.CorpCode, &it.ExpectedStockCode, &it.Market, &it.Stage, &it.KeyDates,
		&it.OfferPrice, &it.OfferAmount, &it.LeadManager, &it.SourceKindRowID, &it.SourceDartRceptNo, &it.ListingDate)
	return it, err
}

func (db *DB) ListPipelineItems(ctx context.Context) ([]domain.PipelineItem, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+pipelineColumns+` FROM ipo_pipeline_item ORDER BY pipeline_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PipelineItem
	for rows.Next() {
		it, err := scanPipelineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (db *DB) GetPipelineItem(ctx context.Context, pipelineID string) (domain.PipelineItem, error) {
	it, err := scanPipelineItem(db.Pool.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM ipo_pipeline_item WHERE pipeline_id = $1`, pipelineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return it, ports.ErrNotFound
	}
	return it, err
}

func (db *DB) CountPipelineItems(ctx context.Context) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM ipo_pipeline_item`).Scan(&n)
	return n, err
}

// where numbers its placeholders as predicates are added.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// QualityRepository

func (db *DB) ListIssues(ctx context.Context, f ports.IssueFilter) ([]domain.StoredIssue, error) {
	var w where
	if f.Source != "" {
		w.add("source = %s", string(f.Source))
	}
	if f.Severity != "" {
		w.add("severity = %s", string(f.Severity))
	}
	if f.RuleCode != "" {
		w.add("rule_code = %s", f.RuleCode)
	}
	if f.EntityKey != "" {
		w.add("entity_key = %s", f.EntityKey)
	}
	if f.BatchID != "" {
		w.add("batch_id = %s", f.BatchID)
	}
	if !f.From.IsZero() {
		w.add("observed_at >= %s", f.From)
	}
	if !f.To.IsZero() {
		w.add("observed_at < %s", f.To)
	}
	rows, err := db.Pool.Query(ctx, `
        SELECT id, source, rule_code, severity, entity_type, entity_key, message, batch_id, observed_at
        FROM data_quality_issue`+w.String()+` ORDER BY id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StoredIssue
	for rows.Next() {
		var is domain.StoredIssue
		var source, severity string
		if err := rows.Scan(&is.ID, &source, &is.RuleCode, &severity, &is.EntityType, &is.EntityKey, &is.Message, &is.BatchID, &is.ObservedAt); err != nil {
			return nil, err
		}
		is.Source = domain.Source(source)
		is.Severity = domain.Severity(severity)
		out = append(out, is)
	}
	return out, rows.Err()
}

func (db *DB) ListSummaries(ctx context.Context, f ports.SummaryFilter) ([]domain.DailyQualitySummary, error) {
	var w where
	if f.Source != "" {
		w.add("source = %s", string(f.Source))
	}
	if !f.From.IsZero() {
		w.add("summary_date >= %s", f.From)
	}
	if !f.To.IsZero() {
		w.add("summary_date <= %s", f.To)
	}
	rows, err := db.Pool.Query(ctx, `
        SELECT summary_date, source, pass_count, warn_count, fail_count, fail_rate
        FROM data_quality_summary_daily`+w.String()+` ORDER BY summary_date DESC, source`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DailyQualitySummary
	for rows.Next() {
		var row domain.DailyQualitySummary
		var source string
		if err := rows.Scan(&row.SummaryDate, &source, &row.PassCount, &row.WarnCount, &row.FailCount, &row.FailRate); err != nil {
			return nil, err
		}
		row.Source = domain.Source(source)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (db *DB) ListPublishLog(ctx context.Context, f ports.PublishLogFilter) ([]domain.PublishLogEntry, error) {
	var w where
	if f.SnapshotType != "" {
		w.add("snapshot_type = %s", f.SnapshotType)
	}
	if f.EntityKey != "" {
		w.add("entity_key = %s", f.EntityKey)
	}
	if f.BatchID != "" {
		w.add("batch_id = %s", f.BatchID)
	}
	rows, err := db.Pool.Query(ctx, `
        SELECT id, snapshot_type, entity_key, published, blocked_reason, batch_id, published_at
        FROM snapshot_publish_log`+w.String()+` ORDER BY id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PublishLogEntry
	for rows.Next() {
		var e domain.PublishLogEntry
		if err := rows.Scan(&e.ID, &e.SnapshotType, &e.EntityKey, &e.Published, &e.BlockedReason, &e.BatchID, &e.PublishedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DatasetRepository

func (db *DB) GetDataset(ctx context.Context, datasetKey string) (domain.DatasetRegistryEntry, error) {
	var e domain.DatasetRegistryEntry
	err := db.Pool.QueryRow(ctx, `
        SELECT dataset_key, bld, COALESCE(required_params, '{}'::jsonb), market_scope, description
        FROM dataset_registry WHERE dataset_key = $1
    `, datasetKey).Scan(&e.DatasetKey, &e.Bld, &e.RequiredParams, &e.MarketScope, &e.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, ports.ErrNotFound
	}
	return e, err
}

func (db *DB) UpsertDataset(ctx context.Context, e domain.DatasetRegistryEntry) error {
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO dataset_registry (dataset_key, bld, required_params, market_scope, description)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (dataset_key) DO UPDATE SET
            bld = EXCLUDED.bld,
            required_params = EXCLUDED.required_params,
            market_scope = EXCLUDED.market_scope,
            description = EXCLUDED.description
    `, e.DatasetKey, e.Bld, e.RequiredParams, e.MarketScope, e.Description)
	return err
}

// RawPayloadRepository

func (db *DB) InsertRawPayloads(ctx context.Context, payloads []domain.RawPayload) error {
	if len(payloads) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(payloads))
	for _, p := range payloads {
		rows = append(rows, []any{string(p.Source), p.Endpoint, p.RequestKey, string(p.Payload), p.CreatedAt})
	}
	_, err := db.Pool.CopyFrom(ctx,
		pgx.Identifier{"raw_payload_log"},
		[]string{"source", "endpoint", "request_key", "payload", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}
