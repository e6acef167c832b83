package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ipopipe/internal/domain"
	"ipopipe/internal/ports"
)

// Tx side

func (t *txn) InsertIssues(ctx context.Context, batchID *string, issues []domain.QualityIssue, observedAt time.Time) error {
	if len(issues) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
        INSERT INTO data_quality_issue (source, rule_code, severity, entity_type, entity_key, message, batch_id, observed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()
	ts := formatTS(observedAt)
	for _, is := range issues {
		if _, err := stmt.ExecContext(ctx, string(is.Source), is.RuleCode, string(is.Severity), is.EntityType, is.EntityKey, is.Message, batchID, ts); err != nil {
			return fmt.Errorf("insert issue %s: %w", is.RuleCode, err)
		}
	}
	return nil
}

func (t *txn) InsertPublishLog(ctx context.Context, e domain.PublishLogEntry) error {
	_, err := t.tx.ExecContext(ctx, `
        INSERT INTO snapshot_publish_log (snapshot_type, entity_key, published, blocked_reason, batch_id, published_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `, e.SnapshotType, e.EntityKey, e.Published, e.BlockedReason, e.BatchID, formatTS(e.PublishedAt))
	return err
}

func (t *txn) UpsertPipelineItems(ctx context.Context, items []domain.PipelineItem) error {
	stmt, err := t.tx.PrepareContext(ctx, `
        INSERT INTO ipo_pipeline_item (
            pipeline_id, corp_name, corp_code, expected_stock_code, market, stage, key_dates,
            offer_price, offer_amount, lead_manager, source_kind_row_id, source_dart_rcept_no, listing_date
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (pipeline_id) DO UPDATE SET
            corp_name = excluded.corp_name,
            corp_code = excluded.corp_code,
            expected_stock_code = excluded.expected_stock_code,
            market = excluded.market,
            stage = excluded.stage,
            key_dates = excluded.key_dates,
            offer_price = excluded.offer_price,
            offer_amount = excluded.offer_amount,
            lead_manager = excluded.lead_manager,
            source_kind_row_id = excluded.source_kind_row_id,
            source_dart_rcept_no = excluded.source_dart_rcept_no,
            listing_date = excluded.listing_date
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, it := range items {
		keyDates, err := json.Marshal(it.KeyDates)
		if err != nil {
			return err
		}
		var listing *string
		if it.ListingDate != nil {
			d := formatDate(*it.ListingDate)
			listing = &d
		}
		if _, err := stmt.ExecContext(ctx,
			it.PipelineID, it.CorpName, it.CorpCode, it.ExpectedStockCode, it.Market, it.Stage, string(keyDates),
			it.OfferPrice, it.OfferAmount, it.LeadManager, it.SourceKindRowID, it.SourceDartRceptNo, listing,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", it.PipelineID, err)
		}
	}
	return nil
}

func (t *txn) CountIssues(ctx context.Context, from, to time.Time) (ports.SeverityCounts, error) {
	rows, err := t.tx.QueryContext(ctx, `
        SELECT source, severity, COUNT(*)
        FROM data_quality_issue
        WHERE observed_at >= ? AND observed_at < ?
        GROUP BY source, severity
    `, formatTS(from), formatTS(to))
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
	d := formatDate(day)
	for _, row := range summaries {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM data_quality_summary_daily WHERE summary_date = ? AND source = ?`, d, string(row.Source)); err != nil {
			return err
		}
	}
	for _, row := range summaries {
		if _, err := t.tx.ExecContext(ctx, `
            INSERT INTO data_quality_summary_daily (summary_date, source, pass_count, warn_count, fail_count, fail_rate)
            VALUES (?, ?, ?, ?, ?, ?)
        `, d, string(row.Source), row.PassCount, row.WarnCount, row.FailCount, row.FailRate); err != nil {
			return err
		}
	}
	return nil
}

// Read side

const pipelineColumns = `pipeline_id, corp_name, corp_code, expected_stock_code, market, stage, key_dates,
    offer_price, offer_amount, lead_manager, source_kind_row_id, source_dart_rcept_no, listing_date`

type scanner interface {
	Scan(dest ...any) error
}

func scanPipelineItem(sc scanner) (domain.PipelineItem, error) {
	var it domain.PipelineItem
	var keyDates, listing sql.NullString
	if err := sc.Scan(&it.PipelineID, &it.CorpName, &it.CorpCode, &it.ExpectedStockCode, &it.Market, &it.Stage, &keyDates,
		&it.OfferPrice, &it.OfferAmount, &it.LeadManager, &it.SourceKindRowID, &it.SourceDartRceptNo, &listing); err != nil {
		return it, err
	}
	if keyDates.Valid && keyDates.String != "" {
		if err := json.Unmarshal([]byte(keyDates.String), &it.KeyDates); err != nil {
			return it, fmt.Errorf("key_dates for %s: %w", it.PipelineID, err)
		}
	}
	if listing.Valid {
		d, err := parseDate(listing.String)
		if err != nil {
			return it, err
		}
		it.ListingDate = &d
	}
	return it, nil
}

func (s *DB) ListPipelineItems(ctx context.Context) ([]domain.PipelineItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pipelineColumns+` FROM ipo_pipeline_item ORDER BY pipeline_id`)
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

func (s *DB) GetPipelineItem(ctx context.Context, pipelineID string) (domain.PipelineItem, error) {
	it, err := scanPipelineItem(s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM ipo_pipeline_item WHERE pipeline_id = ?`, pipelineID))
	if errors.Is(err, sql.ErrNoRows) {
		return it, ports.ErrNotFound
	}
	return it, err
}

func (s *DB) CountPipelineItems(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ipo_pipeline_item`).Scan(&n)
	return n, err
}

// where collects AND-ed predicates with positional args.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (s *DB) ListIssues(ctx context.Context, f ports.IssueFilter) ([]domain.StoredIssue, error) {
	var w where
	if f.Source != "" {
		w.add("source = ?", string(f.Source))
	}
	if f.Severity != "" {
		w.add("severity = ?", string(f.Severity))
	}
	if f.RuleCode != "" {
		w.add("rule_code = ?", f.RuleCode)
	}
	if f.EntityKey != "" {
		w.add("entity_key = ?", f.EntityKey)
	}
	if f.BatchID != "" {
		w.add("batch_id = ?", f.BatchID)
	}
	if !f.From.IsZero() {
		w.add("observed_at >= ?", formatTS(f.From))
	}
	if !f.To.IsZero() {
		w.add("observed_at < ?", formatTS(f.To))
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, source, rule_code, severity, entity_type, entity_key, message, batch_id, observed_at
        FROM data_quality_issue`+w.String()+` ORDER BY id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StoredIssue
	for rows.Next() {
		var is domain.StoredIssue
		var source, severity, observed string
		if err := rows.Scan(&is.ID, &source, &is.RuleCode, &severity, &is.EntityType, &is.EntityKey, &is.Message, &is.BatchID, &observed); err != nil {
			return nil, err
		}
		is.Source = domain.Source(source)
		is.Severity = domain.Severity(severity)
		if is.ObservedAt, err = parseTS(observed); err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

func (s *DB) ListSummaries(ctx context.Context, f ports.SummaryFilter) ([]domain.DailyQualitySummary, error) {
	var w where
	if f.Source != "" {
		w.add("source = ?", string(f.Source))
	}
	if !f.From.IsZero() {
		w.add("summary_date >= ?", formatDate(f.From))
	}
	if !f.To.IsZero() {
		w.add("summary_date <= ?", formatDate(f.To))
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT summary_date, source, pass_count, warn_count, fail_count, fail_rate
        FROM data_quality_summary_daily`+w.String()+` ORDER BY summary_date DESC, source`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DailyQualitySummary
	for rows.Next() {
		var row domain.DailyQualitySummary
		var day, source string
		if err := rows.Scan(&day, &source, &row.PassCount, &row.WarnCount, &row.FailCount, &row.FailRate); err != nil {
			return nil, err
		}
		row.Source = domain.Source(source)
		if row.SummaryDate, err = parseDate(day); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *DB) ListPublishLog(ctx context.Context, f ports.PublishLogFilter) ([]domain.PublishLogEntry, error) {
	var w where
	if f.SnapshotType != "" {
		w.add("snapshot_type = ?", f.SnapshotType)
	}
	if f.EntityKey != "" {
		w.add("entity_key = ?", f.EntityKey)
	}
	if f.BatchID != "" {
		w.add("batch_id = ?", f.BatchID)
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, snapshot_type, entity_key, published, blocked_reason, batch_id, published_at
        FROM snapshot_publish_log`+w.String()+` ORDER BY id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PublishLogEntry
	for rows.Next() {
		var e domain.PublishLogEntry
		var published string
		if err := rows.Scan(&e.ID, &e.SnapshotType, &e.EntityKey, &e.Published, &e.BlockedReason, &e.BatchID, &published); err != nil {
			return nil, err
		}
		if e.PublishedAt, err = parseTS(published); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) GetDataset(ctx context.Context, datasetKey string) (domain.DatasetRegistryEntry, error) {
	var e domain.DatasetRegistryEntry
	var params sql.NullString
	err := s.db.QueryRowContext(ctx, `
        SELECT dataset_key, bld, required_params, market_scope, description
        FROM dataset_registry WHERE dataset_key = ?
    `, datasetKey).Scan(&e.DatasetKey, &e.Bld, &params, &e.MarketScope, &e.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ports.ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &e.RequiredParams); err != nil {
			return e, fmt.Errorf("required_params for %s: %w", datasetKey, err)
		}
	}
	return e, nil
}

func (s *DB) UpsertDataset(ctx context.Context, e domain.DatasetRegistryEntry) error {
	params, err := json.Marshal(e.RequiredParams)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO dataset_registry (dataset_key, bld, required_params, market_scope, description)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (dataset_key) DO UPDATE SET
            bld = excluded.bld,
            required_params = excluded.required_params,
            market_scope = excluded.market_scope,
            description = excluded.description
    `, e.DatasetKey, e.Bld, string(params), e.MarketScope, e.Description)
	return err
}

func (s *DB) InsertRawPayloads(ctx context.Context, payloads []domain.RawPayload) error {
	if len(payloads) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range payloads {
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO raw_payload_log (source, endpoint, request_key, payload, created_at)
                VALUES (?, ?, ?, ?, ?)
            `, string(p.Source), p.Endpoint, p.RequestKey, string(p.Payload), formatTS(p.CreatedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}
