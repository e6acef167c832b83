package domain

import "time"

// Core domain models used internally. Raw upstream payloads stay as maps only
// at the connector boundary; everything past the Normalizer is typed.

type Source string

const (
	SourceDART   Source = "DART"
	SourceKIND   Source = "KIND"
	SourceKRX    Source = "KRX"
	SourceCROSS  Source = "CROSS"
	SourceCOMMON Source = "COMMON"
)

type Severity string

const (
	SeverityPass Severity = "PASS"
	SeverityWarn Severity = "WARN"
	SeverityFail Severity = "FAIL"
)

// ListingRow is a KIND listing-status row after normalization.
type ListingRow struct {
	CorpName           string
	Market             *string
	Stage              string
	ListingDate        *string
	SubscriptionDate   *string
	DemandForecastDate *string
	LeadManager        *string
}

// DisclosureRow is one DART filing after normalization.
type DisclosureRow struct {
	CorpCode *string
	CorpName string
	RceptNo  *string
	ReportNm *string
	RceptDt  *string
}

// ReconciledItem is a listing row linked to its disclosure by exact name.
type ReconciledItem struct {
	ListingRow
	CorpCode          *string
	SourceDartRceptNo *string
}

// KrxDatasetPayload is one fetched KRX API path. Response is the decoded
// body; OutBlock_1 may be absent.
type KrxDatasetPayload struct {
	DatasetKey     string            `json:"dataset_key" yaml:"dataset_key"`
	RequiredParams map[string]string `json:"required_params" yaml:"required_params"`
	RequestParams  map[string]string `json:"request_params" yaml:"request_params"`
	Response       map[string]any    `json:"response" yaml:"response"`
}

type QualityIssue struct {
	Source     Source   `json:"source"`
	RuleCode   string   `json:"rule_code"`
	Severity   Severity `json:"severity"`
	EntityType string   `json:"entity_type"`
	EntityKey  string   `json:"entity_key"`
	Message    string   `json:"message"`
}

// StoredIssue is a QualityIssue as persisted for one batch.
type StoredIssue struct {
	ID int64 `json:"id"`
	QualityIssue
	BatchID    *string   `json:"batch_id"`
	ObservedAt time.Time `json:"observed_at"`
}

type GateResult struct {
	Issues []QualityIssue
}

// HasFail is the sole publish-blocking signal.
func (g GateResult) HasFail() bool {
	for _, is := range g.Issues {
		if is.Severity == SeverityFail {
			return true
		}
	}
	return false
}

type RuleMeta struct {
	RuleCode       string   `json:"rule_code"`
	Source         Source   `json:"source"`
	Severity       Severity `json:"severity"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	OperatorAction string   `json:"operator_action"`
}

type PublishLogEntry struct {
	ID            int64     `json:"id"`
	SnapshotType  string    `json:"snapshot_type"`
	EntityKey     string    `json:"entity_key"`
	Published     bool      `json:"published"`
	BlockedReason *string   `json:"blocked_reason"`
	BatchID       *string   `json:"batch_id"`
	PublishedAt   time.Time `json:"published_at"`
}

// PipelineItem is the persisted canonical IPO record, keyed by PipelineID.
type PipelineItem struct {
	PipelineID        string             `json:"pipeline_id"`
	CorpName          string             `json:"corp_name"`
	CorpCode          *string            `json:"corp_code"`
	ExpectedStockCode *string            `json:"expected_stock_code"`
	Market            *string            `json:"market"`
	Stage             string             `json:"stage"`
	KeyDates          map[string]*string `json:"key_dates"`
	OfferPrice        *float64           `json:"offer_price"`
	OfferAmount       *float64           `json:"offer_amount"`
	LeadManager       *string            `json:"lead_manager"`
	SourceKindRowID   *string            `json:"source_kind_row_id"`
	SourceDartRceptNo *string            `json:"source_dart_rcept_no"`
	ListingDate       *time.Time         `json:"listing_date"`
}

type DailyQualitySummary struct {
	SummaryDate time.Time `json:"summary_date"`
	Source      Source    `json:"source"`
	PassCount   int       `json:"pass_count"`
	WarnCount   int       `json:"warn_count"`
	FailCount   int       `json:"fail_count"`
	FailRate    float64   `json:"fail_rate"`
}

// DatasetRegistryEntry maps a logical dataset key to a KRX data portal bld.
type DatasetRegistryEntry struct {
	DatasetKey     string            `json:"dataset_key" yaml:"dataset_key"`
	Bld            string            `json:"bld" yaml:"bld"`
	RequiredParams map[string]string `json:"required_params" yaml:"required_params"`
	MarketScope    *string           `json:"market_scope" yaml:"market_scope"`
	Description    *string           `json:"description" yaml:"description"`
}

// RawPayload is an upstream response captured verbatim for audit.
type RawPayload struct {
	Source     Source
	Endpoint   string
	RequestKey *string
	Payload    []byte
	CreatedAt  time.Time
}

// Batch is one pipeline run's input. Rows are raw connector output.
type Batch struct {
	BatchID        string              `json:"batch_id" yaml:"batch_id"`
	ListingRows    []map[string]any    `json:"kind_rows" yaml:"kind_rows"`
	DisclosureRows []map[string]any    `json:"dart_rows" yaml:"dart_rows"`
	KrxRows        []KrxDatasetPayload `json:"krx_rows" yaml:"krx_rows"`
}

// StrPtr returns nil for the empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
