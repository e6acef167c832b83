// Package refresh pulls live KIND, DART and KRX data and feeds it through the
// publish pipeline, reporting per-source diagnostics.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ipopipe/internal/domain"
	"ipopipe/internal/logging"
	"ipopipe/internal/ports"
	"ipopipe/internal/services/pipeline"
	"ipopipe/internal/workers/krxfetch"
)

const (
	statusError      = "error"
	statusMissingKey = krxfetch.StatusMissingKey
)

// Deps wires the refresh service. A nil Dart or KRX marks that source as
// missing its API key.
type Deps struct {
	Kind     ports.ListingSource
	Dart     ports.DisclosureSource
	KRX      *krxfetch.Orchestrator
	KRXPaths map[string][]string
	Pipeline *pipeline.Service
	Store    ports.Store
	Location *time.Location
}

type Service struct {
	deps Deps
	now  func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Service{deps: deps, now: time.Now}
}

type Diagnostics struct {
	BatchID      string            `json:"batch_id"`
	Published    bool              `json:"published"`
	IssueCount   int               `json:"issue_count"`
	KindRows     int               `json:"kind_rows"`
	DartRows     int               `json:"dart_rows"`
	KrxRows      int               `json:"krx_rows"`
	KindError    *string           `json:"kind_error"`
	DartError    *string           `json:"dart_error"`
	SourceStatus map[string]string `json:"source_status"`
}

// Refresh never fails because an upstream failed; those are reported in the
// diagnostics. The error is reserved for pipeline persistence failures.
func (s *Service) Refresh(ctx context.Context, corpCode, basDd string) (Diagnostics, error) {
	log := logging.FromContext(ctx)
	status := map[string]string{}
	var diag Diagnostics

	var kindRows []map[string]any
	if rows, err := s.deps.Kind.FetchListingRows(ctx); err != nil {
		msg := err.Error()
		diag.KindError = &msg
		status["kind"] = statusError
		log.Warn().Err(err).Msg("kind fetch failed")
	} else {
		kindRows = rows
		status["kind"] = fmt.Sprintf("ok:%d", len(rows))
	}

	var dartRows []map[string]any
	if s.deps.Dart == nil {
		status["dart"] = statusMissingKey
	} else if rows, err := s.deps.Dart.FetchDisclosureRows(ctx, ports.DisclosureQuery{
		CorpCode: corpCode, PageNo: 1, PageCount: 100, LastReportAt: "Y",
	}); err != nil {
		msg := err.Error()
		diag.DartError = &msg
		status["dart"] = statusError
		log.Warn().Err(err).Str("corp_code", corpCode).Msg("dart fetch failed")
	} else {
		dartRows = rows
		status["dart"] = fmt.Sprintf("ok:%d", len(rows))
	}

	krxRows := s.fetchKRX(ctx, basDd, status)
	diag.KindRows = len(kindRows)
	diag.DartRows = len(dartRows)
	diag.KrxRows = len(krxRows)
	diag.SourceStatus = status

	diag.BatchID = "live-" + s.now().In(s.deps.Location).Format("20060102150405")
	result, err := s.deps.Pipeline.Run(ctx, domain.Batch{
		BatchID:        diag.BatchID,
		ListingRows:    kindRows,
		DisclosureRows: dartRows,
		KrxRows:        krxRows,
	})
	if err != nil {
		return diag, err
	}
	diag.Published = result.Published
	diag.IssueCount = len(result.Issues)
	return diag, nil
}

func (s *Service) fetchKRX(ctx context.Context, basDd string, status map[string]string) []domain.KrxDatasetPayload {
	if s.deps.KRX == nil {
		for category, paths := range s.deps.KRXPaths {
			if len(paths) == 0 {
				status[category] = krxfetch.StatusNotConfigured
			} else {
				status[category] = statusMissingKey
			}
		}
		return nil
	}
	report := s.deps.KRX.Run(ctx, s.deps.KRXPaths, basDd)
	for category, st := range report.Status() {
		status[category] = st
	}
	s.captureRaw(ctx, report, basDd)
	return report.Payloads(basDd)
}

// captureRaw logs successful KRX responses verbatim. Failures here are
// logged and do not affect the run.
func (s *Service) captureRaw(ctx context.Context, report krxfetch.Report, basDd string) {
	if s.deps.Store == nil {
		return
	}
	created := s.now().UTC()
	var raws []domain.RawPayload
	for _, c := range report.Categories {
		for _, a := range c.Results {
			if a.Outcome != krxfetch.OutcomeOK {
				continue
			}
			body, err := json.Marshal(a.Payload)
			if err != nil {
				continue
			}
			key := krxfetch.DatasetKey(a.Category, a.Path) + "|" + basDd
			raws = append(raws, domain.RawPayload{
				Source:     domain.SourceKRX,
				Endpoint:   a.Path,
				RequestKey: &key,
				Payload:    body,
				CreatedAt:  created,
			})
		}
	}
	if err := s.deps.Store.InsertRawPayloads(ctx, raws); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Int("payloads", len(raws)).Msg("raw payload capture failed")
	}
}
