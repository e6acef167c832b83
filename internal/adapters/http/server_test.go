package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipopipe/internal/adapters/sqlite"
	"ipopipe/internal/domain"
	"ipopipe/internal/logging"
	"ipopipe/internal/ports"
	"ipopipe/internal/quality"
	"ipopipe/internal/services/pipeline"
	"ipopipe/internal/services/refresh"
	"ipopipe/internal/services/summary"
)

type stubRefresher struct {
	corpCode, basDd string
	err             error
}

func (s *stubRefresher) Refresh(_ context.Context, corpCode, basDd string) (refresh.Diagnostics, error) {
	s.corpCode, s.basDd = corpCode, basDd
	if s.err != nil {
		return refresh.Diagnostics{}, s.err
	}
	return refresh.Diagnostics{BatchID: "live-1", Published: true, SourceStatus: map[string]string{"kind": "ok:0"}}, nil
}

type fixture struct {
	srv   *httptest.Server
	store *sqlite.DB
	pipe  *pipeline.Service
}

func newFixture(t *testing.T, refresher Refresher) fixture {
	t.Helper()
	store, err := sqlite.Open(t.Context(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	engine, err := quality.NewEngine(quality.DefaultCatalog())
	require.NoError(t, err)
	pipe := pipeline.NewService(store, engine)

	s := New(store, pipe, summary.NewService(store, time.UTC), refresher, engine.Catalog(), logging.Nop(), Options{DefaultCorpCode: "00126380"})
	s.now = func() time.Time { return time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return fixture{srv: srv, store: store, pipe: pipe}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/v1/health", nil))
}

func TestPipelineSeedsDemoAndServesDetail(t *testing.T) {
	f := newFixture(t, nil)

	var list struct {
		Items   []domain.PipelineItem `json:"items"`
		Total   int                   `json:"total"`
		Refresh *refresh.Diagnostics  `json:"refresh"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/v1/ipo/pipeline", &list))
	assert.Equal(t, 1, list.Total)
	assert.Nil(t, list.Refresh)
	assert.Equal(t, "alpha-tech-1", list.Items[0].PipelineID)

	var item domain.PipelineItem
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/v1/ipo/alpha-tech-1", &item))
	assert.Equal(t, "00126380", domain.Deref(item.CorpCode))

	var missing map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/api/v1/ipo/nope", &missing))
	assert.Equal(t, "pipeline item not found", missing["detail"])
}

func TestPipelineRefresh(t *testing.T) {
	stub := &stubRefresher{}
	f := newFixture(t, stub)

	var list struct {
		Refresh *refresh.Diagnostics `json:"refresh"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/v1/ipo/pipeline?refresh=true", &list))
	require.NotNil(t, list.Refresh)
	assert.Equal(t, "live-1", list.Refresh.BatchID)
	assert.Equal(t, "00126380", stub.corpCode)
	assert.Equal(t, "20260214", stub.basDd)

	getJSON(t, f.srv.URL+"/api/v1/ipo/pipeline?refresh=1&corp_code=001&bas_dd=20260101", nil)
	assert.Equal(t, "001", stub.corpCode)
	assert.Equal(t, "20260101", stub.basDd)

	stub.err = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, f.srv.URL+"/api/v1/ipo/pipeline?refresh=true", nil))
}

func TestRefreshUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, f.srv.URL+"/api/v1/ipo/pipeline?refresh=true", nil))
}

func TestQualityEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	ctx := t.Context()
	at := time.Date(2026, 2, 14, 3, 0, 0, 0, time.UTC)
	batch := "b1"
	require.NoError(t, f.store.WithTx(ctx, func(tx ports.Tx) error {
		return tx.InsertIssues(ctx, &batch, []domain.QualityIssue{
			{Source: domain.SourceKIND, RuleCode: quality.RuleKindStageAllowed, Severity: domain.SeverityFail, EntityType: "ipo", EntityKey: "beta", Message: "unsupported stage: UNKNOWN"},
			{Source: domain.SourceCROSS, RuleCode: quality.RuleCrossLinkageRatio, Severity: domain.SeverityWarn, EntityType: "batch", EntityKey: "kind_dart", Message: "m"},
		}, at)
	}))
	_, err := summary.NewService(f.store, time.UTC).AggregateDaily(ctx, at)
	require.NoError(t, err)

	var issues struct {
		Items []domain.StoredIssue `json:"items"`
		Total int                  `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/v1/quality/issues?severity=FAIL", &issues))
	require.Equal(t, 1, issues.Total)
	assert.Equal(t, "beta", issues.Items[0].EntityKey)
	assert.Equal(t, "b1", domain.Deref(issues.Items[0].BatchID))

	getJSON(t, f.srv.URL+"/api/v1/quality/issues?from=2026-02-15", &issues)
	assert.Zero(t, issues.Total)
	getJSON(t, f.srv.URL+"/api/v1/quality/issues?from=2026-02-14&to=2026-02-14", &issues)
	assert.Equal(t, 2, issues.Total)
	getJSON(t, f.srv.URL+"/api/v1/quality/issues?to=not-a-date", &issues)
	assert.Equal(t, 2, issues.Total)

	var history struct {
		EntityKey string               `json:"entity_key"`
		Items     []domain.StoredIssue `json:"items"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/v1/quality/entity/kind_dart", &history))
	assert.Equal(t, "kind_dart", history.EntityKey)
	require.Len(t, history.Items, 1)

	var summaries struct {
		Items []domain.DailyQualitySummary `json:"items"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/v1/quality/summary?from=2026-02-14&to=2026-02-14&source=KIND", &summaries))
	require.Len(t, summaries.Items, 1)
	assert.InDelta(t, 1.0, summaries.Items[0].FailRate, 1e-9)

	var rules struct {
		Items []domain.RuleMeta `json:"items"`
		Total int               `json:"total"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/v1/quality/rules?source=KRX&severity=FAIL", &rules))
	assert.Equal(t, 2, rules.Total)
	for _, r := range rules.Items {
		assert.Equal(t, domain.SourceKRX, r.Source)
	}
}
