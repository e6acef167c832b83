package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipopipe/internal/domain"
)

var (
	dartTarget = Target{Source: domain.SourceDART, EntityType: "disclosure", EntityKey: "00126380"}
	kindTarget = Target{Source: domain.SourceKIND, EntityType: "ipo", EntityKey: "alpha-tech"}
	krxTarget  = Target{Source: domain.SourceKRX, EntityType: "dataset", EntityKey: "stock.daily"}
)

func str(s string) *string { return &s }

func codesOf(issues []domain.QualityIssue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.RuleCode)
	}
	return out
}

func TestDartRceptNoFormat(t *testing.T) {
	tests := []struct {
		rceptNo string
		fails   bool
	}{
		{"20260214000001", false},
		{"2026021400000", true},
		{"202602140000012", true},
		{"2026021400000a", true},
		{"", true},
		{"２０２６０２１４０００００１", true},
	}
	for _, tt := range tests {
		t.Run(tt.rceptNo, func(t *testing.T) {
			row := domain.DisclosureRow{CorpCode: str("00126380"), CorpName: "alpha", RceptNo: str(tt.rceptNo), ReportNm: str("filing")}
			codes := codesOf(EvaluateDart(row, dartTarget))
			if tt.fails {
				assert.Contains(t, codes, RuleDartRceptNoFormat)
			} else {
				assert.NotContains(t, codes, RuleDartRceptNoFormat)
			}
		})
	}
}

func TestDartRequiredKeys(t *testing.T) {
	issues := EvaluateDart(domain.DisclosureRow{CorpName: "alpha", ReportNm: str("x")}, dartTarget)
	require.Len(t, issues, 2)
	assert.Equal(t, RuleCommonRequiredKeys, issues[0].RuleCode)
	assert.Equal(t, domain.SourceCOMMON, issues[0].Source)
	assert.Equal(t, "record", issues[0].EntityType)
	assert.Equal(t, "unknown", issues[0].EntityKey)
	assert.Equal(t, "missing required keys: corp_code, rcept_no", issues[0].Message)
	assert.Equal(t, RuleDartRceptNoFormat, issues[1].RuleCode)
}

func TestDartReportNameEmpty(t *testing.T) {
	row := domain.DisclosureRow{CorpCode: str("00126380"), RceptNo: str("20260214000001"), ReportNm: str("")}
	issues := EvaluateDart(row, dartTarget)
	require.Len(t, issues, 1)
	assert.Equal(t, RuleDartReportNameEmpty, issues[0].RuleCode)
	assert.Equal(t, domain.SeverityWarn, issues[0].Severity)
	assert.Equal(t, "00126380", issues[0].EntityKey)
}

func TestKindStageAllowed(t *testing.T) {
	for _, stage := range []string{"공모", "offering", "prelisting", "listed", "신규상장"} {
		row := domain.ListingRow{CorpName: "alpha", Stage: stage, ListingDate: str("2026-03-15")}
		assert.Empty(t, EvaluateKind(row, kindTarget), stage)
	}

	issues := EvaluateKind(domain.ListingRow{CorpName: "alpha", Stage: "UNKNOWN", ListingDate: str("2026-03-15")}, kindTarget)
	require.Len(t, issues, 1)
	assert.Equal(t, RuleKindStageAllowed, issues[0].RuleCode)
	assert.Equal(t, domain.SeverityFail, issues[0].Severity)
	assert.Equal(t, "unsupported stage: UNKNOWN", issues[0].Message)
}

func TestKindKeyDate(t *testing.T) {
	issues := EvaluateKind(domain.ListingRow{CorpName: "alpha", Stage: "offering"}, kindTarget)
	assert.Equal(t, []string{RuleKindKeyDateRequired}, codesOf(issues))

	issues = EvaluateKind(domain.ListingRow{CorpName: "alpha", Stage: "offering", DemandForecastDate: str("2026-03-01")}, kindTarget)
	assert.Empty(t, issues)

	issues = EvaluateKind(domain.ListingRow{CorpName: "alpha", Stage: "offering", ListingDate: str("")}, kindTarget)
	assert.Equal(t, []string{RuleKindKeyDateRequired}, codesOf(issues))
}

func krxPayload(response map[string]any) domain.KrxDatasetPayload {
	return domain.KrxDatasetPayload{
		DatasetKey:     "stock.daily",
		RequiredParams: map[string]string{"basDd": "required"},
		RequestParams:  map[string]string{"basDd": "20250131"},
		Response:       response,
	}
}

func TestKrxSchemaAndEmptyAreExclusive(t *testing.T) {
	issues := EvaluateKrx(krxPayload(map[string]any{}), krxTarget)
	assert.Equal(t, []string{RuleKrxResponseSchema}, codesOf(issues))
	assert.Equal(t, domain.SeverityFail, issues[0].Severity)

	issues = EvaluateKrx(krxPayload(map[string]any{"OutBlock_1": nil}), krxTarget)
	assert.Equal(t, []string{RuleKrxResponseSchema}, codesOf(issues))

	issues = EvaluateKrx(krxPayload(map[string]any{"OutBlock_1": []any{}}), krxTarget)
	assert.Equal(t, []string{RuleKrxEmptyData}, codesOf(issues))
	assert.Equal(t, domain.SeverityWarn, issues[0].Severity)
}

func TestKrxRequiredParams(t *testing.T) {
	p := domain.KrxDatasetPayload{
		DatasetKey:     "stock.marketcap",
		RequiredParams: map[string]string{"trdDd": "required", "mktId": "required", "basDd": "required"},
		RequestParams:  map[string]string{},
		Response:       map[string]any{"OutBlock_1": []any{map[string]any{"ISU_CD": "A"}}},
	}
	issues := EvaluateKrx(p, krxTarget)
	require.Len(t, issues, 1)
	assert.Equal(t, RuleKrxRequiredParams, issues[0].RuleCode)
	assert.Equal(t, "missing required params: basDd, mktId", issues[0].Message)
}

func TestKrxRowChecks(t *testing.T) {
	rows := []any{
		map[string]any{"BAS_DD": "20250131", "ISU_CD": "KR7005930003", "TDD_CLSPRC": "53,400", "FLUC_RT": "-1.20"},
		map[string]any{"BAS_DD": "20250130", "ISU_CD": "KR7005930003", "TDD_CLSPRC": "-", "FLUC_RT": "+0.5"},
		map[string]any{"BAS_DD": "", "ISU_CD": " KR7000660001 ", "ACC_TRDVOL": "12a", "LIST_SHRS": "1.2.3"},
		map[string]any{"BAS_DD": "20250129", "ISU_CD": "KR7000660001", "ACC_TRDVAL": 1200.0, "CMPPREVDD_PRC": "N/A"},
		"not-a-row",
	}
	issues := EvaluateKrx(krxPayload(map[string]any{"OutBlock_1": rows}), krxTarget)
	require.Equal(t, []string{RuleKrxBasDdMismatch, RuleKrxDuplicateIsuCd, RuleKrxNumericInvalid}, codesOf(issues))
	assert.Equal(t, "rows with mismatched BAS_DD: 2", issues[0].Message)
	assert.Equal(t, "duplicate ISU_CD rows: 2", issues[1].Message)
	assert.Equal(t, "invalid numeric field count: 2", issues[2].Message)
	for _, is := range issues {
		assert.Equal(t, domain.SeverityWarn, is.Severity)
		assert.Equal(t, "stock.daily", is.EntityKey)
	}
}

func TestKrxCleanPayload(t *testing.T) {
	rows := []map[string]any{
		{"BAS_DD": "20250131", "ISU_CD": "A", "TDD_CLSPRC": "1,000", "LIST_SHRS": "--"},
		{"BAS_DD": "20250131", "ISU_CD": "B", "TDD_CLSPRC": nil},
	}
	assert.Empty(t, EvaluateKrx(krxPayload(map[string]any{"OutBlock_1": rows}), krxTarget))
}

func TestIsNumericLike(t *testing.T) {
	valid := []any{"1", "1,234,567", "-3.5", "+2", ".5", "5.", "", "-", "--", 3, 2.5, true, false}
	for _, v := range valid {
		assert.True(t, isNumericLike(v), "%v", v)
	}
	invalid := []any{"1.2.3", "abc", "+", "1e5", "N/A", []any{1}}
	for _, v := range invalid {
		assert.False(t, isNumericLike(v), "%v", v)
	}
}

func TestCrossLinkageRatio(t *testing.T) {
	kind := []domain.ListingRow{{CorpName: "alpha", Stage: "offering"}, {CorpName: "beta", Stage: "offering"}}

	issues := EvaluateCross(kind, nil, nil)
	require.Len(t, issues, 1)
	assert.Equal(t, RuleCrossLinkageRatio, issues[0].RuleCode)
	assert.Equal(t, "kind-dart linkage ratio below threshold: 0.00", issues[0].Message)
	assert.Equal(t, domain.SeverityWarn, issues[0].Severity)
	assert.Equal(t, "kind_dart", issues[0].EntityKey)

	issues = EvaluateCross(kind, []domain.DisclosureRow{{CorpName: "alpha"}}, nil)
	require.Len(t, issues, 1)
	assert.Equal(t, "kind-dart linkage ratio below threshold: 0.50", issues[0].Message)

	issues = EvaluateCross(kind, []domain.DisclosureRow{{CorpName: "alpha"}, {CorpName: "beta"}}, nil)
	assert.Empty(t, issues)

	assert.Empty(t, EvaluateCross(nil, nil, nil))
}

func TestCrossPostListingAttach(t *testing.T) {
	kind := []domain.ListingRow{{CorpName: "alpha", Stage: "listed"}}
	dart := []domain.DisclosureRow{{CorpName: "alpha"}}

	issues := EvaluateCross(kind, dart, nil)
	assert.Equal(t, []string{RuleCrossPostListingAttach}, codesOf(issues))
	assert.Equal(t, "kind_krx", issues[0].EntityKey)

	assert.Empty(t, EvaluateCross(kind, dart, []domain.KrxDatasetPayload{krxPayload(nil)}))
}
