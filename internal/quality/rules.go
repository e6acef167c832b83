package quality

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"ipopipe/internal/domain"
)

// Target identifies what an evaluator is looking at.
type Target struct {
	Source     domain.Source
	EntityType string
	EntityKey  string
}

func (t Target) issue(code string, sev domain.Severity, msg string) domain.QualityIssue {
	return domain.QualityIssue{
		Source:     t.Source,
		RuleCode:   code,
		Severity:   sev,
		EntityType: t.EntityType,
		EntityKey:  t.EntityKey,
		Message:    msg,
	}
}

// AllowedStages is the set of KIND stage labels the pipeline understands.
var AllowedStages = map[string]struct{}{
	"예비심사":       {},
	"공모":         {},
	"상장예정":       {},
	"신규상장":       {},
	"offering":   {},
	"prelisting": {},
	"listed":     {},
}

// ListedStages mark rows that should have market data attached.
var ListedStages = map[string]struct{}{
	"신규상장":   {},
	"listed": {},
}

var rceptNoPattern = regexp.MustCompile(`^[0-9]{14}$`)

// checkRequired emits COMMON_REQUIRED_KEYS when any named value is nil or "".
func checkRequired(fields []string, values []*string, entityKey string) []domain.QualityIssue {
	var missing []string
	for i, v := range values {
		if v == nil || *v == "" {
			missing = append(missing, fields[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if entityKey == "" {
		entityKey = "unknown"
	}
	t := Target{Source: domain.SourceCOMMON, EntityType: "record", EntityKey: entityKey}
	return []domain.QualityIssue{
		t.issue(RuleCommonRequiredKeys, domain.SeverityFail, "missing required keys: "+strings.Join(missing, ", ")),
	}
}

// EvaluateDart checks one disclosure row.
func EvaluateDart(row domain.DisclosureRow, t Target) []domain.QualityIssue {
	issues := checkRequired([]string{"corp_code", "rcept_no"}, []*string{row.CorpCode, row.RceptNo}, domain.Deref(row.CorpCode))
	if !rceptNoPattern.MatchString(domain.Deref(row.RceptNo)) {
		issues = append(issues, t.issue(RuleDartRceptNoFormat, domain.SeverityFail, "rcept_no must be 14 digits"))
	}
	if domain.Deref(row.ReportNm) == "" {
		issues = append(issues, t.issue(RuleDartReportNameEmpty, domain.SeverityWarn, "report_nm is empty"))
	}
	return issues
}

// EvaluateKind checks one listing row.
func EvaluateKind(row domain.ListingRow, t Target) []domain.QualityIssue {
	var issues []domain.QualityIssue
	stage := strings.TrimSpace(row.Stage)
	if _, ok := AllowedStages[stage]; !ok {
		issues = append(issues, t.issue(RuleKindStageAllowed, domain.SeverityFail, "unsupported stage: "+stage))
	}
	if domain.Deref(row.ListingDate) == "" && domain.Deref(row.SubscriptionDate) == "" && domain.Deref(row.DemandForecastDate) == "" {
		issues = append(issues, t.issue(RuleKindKeyDateRequired, domain.SeverityWarn, "no key date found"))
	}
	return issues
}

// numericFields are the KRX columns expected to hold numbers.
var numericFields = []string{"TDD_CLSPRC", "CMPPREVDD_PRC", "FLUC_RT", "LIST_SHRS", "ACC_TRDVOL", "ACC_TRDVAL"}

// optionalParams may be left out of request_params even when required.
var optionalParams = map[string]struct{}{"trdDd": {}}

// EvaluateKrx checks one fetched dataset payload.
func EvaluateKrx(p domain.KrxDatasetPayload, t Target) []domain.QualityIssue {
	var issues []domain.QualityIssue

	var missing []string
	for _, key := range sortedKeys(p.RequiredParams) {
		if _, ok := optionalParams[key]; ok {
			continue
		}
		if _, ok := p.RequestParams[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		issues = append(issues, t.issue(RuleKrxRequiredParams, domain.SeverityFail, "missing required params: "+strings.Join(missing, ", ")))
	}

	block, present := p.Response["OutBlock_1"]
	if !present || block == nil {
		return append(issues, t.issue(RuleKrxResponseSchema, domain.SeverityFail, "OutBlock_1 key missing"))
	}
	rows, isList := asList(block)
	if !isList {
		return issues
	}
	if len(rows) == 0 {
		return append(issues, t.issue(RuleKrxEmptyData, domain.SeverityWarn, "OutBlock_1 is empty"))
	}

	if requested := strings.TrimSpace(p.RequestParams["basDd"]); requested != "" {
		mismatched := 0
		for _, row := range rows {
			got := strings.TrimSpace(stringify(row["BAS_DD"]))
			if got != "" && got != requested {
				mismatched++
			}
		}
		if mismatched > 0 {
			issues = append(issues, t.issue(RuleKrxBasDdMismatch, domain.SeverityWarn, fmt.Sprintf("rows with mismatched BAS_DD: %d", mismatched)))
		}
	}

	seen := make(map[string]struct{}, len(rows))
	codes := 0
	for _, row := range rows {
		code, ok := row["ISU_CD"].(string)
		if !ok || strings.TrimSpace(code) == "" {
			continue
		}
		codes++
		seen[strings.TrimSpace(code)] = struct{}{}
	}
	if dup := codes - len(seen); dup > 0 {
		issues = append(issues, t.issue(RuleKrxDuplicateIsuCd, domain.SeverityWarn, fmt.Sprintf("duplicate ISU_CD rows: %d", dup)))
	}

	invalid := 0
	for _, row := range rows {
		for _, key := range numericFields {
			v, ok := row[key]
			if !ok || isPlaceholder(v) {
				continue
			}
			if !isNumericLike(v) {
				invalid++
			}
		}
	}
	if invalid > 0 {
		issues = append(issues, t.issue(RuleKrxNumericInvalid, domain.SeverityWarn, fmt.Sprintf("invalid numeric field count: %d", invalid)))
	}
	return issues
}

// LinkageThreshold is the minimum share of KIND names that must appear in DART.
const LinkageThreshold = 0.7

// EvaluateCross checks the batch as a whole.
func EvaluateCross(kind []domain.ListingRow, dart []domain.DisclosureRow, krx []domain.KrxDatasetPayload) []domain.QualityIssue {
	var issues []domain.QualityIssue

	kindNames := make(map[string]struct{}, len(kind))
	for _, r := range kind {
		if r.CorpName != "" {
			kindNames[r.CorpName] = struct{}{}
		}
	}
	dartNames := make(map[string]struct{}, len(dart))
	for _, r := range dart {
		if r.CorpName != "" {
			dartNames[r.CorpName] = struct{}{}
		}
	}
	if len(kindNames) > 0 {
		linked := 0
		for name := range kindNames {
			if _, ok := dartNames[name]; ok {
				linked++
			}
		}
		ratio := float64(linked) / float64(len(kindNames))
		if ratio < LinkageThreshold {
			t := Target{Source: domain.SourceCROSS, EntityType: "batch", EntityKey: "kind_dart"}
			issues = append(issues, t.issue(RuleCrossLinkageRatio, domain.SeverityWarn, fmt.Sprintf("kind-dart linkage ratio below threshold: %.2f", ratio)))
		}
	}

	listed := 0
	for _, r := range kind {
		if _, ok := ListedStages[r.Stage]; ok {
			listed++
		}
	}
	if listed > 0 && len(krx) == 0 {
		t := Target{Source: domain.SourceCROSS, EntityType: "batch", EntityKey: "kind_krx"}
		issues = append(issues, t.issue(RuleCrossPostListingAttach, domain.SeverityWarn, "no KRX rows attached for listed items"))
	}
	return issues
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// asList accepts the list shapes JSON, YAML and hand-built payloads produce.
// Non-map elements are dropped.
func asList(v any) ([]map[string]any, bool) {
	switch t := v.(type) {
	case []map[string]any:
		return t, true
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func isPlaceholder(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch strings.TrimSpace(s) {
	case "", "-", "--", "N/A":
		return true
	}
	return false
}

// isNumericLike accepts numbers, booleans (0/1 flags) and strings such as
// "1,234", "-0.5", "+3".
func isNumericLike(v any) bool {
	switch t := v.(type) {
	case bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		switch cleaned {
		case "", "-", "--":
			return true
		}
		if cleaned[0] == '+' || cleaned[0] == '-' {
			cleaned = cleaned[1:]
		}
		cleaned = strings.Replace(cleaned, ".", "", 1)
		if cleaned == "" {
			return false
		}
		for i := 0; i < len(cleaned); i++ {
			if cleaned[i] < '0' || cleaned[i] > '9' {
				return false
			}
		}
		return true
	default:
		return false
	}
}
