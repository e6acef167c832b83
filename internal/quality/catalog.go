// Package quality holds the rule catalog and the evaluators that turn a
// normalized batch into a flat list of issues.
package quality

import (
	"fmt"
	"sort"

	"ipopipe/internal/domain"
)

const (
	RuleCommonRequiredKeys     = "COMMON_REQUIRED_KEYS"
	RuleDartRceptNoFormat      = "DART_RCEPT_NO_FORMAT"
	RuleDartReportNameEmpty    = "DART_REPORT_NAME_EMPTY"
	RuleKindStageAllowed       = "KIND_STAGE_ALLOWED"
	RuleKindKeyDateRequired    = "KIND_KEY_DATE_REQUIRED"
	RuleKrxRequiredParams      = "KRX_REQUIRED_PARAMS"
	RuleKrxResponseSchema      = "KRX_RESPONSE_SCHEMA"
	RuleKrxEmptyData           = "KRX_EMPTY_DATA"
	RuleKrxBasDdMismatch       = "KRX_BAS_DD_MISMATCH"
	RuleKrxDuplicateIsuCd      = "KRX_DUPLICATE_ISU_CD"
	RuleKrxNumericInvalid      = "KRX_NUMERIC_FIELD_INVALID"
	RuleCrossLinkageRatio      = "CROSS_KIND_DART_LINKAGE_RATIO"
	RuleCrossPostListingAttach = "CROSS_POST_LISTING_KRX_ATTACH"
)

// EmittedRuleCodes lists every code an evaluator in this package can emit.
var EmittedRuleCodes = []string{
	RuleCommonRequiredKeys,
	RuleDartRceptNoFormat,
	RuleDartReportNameEmpty,
	RuleKindStageAllowed,
	RuleKindKeyDateRequired,
	RuleKrxRequiredParams,
	RuleKrxResponseSchema,
	RuleKrxEmptyData,
	RuleKrxBasDdMismatch,
	RuleKrxDuplicateIsuCd,
	RuleKrxNumericInvalid,
	RuleCrossLinkageRatio,
	RuleCrossPostListingAttach,
}

// Catalog is an immutable rule table. Build it once and share the pointer.
type Catalog struct {
	rules  []domain.RuleMeta
	byCode map[string]int
}

// NewCatalog copies rules into a Catalog. Duplicate codes are rejected.
func NewCatalog(rules []domain.RuleMeta) (*Catalog, error) {
	c := &Catalog{
		rules:  make([]domain.RuleMeta, len(rules)),
		byCode: make(map[string]int, len(rules)),
	}
	copy(c.rules, rules)
	for i, r := range c.rules {
		if _, dup := c.byCode[r.RuleCode]; dup {
			return nil, fmt.Errorf("duplicate rule code %s", r.RuleCode)
		}
		c.byCode[r.RuleCode] = i
	}
	return c, nil
}

// Filter returns rules matching source and severity; empty values match all.
func (c *Catalog) Filter(source domain.Source, severity domain.Severity) []domain.RuleMeta {
	out := make([]domain.RuleMeta, 0, len(c.rules))
	for _, r := range c.rules {
		if source != "" && r.Source != source {
			continue
		}
		if severity != "" && r.Severity != severity {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (c *Catalog) Lookup(code string) (domain.RuleMeta, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return domain.RuleMeta{}, false
	}
	return c.rules[i], true
}

// Validate reports every code missing from the catalog.
func (c *Catalog) Validate(codes []string) error {
	var missing []string
	for _, code := range codes {
		if _, ok := c.byCode[code]; !ok {
			missing = append(missing, code)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("rule codes without catalog entry: %v", missing)
}

// DefaultCatalog returns the built-in rule table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultRules)
	if err != nil {
		panic(err)
	}
	return c
}

var defaultRules = []domain.RuleMeta{
	{
		RuleCode:       RuleCommonRequiredKeys,
		Source:         domain.SourceCOMMON,
		Severity:       domain.SeverityFail,
		Title:          "Required fields are missing",
		Description:    "A required field was empty or missing in the source payload.",
		OperatorAction: "Check source response payload and parser mapping for dropped keys.",
	},
	{
		RuleCode:       RuleDartRceptNoFormat,
		Source:         domain.SourceDART,
		Severity:       domain.SeverityFail,
		Title:          "DART receipt number format error",
		Description:    "rcept_no should be a 14-digit identifier.",
		OperatorAction: "Verify DART API response and normalize invalid rcept_no values.",
	},
	{
		RuleCode:       RuleDartReportNameEmpty,
		Source:         domain.SourceDART,
		Severity:       domain.SeverityWarn,
		Title:          "DART report name is empty",
		Description:    "A filing row exists but report_nm is empty.",
		OperatorAction: "Review raw disclosure row and fallback report name mapping.",
	},
	{
		RuleCode:       RuleKindStageAllowed,
		Source:         domain.SourceKIND,
		Severity:       domain.SeverityFail,
		Title:          "KIND stage is not supported",
		Description:    "stage value is outside the supported IPO stage set.",
		OperatorAction: "Update KIND stage mapping or parser if schema changed.",
	},
	{
		RuleCode:       RuleKindKeyDateRequired,
		Source:         domain.SourceKIND,
		Severity:       domain.SeverityWarn,
		Title:          "KIND key date missing",
		Description:    "No listing/subscription/demand forecast date found for the row.",
		OperatorAction: "Validate date columns from KIND and parser column offsets.",
	},
	{
		RuleCode:       RuleKrxRequiredParams,
		Source:         domain.SourceKRX,
		Severity:       domain.SeverityFail,
		Title:          "KRX required request params missing",
		Description:    "Required API request parameters were not provided.",
		OperatorAction: "Check configured KRX path requirements and request_params mapping.",
	},
	{
		RuleCode:       RuleKrxResponseSchema,
		Source:         domain.SourceKRX,
		Severity:       domain.SeverityFail,
		Title:          "KRX response schema mismatch",
		Description:    "OutBlock_1 was missing from KRX response payload.",
		OperatorAction: "Inspect raw KRX response and adjust schema parser.",
	},
	{
		RuleCode:       RuleKrxEmptyData,
		Source:         domain.SourceKRX,
		Severity:       domain.SeverityWarn,
		Title:          "KRX returned empty rows",
		Description:    "OutBlock_1 exists but row list is empty.",
		OperatorAction: "Retry with a valid basDd and confirm API approval scope.",
	},
	{
		RuleCode:       RuleKrxBasDdMismatch,
		Source:         domain.SourceKRX,
		Severity:       domain.SeverityWarn,
		Title:          "KRX row date mismatch",
		Description:    "Returned BAS_DD differs from the requested basDd.",
		OperatorAction: "Confirm API behavior for non-trading days and adjust basDd input.",
	},
	{
		RuleCode:       RuleKrxDuplicateIsuCd,
		Source:         domain.SourceKRX,
		Severity:       domain.SeverityWarn,
		Title:          "KRX duplicate ISU code rows",
		Description:    "Duplicate ISU_CD values were detected in the same payload.",
		OperatorAction: "Deduplicate rows before publish and inspect endpoint semantics.",
	},
	{
		RuleCode:       RuleKrxNumericInvalid,
		Source:         domain.SourceKRX,
		Severity:       domain.SeverityWarn,
		Title:          "KRX numeric field parse issue",
		Description:    "Numeric columns include non-numeric values.",
		OperatorAction: "Adjust numeric sanitization for commas/sign/placeholder patterns.",
	},
	{
		RuleCode:       RuleCrossLinkageRatio,
		Source:         domain.SourceCROSS,
		Severity:       domain.SeverityWarn,
		Title:          "KIND-DART linkage ratio is low",
		Description:    "Name linkage ratio between KIND and DART rows is below threshold.",
		OperatorAction: "Review corp_name normalization and matching strategy.",
	},
	{
		RuleCode:       RuleCrossPostListingAttach,
		Source:         domain.SourceCROSS,
		Severity:       domain.SeverityWarn,
		Title:          "Listed items without KRX attachment",
		Description:    "Listed KIND rows were found, but no KRX rows were attached.",
		OperatorAction: "Check KRX connectivity, permissions, and date parameters.",
	},
}
