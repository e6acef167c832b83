package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipopipe/internal/domain"
	"ipopipe/internal/services/pipeline"
)

const cleanBundle = `batch_id: cli-clean-1
kind_rows:
  - corp_name: beta-bio
    market: KOSPI
    stage: offering
    listing_date: "2026-04-01"
dart_rows:
  - corp_code: "00999999"
    corp_name: beta-bio
    rcept_no: "20260301000002"
    report_nm: securities filing
krx_rows: []
`

const failingBundle = `batch_id: cli-fail-1
kind_rows:
  - corp_name: gamma-soft
    stage: unknown-stage
    listing_date: "2026-05-01"
dart_rows: []
`

// runCLI executes the root command against a fresh sqlite file.
func runCLI(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "sqlite")
	a := newApp()
	a.stderr = io.Discard

	var out bytes.Buffer
	root := a.rootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	base := []string{"--env-file", filepath.Join(t.TempDir(), "missing.env"), "--store", "sqlite", "--sqlite-path", dbPath}
	root.SetArgs(append(base, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeBundle(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRulesCommandFilters(t *testing.T) {
	out, err := runCLI(t, filepath.Join(t.TempDir(), "x.db"), "rules", "--source", "kind")
	require.NoError(t, err)

	var rules []domain.RuleMeta
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	require.NotEmpty(t, rules)
	for _, r := range rules {
		assert.Equal(t, domain.SourceKIND, r.Source)
	}
}

func TestRulesCommandYAML(t *testing.T) {
	out, err := runCLI(t, filepath.Join(t.TempDir(), "x.db"), "rules", "--source", "DART", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "rule_code: DART_RCEPT_NO_FORMAT")
}

func TestRunCommandPublishes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pipe.db")
	out, err := runCLI(t, dbPath, "run", writeBundle(t, cleanBundle))
	require.NoError(t, err)

	var res pipeline.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Published)

	_, err = runCLI(t, dbPath, "migrate")
	require.NoError(t, err)
}

func TestRunCommandBlocksOnFail(t *testing.T) {
	out, err := runCLI(t, filepath.Join(t.TempDir(), "pipe.db"), "run", writeBundle(t, failingBundle))
	require.NoError(t, err)

	var res pipeline.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Published)
	codes := make([]string, 0, len(res.Issues))
	for _, is := range res.Issues {
		codes = append(codes, is.RuleCode)
	}
	assert.Contains(t, codes, "KIND_STAGE_ALLOWED")
}

func TestRunCommandDryRunWritesNothing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pipe.db")
	out, err := runCLI(t, dbPath, "run", "--dry-run", writeBundle(t, cleanBundle))
	require.NoError(t, err)

	var res pipeline.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Published)
	_, statErr := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunCommandRequiresBatchID(t *testing.T) {
	_, err := runCLI(t, filepath.Join(t.TempDir(), "pipe.db"), "run", "--dry-run", writeBundle(t, "kind_rows: []\n"))
	assert.ErrorContains(t, err, "batch_id is required")
}

func TestMigrateCommandReportsVersion(t *testing.T) {
	out, err := runCLI(t, filepath.Join(t.TempDir(), "m.db"), "migrate")
	require.NoError(t, err)

	var got struct {
		Store   string `json:"store"`
		Version int64  `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "sqlite", got.Store)
	assert.Equal(t, int64(1), got.Version)
}

func TestDatasetRegisterThenGet(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reg.db")
	_, err := runCLI(t, dbPath, "dataset", "register", "portal.stock.daily",
		"--bld", "dbms/MDC/STAT/standard/MDCSTAT01501", "--required", "trdDd=required,mktId=STK")
	require.NoError(t, err)

	out, err := runCLI(t, dbPath, "dataset", "get", "portal.stock.daily")
	require.NoError(t, err)
	var e domain.DatasetRegistryEntry
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.Equal(t, "dbms/MDC/STAT/standard/MDCSTAT01501", e.Bld)
	assert.Equal(t, map[string]string{"trdDd": "required", "mktId": "STK"}, e.RequiredParams)

	_, err = runCLI(t, dbPath, "dataset", "get", "missing.key")
	assert.ErrorContains(t, err, "dataset not found")
}

func TestUnknownStoreFlag(t *testing.T) {
	a := newApp()
	a.stderr = io.Discard
	err := a.execute(context.Background(), []string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--store", "mongo", "rules"})
	assert.ErrorContains(t, err, "unknown store driver")
}
