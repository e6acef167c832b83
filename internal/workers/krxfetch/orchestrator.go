// Package krxfetch fans KRX OpenAPI path fetches out over a bounded worker
// pool and folds the per-path outcomes into category statuses.
package krxfetch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"ipopipe/internal/config"
	"ipopipe/internal/domain"
	"ipopipe/internal/logging"
	"ipopipe/internal/ports"
)

type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeSchemaMismatch Outcome = "schema_mismatch"
	OutcomeAuthError      Outcome = "auth_error"
	OutcomeAccessDenied   Outcome = "access_denied"
	OutcomeError          Outcome = "error"
)

const (
	StatusNotConfigured = "not_configured"
	StatusMissingKey    = "missing_key"
)

// Attempt is the final result for one path after retries.
type Attempt struct {
	Category string
	Path     string
	Outcome  Outcome
	Tries    int
	Rows     int
	Payload  map[string]any
	Err      error
}

type CategoryReport struct {
	Category string
	Status   string
	Results  []Attempt
}

type Report struct {
	Categories []CategoryReport
}

// Status maps category to its status string.
func (r Report) Status() map[string]string {
	out := make(map[string]string, len(r.Categories))
	for _, c := range r.Categories {
		out[c.Category] = c.Status
	}
	return out
}

// Payloads returns every successful fetch shaped for the quality gate, in
// category then path order.
func (r Report) Payloads(basDd string) []domain.KrxDatasetPayload {
	var out []domain.KrxDatasetPayload
	for _, c := range r.Categories {
		for _, a := range c.Results {
			if a.Outcome != OutcomeOK {
				continue
			}
			out = append(out, domain.KrxDatasetPayload{
				DatasetKey:     DatasetKey(a.Category, a.Path),
				RequiredParams: map[string]string{"basDd": "required"},
				RequestParams:  map[string]string{"basDd": basDd},
				Response:       a.Payload,
			})
		}
	}
	return out
}

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = time.Second
	maxWorkers            = 8
)

type Orchestrator struct {
	fetcher        ports.DatasetFetcher
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type Option func(*Orchestrator)

// WithBackoff sets the access-denied retry delays. Non-positive values keep
// the defaults.
func WithBackoff(initial, max time.Duration) Option {
	return func(o *Orchestrator) {
		if initial > 0 {
			o.initialBackoff = initial
		}
		if max > 0 {
			o.maxBackoff = max
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func New(fetcher ports.DatasetFetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:        fetcher,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// Run fetches every configured path. Categories are processed one after
// another; paths within a category run concurrently.
func (o *Orchestrator) Run(ctx context.Context, paths map[string][]string, basDd string) Report {
	var report Report
	for _, category := range categoryOrder(paths) {
		report.Categories = append(report.Categories, o.runCategory(ctx, category, paths[category], basDd))
	}
	return report
}

func (o *Orchestrator) runCategory(ctx context.Context, category string, paths []string, basDd string) CategoryReport {
	if len(paths) == 0 {
		return CategoryReport{Category: category, Status: StatusNotConfigured}
	}
	results := make([]Attempt, len(paths))
	var g errgroup.Group
	g.SetLimit(min(maxWorkers, len(paths)))
	for i, p := range paths {
		g.Go(func() error {
			results[i] = o.fetchPath(ctx, category, p, basDd)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return CategoryReport{Category: category, Status: CategoryStatus(results), Results: results}
}

func (o *Orchestrator) fetchPath(ctx context.Context, category, path, basDd string) Attempt {
	log := logging.FromContext(ctx)
	a := Attempt{Category: category, Path: path}
	err := retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		a.Tries++
		payload, err := o.fetcher.FetchDataset(ctx, path, map[string]string{"basDd": basDd})
		if err != nil {
			a.Outcome, a.Err, a.Payload, a.Rows = classify(err), err, nil, 0
			if errors.Is(err, ports.ErrAccessDenied) {
				log.Warn().Str("category", category).Str("path", path).Int("attempt", a.Tries).Msg("krx access denied")
				return retry.RetryableError(err)
			}
			return err
		}
		block, ok := outBlock(payload)
		if !ok {
			a.Outcome, a.Err = OutcomeSchemaMismatch, fmt.Errorf("%s: OutBlock_1 missing or not a list", path)
			return nil
		}
		a.Outcome, a.Err, a.Payload, a.Rows = OutcomeOK, nil, payload, block
		return nil
	})
	if err != nil && a.Err == nil {
		// cancelled before the first attempt completed
		a.Outcome, a.Err = OutcomeError, err
	}
	log.Debug().Str("category", category).Str("path", path).Int("attempt", a.Tries).
		Str("outcome", string(a.Outcome)).Int("rows", a.Rows).Msg("krx path fetched")
	return a
}

// backoff is the access-denied retry schedule for one path: initialBackoff,
// doubling, capped at maxBackoff, for at most maxAttempts tries in total.
func (o *Orchestrator) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(o.maxAttempts-1),
		retry.WithCappedDuration(o.maxBackoff, retry.NewExponential(o.initialBackoff)))
}

func classify(err error) Outcome {
	switch {
	case errors.Is(err, ports.ErrAccessDenied):
		return OutcomeAccessDenied
	case errors.Is(err, ports.ErrAuth):
		return OutcomeAuthError
	default:
		return OutcomeError
	}
}

func outBlock(payload map[string]any) (int, bool) {
	switch v := payload["OutBlock_1"].(type) {
	case []any:
		return len(v), true
	case []map[string]any:
		return len(v), true
	default:
		return 0, false
	}
}

// CategoryStatus folds path results into "ok:<rows>", a "partial:..."
// breakdown, or the dominant failure.
func CategoryStatus(results []Attempt) string {
	var rows, auth, denied, schema, failed int
	for _, a := range results {
		switch a.Outcome {
		case OutcomeOK:
			rows += a.Rows
		case OutcomeAuthError:
			auth++
		case OutcomeAccessDenied:
			denied++
		case OutcomeSchemaMismatch:
			schema++
		default:
			failed++
		}
	}
	switch {
	case auth+denied+schema+failed == 0:
		return fmt.Sprintf("ok:%d", rows)
	case rows > 0:
		return fmt.Sprintf("partial:ok=%d,auth=%d,denied=%d,schema=%d,error=%d", rows, auth, denied, schema, failed)
	case denied > 0:
		return string(OutcomeAccessDenied)
	case auth > 0:
		return string(OutcomeAuthError)
	case schema > 0:
		return string(OutcomeSchemaMismatch)
	default:
		return string(OutcomeError)
	}
}

// categoryOrder lists known categories first, then any others sorted.
func categoryOrder(paths map[string][]string) []string {
	order := make([]string, 0, len(paths))
	for _, c := range config.KRXCategories {
		if _, ok := paths[c]; ok {
			order = append(order, c)
		}
	}
	var extra []string
	for c := range paths {
		if !slices.Contains(config.KRXCategories, c) {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}
