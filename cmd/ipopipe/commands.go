package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	httpadapter "ipopipe/internal/adapters/http"
	"ipopipe/internal/adapters/krx"
	"ipopipe/internal/domain"
	"ipopipe/internal/logging"
	"ipopipe/internal/quality"
	"ipopipe/internal/services/pipeline"
	"ipopipe/internal/services/registry"
	"ipopipe/internal/services/summary"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and the live refresh trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			pipe, err := a.pipeline(st)
			if err != nil {
				return err
			}
			ref, err := a.refreshService(st, pipe)
			if err != nil {
				return err
			}
			srv := httpadapter.New(st, pipe, summary.NewService(st, a.cfg.Timezone), ref,
				quality.DefaultCatalog(), a.logger, httpadapter.Options{
					DefaultCorpCode: a.cfg.DefaultCorpCode,
					Location:        a.cfg.Timezone,
				})

			httpSrv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().Str("addr", a.cfg.ListenAddr).Str("store", a.cfg.StoreDriver).Msg("listening")
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			a.logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
}

func (a *app) runCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run <bundle.yaml>",
		Short: "Run the pipeline over a batch bundle file (YAML or JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := readBatch(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				engine, err := newEngine()
				if err != nil {
					return err
				}
				res := pipeline.NewService(nil, engine).Evaluate(batch)
				return a.print(cmd.OutOrStdout(), pipeline.RunResult{Published: !res.HasFail(), Issues: nonNil(res.Issues)})
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			pipe, err := a.pipeline(st)
			if err != nil {
				return err
			}
			res, err := pipe.Run(ctx, batch)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate the quality gate only; nothing is written")
	return cmd
}

func readBatch(path string) (domain.Batch, error) {
	var b domain.Batch
	raw, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	// YAML is a superset of JSON, one decoder covers both
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("parse %s: %w", path, err)
	}
	if b.BatchID == "" {
		return b, fmt.Errorf("parse %s: batch_id is required", path)
	}
	return b, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (a *app) refreshCommand() *cobra.Command {
	var corpCode, basDd string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch KIND, DART and KRX live and run the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			pipe, err := a.pipeline(st)
			if err != nil {
				return err
			}
			ref, err := a.refreshService(st, pipe)
			if err != nil {
				return err
			}
			if corpCode == "" {
				corpCode = a.cfg.DefaultCorpCode
			}
			if basDd == "" {
				basDd = time.Now().In(a.cfg.Timezone).Format("20060102")
			}
			diag, err := ref.Refresh(ctx, corpCode, basDd)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), diag)
		},
	}
	cmd.Flags().StringVar(&corpCode, "corp-code", "", "DART corp_code to query (default DEFAULT_CORP_CODE)")
	cmd.Flags().StringVar(&basDd, "bas-dd", "", "KRX base date YYYYMMDD (default today)")
	return cmd
}

func (a *app) aggregateCommand() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Roll up one day of quality issues into daily summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day := time.Now().In(a.cfg.Timezone)
			if date != "" {
				d, err := time.ParseInLocation(time.DateOnly, date, a.cfg.Timezone)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				day = d
			}
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := summary.NewService(st, a.cfg.Timezone).AggregateDaily(ctx, day)
			if err != nil {
				return err
			}
			logging.FromContext(ctx).Info().Str("date", day.Format(time.DateOnly)).Int("rows", n).Msg("daily summary written")
			return a.print(cmd.OutOrStdout(), map[string]any{"date": day.Format(time.DateOnly), "rows": n})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to aggregate, YYYY-MM-DD in TIMEZONE (default today)")
	return cmd
}

func (a *app) rulesCommand() *cobra.Command {
	var source, severity string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the quality rule catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules := quality.DefaultCatalog().Filter(domain.Source(strings.ToUpper(source)), domain.Severity(strings.ToUpper(severity)))
			return a.print(cmd.OutOrStdout(), nonNil(rules))
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only rules for this source (DART, KIND, KRX, CROSS, COMMON)")
	cmd.Flags().StringVar(&severity, "severity", "", "only rules with this severity (WARN, FAIL)")
	return cmd
}

func (a *app) datasetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage the KRX data portal dataset registry",
	}

	get := &cobra.Command{
		Use:   "get <dataset-key>",
		Short: "Show a registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			e, err := registry.NewService(st).Get(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), e)
		},
	}

	var (
		bld, scope, desc string
		required         map[string]string
	)
	register := &cobra.Command{
		Use:   "register <dataset-key>",
		Short: "Create or replace a registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			e := domain.DatasetRegistryEntry{
				DatasetKey:     args[0],
				Bld:            bld,
				RequiredParams: required,
				MarketScope:    domain.StrPtr(scope),
				Description:    domain.StrPtr(desc),
			}
			if e.RequiredParams == nil {
				e.RequiredParams = map[string]string{}
			}
			if err := registry.NewService(st).Register(ctx, e); err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), e)
		},
	}
	register.Flags().StringVar(&bld, "bld", "", "portal bld identifier")
	register.Flags().StringToStringVar(&required, "required", nil, "required params, e.g. trdDd=required,mktId=STK")
	register.Flags().StringVar(&scope, "market-scope", "", "market scope label")
	register.Flags().StringVar(&desc, "description", "", "free text description")
	_ = register.MarkFlagRequired("bld")

	var params map[string]string
	fetch := &cobra.Command{
		Use:   "fetch <dataset-key>",
		Short: "Fetch a registered dataset from the portal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			portal := krx.NewPortalClient(a.cfg.KRXPortalURL,
				krx.WithHTTPClient(&http.Client{Timeout: a.cfg.HTTPTimeout}), krx.WithRate(a.cfg.KRXRatePerSec))
			p, err := registry.NewService(st).Fetch(ctx, args[0], params, portal)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), p)
		},
	}
	fetch.Flags().StringToStringVar(&params, "param", nil, "request params, e.g. trdDd=20260315")

	cmd.AddCommand(get, register, fetch)
	return cmd
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and print the resulting version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			v, err := st.MigrationVersion(ctx)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), map[string]any{"store": a.cfg.StoreDriver, "version": v})
		},
	}
}

func (a *app) print(w io.Writer, v any) error {
	switch a.flags.format {
	case "yaml":
		// round-trip through JSON so the json tags name the keys
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out, err := yaml.JSONToYAML(raw)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", a.flags.format)
	}
}
