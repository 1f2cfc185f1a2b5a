package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/cache"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/export"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/ingest"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/storage"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/summary"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

const (
	FlagParquet   = "parquet"
	FlagBatchSize = "batch-size"
	FlagDryRun    = "dry-run"
	FlagAgency    = "agency"
	FlagCategory  = "category"
	FlagBand      = "band"
	FlagFrom      = "from"
	FlagTo        = "to"
	FlagFormat    = "format"
	FlagFields    = "fields"
	FlagFull      = "full"
	FlagOut       = "out"
	FlagAll       = "all"
)

func (c *cli) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(data))
	return err
}

func logRejections(report ingest.Report) {
	for _, r := range report.Rejected {
		slog.Warn("Record skipped", "record", r.Record, "id", r.ID, "reason", r.Reason)
	}
}

func (c *cli) ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Load awards from .jsonl, .jsonl.gz or .csv into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			awards, report, err := ingest.LoadAwards(ctx, args[0])
			if err != nil {
				return err
			}
			logRejections(report)

			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.repo.UpsertAwards(ctx, awards); err != nil {
				return fmt.Errorf("%w: storing awards: %w", ErrCLI, err)
			}

			parquetPath, err := cmd.Flags().GetString(FlagParquet)
			if err != nil {
				return err
			}
			if parquetPath != "" {
				if err := storage.WriteAwards(parquetPath, awards); err != nil {
					return fmt.Errorf("%w: writing %q: %w", ErrCLI, parquetPath, err)
				}
			}

			slog.Info("Awards ingested",
				"read", report.Read,
				"accepted", report.Accepted,
				"duplicates", report.Duplicates,
				"rejected", len(report.Rejected))
			return c.printJSON(report)
		},
	}
	cmd.Flags().String(FlagParquet, "", "also write the awards to this Parquet file")
	return cmd
}

func (c *cli) trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train FILE",
		Short: "Fit and save a classifier from labeled JSONL examples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tax, err := c.loadTaxonomy()
			if err != nil {
				return err
			}

			examples, report, err := ingest.LoadTrainingExamples(cmd.Context(), args[0], tax)
			if err != nil {
				return err
			}
			logRejections(report)

			start := time.Now()
			model, err := analysis.Train(examples, c.cfg.Training, tax.Version())
			if err != nil {
				return fmt.Errorf("%w: training: %w", ErrCLI, err)
			}

			artifacts := analysis.NewArtifactStore(c.cfg.Storage.ModelDir)
			checksum, err := artifacts.Save(model.Artifact())
			if err != nil {
				return fmt.Errorf("%w: saving model: %w", ErrCLI, err)
			}

			logger := &monitoring.Logger{Logger: slog.Default()}
			logger.TrainingLogger(model.Version(), model.TrainingSize(), model.Labels(), model.Uncalibrated(), time.Since(start))

			return c.printJSON(map[string]any{
				"model_version":    model.Version(),
				"taxonomy_version": model.TaxonomyVersion(),
				"examples":         model.TrainingSize(),
				"labels":           model.Labels(),
				"uncalibrated":     model.Uncalibrated(),
				"sha256":           checksum,
				"dir":              artifacts.Dir(),
			})
		},
	}
}

func (c *cli) scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score [FILE]",
		Short: "Score awards from FILE, or every stored award, and save the assessments",
		Long: "FILE may be .jsonl, .jsonl.gz, .csv or a .parquet award table written by\n" +
			"'cetctl ingest --parquet'. Without FILE every award in the database is scored.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()
			batchSize, err := flags.GetInt(FlagBatchSize)
			if err != nil {
				return err
			}
			if batchSize < 1 {
				return fmt.Errorf("%w: --%s must be positive", ErrCLI, FlagBatchSize)
			}
			dryRun, err := flags.GetBool(FlagDryRun)
			if err != nil {
				return err
			}
			parquetPath, err := flags.GetString(FlagParquet)
			if err != nil {
				return err
			}

			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			var awards []types.Award
			if len(args) == 1 {
				awards, err = readAwards(cmd, args[0])
				if err != nil {
					return err
				}
			} else if awards, err = s.repo.ListAwards(ctx); err != nil {
				return fmt.Errorf("%w: listing awards: %w", ErrCLI, err)
			}
			if len(awards) == 0 {
				slog.Warn("No awards to score")
				return nil
			}

			p, closeCache, err := c.newPipeline(ctx, s)
			if err != nil {
				return err
			}
			defer closeCache()

			progress := newProgress(c.errOut, "scoring", int64(len(awards)))
			start := time.Now()

			var (
				scored, failed int
				assessments    []analysis.Assessment
			)
			for lo := 0; lo < len(awards); lo += batchSize {
				hi := min(lo+batchSize, len(awards))
				out, err := p.ScoreBatch(ctx, awards[lo:hi], !dryRun)
				if err != nil {
					progress.abort()
					return fmt.Errorf("%w: scoring awards %d-%d: %w", ErrCLI, lo+1, hi, err)
				}
				for _, r := range out.Results {
					if r.Err != nil {
						slog.Warn("Award skipped", "award_id", r.AwardID, "error", r.Err)
						continue
					}
					assessments = append(assessments, r.Assessment)
				}
				scored += out.Scored
				failed += out.Failed
				progress.incr(hi-lo, time.Since(start))
			}
			progress.wait()

			if parquetPath != "" {
				if err := storage.WriteAssessments(parquetPath, assessments); err != nil {
					return fmt.Errorf("%w: writing %q: %w", ErrCLI, parquetPath, err)
				}
			}

			return c.printJSON(map[string]any{
				"awards":      len(awards),
				"scored":      scored,
				"failed":      failed,
				"persisted":   !dryRun,
				"mode":        p.Analyzer().Mode().String(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
		},
	}
	cmd.Flags().Int(FlagBatchSize, 500, "awards per scoring batch")
	cmd.Flags().Bool(FlagDryRun, false, "score without saving assessments")
	cmd.Flags().String(FlagParquet, "", "also write the assessments to this Parquet file")
	return cmd
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice(FlagAgency, nil, "only these agencies")
	cmd.Flags().StringSlice(FlagCategory, nil, "only these primary categories")
	cmd.Flags().StringSlice(FlagBand, nil, "only these bands: high, medium, low")
}

func filterFromFlags(cmd *cobra.Command) (summary.Filter, error) {
	flags := cmd.Flags()
	agencies, err := flags.GetStringSlice(FlagAgency)
	if err != nil {
		return summary.Filter{}, err
	}
	categories, err := flags.GetStringSlice(FlagCategory)
	if err != nil {
		return summary.Filter{}, err
	}
	bands, err := flags.GetStringSlice(FlagBand)
	if err != nil {
		return summary.Filter{}, err
	}
	filter, err := summary.NewFilter(agencies, categories, bands)
	if err != nil {
		return summary.Filter{}, fmt.Errorf("%w: %w", ErrCLI, err)
	}
	return filter, nil
}

func parseDateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --%s must be YYYY-MM-DD: %w", ErrCLI, name, err)
	}
	return t, nil
}

func (c *cli) summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print portfolio rollups by category, band and agency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}
			if filter.From, err = parseDateFlag(cmd, FlagFrom); err != nil {
				return err
			}
			if filter.To, err = parseDateFlag(cmd, FlagTo); err != nil {
				return err
			}

			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			summaryCache := cache.NewCache(time.Minute)
			defer summaryCache.Close()
			svc := summary.NewService(s.repo, s.tax, summaryCache, monitoring.NewMetrics())

			result, err := svc.Summary(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return c.printJSON(result)
		},
	}
	addFilterFlags(cmd)
	cmd.Flags().String(FlagFrom, "", "earliest award date, YYYY-MM-DD")
	cmd.Flags().String(FlagTo, "", "latest award date, YYYY-MM-DD")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write latest assessments joined with awards as CSV or Parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			format, err := flags.GetString(FlagFormat)
			if err != nil {
				return err
			}
			fields, err := flags.GetStringSlice(FlagFields)
			if err != nil {
				return err
			}
			full, err := flags.GetBool(FlagFull)
			if err != nil {
				return err
			}
			outPath, err := flags.GetString(FlagOut)
			if err != nil {
				return err
			}

			filter, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCLI, err)
			}
			req := export.Request{Format: f, Fields: fields, Filter: filter}

			s, err := c.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			w := c.out
			if outPath != "" {
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("%w: creating output directory: %w", ErrCLI, err)
				}
				file, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("%w: creating %q: %w", ErrCLI, outPath, err)
				}
				defer file.Close()
				w = file
			} else if f == export.FormatParquet {
				return fmt.Errorf("%w: parquet exports need --%s", ErrCLI, FlagOut)
			}

			exporter := export.NewExporter(s.repo, c.cfg.Export.DefaultFields, c.cfg.Export.MaxRows)
			result, err := exporter.Export(cmd.Context(), w, req, full)
			if err != nil {
				return err
			}
			if len(result.Withheld) > 0 {
				slog.Warn("Restricted fields withheld, pass --full to include them",
					"fields", strings.Join(result.Withheld, ","))
			}
			if result.Truncated {
				slog.Warn("Export truncated", "rows", result.Rows, "matched", result.Matched)
			}
			return nil
		},
	}
	addFilterFlags(cmd)
	cmd.Flags().String(FlagFormat, "csv", "csv or parquet")
	cmd.Flags().StringSlice(FlagFields, nil, fmt.Sprintf("fields to export, any of %s", strings.Join(export.Fields(), ",")))
	cmd.Flags().Bool(FlagFull, false, "include restricted free-text fields")
	cmd.Flags().String(FlagOut, "", "output file (default: stdout)")
	return cmd
}

func (c *cli) taxonomyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "List the categories of the configured taxonomy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tax, err := c.loadTaxonomy()
			if err != nil {
				return err
			}
			all, err := cmd.Flags().GetBool(FlagAll)
			if err != nil {
				return err
			}
			categories := tax.Active()
			if all {
				categories = tax.Categories()
			}

			fmt.Fprintf(c.out, "taxonomy %s\n", tax.Version())
			tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPARENT\tSTATUS")
			for _, cat := range categories {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cat.ID, cat.Name, cat.Parent, cat.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool(FlagAll, false, "include retired categories")
	return cmd
}

// readAwards loads awards from an ingest source or a Parquet award table
func readAwards(cmd *cobra.Command, path string) ([]types.Award, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		awards, err := storage.ReadAwards(cmd.Context(), path)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", ErrCLI, path, err)
		}
		return awards, nil
	}
	awards, report, err := ingest.LoadAwards(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	logRejections(report)
	return awards, nil
}
