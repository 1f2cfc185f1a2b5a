// Command cetctl ingests, trains, scores and exports SBIR/STTR awards from
// the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/cache"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/config"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/database"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/pipeline"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/summary"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

const (
	FlagConfig   = "config"
	FlagLogLevel = "log-level"
	FlagDatabase = "db"
)

var ErrCLI = errors.New("cetctl")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cli carries what every subcommand shares once flags are parsed
type cli struct {
	cfg    config.Config
	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "cetctl",
		Short:         "Score SBIR/STTR awards against the CET taxonomy",
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().String(FlagConfig, "", "path to a YAML config file (default $CET_CONFIG)")
	root.PersistentFlags().String(FlagLogLevel, "", "log level: debug, info, warn, error")
	root.PersistentFlags().String(FlagDatabase, "", "SQLite database path, overrides storage.database_path")

	root.AddCommand(
		c.ingestCmd(),
		c.trainCmd(),
		c.scoreCmd(),
		c.summaryCmd(),
		c.exportCmd(),
		c.taxonomyCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	configPath, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return err
	}
	overrides := make(map[string]any)
	if db, _ := cmd.Flags().GetString(FlagDatabase); db != "" {
		overrides["storage.database_path"] = db
	}

	c.cfg, err = config.Load(config.LoadOptions{
		ConfigPath: configPath,
		Required:   configPath != "",
		Overrides:  overrides,
	})
	if err != nil {
		return fmt.Errorf("%w: loading config: %w", ErrCLI, err)
	}

	level := c.cfg.Log.Level
	if flagLevel, _ := cmd.Flags().GetString(FlagLogLevel); flagLevel != "" {
		level = flagLevel
	}
	slog.SetDefault(slog.New(newTerminalHandler(c.errOut, level)))
	return nil
}

func newTerminalHandler(w io.Writer, level string) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           log.Level(monitoring.ParseLevel(level)),
		TimeFormat:      time.Kitchen,
		ReportTimestamp: true,
	})
}

// store is an opened database with the taxonomy it is scored against
type store struct {
	db   *database.DB
	repo *database.Repository
	tax  *taxonomy.Taxonomy
}

func (c *cli) loadTaxonomy() (*taxonomy.Taxonomy, error) {
	tax, err := pipeline.LoadTaxonomy(c.cfg.Storage.TaxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: loading taxonomy: %w", ErrCLI, err)
	}
	return tax, nil
}

func (c *cli) openStore() (*store, error) {
	tax, err := c.loadTaxonomy()
	if err != nil {
		return nil, err
	}
	db, err := database.NewDB(c.cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %w", ErrCLI, err)
	}
	return &store{db: db, repo: database.NewRepository(db), tax: tax}, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

// newPipeline builds a scoring pipeline over s. Summaries are not cached
// across CLI runs, so the cache lives only as long as the command.
func (c *cli) newPipeline(ctx context.Context, s *store) (*pipeline.Pipeline, func(), error) {
	analyzer, err := pipeline.BuildAnalyzer(c.cfg, s.tax)
	if err != nil {
		return nil, nil, err
	}

	metrics := monitoring.NewMetrics()
	logger := &monitoring.Logger{Logger: slog.Default()}
	summaryCache := cache.NewCache(time.Minute)
	svc := summary.NewService(s.repo, s.tax, summaryCache, metrics)

	p := pipeline.New(analyzer, s.repo, svc, metrics, logger)
	if n, err := p.RefreshTieBreak(ctx); err != nil {
		slog.Warn("Tie-break signals unavailable", "error", err)
	} else {
		slog.Debug("Tie-break signals loaded", "categories", n)
	}
	return p, summaryCache.Close, nil
}
