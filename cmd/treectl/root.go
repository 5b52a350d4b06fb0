package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"triagetree/internal/blob"
	"triagetree/internal/config"
	"triagetree/internal/core"
	"triagetree/internal/export"
	etagredis "triagetree/internal/infra/etag/redis"
	"triagetree/internal/logging"
)

type cli struct {
	lookup func(string) (string, bool)

	configPath  string
	actor       string
	logLevel    string
	dumpMetrics bool
	trace       bool

	cfg      config.Config
	svc      *core.Service
	logger   *slog.Logger
	registry *prometheus.Registry
	blobs    blob.Store
	closers  []io.Closer
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "treectl",
		Short:         "Inspect and repair a five-slot triage tree",
		Long:          `treectl edits a triage decision tree under strict slot rules, detects and resolves conflicts, and keeps an undoable audit ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context(), cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c.dumpMetrics {
				return c.writeMetrics(cmd.ErrOrStderr())
			}
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "YAML config file (default $"+config.EnvConfigPath+")")
	flags.StringVar(&c.actor, "actor", "treectl", "Actor recorded in the audit ledger")
	flags.StringVar(&c.logLevel, "log-level", "", "Override the configured log level")
	flags.BoolVar(&c.dumpMetrics, "metrics", false, "Write operation metrics to stderr after the command")
	flags.BoolVar(&c.trace, "trace", false, "Write one JSON span per engine operation to stderr")

	root.AddCommand(
		c.createRootCmd(), c.addChildCmd(), c.putSlotCmd(), c.deleteCmd(),
		c.nodeCmd(), c.childrenCmd(), c.freeSlotCmd(), c.pathCmd(),
		c.rootsCmd(), c.parentsCmd(), c.leavesCmd(), c.missingSlotsCmd(), c.labelsCmd(),
		c.versionCmd(), c.checkVersionCmd(), c.outcomeCmd(),
		c.conflictsCmd(), c.normalizeCmd(), c.mergeCmd(), c.resolveCmd(), c.applyDefaultsCmd(),
		c.auditCmd(), c.draftCmd(),
		c.repairCmd(), c.clearCmd(), c.exportCmd(),
	)
	return root
}

func (c *cli) open(ctx context.Context, diag io.Writer) error {
	path := c.configPath
	if path == "" && c.lookup != nil {
		path, _ = c.lookup(config.EnvConfigPath)
	}
	cfg, err := config.LoadWith(path, c.lookup)
	if err != nil {
		return usageError{err}
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return usageError{err}
	}
	c.cfg = cfg
	c.logger = logging.New(level)

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine(), core.StorageOptions{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	})
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}

	c.registry = prometheus.NewRegistry()
	recorder, err := core.NewPrometheusMetricsRecorder(c.registry)
	if err != nil {
		return err
	}
	opts := []core.Option{
		core.WithLogger(c.logger),
		core.WithMetricsRecorder(recorder),
		core.WithPagination(cfg.Pagination.DefaultLimit, cfg.Pagination.MaxLimit),
	}
	if c.trace {
		opts = append(opts, core.WithTracer(core.NewSpanLog(diag)))
	}
	if cfg.Redis.Addr != "" {
		cache := etagredis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			etagredis.WithPrefix(cfg.Redis.Prefix), etagredis.WithTTL(cfg.Redis.TTL))
		if err := cache.Ping(ctx); err != nil {
			_ = cache.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		c.closers = append(c.closers, cache)
		opts = append(opts, core.WithETagCache(cache))
	}
	c.svc = core.NewService(store, opts...)
	c.logger.Debug("workspace opened", "storage", cfg.Storage.Driver, "redis", cfg.Redis.Addr != "")
	return nil
}

func (c *cli) blobStore(ctx context.Context) (blob.Store, error) {
	if c.blobs != nil {
		return c.blobs, nil
	}
	store, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(c.cfg.Blob.Driver),
		FSRoot: c.cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:          c.cfg.Blob.S3.Bucket,
			Region:          c.cfg.Blob.S3.Region,
			Endpoint:        c.cfg.Blob.S3.Endpoint,
			AccessKeyID:     c.cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: c.cfg.Blob.S3.SecretAccessKey,
			PathStyle:       c.cfg.Blob.S3.PathStyle,
		},
	})
	if err != nil {
		return nil, err
	}
	c.blobs = store
	return store, nil
}

func (c *cli) exporter(ctx context.Context) (*export.Exporter, error) {
	store, err := c.blobStore(ctx)
	if err != nil {
		return nil, err
	}
	return export.New(c.svc, store, export.WithPrefix(c.cfg.Blob.Prefix), export.WithLogger(c.logger)), nil
}

func (c *cli) writeMetrics(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func (c *cli) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, usageError{fmt.Errorf("invalid node id %q", s)}
	}
	return id, nil
}

// expectedVersion returns the --expected flag when it was set.
func expectedVersion(cmd *cobra.Command) *int {
	if !cmd.Flags().Changed("expected") {
		return nil
	}
	v, _ := cmd.Flags().GetInt("expected")
	return &v
}

func addExpectedFlag(cmd *cobra.Command) {
	cmd.Flags().Int("expected", 0, "Expected parent version (child count); the write fails on mismatch")
}

func addPageFlags(cmd *cobra.Command, page *core.Page) {
	cmd.Flags().IntVar(&page.Limit, "limit", 0, "Maximum rows to return")
	cmd.Flags().IntVar(&page.Offset, "offset", 0, "Rows to skip")
}

func addFilterFlags(cmd *cobra.Command, filter *core.NodeFilter) {
	cmd.Flags().StringVar(&filter.Query, "query", "", "Case-insensitive label substring")
	cmd.Flags().Int("depth", -1, "Only nodes at this depth")
	addPageFlags(cmd, &filter.Page)
}

func filterDepth(cmd *cobra.Command, filter *core.NodeFilter) {
	if cmd.Flags().Changed("depth") {
		d, _ := cmd.Flags().GetInt("depth")
		filter.Depth = &d
	}
}
