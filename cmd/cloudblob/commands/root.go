package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DrSkyle/cloudblob/pkg/config"
	"github.com/DrSkyle/cloudblob/pkg/journal"
	"github.com/DrSkyle/cloudblob/pkg/logging"
	"github.com/DrSkyle/cloudblob/pkg/storage"
	"github.com/DrSkyle/cloudblob/pkg/storage/providers"
	"github.com/DrSkyle/cloudblob/pkg/telemetry"
	"github.com/DrSkyle/cloudblob/pkg/version"
)

type openFunc func(ctx context.Context, connStr string, opts providers.Options) (storage.Backend, error)

// app is the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	open    openFunc

	noJournal bool

	cfg      config.Config
	logger   *slog.Logger
	store    *storage.Store
	journal  *journal.Journal
	shutdown telemetry.ShutdownFunc
}

func Execute() {
	root, a := newRootCmd()
	err := root.ExecuteContext(context.Background())
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: viper.New(), open: providers.Open, logger: logging.Discard()}

	root := &cobra.Command{
		Use:   version.AppName,
		Short: "Blob storage client",
		Long: `cloudblob - one client for Azure Blob Storage, S3 and local blob stores.

Create containers, upload, list, download, append and delete blobs.`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsSetup(cmd) {
				return nil
			}
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Config file (default $HOME/.cloudblob.yaml)")
	flags.String("connection-string", "", "Storage connection string (memory://, file:///path, s3://..., Azure)")
	flags.String("container", "", "Container used by the tutorial and check")
	flags.String("log-container", "", "Container holding append blobs and the journal")
	flags.String("journal-blob", "", "Append blob the journal writes to")
	flags.Int("page-size", 0, "Entries requested per listing page")
	flags.Int("retries", 0, "Retries for transient failures")
	flags.String("otel-endpoint", "", "OTLP HTTP endpoint for traces")
	flags.Bool("json-logs", false, "Log as JSON")
	flags.BoolP("verbose", "v", false, "Log every storage call")
	flags.BoolVar(&a.noJournal, "no-journal", false, "Do not record operations in the journal")

	for key, flag := range map[string]string{
		config.KeyConnectionString: "connection-string",
		config.KeyContainer:        "container",
		config.KeyLogContainer:     "log-container",
		config.KeyAppendBlobName:   "journal-blob",
		config.KeyPageSize:         "page-size",
		config.KeyRetries:          "retries",
		config.KeyOtelEndpoint:     "otel-endpoint",
		config.KeyJSONLogs:         "json-logs",
		config.KeyVerbose:          "verbose",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	a.v.SetEnvPrefix("CLOUDBLOB")
	a.v.AutomaticEnv()

	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})

	root.AddCommand(
		newTutorialCmd(a),
		newMbCmd(a),
		newAccessCmd(a),
		newPutCmd(a),
		newLsCmd(a),
		newGetCmd(a),
		newAppendCmd(a),
		newRmCmd(a),
		newJournalCmd(a),
		newBrowseCmd(a),
		newCheckCmd(a),
	)
	return root, a
}

// needsSetup is false for the root itself and for cobra's help and completion commands.
func needsSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd:
			return false
		}
	}
	return cmd.HasParent()
}

func (a *app) readConfigFile() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		a.v.SetConfigFile(filepath.Join(home, ".cloudblob.yaml"))
		a.v.SetConfigType("yaml")
	}
	err := a.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) || (a.cfgFile == "" && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("failed to read config: %w", err)
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := a.readConfigFile(); err != nil {
		return err
	}
	cfg, err := config.Load(config.NewViperSettings(a.v))
	if err != nil {
		if errors.Is(err, config.ErrMissingSetting) {
			return fmt.Errorf("%w (set --connection-string, CLOUDBLOB_STORAGECONNECTIONSTRING or %s in the config file)",
				err, config.KeyConnectionString)
		}
		return err
	}
	a.cfg = cfg

	a.logger = logging.New(cmd.ErrOrStderr(), logging.Options{JSON: cfg.JSONLogs, Verbose: cfg.Verbose})
	slog.SetDefault(a.logger)

	ctx := cmd.Context()
	if a.shutdown, err = telemetry.Init(ctx, version.AppName, version.Current, cfg.OtelEndpoint, a.logger); err != nil {
		return err
	}

	backend, err := a.open(ctx, cfg.ConnectionString, providers.Options{
		Logger:     a.logger,
		MaxRetries: cfg.Retries,
		Verbose:    cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.logger.Debug("Opened storage", "connection_string", cfg.ConnectionString, "backend", fmt.Sprintf("%T", backend))

	a.store = storage.New(backend,
		storage.WithLogger(a.logger),
		storage.WithTracer(telemetry.Tracer("cloudblob/storage")),
		storage.WithPageSize(cfg.PageSize),
		storage.WithLogContainer(cfg.LogContainer),
	)
	a.journal = journal.New(a.store, cfg.AppendBlobName)
	return nil
}

func (a *app) close() {
	if a.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Debug("Telemetry shutdown failed", "error", err)
	}
	a.shutdown = nil
}

func (a *app) retryPolicy() storage.RetryPolicy {
	return storage.RetryPolicy{MaxRetries: uint64(a.cfg.Retries)}
}

// retry runs fn under the configured retry policy.
func (a *app) retry(ctx context.Context, fn func(context.Context) error) error {
	if a.cfg.Retries == 0 {
		return fn(ctx)
	}
	return storage.Retry(ctx, a.retryPolicy(), fn)
}

func retryValue[T any](ctx context.Context, a *app, fn func(context.Context) (T, error)) (T, error) {
	if a.cfg.Retries == 0 {
		return fn(ctx)
	}
	return storage.RetryValue(ctx, a.retryPolicy(), fn)
}

// record writes one journal event. Journal failures are logged, never returned.
func (a *app) record(ctx context.Context, op, container, blob string, n uint64, opErr error) {
	if a.noJournal || a.journal == nil {
		return
	}
	err := a.journal.RecordResult(ctx, op, container, blob, n, opErr)
	if errors.Is(err, storage.ErrNotFound) {
		if _, err = a.store.EnsureContainer(ctx, a.store.LogContainer()); err == nil {
			err = a.journal.RecordResult(ctx, op, container, blob, n, opErr)
		}
	}
	if err != nil {
		a.logger.Warn("Journal write failed", "op", op, "error", err)
	}
}
