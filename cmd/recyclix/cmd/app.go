package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/recyclix/internal/config"
	"github.com/Aman-CERP/recyclix/internal/index"
	"github.com/Aman-CERP/recyclix/internal/logging"
	"github.com/Aman-CERP/recyclix/internal/schema"
	"github.com/Aman-CERP/recyclix/internal/telemetry"
)

// app is an opened index with its configuration, logger and journal.
type app struct {
	dir     string
	cfg     *config.Config
	logger  *slog.Logger
	svc     *index.Service[schema.Record]
	journal *telemetry.Journal

	logCleanup func()
}

// projectDir returns the absolute project directory for opts.
func projectDir(opts *globalOptions) (string, error) {
	dir := opts.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	return filepath.Abs(dir)
}

// loadConfig loads the merged configuration for opts.
func loadConfig(opts *globalOptions) (*config.Config, string, error) {
	dir, err := projectDir(opts)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(dir, opts.configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, dir, nil
}

// setupLogging installs the JSON file logger described by cfg as the
// default logger. Logs never go to stdout, which the stdio MCP transport
// owns.
func setupLogging(cfg *config.Config, dir string, debug bool) (*slog.Logger, func(), error) {
	lc := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      config.ResolvePath(dir, cfg.Logging.File),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr,
	}
	if lc.FilePath == "" {
		lc.FilePath = logging.DefaultLogPath()
	}
	if debug {
		lc.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// openApp loads configuration, sets up logging and opens the index with the
// telemetry journal attached when enabled.
func openApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg, dir, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, logCleanup, err := setupLogging(cfg, dir, opts.debug)
	if err != nil {
		return nil, err
	}
	a := &app{dir: dir, cfg: cfg, logger: logger, logCleanup: logCleanup}

	if err := a.open(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	indexOpts, err := a.cfg.IndexOptions()
	if err != nil {
		return err
	}
	indexOpts.Logger = a.logger

	if a.cfg.Telemetry.Enabled {
		a.journal, err = telemetry.OpenJournal(config.ResolvePath(a.dir, a.cfg.Telemetry.Path), a.logger)
		if err != nil {
			return err
		}
		indexOpts.Observer = a.journal
	}

	mapper, err := schema.NewMapMapper(a.cfg.IndexSchema())
	if err != nil {
		return err
	}

	indexPath := config.ResolvePath(a.dir, a.cfg.Index.Path)
	a.svc, err = index.Open[schema.Record](ctx, indexPath, mapper, indexOpts)
	if err != nil {
		return err
	}

	a.logger.Debug("index_opened",
		slog.String("index", a.svc.Name()),
		slog.String("path", indexPath),
		slog.Bool("telemetry", a.journal != nil))
	return nil
}

// Close closes the index, flushes and closes the journal and the log file.
// The index is closed even when ctx is already cancelled.
func (a *app) Close(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close(ctx))
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Flush(ctx), a.journal.Close())
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
	return errors.Join(errs...)
}

// closeInto closes a and joins any close error into *errp.
func (a *app) closeInto(ctx context.Context, errp *error) {
	*errp = errors.Join(*errp, a.Close(ctx))
}

// keyValue converts a key given on the command line to the primary key's kind.
func keyValue(svc *index.Service[schema.Record], raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	sch := svc.Schema()
	pk, ok := sch.Field(sch.PrimaryKey)
	if !ok {
		return raw, nil
	}
	v, err := schema.Coerce(pk.Kind, raw)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", raw, err)
	}
	return v, nil
}
