package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/app"
	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/monitor"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

// runtime carries what the commands share: configuration and, once a command
// asks for it, the opened store and service.
type runtime struct {
	v       *viper.Viper
	cfg     *config.Config
	store   *storage.SQLiteStorage
	svc     *app.Service
	cfgFile string
	json    bool
}

func newRootCmd() *cobra.Command {
	rt := &runtime{v: viper.New()}

	root := &cobra.Command{
		Use:   "balance",
		Short: "⚖️  Bank statement reconciliation",
		Long: `the-books-must-balance: import bank statements, match them against your
ledger with confidence-scored rules, and review what is left over.`,
		SilenceUsage:      true,
		PersistentPreRunE: rt.initConfig,
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return rt.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&rt.cfgFile, "config", "", "config file (default: $HOME/.config/balance/config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("db", "", "database path")
	flags.BoolVar(&rt.json, "json", false, "print results as JSON")

	_ = rt.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = rt.v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = rt.v.BindPFlag("database.path", flags.Lookup("db"))

	root.AddCommand(
		serveCmd(rt),
		accountCmd(rt),
		importCmd(rt),
		ledgerCmd(rt),
		rulesCmd(rt),
		reconcileCmd(rt),
		historyCmd(rt),
		sessionCmd(rt),
		matchesCmd(rt),
		analyticsCmd(rt),
		exportCmd(rt),
		sheetsCmd(rt),
		cacheCmd(rt),
		metricsCmd(rt),
		healthCmd(rt),
		versionCmd(),
	)

	return root
}

func (rt *runtime) initConfig(_ *cobra.Command, _ []string) error {
	v := rt.v
	if rt.cfgFile != "" {
		v.SetConfigFile(rt.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".config", "balance"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	rt.cfg = cfg

	level, _ := common.ParseLevel(cfg.Logging.Level)
	if err := common.SetupLogger(level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	return nil
}

// service opens the database and builds the service on first use.
func (rt *runtime) service(ctx context.Context) (*app.Service, error) {
	if rt.svc != nil {
		return rt.svc, nil
	}

	store, err := storage.NewSQLiteStorage(rt.cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	c := rt.cfg.Cache
	rt.store = store
	rt.svc = app.New(store, app.Options{
		Cache: cache.New(cache.Config{
			MaxSize:   c.MaxSize,
			Margin:    c.Margin,
			ShortTTL:  c.ShortTTL,
			MediumTTL: c.MediumTTL,
			LongTTL:   c.LongTTL,
		}),
		Monitor:        monitor.New(rt.cfg.Monitor.Capacity),
		Reconciliation: rt.cfg.ReconciliationOptions(),
		Import: app.ImportDefaults{
			DuplicateDetection: rt.cfg.Import.DuplicateDetection,
			SkipDuplicates:     rt.cfg.Import.SkipDuplicates,
			AutoCategorize:     rt.cfg.Import.AutoCategorize,
		},
		Workers: rt.cfg.Reconciliation.Workers,
	})
	return rt.svc, nil
}

func (rt *runtime) close() error {
	if rt.store == nil {
		return nil
	}
	err := rt.store.Close()
	rt.store, rt.svc = nil, nil
	return err
}

// principal is the configured CLI user.
func (rt *runtime) principal() app.RequestContext {
	return app.RequestContext{User: rt.cfg.Principal()}
}

// unwrap logs the response's warnings and returns its data or first error.
func unwrap[T any](resp app.Response[T]) (T, error) {
	for _, w := range resp.Warnings {
		slog.Warn(w)
	}
	return resp.Data, resp.Err()
}

// print writes v as JSON when --json is set and the rendered text otherwise.
func (rt *runtime) print(w io.Writer, v any, render func() string) error {
	if rt.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, render())
	return err
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "balance %s\n", version)
		},
	}
}
