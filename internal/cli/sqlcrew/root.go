// Package sqlcrew is the local command line: it runs the revision workflow in
// process and inspects or exports database structure without the API server.
package sqlcrew

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/sqlcrew/sqlcrew/internal/config"
	"github.com/sqlcrew/sqlcrew/internal/gateway"
	"github.com/sqlcrew/sqlcrew/internal/observability"
	"github.com/sqlcrew/sqlcrew/internal/storage"
	s3store "github.com/sqlcrew/sqlcrew/internal/storage/s3"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

const serviceName = "sqlcrew"

type Options struct {
	// Lookup replaces the process environment and dotenv file when set.
	Lookup         config.LookupFunc
	NewGateway     func(cfg config.ModelConfig, logger *slog.Logger) (gateway.Gateway, error)
	NewObjectStore func(ctx context.Context, cfg config.ObjectStoreConfig) (storage.ObjectStore, error)
	Clock          clockwork.Clock
	Stdout         io.Writer
	Stderr         io.Writer
}

type app struct {
	opts    Options
	verbose bool
}

func Run(ctx context.Context, args []string, opts Options) ExitCode {
	rootCmd := NewRootCmd(opts)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(rootCmd.ErrOrStderr(), "error: %v\n", err)
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd(opts Options) *cobra.Command {
	if opts.NewGateway == nil {
		opts.NewGateway = gateway.New
	}
	if opts.NewObjectStore == nil {
		opts.NewObjectStore = func(ctx context.Context, cfg config.ObjectStoreConfig) (storage.ObjectStore, error) {
			store, err := s3store.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return store, nil
		}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	a := &app{opts: opts}

	rootCmd := &cobra.Command{
		Use:           "sqlcrew",
		Short:         "Draft, review and revise SQL for natural language questions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}
	if opts.Stdout != nil {
		rootCmd.SetOut(opts.Stdout)
	}
	if opts.Stderr != nil {
		rootCmd.SetErr(opts.Stderr)
	}
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "set debug logging level")

	rootCmd.AddCommand(
		NewRunCmd(a).Command(),
		NewResumeCmd(a).Command(),
		NewRunsCmd(a).Command(),
		NewCheckpointsCmd(a).Command(),
		NewSchemaCmd(a).Command(),
		NewIntrospectCmd(a).Command(),
	)
	return rootCmd
}

// load reads configuration and builds a logger writing to stderr, so command
// output on stdout stays machine readable.
func (a *app) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if a.opts.Lookup != nil {
		cfg, err = config.Load(serviceName, a.opts.Lookup)
	} else {
		cfg, err = config.LoadFromEnv(serviceName)
	}
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Observability.LogJSON = false
	if a.verbose {
		cfg.Observability.LogLevel = slog.LevelDebug
	} else if cfg.Observability.LogLevel < slog.LevelWarn {
		cfg.Observability.LogLevel = slog.LevelWarn
	}
	return cfg, observability.NewLogger(cfg, cmd.ErrOrStderr()), nil
}
