package sqlcrew

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqlcrew/sqlcrew/internal/bootstrap"
	"github.com/sqlcrew/sqlcrew/internal/config"
	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

var errResumeNeedsPersistence = errors.New("resume needs a persistent checkpoint backend (SQLCREW_CHECKPOINT_BACKEND=postgres)")

type RunCmd struct {
	app *app
}

func NewRunCmd(a *app) *RunCmd {
	return &RunCmd{app: a}
}

func (c *RunCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run QUESTION...",
		Short: "Run the revision workflow for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxRevision, err := cmd.Flags().GetInt("max-revision")
			if err != nil {
				return fmt.Errorf("failed to get max-revision flag: %w", err)
			}
			runID, err := cmd.Flags().GetString("run-id")
			if err != nil {
				return fmt.Errorf("failed to get run-id flag: %w", err)
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}

			cfg, logger, err := c.app.load(cmd)
			if err != nil {
				return err
			}
			if err := applySchemaFlags(cmd, &cfg); err != nil {
				return err
			}
			if maxRevision <= 0 {
				maxRevision = cfg.Workflow.MaxRevision
			}

			session, err := c.app.openSession(cmd, cfg, logger)
			if err != nil {
				return err
			}
			defer session.close()

			question := strings.Join(args, " ")
			var result workflow.Result
			if strings.TrimSpace(runID) != "" {
				result, err = session.controller.RunWithID(cmd.Context(), runID, question, maxRevision)
			} else {
				result, err = session.controller.Run(cmd.Context(), question, maxRevision)
			}
			if err != nil {
				reportInterrupted(cmd, session.checkpoints.Persistent, result)
				return err
			}
			return renderResult(cmd.OutOrStdout(), result, asJSON)
		},
	}

	cmd.Flags().Int("max-revision", 0, "Revision cap (default from SQLCREW_WORKFLOW_MAX_REVISION)")
	cmd.Flags().String("run-id", "", "Explicit run ID; must not be in use")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	addSchemaFlags(cmd)

	return cmd
}

type ResumeCmd struct {
	app *app
}

func NewResumeCmd(a *app) *ResumeCmd {
	return &ResumeCmd{app: a}
}

func (c *ResumeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Continue a run from its latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}
			cfg, logger, err := c.app.load(cmd)
			if err != nil {
				return err
			}
			if err := applySchemaFlags(cmd, &cfg); err != nil {
				return err
			}

			session, err := c.app.openSession(cmd, cfg, logger)
			if err != nil {
				return err
			}
			defer session.close()
			if !session.checkpoints.Persistent {
				return errResumeNeedsPersistence
			}

			result, err := session.controller.Resume(cmd.Context(), args[0])
			if err != nil {
				reportInterrupted(cmd, true, result)
				return err
			}
			return renderResult(cmd.OutOrStdout(), result, asJSON)
		},
	}

	cmd.Flags().Bool("json", false, "Print the result as JSON")
	addSchemaFlags(cmd)

	return cmd
}

type RunsCmd struct {
	app *app
}

func NewRunsCmd(a *app) *RunsCmd {
	return &RunsCmd{app: a}
}

func (c *RunsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("failed to get limit flag: %w", err)
			}
			cfg, _, err := c.app.load(cmd)
			if err != nil {
				return err
			}
			checkpoints, err := bootstrap.OpenCheckpoints(cmd.Context(), cfg.Checkpoint, c.app.opts.Clock)
			if err != nil {
				return err
			}
			defer func() { _ = checkpoints.Close() }()

			runs, err := checkpoints.Runs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().Int("limit", 50, "Maximum number of runs to list")

	return cmd
}

type CheckpointsCmd struct {
	app *app
}

func NewCheckpointsCmd(a *app) *CheckpointsCmd {
	return &CheckpointsCmd{app: a}
}

func (c *CheckpointsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints RUN_ID",
		Short: "Show the checkpoint log of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}
			cfg, _, err := c.app.load(cmd)
			if err != nil {
				return err
			}
			checkpoints, err := bootstrap.OpenCheckpoints(cmd.Context(), cfg.Checkpoint, c.app.opts.Clock)
			if err != nil {
				return err
			}
			defer func() { _ = checkpoints.Close() }()

			log, err := checkpoints.Store.List(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list checkpoints: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), log)
			}
			renderCheckpoints(cmd.OutOrStdout(), log)
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "Print the checkpoints as JSON")

	return cmd
}

type SchemaCmd struct {
	app *app
}

func NewSchemaCmd(a *app) *SchemaCmd {
	return &SchemaCmd{app: a}
}

func (c *SchemaCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema description runs draft against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}
			cfg, logger, err := c.app.load(cmd)
			if err != nil {
				return err
			}
			if err := applySchemaFlags(cmd, &cfg); err != nil {
				return err
			}
			source, err := bootstrap.OpenSchemaSource(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = source.Close() }()

			description, err := source.Describe(cmd.Context())
			if err != nil {
				return fmt.Errorf("describe schema: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), description)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n%s", description.Database, description.Text)
			if !strings.HasSuffix(description.Text, "\n") {
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "Print the description as JSON")
	addSchemaFlags(cmd)

	return cmd
}

func addSchemaFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema-file", "", "Schema text file (overrides SQLCREW_WORKFLOW_SCHEMA_FILE)")
	cmd.Flags().String("database", "", "Database identifier (overrides SQLCREW_WORKFLOW_DATABASE)")
	cmd.Flags().String("dsn", "", "Introspect this database instead of reading a schema file")
}

func applySchemaFlags(cmd *cobra.Command, cfg *config.Config) error {
	schemaFile, err := cmd.Flags().GetString("schema-file")
	if err != nil {
		return fmt.Errorf("failed to get schema-file flag: %w", err)
	}
	database, err := cmd.Flags().GetString("database")
	if err != nil {
		return fmt.Errorf("failed to get database flag: %w", err)
	}
	dsn, err := cmd.Flags().GetString("dsn")
	if err != nil {
		return fmt.Errorf("failed to get dsn flag: %w", err)
	}
	if schemaFile != "" && dsn != "" {
		return fmt.Errorf("specify only one of: schema-file, dsn")
	}
	if schemaFile != "" {
		cfg.Workflow.SchemaFile = schemaFile
	}
	if dsn != "" {
		cfg.Workflow.SchemaFile = ""
		cfg.Introspect.DSN = dsn
	}
	if database != "" {
		cfg.Workflow.Database = database
	}
	return nil
}

type session struct {
	controller  *workflow.Controller
	checkpoints *bootstrap.Checkpoints
	source      *bootstrap.SchemaSource
}

func (s *session) close() {
	_ = s.source.Close()
	_ = s.checkpoints.Close()
}

func (a *app) openSession(cmd *cobra.Command, cfg config.Config, logger *slog.Logger) (*session, error) {
	ctx := cmd.Context()
	source, err := bootstrap.OpenSchemaSource(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	checkpoints, err := bootstrap.OpenCheckpoints(ctx, cfg.Checkpoint, a.opts.Clock)
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	s := &session{checkpoints: checkpoints, source: source}

	gw, err := a.opts.NewGateway(cfg.Model, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	controller, _, err := bootstrap.NewController(ctx, cfg, logger, gw, source, checkpoints.Store)
	if err != nil {
		s.close()
		return nil, err
	}
	s.controller = controller
	return s, nil
}

func reportInterrupted(cmd *cobra.Command, persistent bool, result workflow.Result) {
	if result.RunID == "" {
		return
	}
	if persistent {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "run %s stopped at revision %d; continue with: sqlcrew resume %s\n", result.RunID, result.Revision, result.RunID)
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "run %s stopped at revision %d\n", result.RunID, result.Revision)
}
