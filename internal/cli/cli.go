// Package cli provides the scriptorium command line interface: the API server, schema
// migrations and offline compare/diff/merge runs against the configured stores.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scriptorium/internal/app"
	"scriptorium/internal/auth"
	"scriptorium/internal/compare"
	"scriptorium/internal/config"
	"scriptorium/internal/rbac"
	"scriptorium/internal/store"
	"scriptorium/internal/util"
)

const (
	rootUse              = "scriptorium"
	rootShortDescription = "manuscript comparison and merge service"
	rootLongDescription  = `scriptorium compares two manuscripts document by document, shows word-level
differences and merges them into a new manuscript following per-pair instructions.
Configuration comes from the environment and an optional .env file.`

	logLevelFlagName      = "log-level"
	titleFlagName         = "title"
	instructionsFlagName  = "instructions"
	actorFlagName         = "actor"
	limitFlagName         = "limit"
	subjectFlagName       = "sub"
	nameFlagName          = "name"
	roleFlagName          = "role"
	ttlFlagName           = "ttl"
	defaultActor          = "cli"
	defaultHistoryLimit   = 20
	shutdownTimeout       = 10 * time.Second
	stdinInstructionsPath = "-"

	mergeUsageExample = `  # Merge two drafts, reading instructions from a file
  scriptorium merge man_a man_b --title "Final Draft" --instructions choices.json

  # choices.json
  [{"pairIndex":0,"choice":"a"},{"pairIndex":1,"choice":"both"}]`
)

// Execute runs the scriptorium application.
func Execute() error {
	return createRootCommand().Execute()
}

func createRootCommand() *cobra.Command {
	var logLevel string

	rootCommand := &cobra.Command{
		Use:          rootUse,
		Short:        rootShortDescription,
		Long:         rootLongDescription,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}
	rootCommand.PersistentFlags().StringVar(&logLevel, logLevelFlagName, "", "override SCRIPTORIUM_LOG_LEVEL")

	load := func() (config.Config, *zap.Logger, error) {
		cfg := config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger, err := util.NewLogger(cfg.LogLevel)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
		}
		return cfg, logger, nil
	}

	rootCommand.AddCommand(
		createServeCommand(load),
		createMigrateCommand(load),
		createCompareCommand(load),
		createDiffCommand(load),
		createMergeCommand(load),
		createHistoryCommand(load),
		createTokenCommand(load),
	)
	return rootCommand
}

type loadFunc func() (config.Config, *zap.Logger, error)

// withRuntime opens the stores for the duration of run.
func withRuntime(ctx context.Context, load loadFunc, migrate bool, run func(*runtime) error) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := openRuntime(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	defer rt.Close()
	return run(rt)
}

func createServeCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			ctx, stop := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, load, true, func(rt *runtime) error {
				return serve(ctx, rt)
			})
		},
	}
}

func serve(ctx context.Context, rt *runtime) error {
	go rt.search.ReindexAllFromPG(context.WithoutCancel(ctx))

	httpServer := app.NewHTTPServer(rt.service, rt.cfg.CORSOrigin, rt.logger)
	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.logger.Info("scriptorium API listening",
			zap.String("addr", rt.cfg.Addr),
			zap.String("content_backend", rt.cfg.ContentBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func createMigrateCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(command.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(command.Context(), db, cfg.MigrationsDir, logger)
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			if applied == nil {
				applied = []string{}
			}
			return writeOutput(command.OutOrStdout(), map[string]any{"applied": applied})
		},
	}
}

func createCompareCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <manuscriptA> <manuscriptB>",
		Short: "match the documents of two manuscripts",
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			return withRuntime(command.Context(), load, false, func(rt *runtime) error {
				result, err := rt.service.CompareManuscripts(command.Context(), arguments[0], arguments[1])
				if err != nil {
					return err
				}
				return writeOutput(command.OutOrStdout(), result)
			})
		},
	}
}

func createDiffCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <manuscriptA> <manuscriptB> <pairIndex>",
		Short: "word-level diff of one matched pair",
		Args:  cobra.ExactArgs(3),
		RunE: func(command *cobra.Command, arguments []string) error {
			pairIndex, err := parsePairIndex(arguments[2])
			if err != nil {
				return err
			}
			return withRuntime(command.Context(), load, false, func(rt *runtime) error {
				diff, err := rt.service.DiffDocuments(command.Context(), app.DiffInput{
					ManuscriptIDA: arguments[0],
					ManuscriptIDB: arguments[1],
					PairIndex:     &pairIndex,
				})
				if err != nil {
					return err
				}
				return writeOutput(command.OutOrStdout(), diff)
			})
		},
	}
}

func createMergeCommand(load loadFunc) *cobra.Command {
	var title, instructionsPath, actor string

	mergeCommand := &cobra.Command{
		Use:     "merge <manuscriptA> <manuscriptB>",
		Short:   "merge two manuscripts into a new one",
		Example: mergeUsageExample,
		Args:    cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			instructions, err := readInstructions(instructionsPath, command.InOrStdin())
			if err != nil {
				return err
			}
			return withRuntime(command.Context(), load, false, func(rt *runtime) error {
				report, err := rt.service.MergeManuscripts(command.Context(), actor, app.MergeInput{
					ManuscriptIDA: arguments[0],
					ManuscriptIDB: arguments[1],
					MergedTitle:   title,
					Instructions:  instructions,
				})
				if err != nil {
					return err
				}
				return writeOutput(command.OutOrStdout(), report)
			})
		},
	}
	mergeCommand.Flags().StringVar(&title, titleFlagName, "", "title of the merged manuscript")
	mergeCommand.Flags().StringVar(&instructionsPath, instructionsFlagName, "", `JSON file of merge instructions ("-" reads stdin)`)
	mergeCommand.Flags().StringVar(&actor, actorFlagName, defaultActor, "actor id recorded in the audit log")
	_ = mergeCommand.MarkFlagRequired(titleFlagName)
	_ = mergeCommand.MarkFlagRequired(instructionsFlagName)
	return mergeCommand
}

func createHistoryCommand(load loadFunc) *cobra.Command {
	var limit int

	historyCommand := &cobra.Command{
		Use:   "history <manuscript>",
		Short: "list content revisions (git backend only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			return withRuntime(command.Context(), load, false, func(rt *runtime) error {
				if rt.git == nil {
					return fmt.Errorf("history requires the %q content backend", config.ContentBackendGit)
				}
				revisions, err := rt.git.History(arguments[0], limit)
				if err != nil {
					return err
				}
				return writeOutput(command.OutOrStdout(), revisions)
			})
		},
	}
	historyCommand.Flags().IntVar(&limit, limitFlagName, defaultHistoryLimit, "maximum number of revisions, 0 for all")
	return historyCommand
}

// createTokenCommand signs a bearer token with the configured secret, for local use.
func createTokenCommand(load loadFunc) *cobra.Command {
	var subject, name, role string
	var ttl time.Duration

	tokenCommand := &cobra.Command{
		Use:   "token",
		Short: "issue a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			token, err := issueToken(cfg.TokenSecret, subject, name, role, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(command.OutOrStdout(), token)
			return err
		},
	}
	tokenCommand.Flags().StringVar(&subject, subjectFlagName, "", "user id")
	tokenCommand.Flags().StringVar(&name, nameFlagName, "", "display name")
	tokenCommand.Flags().StringVar(&role, roleFlagName, string(rbac.RoleEditor), "viewer, editor or admin")
	tokenCommand.Flags().DurationVar(&ttl, ttlFlagName, time.Hour, "token lifetime")
	_ = tokenCommand.MarkFlagRequired(subjectFlagName)
	return tokenCommand
}

func issueToken(secret, subject, name, role string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	if normalized := rbac.Normalize(role); string(normalized) != role {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if name == "" {
		name = subject
	}
	return auth.IssueToken([]byte(secret), auth.Claims{
		Sub:  subject,
		Name: name,
		Role: role,
		JTI:  uuid.NewString(),
		Exp:  now.Add(ttl).Unix(),
	})
}

func parsePairIndex(raw string) (int, error) {
	pairIndex, err := strconv.Atoi(raw)
	if err != nil || pairIndex < 0 {
		return 0, fmt.Errorf("pair index must be a non-negative integer, got %q", raw)
	}
	return pairIndex, nil
}

// readInstructions decodes a JSON array of instructions from path, or from stdin for "-".
func readInstructions(path string, stdin io.Reader) ([]compare.MergeInstruction, error) {
	var reader io.Reader
	if path == stdinInstructionsPath {
		reader = stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open instructions: %w", err)
		}
		defer file.Close()
		reader = file
	}

	var instructions []compare.MergeInstruction
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&instructions); err != nil {
		return nil, fmt.Errorf("decode instructions: %w", err)
	}
	return instructions, nil
}

func writeOutput(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
